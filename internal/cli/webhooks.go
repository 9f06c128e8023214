package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sadhana/internal/service"
)

// WebhooksOptions holds flags for the webhooks subcommands.
type WebhooksOptions struct {
	*RootOptions
	BatchSize int
	Force     bool
	Status    string
	Limit     int
}

// NewWebhooksCommand creates the webhooks command group.
func NewWebhooksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WebhooksOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Process and inspect webhook deliveries",
	}

	process := &cobra.Command{
		Use:   "process",
		Short: "Attempt due webhook deliveries once",
		Long: `Attempt every due delivery, up to the batch size, in id order. Failed
attempts are rescheduled with exponential backoff and dead-lettered after
the configured maximum.

Example:
  sadhana webhooks process --db ./sadhana.db
  sadhana webhooks process --force --batch-size 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			out := opts.formatter(cmd)
			res, err := a.svc.ProcessWebhooks(cmd.Context(), opts.BatchSize, opts.Force)
			if err != nil {
				return out.ServiceError("webhook processing failed", err)
			}
			if opts.Format == "json" {
				return out.Success(res)
			}
			return out.Success(fmt.Sprintf("Processed %d: %d delivered, %d retrying, %d dead-lettered.",
				res.Processed, res.Succeeded, res.Retried, res.DeadLettered))
		},
	}
	process.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "maximum deliveries to attempt (0 uses config)")
	process.Flags().BoolVar(&opts.Force, "force", false, "ignore next_attempt_at")

	list := &cobra.Command{
		Use:   "deliveries",
		Short: "List webhook deliveries",
		Long: `List webhook deliveries in id order, optionally filtered by status
(queued, retrying, delivered, dead_letter).

Example:
  sadhana webhooks deliveries --status dead_letter --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			out := opts.formatter(cmd)
			deliveries, err := a.svc.ListDeliveries(cmd.Context(), opts.Status, opts.Limit)
			if err != nil {
				return out.ServiceError("listing deliveries failed", err)
			}
			return out.Success(deliveries)
		},
	}
	list.Flags().StringVar(&opts.Status, "status", "", "filter by delivery status")
	list.Flags().IntVar(&opts.Limit, "limit", service.DefaultDeliveryLimit, "maximum rows")

	cmd.AddCommand(process, list)
	return cmd
}
