package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRecomputeCommand creates the recompute command.
func NewRecomputeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute",
		Short: "Rebuild every daily projection row",
		Long: `Rebuild the business and ecosystem daily rows of every date that has
source data. The result is identical to the incrementally maintained rows.

Example:
  sadhana recompute --db ./sadhana.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			res, err := a.svc.RecomputeProjections(cmd.Context())
			if err != nil {
				return out.ServiceError("recompute failed", err)
			}
			if rootOpts.Format == "json" {
				return out.Success(res)
			}
			return out.Success(pluralDays(res.DaysRecomputed))
		},
	}
}

func pluralDays(n int) string {
	if n == 1 {
		return "Recomputed 1 day."
	}
	return fmt.Sprintf("Recomputed %d days.", n)
}
