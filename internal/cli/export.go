package cli

import (
	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command group.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var dateKey string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export daily projection rows",
	}
	cmd.PersistentFlags().StringVar(&dateKey, "date", "", "date key YYYY-MM-DD (default: latest row)")

	business := &cobra.Command{
		Use:   "business",
		Short: "Export the business signals row for a day",
		Long: `Refresh and print the business signals row for a day. Every export is
logged and counted in the day's ecosystem row.

Example:
  sadhana export business --date 2026-03-01 --format json`,
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
			row, err := a.svc.ExportBusinessSignals(cmd.Context(), dateKey)
			if err != nil {
				return out.ServiceError("business export failed", err)
			}
			return out.Success(row)
		},
	}

	ecosystem := &cobra.Command{
		Use:   "ecosystem",
		Short: "Export the ecosystem usage row for a day",
		Args:  cobra.NoArgs,
		Long: `Refresh and print the ecosystem usage row for a day.

Example:
  sadhana export ecosystem --date 2026-03-01`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := rootOpts.formatter(cmd)
			row, err := a.svc.ExportEcosystemUsage(cmd.Context(), dateKey)
			if err != nil {
				return out.ServiceError("ecosystem export failed", err)
			}
			return out.Success(row)
		},
	}

	cmd.AddCommand(business, ecosystem)
	return cmd
}
