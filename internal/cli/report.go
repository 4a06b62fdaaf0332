package cli

import (
	"fmt"
	"io"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/internal/reporting"
	"github.com/spf13/cobra"
)

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "report",
		Short:         "Print dashboard metrics computed from the store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(rootOpts, cmd)
		},
	}
}

func runReport(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	ctx := cmd.Context()
	l, err := loadLedger(ctx, opts)
	if err != nil {
		return err
	}
	defer l.Close()

	metrics, err := reporting.NewReporter(l.store).Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute dashboard", err)
	}
	return formatter.Emit("ok", metrics, func(w io.Writer) {
		writeMetrics(w, metrics)
	})
}

func writeMetrics(w io.Writer, m domain.DashboardMetrics) {
	rows := []struct {
		label string
		value interface{}
	}{
		{"Workers", m.TotalUsers},
		{"Organizations", m.TotalOrganizations},
		{"Tasks", m.TotalTasks},
		{"Active tasks", m.ActiveTasks},
		{"Pending verifications", m.PendingVerifications},
		{"Completed tasks", m.CompletedTasks},
		{"Cancelled tasks", m.CancelledTasks},
		{"Meals issued", m.TotalMealsIssued},
		{"Pending redemptions", m.PendingRedemptions},
		{"Completed redemptions", m.CompletedRedemptions},
		{"Meals redeemed", m.MealsRedeemed},
		{"Outstanding credits", m.OutstandingCredits},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%-22s %v\n", row.label+":", row.value)
	}
}
