package cli

import (
	"fmt"
	"io"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/spf13/cobra"
)

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Check every wallet against its task and redemption history",
		Long: `Recompute each worker's balance from verified task rewards and completed
redemptions, and compare it with the stored wallet and the credit journal.
Exits with status 1 if any wallet has drifted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(rootOpts, cmd)
		},
	}
}

func runReconcile(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	ctx := cmd.Context()
	l, err := loadLedger(ctx, opts)
	if err != nil {
		return err
	}
	defer l.Close()

	results, err := l.engine.ReconcileAll(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "reconciliation failed", err)
	}

	drifted := make([]domain.WalletReconciliation, 0)
	for _, result := range results {
		if !result.Consistent {
			drifted = append(drifted, result)
		}
	}
	formatter.VerboseLog("Reconciled %d wallets", len(results))

	status := "ok"
	if len(drifted) > 0 {
		status = "drift"
	}
	if err := formatter.Emit(status, results, func(w io.Writer) {
		for _, result := range results {
			mark := "ok"
			if !result.Consistent {
				mark = "DRIFT"
			}
			fmt.Fprintf(w, "%-5s %s wallet=%d expected=%d journal=%d entries=%d\n",
				mark, result.WorkerID, result.WalletBalance, result.ExpectedBalance, result.JournalBalance, result.JournalEntries)
		}
		fmt.Fprintf(w, "%d wallets checked, %d drifted\n", len(results), len(drifted))
	}); err != nil {
		return err
	}

	if len(drifted) > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d wallets drifted", len(drifted))}
	}
	return nil
}
