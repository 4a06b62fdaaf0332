package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/Aayu095/Job4Meal/internal/seed"
	"github.com/spf13/cobra"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a YAML fixture through the ledger engine",
		Long: `Replay organizations, workers, tasks and redemptions from a YAML fixture.

Every record goes through the same operations the API uses, so seeded wallets,
journal entries and outbox events are consistent with each other.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(rootOpts, file, cmd)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the fixture (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runSeed(opts *RootOptions, file string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	fixture, err := seed.Load(file)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load fixture", err)
	}

	ctx := cmd.Context()
	l, err := loadLedger(ctx, opts)
	if err != nil {
		return err
	}
	defer l.Close()
	formatter.VerboseLog("Seeding %s store from %s", l.cfg.LedgerStore, file)

	summary, err := seed.Apply(ctx, l.engine, fixture, time.Now().UTC())
	if err != nil {
		return WrapExitError(ExitFailure, "seed failed", err)
	}

	return formatter.Emit("ok", summary, func(w io.Writer) {
		fmt.Fprintf(w, "Seeded %d organizations, %d workers, %d tasks, %d redemptions\n",
			summary.Organizations, summary.Workers, summary.Tasks, summary.Redemptions)
	})
}
