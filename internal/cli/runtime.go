package cli

import (
	"context"
	"fmt"

	"github.com/Aayu095/Job4Meal/internal/app"
	"github.com/Aayu095/Job4Meal/internal/config"
	"github.com/Aayu095/Job4Meal/internal/store"
)

// ledger bundles what every command needs: configuration, an open store and an engine over it.
type ledger struct {
	cfg    config.Config
	store  store.Store
	engine *app.Engine
}

// loadLedger reads configuration from the config dir and opens the ledger it names.
func loadLedger(ctx context.Context, opts *RootOptions) (*ledger, error) {
	cfg, err := config.LoadConfig(opts.ConfigDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	return openLedger(ctx, cfg)
}

func openLedger(ctx context.Context, cfg config.Config, extra ...app.Option) (*ledger, error) {
	s, err := store.Open(ctx, cfg.LedgerStore, cfg.StoreDSN())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open %s store", cfg.LedgerStore), err)
	}

	options := []app.Option{
		app.WithRetryPolicy(cfg.TxMaxAttempts, cfg.TxRetryBaseDelay()),
		app.WithEventsExchange(cfg.LedgerEventsExchange),
	}
	return &ledger{
		cfg:    cfg,
		store:  s,
		engine: app.NewEngine(s, append(options, extra...)...),
	}, nil
}

func (l *ledger) Close() error {
	return l.store.Close()
}
