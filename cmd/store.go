package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundamentals-cli/internal/concept"
	"github.com/sells-group/fundamentals-cli/internal/fx"
	"github.com/sells-group/fundamentals-cli/internal/model"
	"github.com/sells-group/fundamentals-cli/internal/pipeline"
	"github.com/sells-group/fundamentals-cli/internal/resilience"
	"github.com/sells-group/fundamentals-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func conceptTable() (*concept.Table, error) {
	if cfg.Normalize.MappingsPath == "" {
		return concept.Default(), nil
	}
	return concept.LoadFile(cfg.Normalize.MappingsPath)
}

func retryConfig() resilience.RetryConfig {
	return resilience.FromSettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
}

// newPipeline builds a pipeline over the configured concept table. When st
// is non-nil its FX rates are used and results are saved to it.
func newPipeline(ctx context.Context, st store.Store, rates []model.FXRate) (*pipeline.Pipeline, error) {
	table, err := conceptTable()
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithBaseCurrency(cfg.Normalize.BaseCurrency),
		pipeline.WithQuarterlyThreshold(cfg.Normalize.QuarterlyThreshold),
		pipeline.WithMonetaryPlaces(cfg.Normalize.MonetaryPlaces),
	}
	if st != nil {
		stored, err := st.LoadFXRates(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "load fx rates")
		}
		rates = append(stored, rates...)
		opts = append(opts, pipeline.WithStore(st, retryConfig()))
	}
	return pipeline.New(table, fx.NewTable(rates), opts...), nil
}
