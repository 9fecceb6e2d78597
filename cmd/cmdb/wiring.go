package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cmdb/internal/aggregator"
	"github.com/yairfalse/cmdb/internal/archive"
	"github.com/yairfalse/cmdb/internal/config"
	"github.com/yairfalse/cmdb/internal/daemon"
	"github.com/yairfalse/cmdb/internal/reconcile"
	"github.com/yairfalse/cmdb/internal/store"
	"github.com/yairfalse/cmdb/internal/telemetry"
)

// pipeline holds everything one or more cycles need.
type pipeline struct {
	gateway   *store.Gateway
	archive   *archive.Archive
	telemetry *telemetry.Provider
	cycle     *daemon.Cycle
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Gateway, error) {
	gw, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := gw.Migrate(ctx); err != nil {
		_ = gw.Close()
		return nil, err
	}
	return gw, nil
}

// newPipeline validates cfg and wires adapters, store, engine, archive and
// telemetry into a cycle. A non-empty accounts limits the crawl to those
// configured accounts. Close releases everything it opened.
func newPipeline(ctx context.Context, cfg *config.Config, opts daemon.CycleOptions, accounts []string) (*pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &pipeline{}
	ok := false
	defer func() {
		if !ok {
			p.Close(ctx)
		}
	}()

	tp, err := telemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return nil, err
	}
	p.telemetry = tp

	adapters, err := daemon.BuildAdapters(ctx, cfg, accounts...)
	if err != nil {
		return nil, err
	}

	if p.gateway, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	engine, err := reconcile.NewEngine(p.gateway)
	if err != nil {
		return nil, err
	}
	metrics, err := daemon.NewDaemonMetrics()
	if err != nil {
		return nil, err
	}

	var history daemon.History
	if cfg.Archive.Enabled {
		if p.archive, err = archive.Open(cfg.Archive.Path); err != nil {
			return nil, err
		}
		history = p.archive
	}

	p.cycle = daemon.NewCycle(aggregator.New(adapters...), engine, history, tp, metrics, opts)
	ok = true
	return p, nil
}

func (p *pipeline) Close(ctx context.Context) {
	if p.archive != nil {
		if err := p.archive.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close archive")
		}
	}
	if p.gateway != nil {
		if err := p.gateway.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
	if p.telemetry != nil {
		if err := p.telemetry.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to shut down telemetry")
		}
	}
}
