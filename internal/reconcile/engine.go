package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

// Store is the persistence the engine writes through.
type Store interface {
	LoadExistingServerSummaries(ctx context.Context, includeDeleted bool) (map[string]inventory.ItemSummary, error)
	StoreAccount(ctx context.Context, acc *inventory.Account) error
	UpsertServer(ctx context.Context, s *inventory.ServerDetails) error
	MarkServersDeleted(ctx context.Context, ids []string, at time.Time) (int64, error)
}

// Options controls one Apply call.
type Options struct {
	// DryRun classifies without writing.
	DryRun bool

	// SoftDelete marks persisted servers missing from the crawl as deleted.
	// It only runs when Complete is set.
	SoftDelete bool

	// Complete is true when every adapter crawled successfully.
	Complete bool
}

// Report summarises one Apply call.
type Report struct {
	Plan           *Plan
	AccountsStored int
	Written        int
	RowFailures    int
	Deleted        []string
}

// Engine reconciles crawled accounts against the store.
type Engine struct {
	store Store
	now   func() time.Time

	outcomes    metric.Int64Counter
	rowFailures metric.Int64Counter
	softDeletes metric.Int64Counter
}

// NewEngine creates an engine writing through store.
func NewEngine(store Store) (*Engine, error) {
	meter := otel.Meter("github.com/yairfalse/cmdb/internal/reconcile")

	outcomes, err := meter.Int64Counter(
		"cmdb.reconcile.outcomes",
		metric.WithDescription("Servers classified by reconciliation outcome"),
		metric.WithUnit("{server}"),
	)
	if err != nil {
		return nil, err
	}

	rowFailures, err := meter.Int64Counter(
		"cmdb.persistence.row_failures",
		metric.WithDescription("Rows that failed to persist"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, err
	}

	softDeletes, err := meter.Int64Counter(
		"cmdb.reconcile.soft_deletes",
		metric.WithDescription("Servers marked deleted"),
		metric.WithUnit("{server}"),
	)
	if err != nil {
		return nil, err
	}

	return &Engine{
		store:       store,
		now:         time.Now,
		outcomes:    outcomes,
		rowFailures: rowFailures,
		softDeletes: softDeletes,
	}, nil
}

// Apply classifies the servers of every account and writes the dirty ones.
// Row failures are logged and skipped; only a failure to load the persisted
// summaries or a cancelled context aborts the call.
func (e *Engine) Apply(ctx context.Context, accounts []*inventory.Account, opts Options) (*Report, error) {
	persisted, err := e.store.LoadExistingServerSummaries(ctx, false)
	if err != nil {
		return nil, provider.Persistence("load server summaries", err)
	}

	var servers []*inventory.ServerDetails
	for _, acc := range accounts {
		servers = append(servers, acc.Servers()...)
	}

	plan := Classify(persisted, servers)
	e.recordPlan(ctx, plan)
	log.Info().
		Int("new", len(plan.New)).
		Int("updated", len(plan.Updated)).
		Int("unchanged", len(plan.Unchanged)).
		Bool("dry_run", opts.DryRun).
		Msg("reconciliation planned")

	report := &Report{Plan: plan}
	if opts.DryRun {
		return report, nil
	}

	for _, acc := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.store.StoreAccount(ctx, acc); err != nil {
			log.Error().Err(err).Str("account", acc.AccountID).Msg("failed to store account")
			e.rowFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("table", "Account")))
			continue
		}
		report.AccountsStored++
	}

	for _, s := range plan.Dirty {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := e.store.UpsertServer(ctx, s); err != nil {
			if provider.IsCancelled(err) {
				return report, err
			}
			log.Error().Err(err).Str("server", s.ID).Str("account", s.AccountID).Msg("failed to persist server")
			e.rowFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("table", "Servers")))
			report.RowFailures++
			continue
		}
		report.Written++
	}

	if opts.SoftDelete {
		if !opts.Complete {
			log.Warn().Msg("skipping soft delete, crawl was incomplete")
			return report, nil
		}
		deleted, err := e.softDelete(ctx, persisted, servers)
		if err != nil {
			return report, err
		}
		report.Deleted = deleted
	}
	return report, nil
}

func (e *Engine) softDelete(ctx context.Context, persisted map[string]inventory.ItemSummary, servers []*inventory.ServerDetails) ([]string, error) {
	del := DeletionCandidates(persisted, servers, e.now())
	if len(del.IDs) == 0 {
		return nil, nil
	}
	n, err := e.store.MarkServersDeleted(ctx, del.IDs, del.At)
	if err != nil {
		return nil, provider.Persistence(fmt.Sprintf("mark %d servers deleted", len(del.IDs)), err)
	}
	e.softDeletes.Add(ctx, n)
	log.Info().Int("candidates", len(del.IDs)).Int64("deleted", n).Msg("soft-deleted missing servers")
	return del.IDs, nil
}

func (e *Engine) recordPlan(ctx context.Context, plan *Plan) {
	for _, o := range []Outcome{OutcomeNew, OutcomeUpdated, OutcomeUnchanged} {
		e.outcomes.Add(ctx, int64(plan.Count(o)), metric.WithAttributes(attribute.String("outcome", string(o))))
	}
}
