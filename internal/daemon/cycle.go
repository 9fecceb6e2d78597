package daemon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/cmdb/internal/aggregator"
	"github.com/yairfalse/cmdb/internal/archive"
	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/internal/reconcile"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

var tracer = otel.Tracer("github.com/yairfalse/cmdb/internal/daemon")

// Crawler produces the working set of one crawl.
type Crawler interface {
	Run(ctx context.Context) (*aggregator.Result, error)
}

// Reconciler writes a working set to the store.
type Reconciler interface {
	Apply(ctx context.Context, accounts []*inventory.Account, opts reconcile.Options) (*reconcile.Report, error)
}

// History records each applied crawl.
type History interface {
	RecordRun(runID string, at time.Time, servers []*inventory.ServerDetails, disappeared []string) (archive.Run, error)
	Compact(keep int64) (int, error)
}

// Recorder receives per-adapter crawl measurements.
type Recorder interface {
	RecordCrawlDuration(ctx context.Context, adapter string, d time.Duration)
	RecordResourceCount(ctx context.Context, adapter, kind, region string, count int)
	RecordError(ctx context.Context, adapter string)
}

// CycleOptions controls every cycle.
type CycleOptions struct {
	DryRun     bool
	SoftDelete bool
	// Keep is the number of archive revisions kept. Zero keeps all.
	Keep int64
}

// CycleReport summarises one cycle.
type CycleReport struct {
	RunID     string
	Crawl     *aggregator.Result
	Reconcile *reconcile.Report
	Archived  *archive.Run
	Duration  time.Duration
}

// Cycle runs crawl, reconcile and archive once.
type Cycle struct {
	crawler    Crawler
	reconciler Reconciler
	history    History
	recorder   Recorder
	metrics    *DaemonMetrics
	opts       CycleOptions
	now        func() time.Time
}

// NewCycle creates a cycle. history, recorder and metrics may be nil.
func NewCycle(crawler Crawler, reconciler Reconciler, history History, recorder Recorder, metrics *DaemonMetrics, opts CycleOptions) *Cycle {
	return &Cycle{
		crawler:    crawler,
		reconciler: reconciler,
		history:    history,
		recorder:   recorder,
		metrics:    metrics,
		opts:       opts,
		now:        time.Now,
	}
}

// Run executes one cycle. Adapter failures do not fail the cycle, they only
// suppress soft delete. A cancelled context returns no report.
func (c *Cycle) Run(ctx context.Context) (*CycleReport, error) {
	start := c.now()
	report := &CycleReport{RunID: uuid.NewString()}

	ctx, span := tracer.Start(ctx, "cycle")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", report.RunID))

	logger := log.With().Str("run_id", report.RunID).Logger()

	res, err := c.crawler.Run(ctx)
	if err != nil {
		c.recordCycle(ctx, "cancelled", start)
		return nil, err
	}
	report.Crawl = res
	c.recordCrawl(ctx, res)

	rec, err := c.reconciler.Apply(ctx, res.Accounts, reconcile.Options{
		DryRun:     c.opts.DryRun,
		SoftDelete: c.opts.SoftDelete,
		Complete:   !res.Failed(),
	})
	if err != nil {
		status := "error"
		if provider.IsCancelled(err) {
			status = "cancelled"
		}
		c.recordCycle(ctx, status, start)
		return nil, err
	}
	report.Reconcile = rec
	if c.metrics != nil {
		c.metrics.RecordChangeEvents(ctx, string(reconcile.OutcomeNew), rec.Plan.Count(reconcile.OutcomeNew))
		c.metrics.RecordChangeEvents(ctx, string(reconcile.OutcomeUpdated), rec.Plan.Count(reconcile.OutcomeUpdated))
		c.metrics.RecordChangeEvents(ctx, "deleted", len(rec.Deleted))
	}

	if c.history != nil && !c.opts.DryRun {
		c.archiveRun(ctx, report, res.Servers(), rec.Deleted, start)
	}

	status := "success"
	if res.Failed() || rec.RowFailures > 0 {
		status = "partial"
	}
	report.Duration = c.recordCycle(ctx, status, start)

	logger.Info().
		Str("status", status).
		Int("accounts", len(res.Accounts)).
		Int("failed_adapters", len(res.Failures)).
		Int("written", rec.Written).
		Int("row_failures", rec.RowFailures).
		Int("deleted", len(rec.Deleted)).
		Dur("duration", report.Duration).
		Msg("cycle complete")
	return report, nil
}

// archiveRun failures are logged, the database is already written.
func (c *Cycle) archiveRun(ctx context.Context, report *CycleReport, servers []*inventory.ServerDetails, deleted []string, at time.Time) {
	run, err := c.history.RecordRun(report.RunID, at, servers, deleted)
	c.recordArchive(ctx, "record", err)
	if err != nil {
		log.Error().Err(err).Str("run_id", report.RunID).Msg("failed to archive run")
		return
	}
	report.Archived = &run

	if c.opts.Keep <= 0 {
		return
	}
	removed, err := c.history.Compact(c.opts.Keep)
	c.recordArchive(ctx, "compact", err)
	if err != nil {
		log.Error().Err(err).Msg("failed to compact archive")
		return
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int64("keep", c.opts.Keep).Msg("archive compacted")
	}
}

func (c *Cycle) recordCrawl(ctx context.Context, res *aggregator.Result) {
	if c.recorder != nil {
		for _, crawl := range res.Crawls {
			c.recorder.RecordCrawlDuration(ctx, crawl.Adapter, crawl.Duration)
			if crawl.Err != nil {
				c.recorder.RecordError(ctx, crawl.Adapter)
				continue
			}
			for _, kc := range crawl.Account.KindCounts() {
				c.recorder.RecordResourceCount(ctx, crawl.Adapter, kc.Kind, kc.Region, kc.Count)
			}
		}
	}

	var servers int
	for _, acc := range res.Accounts {
		servers += acc.ServerCount()
	}
	if c.metrics != nil {
		c.metrics.RecordServersTracked(ctx, int64(servers))
	}
}

func (c *Cycle) recordArchive(ctx context.Context, op string, err error) {
	if c.metrics != nil {
		c.metrics.RecordArchiveOperation(ctx, op, err)
	}
}

func (c *Cycle) recordCycle(ctx context.Context, status string, start time.Time) time.Duration {
	d := c.now().Sub(start)
	if c.metrics != nil {
		c.metrics.RecordCycle(ctx, status, d.Seconds())
	}
	return d
}
