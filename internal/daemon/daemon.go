// Package daemon runs the crawl and reconcile cycle on an interval and
// serves metrics and health endpoints alongside it.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/rs/zerolog/log"
)

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	// Addr is the listen address of the HTTP endpoints. Empty disables them.
	Addr string
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
}

// Runner executes one cycle.
type Runner interface {
	Run(ctx context.Context) (*CycleReport, error)
}

// Daemon manages continuous crawling
type Daemon struct {
	interval       time.Duration
	addr           string
	metricsHandler http.Handler
	cycle          Runner
	startTime      time.Time
	cycleCount     atomic.Int64
	ready          atomic.Bool

	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     error
	listener    net.Listener
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config, cycle Runner) (*Daemon, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("daemon interval must be positive")
	}
	return &Daemon{
		interval:       cfg.Interval,
		addr:           cfg.Addr,
		metricsHandler: cfg.MetricsHandler,
		cycle:          cycle,
		startTime:      time.Now(),
	}, nil
}

// Start runs the cycle loop, the HTTP server and the signal handler until
// ctx is cancelled, a signal arrives or the server fails.
func (d *Daemon) Start(ctx context.Context) error {
	var g run.Group

	loopCtx, cancelLoop := context.WithCancel(ctx)
	g.Add(func() error {
		return d.loop(loopCtx)
	}, func(error) {
		cancelLoop()
	})

	if d.addr != "" {
		ln, err := net.Listen("tcp", d.addr)
		if err != nil {
			cancelLoop()
			return err
		}
		d.mu.Lock()
		d.listener = ln
		d.mu.Unlock()

		srv := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Add(func() error {
			log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics and health")
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	err := g.Run()
	var sig run.SignalError
	switch {
	case errors.As(err, &sig):
		log.Info().Str("signal", sig.Signal.String()).Msg("shutting down")
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// Addr returns the bound listen address, or nil before Start.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// loop runs a cycle immediately, then once per interval. Cycles never overlap.
func (d *Daemon) loop(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	d.cycleCount.Add(1)
	_, err := d.cycle.Run(ctx)
	if ctx.Err() != nil {
		return
	}

	d.mu.Lock()
	d.lastErr = err
	if err == nil {
		d.lastSuccess = time.Now()
	}
	d.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("cycle failed")
	}
	d.ready.Store(true)
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status      string     `json:"status"`
	Uptime      int64      `json:"uptime_seconds"`
	Cycles      int64      `json:"cycles"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Cycles: d.cycleCount.Load(),
	}
	if !d.lastSuccess.IsZero() {
		t := d.lastSuccess
		h.LastSuccess = &t
	}
	if d.lastErr != nil {
		h.Status = "degraded"
		h.LastError = d.lastErr.Error()
	}
	return h
}

// CycleCount returns total cycles started
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}

// Handler returns the HTTP endpoints of the daemon.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	if d.metricsHandler != nil {
		mux.Handle("/metrics", d.metricsHandler)
	}
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/-/healthy", handleHealthy)
	mux.HandleFunc("/-/ready", d.handleReady)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.Health()); err != nil {
		log.Warn().Err(err).Msg("failed to write health response")
	}
}

func handleHealthy(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !d.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("first cycle pending"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
