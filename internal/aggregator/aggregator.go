// Package aggregator drives the provider adapters for one crawl.
package aggregator

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/cmdb/internal/provider"
	"github.com/yairfalse/cmdb/pkg/inventory"
)

// Failure is an adapter whose crawl ended in a fatal error.
type Failure struct {
	Adapter string
	Err     error
}

// Crawl is the outcome of one adapter. Account is nil when Err is set.
type Crawl struct {
	Adapter  string
	Account  *inventory.Account
	Duration time.Duration
	Err      error
}

// Result is the working set handed to reconciliation.
type Result struct {
	Accounts []*inventory.Account
	Failures []Failure
	Crawls   []Crawl
	Duration time.Duration
}

// Servers returns every server of every account, in account order.
func (r *Result) Servers() []*inventory.ServerDetails {
	var servers []*inventory.ServerDetails
	for _, acc := range r.Accounts {
		servers = append(servers, acc.Servers()...)
	}
	return servers
}

// Failed reports whether any adapter failed.
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

// Aggregator runs adapters one after another.
type Aggregator struct {
	adapters []provider.Adapter
}

// New creates an aggregator over the given adapters.
func New(adapters ...provider.Adapter) *Aggregator {
	return &Aggregator{adapters: adapters}
}

// Run crawls every adapter sequentially. A fatal error in one adapter is
// recorded and the next adapter still runs. A cancelled context stops the
// run and no result is returned.
func (g *Aggregator) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	for _, a := range g.adapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		began := time.Now()
		acc, err := a.GetAccount(ctx)
		crawl := Crawl{Adapter: a.Name(), Account: acc, Duration: time.Since(began), Err: err}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error().Err(err).Str("adapter", a.Name()).Msg("account crawl failed")
			crawl.Account = nil
			res.Crawls = append(res.Crawls, crawl)
			res.Failures = append(res.Failures, Failure{Adapter: a.Name(), Err: err})
			continue
		}
		res.Crawls = append(res.Crawls, crawl)

		log.Info().
			Str("adapter", a.Name()).
			Str("account", acc.AccountName).
			Int("server_groups", len(acc.ServerGroups)).
			Int("servers", acc.ServerCount()).
			Msg("account crawled")
		res.Accounts = append(res.Accounts, acc)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}
