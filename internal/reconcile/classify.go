// Package reconcile compares a fresh crawl with the persisted snapshot and
// decides what to write.
package reconcile

import (
	"sort"
	"time"

	"github.com/yairfalse/cmdb/pkg/inventory"
)

// Outcome is the classification of one fresh server.
type Outcome string

const (
	// OutcomeNew means the server has never been persisted.
	OutcomeNew Outcome = "new"

	// OutcomeUpdated means the server changed since it was persisted, or the
	// persisted row has no update time.
	OutcomeUpdated Outcome = "updated"

	// OutcomeUnchanged means no write is needed.
	OutcomeUnchanged Outcome = "unchanged"
)

// Plan is the result of classifying a fresh crawl.
type Plan struct {
	New       []string
	Updated   []string
	Unchanged []string

	// Dirty holds the servers to write, in crawl order.
	Dirty []*inventory.ServerDetails
}

// Decide classifies one server. A persisted row without an update time is
// always rewritten.
func Decide(persisted inventory.ItemSummary, found bool, freshUpdated *time.Time) Outcome {
	switch {
	case !found:
		return OutcomeNew
	case persisted.LastUpdated == nil:
		return OutcomeUpdated
	case freshUpdated != nil && persisted.LastUpdated.Before(*freshUpdated):
		return OutcomeUpdated
	default:
		return OutcomeUnchanged
	}
}

// Classify sorts every fresh server into new, updated or unchanged and sets
// IsDirty on the ones that need a write.
func Classify(persisted map[string]inventory.ItemSummary, servers []*inventory.ServerDetails) *Plan {
	plan := &Plan{}
	for _, s := range servers {
		summary, found := persisted[s.ID]
		switch Decide(summary, found, s.Updated) {
		case OutcomeNew:
			plan.New = append(plan.New, s.ID)
		case OutcomeUpdated:
			plan.Updated = append(plan.Updated, s.ID)
		default:
			plan.Unchanged = append(plan.Unchanged, s.ID)
			continue
		}
		s.IsDirty = true
		plan.Dirty = append(plan.Dirty, s)
	}
	return plan
}

// Count returns the number of servers with the given outcome.
func (p *Plan) Count(o Outcome) int {
	switch o {
	case OutcomeNew:
		return len(p.New)
	case OutcomeUpdated:
		return len(p.Updated)
	default:
		return len(p.Unchanged)
	}
}

// Deletion is a set of persisted servers missing from the fresh crawl.
type Deletion struct {
	IDs []string
	At  time.Time
}

// DeletionCandidates returns the persisted, not yet deleted servers that are
// absent from the fresh set. The fresh set must be the complete crawl.
func DeletionCandidates(persisted map[string]inventory.ItemSummary, fresh []*inventory.ServerDetails, now time.Time) Deletion {
	seen := make(map[string]bool, len(fresh))
	for _, s := range fresh {
		seen[s.ID] = true
	}

	var ids []string
	for id, summary := range persisted {
		if summary.Deleted != nil || seen[id] {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Deletion{IDs: ids, At: now.UTC()}
}
