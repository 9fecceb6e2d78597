// Package filter selects inventory entries by kind and tag for display.
package filter

import (
	"fmt"
	"strings"

	"github.com/yairfalse/cmdb/pkg/inventory"
)

// Filter controls which kinds are shown and which servers are included.
type Filter struct {
	excludeKinds map[string]bool
	includeTags  map[string]string
	excludeTags  map[string]string
}

// New creates a new Filter from the provided configuration.
func New(excludeKinds []string, includeTags, excludeTags map[string]string) *Filter {
	excludeMap := make(map[string]bool)
	for _, k := range excludeKinds {
		excludeMap[k] = true
	}

	return &Filter{
		excludeKinds: excludeMap,
		includeTags:  includeTags,
		excludeTags:  excludeTags,
	}
}

// IncludesKind returns true if the given resource kind should be shown.
func (f *Filter) IncludesKind(kind string) bool {
	return !f.excludeKinds[kind]
}

// Matches returns true if tags pass the tag filters. Every include tag
// must match; any matching exclude tag rejects.
func (f *Filter) Matches(tags map[string]string) bool {
	for k, v := range f.includeTags {
		if tags == nil || tags[k] != v {
			return false
		}
	}
	for k, v := range f.excludeTags {
		if tags != nil && tags[k] == v {
			return false
		}
	}
	return true
}

// Servers returns only servers that pass the filter. Servers are dropped
// entirely when the server kind is excluded.
func (f *Filter) Servers(servers []inventory.ServerDetails) []inventory.ServerDetails {
	if f.IsEmpty() {
		return servers
	}
	if !f.IncludesKind(inventory.KindServer) {
		return nil
	}

	filtered := make([]inventory.ServerDetails, 0, len(servers))
	for _, s := range servers {
		if f.Matches(s.Tags) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// KindCounts drops the counts of excluded kinds.
func (f *Filter) KindCounts(counts []inventory.KindCount) []inventory.KindCount {
	if len(f.excludeKinds) == 0 {
		return counts
	}
	filtered := make([]inventory.KindCount, 0, len(counts))
	for _, kc := range counts {
		if f.IncludesKind(kc.Kind) {
			filtered = append(filtered, kc)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeKinds) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0
}

// ParseTags parses key=value pairs as given on the command line.
func ParseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q, expected key=value", p)
		}
		tags[k] = v
	}
	return tags, nil
}
