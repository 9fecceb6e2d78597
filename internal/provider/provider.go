// Package provider defines the adapter contract every cloud crawler
// implements, and the error, retry and error-report plumbing they share.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yairfalse/cmdb/pkg/inventory"
)

// Adapter crawls one cloud account into the canonical model.
// Provider SDK types never leave an adapter.
type Adapter interface {
	// Name returns the configured account name (e.g. "aws-prod").
	Name() string

	// GetAccount crawls every resource kind in every region.
	// A returned error is fatal for this account only.
	GetAccount(ctx context.Context) (*inventory.Account, error)
}

// Registry holds the adapters built from configuration.
var (
	registry = make(map[string]Adapter)
	mu       sync.RWMutex
)

// Register adds an adapter, replacing one with the same name.
func Register(a Adapter) {
	mu.Lock()
	defer mu.Unlock()
	registry[a.Name()] = a
}

// Get returns an adapter by name.
func Get(name string) (Adapter, bool) {
	mu.RLock()
	defer mu.RUnlock()
	a, ok := registry[name]
	return a, ok
}

// Select returns the registered adapters with the given names, in the
// order given. Repeated names are returned once.
func Select(names ...string) ([]Adapter, error) {
	seen := make(map[string]bool, len(names))
	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		a, ok := Get(name)
		if !ok {
			return nil, Configuration("select account",
				fmt.Errorf("unknown account %q (configured: %s)", name, strings.Join(Names(), ", ")))
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// Names returns all registered adapter names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all adapters from the registry.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Adapter)
}
