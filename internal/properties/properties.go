// Package properties stores free-form values per provider, property and item,
// behind a memoized read-through cache that skips writes of unchanged values.
package properties

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/yairfalse/cmdb/internal/provider"
)

// Item is one observed property value. A nil Value means nothing was
// observed and is never written.
type Item struct {
	ItemID   string  `json:"itemId" yaml:"itemId"`
	Property string  `json:"property" yaml:"property"`
	Value    *string `json:"value" yaml:"value"`
}

// Value is one persisted property value.
type Value struct {
	Provider string
	Property string
	ItemID   string
	Value    string
}

// Row is a value addressed by ids, ready to be written.
type Row struct {
	ItemID     string
	ProviderID uint
	KeyID      uint
	Value      string
}

// Items maps provider to property to item id to value.
type Items map[string]map[string]map[string]string

// Backend persists providers, property keys and values.
type Backend interface {
	LoadProviders(ctx context.Context) (map[string]uint, error)
	InsertProvider(ctx context.Context, name string) error
	LoadProviderKeys(ctx context.Context, providerID uint) (map[string]uint, error)
	InsertProviderKey(ctx context.Context, providerID uint, key string) error
	LoadProviderData(ctx context.Context) ([]Value, error)
	ReplaceProviderData(ctx context.Context, rows []Row) error
	DeleteProviderData(ctx context.Context, itemIDs []string) (int64, error)
}

// WriteResult counts what one StoreItems call did.
type WriteResult struct {
	Written int
	Skipped int
}

// Store is the property store. Provider ids, key ids and values are loaded
// once and kept for the life of the process; a lookup miss reloads from the
// backend before creating the missing row.
type Store struct {
	backend Backend
	loads   singleflight.Group

	mu        sync.RWMutex
	providers map[string]uint
	keys      map[uint]map[string]uint
	items     Items

	writes metric.Int64Counter
	skips  metric.Int64Counter
}

// New creates a store over backend.
func New(backend Backend) (*Store, error) {
	meter := otel.Meter("github.com/yairfalse/cmdb/internal/properties")

	writes, err := meter.Int64Counter(
		"cmdb.properties.writes",
		metric.WithDescription("Property values written"),
		metric.WithUnit("{value}"),
	)
	if err != nil {
		return nil, err
	}

	skips, err := meter.Int64Counter(
		"cmdb.properties.skips",
		metric.WithDescription("Property values not written because they were unchanged or empty"),
		metric.WithUnit("{value}"),
	)
	if err != nil {
		return nil, err
	}

	return &Store{
		backend: backend,
		keys:    make(map[uint]map[string]uint),
		writes:  writes,
		skips:   skips,
	}, nil
}

// GetItem returns the value of one property of one item.
func (s *Store) GetItem(ctx context.Context, providerName, itemID, property string) (string, bool, error) {
	if err := s.loadItems(ctx); err != nil {
		return "", false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[providerName][property][itemID]
	return v, ok, nil
}

// GetAllItems returns a copy of every stored value.
func (s *Store) GetAllItems(ctx context.Context) (Items, error) {
	if err := s.loadItems(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Items, len(s.items))
	for p, props := range s.items {
		out[p] = make(map[string]map[string]string, len(props))
		for k, vals := range props {
			m := make(map[string]string, len(vals))
			for id, v := range vals {
				m[id] = v
			}
			out[p][k] = m
		}
	}
	return out, nil
}

// StoreItems writes items under providerName. Values equal to the cached
// value, ignoring case, are skipped and so are nil values. Within one batch
// the last value for an item wins.
func (s *Store) StoreItems(ctx context.Context, providerName string, items []Item) (WriteResult, error) {
	var res WriteResult

	providerID, err := s.ProviderID(ctx, providerName)
	if err != nil {
		return res, err
	}
	if err := s.loadItems(ctx); err != nil {
		return res, err
	}

	var order []string
	byProperty := make(map[string][]Item)
	for _, it := range items {
		if _, ok := byProperty[it.Property]; !ok {
			order = append(order, it.Property)
		}
		byProperty[it.Property] = append(byProperty[it.Property], it)
	}

	for _, property := range order {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		keyID, err := s.KeyID(ctx, providerID, property)
		if err != nil {
			return res, err
		}

		// Collapse the batch to the last value per item before comparing
		// against what is stored.
		var ids []string
		latest := make(map[string]string)
		skipped := 0
		for _, it := range byProperty[property] {
			if it.Value == nil {
				skipped++
				s.skips.Add(ctx, 1, metric.WithAttributes(
					attribute.String("provider", providerName),
					attribute.String("reason", "nil"),
				))
				continue
			}
			prev, seen := latest[it.ItemID]
			if !seen {
				ids = append(ids, it.ItemID)
			} else if strings.EqualFold(prev, *it.Value) {
				skipped++
				continue
			}
			latest[it.ItemID] = *it.Value
		}

		var rows []Row
		for _, id := range ids {
			value := latest[id]
			if s.unchanged(providerName, property, id, value) {
				skipped++
				s.skips.Add(ctx, 1, metric.WithAttributes(
					attribute.String("provider", providerName),
					attribute.String("reason", "unchanged"),
				))
				continue
			}
			rows = append(rows, Row{
				ItemID:     id,
				ProviderID: providerID,
				KeyID:      keyID,
				Value:      value,
			})
		}
		res.Skipped += skipped

		if len(rows) > 0 {
			if err := s.backend.ReplaceProviderData(ctx, rows); err != nil {
				return res, provider.Persistence(fmt.Sprintf("store %s/%s", providerName, property), err)
			}
			s.remember(providerName, property, rows)
			res.Written += len(rows)
			s.writes.Add(ctx, int64(len(rows)), metric.WithAttributes(attribute.String("provider", providerName)))
		}

		log.Debug().
			Str("provider", providerName).
			Str("property", property).
			Int("written", len(rows)).
			Int("skipped", skipped).
			Msg("stored property values")
	}
	return res, nil
}

// RemoveItems deletes every value of the given items.
func (s *Store) RemoveItems(ctx context.Context, itemIDs []string) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	n, err := s.backend.DeleteProviderData(ctx, itemIDs)
	if err != nil {
		return 0, provider.Persistence(fmt.Sprintf("remove %d items", len(itemIDs)), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, props := range s.items {
		for _, vals := range props {
			for _, id := range itemIDs {
				delete(vals, id)
			}
		}
	}
	log.Info().Int("items", len(itemIDs)).Int64("rows", n).Msg("removed property values")
	return n, nil
}

// ProviderID resolves a provider name to its id, creating the provider when
// it does not exist yet.
func (s *Store) ProviderID(ctx context.Context, name string) (uint, error) {
	if id, ok := s.cachedProvider(name); ok {
		return id, nil
	}
	if err := s.reloadProviders(ctx); err != nil {
		return 0, err
	}
	if id, ok := s.cachedProvider(name); ok {
		return id, nil
	}

	if err := s.backend.InsertProvider(ctx, name); err != nil {
		return 0, provider.Persistence("insert provider "+name, err)
	}
	if err := s.loadProviders(ctx); err != nil {
		return 0, err
	}
	if id, ok := s.cachedProvider(name); ok {
		log.Info().Str("provider", name).Uint("id", id).Msg("created property provider")
		return id, nil
	}
	return 0, provider.Persistence("insert provider "+name, fmt.Errorf("provider %q missing after insert", name))
}

// KeyID resolves a property name of a provider to its id, creating the key
// when it does not exist yet.
func (s *Store) KeyID(ctx context.Context, providerID uint, key string) (uint, error) {
	if id, ok := s.cachedKey(providerID, key); ok {
		return id, nil
	}
	if err := s.reloadKeys(ctx, providerID); err != nil {
		return 0, err
	}
	if id, ok := s.cachedKey(providerID, key); ok {
		return id, nil
	}

	if err := s.backend.InsertProviderKey(ctx, providerID, key); err != nil {
		return 0, provider.Persistence("insert property key "+key, err)
	}
	if err := s.loadKeys(ctx, providerID); err != nil {
		return 0, err
	}
	if id, ok := s.cachedKey(providerID, key); ok {
		return id, nil
	}
	return 0, provider.Persistence("insert property key "+key, fmt.Errorf("key %q missing after insert", key))
}

// Invalidate drops every cached id and value. The next call reloads.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = nil
	s.keys = make(map[uint]map[string]uint)
	s.items = nil
}

func (s *Store) cachedProvider(name string) (uint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.providers[name]
	return id, ok
}

func (s *Store) cachedKey(providerID uint, key string) (uint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[providerID][key]
	return id, ok
}

func (s *Store) unchanged(providerName, property, itemID, value string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	current, ok := s.items[providerName][property][itemID]
	return ok && strings.EqualFold(current, value)
}

func (s *Store) remember(providerName, property string, rows []Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		return
	}
	props, ok := s.items[providerName]
	if !ok {
		props = make(map[string]map[string]string)
		s.items[providerName] = props
	}
	vals, ok := props[property]
	if !ok {
		vals = make(map[string]string)
		props[property] = vals
	}
	for _, r := range rows {
		vals[r.ItemID] = r.Value
	}
}

// shared runs fn once for all concurrent callers of key. fn does not inherit
// the cancellation of whichever caller started it; each caller still stops
// waiting when its own ctx is done.
func (s *Store) shared(ctx context.Context, key string, fn func(context.Context) error) error {
	ch := s.loads.DoChan(key, func() (any, error) {
		return nil, fn(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) reloadProviders(ctx context.Context) error {
	return s.shared(ctx, "providers", s.loadProviders)
}

// loadProviders reads the providers table directly. It is used after an
// insert, where a reload that began before the insert would miss the row.
func (s *Store) loadProviders(ctx context.Context) error {
	m, err := s.backend.LoadProviders(ctx)
	if err != nil {
		return provider.Persistence("load providers", err)
	}
	s.mu.Lock()
	s.providers = m
	s.mu.Unlock()
	return nil
}

func (s *Store) reloadKeys(ctx context.Context, providerID uint) error {
	return s.shared(ctx, fmt.Sprintf("keys/%d", providerID), func(ctx context.Context) error {
		return s.loadKeys(ctx, providerID)
	})
}

func (s *Store) loadKeys(ctx context.Context, providerID uint) error {
	m, err := s.backend.LoadProviderKeys(ctx, providerID)
	if err != nil {
		return provider.Persistence(fmt.Sprintf("load keys of provider %d", providerID), err)
	}
	s.mu.Lock()
	s.keys[providerID] = m
	s.mu.Unlock()
	return nil
}

func (s *Store) loadItems(ctx context.Context) error {
	s.mu.RLock()
	loaded := s.items != nil
	s.mu.RUnlock()
	if loaded {
		return nil
	}

	return s.shared(ctx, "items", func(ctx context.Context) error {
		values, err := s.backend.LoadProviderData(ctx)
		if err != nil {
			return provider.Persistence("load property values", err)
		}
		items := make(Items)
		for _, v := range values {
			props, ok := items[v.Provider]
			if !ok {
				props = make(map[string]map[string]string)
				items[v.Provider] = props
			}
			vals, ok := props[v.Property]
			if !ok {
				vals = make(map[string]string)
				props[v.Property] = vals
			}
			vals[v.ItemID] = v.Value
		}
		s.mu.Lock()
		s.items = items
		s.mu.Unlock()
		log.Debug().Int("values", len(values)).Msg("loaded property values")
		return nil
	})
}

var nonPropChars = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// StandardizePropName strips everything but letters, digits and dashes and
// upper-cases the rest, e.g. "Cost centre #1" becomes "COSTCENTRE1".
func StandardizePropName(name string) string {
	return strings.ToUpper(nonPropChars.ReplaceAllString(name, ""))
}
