package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/yairfalse/cmdb/internal/properties"
)

var _ properties.Backend = (*Gateway)(nil)

// LoadProviders returns every provider id keyed by name.
func (g *Gateway) LoadProviders(ctx context.Context) (map[string]uint, error) {
	var rows []Provider
	if err := g.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load providers: %w", err)
	}
	out := make(map[string]uint, len(rows))
	for _, r := range rows {
		out[r.Name] = r.ID
	}
	return out, nil
}

// InsertProvider adds a provider unless one with the same name exists.
func (g *Gateway) InsertProvider(ctx context.Context, name string) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "Name"}}, DoNothing: true}).
		Create(&Provider{Name: name}).Error
	if err != nil {
		return fmt.Errorf("failed to insert provider %s: %w", name, err)
	}
	return nil
}

// LoadProviderKeys returns the key ids of one provider keyed by name.
func (g *Gateway) LoadProviderKeys(ctx context.Context, providerID uint) (map[string]uint, error) {
	var rows []ProviderKey
	if err := g.db.WithContext(ctx).Where("IdProvider = ?", providerID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load keys of provider %d: %w", providerID, err)
	}
	out := make(map[string]uint, len(rows))
	for _, r := range rows {
		out[r.Key] = r.ID
	}
	return out, nil
}

// InsertProviderKey adds a key to a provider unless it exists.
func (g *Gateway) InsertProviderKey(ctx context.Context, providerID uint, key string) error {
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ProviderKey"}, {Name: "IdProvider"}},
			DoNothing: true,
		}).
		Create(&ProviderKey{Key: key, ProviderID: providerID}).Error
	if err != nil {
		return fmt.Errorf("failed to insert key %s of provider %d: %w", key, providerID, err)
	}
	return nil
}

type propertyRow struct {
	Provider string
	Property string
	ItemID   string
	Value    string
}

// LoadProviderData returns every stored value with its provider and key
// names resolved.
func (g *Gateway) LoadProviderData(ctx context.Context) ([]properties.Value, error) {
	var rows []propertyRow
	err := g.db.WithContext(ctx).
		Table("ProviderData AS d").
		Select("p.Name AS provider, k.ProviderKey AS property, d.ItemId AS item_id, d.PropertyValue AS value").
		Joins("JOIN ProviderKey AS k ON k.idProviderKey = d.ProviderKeyId").
		Joins("JOIN Provider AS p ON p.idProvider = d.ProviderId").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load provider data: %w", err)
	}

	out := make([]properties.Value, len(rows))
	for i, r := range rows {
		out[i] = properties.Value{Provider: r.Provider, Property: r.Property, ItemID: r.ItemID, Value: r.Value}
	}
	return out, nil
}

// ReplaceProviderData writes rows, replacing the value of any existing
// (item, key) pair.
func (g *Gateway) ReplaceProviderData(ctx context.Context, rows []properties.Row) error {
	if len(rows) == 0 {
		return nil
	}
	data := make([]ProviderData, len(rows))
	for i, r := range rows {
		data[i] = ProviderData{ItemID: r.ItemID, ProviderKeyID: r.KeyID, ProviderID: r.ProviderID, Value: r.Value}
	}
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ItemId"}, {Name: "ProviderKeyId"}},
			DoUpdates: clause.AssignmentColumns([]string{"ProviderId", "PropertyValue"}),
		}).
		CreateInBatches(data, 200).Error
	if err != nil {
		return fmt.Errorf("failed to replace %d provider data rows: %w", len(rows), err)
	}
	return nil
}

// DeleteProviderData removes every value of the given items.
func (g *Gateway) DeleteProviderData(ctx context.Context, itemIDs []string) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	res := g.db.WithContext(ctx).Where("ItemId IN ?", itemIDs).Delete(&ProviderData{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete provider data: %w", res.Error)
	}
	return res.RowsAffected, nil
}
