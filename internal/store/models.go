package store

import "time"

// Account is a crawled cloud account. Rows are inserted once and never
// updated.
type Account struct {
	ID             string `gorm:"column:idAccount;primaryKey;size:64"`
	DataCentreType string `gorm:"column:DataCentreType;size:32"`
	AccountName    string `gorm:"column:AccountName;size:255"`
}

func (Account) TableName() string { return "Account" }

// Server is one persisted server. JSON holds the complete canonical record;
// a nil Deleted means the server is active.
type Server struct {
	ID        string     `gorm:"column:idServers;primaryKey;size:191"`
	Name      string     `gorm:"column:name;size:255"`
	Flavour   string     `gorm:"column:flavour;size:64"`
	Created   *time.Time `gorm:"column:Created"`
	Updated   *time.Time `gorm:"column:Updated"`
	CPU       int        `gorm:"column:Cpu"`
	RAM       float64    `gorm:"column:Ram"`
	AccountID string     `gorm:"column:AccountId;size:64;index"`
	JSON      string     `gorm:"column:Json;type:mediumtext"`
	Deleted   *time.Time `gorm:"column:Deleted;index"`
}

func (Server) TableName() string { return "Servers" }

// Provider is a property namespace such as "billing".
type Provider struct {
	ID   uint   `gorm:"column:idProvider;primaryKey;autoIncrement"`
	Name string `gorm:"column:Name;size:191;uniqueIndex"`
}

func (Provider) TableName() string { return "Provider" }

// ProviderKey is a property name, unique within its provider.
type ProviderKey struct {
	ID         uint   `gorm:"column:idProviderKey;primaryKey;autoIncrement"`
	Key        string `gorm:"column:ProviderKey;size:191;uniqueIndex:ux_provider_key"`
	ProviderID uint   `gorm:"column:IdProvider;uniqueIndex:ux_provider_key"`
}

func (ProviderKey) TableName() string { return "ProviderKey" }

// ProviderData is one property value of one item.
type ProviderData struct {
	ItemID        string `gorm:"column:ItemId;primaryKey;size:191"`
	ProviderKeyID uint   `gorm:"column:ProviderKeyId;primaryKey"`
	ProviderID    uint   `gorm:"column:ProviderId;index"`
	Value         string `gorm:"column:PropertyValue;type:text"`
}

func (ProviderData) TableName() string { return "ProviderData" }

// Models lists every table the gateway owns, in migration order.
func Models() []any {
	return []any{&Account{}, &Server{}, &Provider{}, &ProviderKey{}, &ProviderData{}}
}
