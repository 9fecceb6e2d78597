// Package store persists accounts, servers and property values with gorm.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	gosql "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/yairfalse/cmdb/pkg/inventory"
)

// Drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// deleteChunk bounds the ids bound into one UPDATE ... IN statement.
const deleteChunk = 500

// Config holds the database connection settings.
type Config struct {
	Driver   string        `mapstructure:"driver" yaml:"driver"`
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	User     string        `mapstructure:"user" yaml:"user"`
	Password string        `mapstructure:"password" yaml:"password"`
	Name     string        `mapstructure:"name" yaml:"name"`
	Path     string        `mapstructure:"path" yaml:"path"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// DSN returns the MySQL data source name for cfg.
func (c Config) DSN() string {
	dsn := gosql.NewConfig()
	dsn.User = c.User
	dsn.Passwd = c.Password
	dsn.Net = "tcp"
	dsn.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	dsn.DBName = c.Name
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	dsn.Timeout = c.Timeout
	dsn.ReadTimeout = c.Timeout
	dsn.WriteTimeout = c.Timeout
	dsn.Params = map[string]string{"charset": "utf8mb4"}
	return dsn.FormatDSN()
}

// Gateway executes every statement the reconciliation engine and the
// property store need. Each call is a single statement.
type Gateway struct {
	db *gorm.DB
}

// Open connects to the configured database and pings it.
func Open(ctx context.Context, cfg Config) (*Gateway, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverMySQL, "":
		dialector = mysql.Open(cfg.DSN())
	case DriverSQLite:
		dialector = sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetMaxOpenConns(16)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug().Str("driver", dialector.Name()).Msg("database connected")
	return New(db), nil
}

// New wraps an open gorm connection.
func New(db *gorm.DB) *Gateway {
	return &Gateway{db: db}
}

// Migrate creates or updates every table.
func (g *Gateway) Migrate(ctx context.Context) error {
	if err := g.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (g *Gateway) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadExistingServerSummaries returns the last update time of every server,
// keyed by id. Soft-deleted servers are included only when asked.
func (g *Gateway) LoadExistingServerSummaries(ctx context.Context, includeDeleted bool) (map[string]inventory.ItemSummary, error) {
	var rows []Server
	q := g.db.WithContext(ctx).Model(&Server{}).Select("idServers", "Updated", "Deleted")
	if !includeDeleted {
		q = q.Where("Deleted IS NULL")
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load server summaries: %w", err)
	}

	out := make(map[string]inventory.ItemSummary, len(rows))
	for _, r := range rows {
		out[r.ID] = inventory.ItemSummary{LastUpdated: r.Updated, Deleted: r.Deleted}
	}
	return out, nil
}

// LoadServersFull decodes the stored record of every server. Rows whose
// record cannot be decoded are logged and skipped.
func (g *Gateway) LoadServersFull(ctx context.Context, includeDeleted bool) ([]inventory.ServerDetails, error) {
	var rows []Server
	q := g.db.WithContext(ctx).Model(&Server{}).Select("idServers", "Json").Order("idServers")
	if !includeDeleted {
		q = q.Where("Deleted IS NULL")
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load servers: %w", err)
	}

	out := make([]inventory.ServerDetails, 0, len(rows))
	for _, r := range rows {
		var s inventory.ServerDetails
		if err := json.Unmarshal([]byte(r.JSON), &s); err != nil {
			log.Warn().Err(err).Str("server", r.ID).Msg("skipping undecodable server record")
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// StoreAccount inserts the account unless it already exists. An account
// without a name is stored under its id.
func (g *Gateway) StoreAccount(ctx context.Context, acc *inventory.Account) error {
	name := acc.AccountName
	if name == "" {
		name = acc.AccountID
	}
	row := Account{ID: acc.AccountID, DataCentreType: acc.DataCentreType, AccountName: name}
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idAccount"}}, DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to store account %s: %w", acc.AccountID, err)
	}
	return nil
}

// UpsertServer replaces the stored server with s and clears its deleted
// mark.
func (g *Gateway) UpsertServer(ctx context.Context, s *inventory.ServerDetails) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode server %s: %w", s.ID, err)
	}
	row := Server{
		ID:        s.ID,
		Name:      s.Name,
		Flavour:   s.Flavour,
		Created:   s.Created,
		Updated:   s.Updated,
		CPU:       s.CPU,
		RAM:       s.RAM,
		AccountID: s.AccountID,
		JSON:      string(doc),
	}
	err = g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "idServers"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "flavour", "Created", "Updated", "Cpu", "Ram", "AccountId", "Json", "Deleted",
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert server %s: %w", s.ID, err)
	}
	return nil
}

// MarkServerDeleted soft-deletes one active server. It reports whether a row
// changed.
func (g *Gateway) MarkServerDeleted(ctx context.Context, id string, at time.Time) (bool, error) {
	res := g.db.WithContext(ctx).Model(&Server{}).
		Where("idServers = ? AND Deleted IS NULL", id).
		Update("Deleted", at)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark server %s deleted: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkServersDeleted soft-deletes the given active servers and returns how
// many rows changed. Servers already deleted keep their original time.
func (g *Gateway) MarkServersDeleted(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 1 {
		changed, err := g.MarkServerDeleted(ctx, ids[0], at)
		if changed {
			return 1, err
		}
		return 0, err
	}

	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		res := g.db.WithContext(ctx).Model(&Server{}).
			Where("idServers IN ? AND Deleted IS NULL", ids[start:end]).
			Update("Deleted", at)
		if res.Error != nil {
			return total, fmt.Errorf("failed to mark servers deleted: %w", res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}
