// Package mysql provides a MySQL implementation of the transactional store
// built on GORM.
//
// Writes run inside db.Transaction. Inserts rely on primary keys and updates
// carry their guard in the WHERE clause; a duplicate key, an update that
// matched no row, or an InnoDB deadlock between racing writers rejects the
// whole transaction as a failed condition.
package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Connection pool defaults.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 10
	DefaultConnMaxLifetime = 10 * time.Minute
	DefaultConnMaxIdleTime = 5 * time.Minute
)

// MySQL error numbers treated as a lost race. A lock wait timeout (1205)
// is not one: it is reported as a plain store error.
const (
	errDuplicateEntry = 1062
	errDeadlock       = 1213
)

var (
	_ adapters.TransactionalStore = (*Adapter)(nil)
	_ adapters.HealthChecker      = (*Adapter)(nil)
)

// Config holds MySQL connection settings.
type Config struct {
	Host            string        `mapstructure:"host" json:"host"`
	Port            string        `mapstructure:"port" json:"port"`
	Username        string        `mapstructure:"username" json:"username"`
	Password        string        `mapstructure:"password" json:"password"`
	Database        string        `mapstructure:"database" json:"database"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" json:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level" json:"log_level"`
}

// DSN returns the go-sql-driver connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&charset=utf8mb4&collation=utf8mb4_unicode_ci&readTimeout=10s&writeTimeout=10s",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

func (c *Config) parseLogLevel() gormlogger.LogLevel {
	switch c.LogLevel {
	case "debug", "info":
		return gormlogger.Info
	case "warn":
		return gormlogger.Warn
	case "error":
		return gormlogger.Error
	case "silent":
		return gormlogger.Silent
	default:
		return gormlogger.Warn
	}
}

func (c *Config) applyDefaults() {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = DefaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = DefaultMaxIdleConns
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = DefaultConnMaxIdleTime
	}
}

// Connect opens a GORM connection with the configured pool.
func (c *Config) Connect() (*gorm.DB, error) {
	c.applyDefaults()
	return Open(c.DSN(), &gorm.Config{
		Logger: gormlogger.Default.LogMode(c.parseLogLevel()),
	}, func(db *gorm.DB) error {
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("ordermesh/mysql: failed to get underlying sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(c.MaxOpenConns)
		sqlDB.SetMaxIdleConns(c.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
		sqlDB.SetConnMaxIdleTime(c.ConnMaxIdleTime)
		return nil
	})
}

// Open connects to dsn. A nil config uses a warn-level logger.
func Open(dsn string, cfg *gorm.Config, setup ...func(*gorm.DB) error) (*gorm.DB, error) {
	if cfg == nil {
		cfg = &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	}
	cfg.TranslateError = true

	db, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mysql: failed to connect to database: %w", err)
	}
	for _, fn := range setup {
		if err := fn(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Adapter is a MySQL implementation of TransactionalStore.
type Adapter struct {
	db *gorm.DB
}

// NewAdapter creates an adapter over an open GORM connection.
func NewAdapter(db *gorm.DB) *Adapter {
	return &Adapter{db: db}
}

// Initialize creates the tables.
func (a *Adapter) Initialize(ctx context.Context) error {
	if err := a.db.WithContext(ctx).AutoMigrate(&EventPO{}, &SequencePO{}, &SnapshotPO{}); err != nil {
		return fmt.Errorf("ordermesh/mysql: failed to migrate: %w", err)
	}
	return nil
}

// Execute applies all writes in one transaction.
func (a *Adapter) Execute(ctx context.Context, writes []adapters.Write) error {
	if err := adapters.ValidateWrites(writes); err != nil {
		return err
	}

	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, w := range writes {
			ok, err := apply(tx, w)
			if err != nil {
				if isRace(err) {
					return adapters.NewConditionFailedError(i, w)
				}
				return fmt.Errorf("ordermesh/mysql: failed to %s: %w", w.Operation(), err)
			}
			if !ok {
				return adapters.NewConditionFailedError(i, w)
			}
		}
		return nil
	})
	if err != nil && isRace(err) {
		// The commit itself lost a race.
		return &adapters.ConditionFailedError{Index: -1, Operation: "commit", AggregateID: writes[0].AggregateID()}
	}
	return err
}

// apply runs one write and reports whether its guard held.
func apply(tx *gorm.DB, w adapters.Write) (bool, error) {
	var res *gorm.DB
	switch w := w.(type) {
	case adapters.PutEvent:
		res = tx.Create(fromEventRecord(w.Event))

	case adapters.PutSequence:
		res = tx.Create(&SequencePO{
			AggregateID:   w.Sequence.AggregateID,
			LatestEventID: w.Sequence.LatestEventID,
		})

	case adapters.PutSnapshot:
		res = tx.Create(&SnapshotPO{
			AggregateID:   w.Snapshot.AggregateID,
			AggregateType: w.Snapshot.AggregateType,
			Version:       w.Snapshot.Version,
			Payload:       w.Snapshot.Payload,
		})

	case adapters.AdvanceSequence:
		res = tx.Model(&SequencePO{}).
			Where("aggregate_id = ? AND latest_event_id = ?", w.ID, w.Expected).
			Updates(map[string]any{
				"latest_event_id": w.Next,
				"updated_at":      time.Now().UTC(),
			})

	case adapters.UpdateSnapshot:
		res = tx.Model(&SnapshotPO{}).
			Where("aggregate_id = ? AND version = ?", w.Snapshot.AggregateID, w.ExpectedVersion).
			Updates(map[string]any{
				"aggregate_type": w.Snapshot.AggregateType,
				"version":        w.Snapshot.Version,
				"payload":        w.Snapshot.Payload,
				"updated_at":     time.Now().UTC(),
			})

	default:
		return false, fmt.Errorf("unsupported write %T", w)
	}

	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// isRace reports whether err means another writer got there first.
func isRace(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errDuplicateEntry, errDeadlock:
			return true
		}
	}
	return false
}

// GetSnapshot returns the snapshot record, or nil if none exists.
func (a *Adapter) GetSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	var po SnapshotPO
	err := a.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).Take(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mysql: failed to load snapshot: %w", err)
	}

	return &adapters.SnapshotRecord{
		AggregateID:   po.AggregateID,
		AggregateType: po.AggregateType,
		Version:       po.Version,
		Payload:       po.Payload,
	}, nil
}

// ListSnapshots returns the snapshots of aggregateType ordered by id.
func (a *Adapter) ListSnapshots(ctx context.Context, aggregateType string) ([]adapters.SnapshotRecord, error) {
	var pos []SnapshotPO
	err := a.db.WithContext(ctx).
		Where("aggregate_type = ?", aggregateType).
		Order("aggregate_id").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mysql: failed to list snapshots: %w", err)
	}

	snapshots := make([]adapters.SnapshotRecord, len(pos))
	for i, po := range pos {
		snapshots[i] = adapters.SnapshotRecord{
			AggregateID:   po.AggregateID,
			AggregateType: po.AggregateType,
			Version:       po.Version,
			Payload:       po.Payload,
		}
	}
	return snapshots, nil
}

// GetSequence returns the sequence record, or nil if none exists.
func (a *Adapter) GetSequence(ctx context.Context, aggregateID string) (*adapters.SequenceRecord, error) {
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	var po SequencePO
	err := a.db.WithContext(ctx).Where("aggregate_id = ?", aggregateID).Take(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mysql: failed to load sequence: %w", err)
	}

	return &adapters.SequenceRecord{AggregateID: po.AggregateID, LatestEventID: po.LatestEventID}, nil
}

// LoadEvents returns every event of an aggregate ordered by sequence.
func (a *Adapter) LoadEvents(ctx context.Context, aggregateID string) ([]adapters.EventRecord, error) {
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	var pos []EventPO
	err := a.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("`sequence`").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mysql: failed to load events: %w", err)
	}

	events := make([]adapters.EventRecord, len(pos))
	for i := range pos {
		events[i] = pos[i].ToRecord()
	}
	return events, nil
}

// Ping checks database connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (a *Adapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB returns the GORM handle.
func (a *Adapter) DB() *gorm.DB {
	return a.db
}
