// Package postgres provides a PostgreSQL implementation of the transactional store.
//
// Every Execute call runs in one transaction. Row-creating writes use
// INSERT ... ON CONFLICT DO NOTHING and row-updating writes carry their guard
// in the WHERE clause, so a write that affects no row rejects the whole
// transaction. Under READ COMMITTED a racing writer blocks on the row lock and
// then re-evaluates the guard, so exactly one of N racing updates commits.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed    = adapters.ErrAdapterClosed
	ErrEmptyAggregateID = adapters.ErrEmptyAggregateID
	ErrConditionFailed  = adapters.ErrConditionFailed
)

// DefaultSchema is the schema used when WithSchema is not given.
const DefaultSchema = "ordermesh"

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.TransactionalStore   = (*PostgresAdapter)(nil)
	_ adapters.ChangeStreamProvider = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker        = (*PostgresAdapter)(nil)
)

// PostgresAdapter is a PostgreSQL implementation of TransactionalStore.
type PostgresAdapter struct {
	db      *sql.DB
	connStr string
	schema  string
	closed  atomic.Bool
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		a.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// WithListenDSN sets the connection string used for LISTEN/NOTIFY wakeups
// by change streams. NewAdapter sets it from its own connection string.
func WithListenDSN(connStr string) Option {
	return func(a *PostgresAdapter) {
		a.connStr = connStr
	}
}

// NewAdapter creates a new PostgreSQL store adapter.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: failed to open database: %w", err)
	}

	adapter := &PostgresAdapter{
		db:      db,
		connStr: connStr,
		schema:  DefaultSchema,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	if !schemaPattern.MatchString(adapter.schema) {
		_ = db.Close()
		return nil, fmt.Errorf("ordermesh/postgres: invalid schema name %q", adapter.schema)
	}

	return adapter, nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
// The schema name must be a plain SQL identifier.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	adapter := &PostgresAdapter{
		db:     db,
		schema: DefaultSchema,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	if !schemaPattern.MatchString(adapter.schema) {
		panic(fmt.Sprintf("ordermesh/postgres: invalid schema name %q", adapter.schema))
	}

	return adapter
}

// Initialize creates the required database schema and tables.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.Migrate(ctx)
}

// Migrate runs database migrations. Change streams order rows by the id of
// the transaction that wrote them, which needs PostgreSQL 13 or later.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	statements := []struct {
		what string
		sql  string
	}{
		{"schema", fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema)},
		{"events table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.events (
				aggregate_id    VARCHAR(500) NOT NULL,
				sequence        BIGINT NOT NULL,
				event_id        UUID NOT NULL,
				aggregate_type  VARCHAR(250) NOT NULL,
				event_type      VARCHAR(500) NOT NULL,
				data            BYTEA NOT NULL,
				metadata        JSONB,
				timestamp       TIMESTAMPTZ NOT NULL,
				global_position BIGSERIAL NOT NULL,
				tx_id           XID8 NOT NULL DEFAULT pg_current_xact_id(),
				PRIMARY KEY (aggregate_id, sequence)
			)`, a.schema)},
		{"sequences table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.sequences (
				aggregate_id    VARCHAR(500) PRIMARY KEY,
				latest_event_id BIGINT NOT NULL,
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema)},
		{"snapshots table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.snapshots (
				aggregate_id   VARCHAR(500) PRIMARY KEY,
				aggregate_type VARCHAR(250) NOT NULL,
				version        BIGINT NOT NULL,
				payload        BYTEA NOT NULL,
				updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema)},
		{"checkpoints table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.checkpoints (
				consumer   VARCHAR(500) PRIMARY KEY,
				tx_id      XID8 NOT NULL,
				position   BIGINT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, a.schema)},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_commit_order ON %s.events(tx_id, global_position)`, a.schema)},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, a.schema)},
		{"index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_snapshots_type ON %s.snapshots(aggregate_type, aggregate_id)`, a.schema)},
		{"notify function", fmt.Sprintf(`
			CREATE OR REPLACE FUNCTION %s.notify_event() RETURNS trigger AS $$
			BEGIN
				PERFORM pg_notify('%s', NEW.aggregate_id);
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql`, a.schema, a.channel())},
		{"notify trigger", fmt.Sprintf(`DROP TRIGGER IF EXISTS events_notify ON %s.events`, a.schema)},
		{"notify trigger", fmt.Sprintf(`
			CREATE TRIGGER events_notify AFTER INSERT ON %s.events
			FOR EACH ROW EXECUTE FUNCTION %s.notify_event()`, a.schema, a.schema)},
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("ordermesh/postgres: failed to create %s: %w", stmt.what, err)
		}
	}
	return nil
}

// MigrationVersion returns the current migration version.
func (a *PostgresAdapter) MigrationVersion(ctx context.Context) (int, error) {
	var exists bool
	err := a.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = 'snapshots'
		)`, a.schema).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists {
		return 1, nil
	}
	return 0, nil
}

// Execute applies all writes in one transaction. The first write whose guard
// does not hold rolls the transaction back and is reported as a
// *adapters.ConditionFailedError.
func (a *PostgresAdapter) Execute(ctx context.Context, writes []adapters.Write) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	if err := adapters.ValidateWrites(writes); err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ordermesh/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, w := range writes {
		res, err := a.apply(ctx, tx, w)
		if err != nil {
			return fmt.Errorf("ordermesh/postgres: failed to %s: %w", w.Operation(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("ordermesh/postgres: failed to read affected rows: %w", err)
		}
		if n == 0 {
			return adapters.NewConditionFailedError(i, w)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ordermesh/postgres: failed to commit transaction: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) apply(ctx context.Context, tx *sql.Tx, w adapters.Write) (sql.Result, error) {
	switch w := w.(type) {
	case adapters.PutEvent:
		e := w.Event
		metadata, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		ts := e.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		return tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.events (aggregate_id, sequence, event_id, aggregate_type, event_type, data, metadata, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (aggregate_id, sequence) DO NOTHING`, a.schema),
			e.AggregateID, int64(e.Sequence), e.ID, e.AggregateType, e.Type, e.Data, metadata, ts)

	case adapters.PutSequence:
		return tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.sequences (aggregate_id, latest_event_id)
			VALUES ($1, $2)
			ON CONFLICT (aggregate_id) DO NOTHING`, a.schema),
			w.Sequence.AggregateID, int64(w.Sequence.LatestEventID))

	case adapters.PutSnapshot:
		s := w.Snapshot
		return tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.snapshots (aggregate_id, aggregate_type, version, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (aggregate_id) DO NOTHING`, a.schema),
			s.AggregateID, s.AggregateType, int64(s.Version), s.Payload)

	case adapters.AdvanceSequence:
		return tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s.sequences
			SET latest_event_id = $1, updated_at = NOW()
			WHERE aggregate_id = $2 AND latest_event_id = $3`, a.schema),
			int64(w.Next), w.ID, int64(w.Expected))

	case adapters.UpdateSnapshot:
		s := w.Snapshot
		return tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s.snapshots
			SET aggregate_type = $1, version = $2, payload = $3, updated_at = NOW()
			WHERE aggregate_id = $4 AND version = $5`, a.schema),
			s.AggregateType, int64(s.Version), s.Payload, s.AggregateID, int64(w.ExpectedVersion))

	default:
		return nil, fmt.Errorf("unsupported write %T", w)
	}
}

// GetSnapshot returns the snapshot record, or nil if none exists.
func (a *PostgresAdapter) GetSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	var rec adapters.SnapshotRecord
	var version int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT aggregate_id, aggregate_type, version, payload
		FROM %s.snapshots
		WHERE aggregate_id = $1`, a.schema), aggregateID).Scan(
		&rec.AggregateID,
		&rec.AggregateType,
		&version,
		&rec.Payload,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: failed to load snapshot: %w", err)
	}

	rec.Version = uint64(version)
	return &rec, nil
}

// ListSnapshots returns the snapshots of aggregateType ordered by id.
func (a *PostgresAdapter) ListSnapshots(ctx context.Context, aggregateType string) ([]adapters.SnapshotRecord, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT aggregate_id, aggregate_type, version, payload
		FROM %s.snapshots
		WHERE aggregate_type = $1
		ORDER BY aggregate_id`, a.schema), aggregateType)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]adapters.SnapshotRecord, 0)
	for rows.Next() {
		var rec adapters.SnapshotRecord
		var version int64
		if err := rows.Scan(&rec.AggregateID, &rec.AggregateType, &version, &rec.Payload); err != nil {
			return nil, fmt.Errorf("ordermesh/postgres: failed to scan snapshot: %w", err)
		}
		rec.Version = uint64(version)
		snapshots = append(snapshots, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// GetSequence returns the sequence record, or nil if none exists.
func (a *PostgresAdapter) GetSequence(ctx context.Context, aggregateID string) (*adapters.SequenceRecord, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	var latest int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT latest_event_id FROM %s.sequences
		WHERE aggregate_id = $1`, a.schema), aggregateID).Scan(&latest)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: failed to load sequence: %w", err)
	}

	return &adapters.SequenceRecord{AggregateID: aggregateID, LatestEventID: uint64(latest)}, nil
}

// LoadEvents returns every event of an aggregate ordered by sequence.
func (a *PostgresAdapter) LoadEvents(ctx context.Context, aggregateID string) ([]adapters.EventRecord, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT event_id, aggregate_id, aggregate_type, sequence, event_type, data, metadata, timestamp
		FROM %s.events
		WHERE aggregate_id = $1
		ORDER BY sequence`, a.schema), aggregateID)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: failed to load events: %w", err)
	}
	defer rows.Close()

	events := make([]adapters.EventRecord, 0)
	for rows.Next() {
		rec, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: error iterating events: %w", err)
	}

	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEvent reads the columns event_id, aggregate_id, aggregate_type,
// sequence, event_type, data, metadata and timestamp, followed by extra.
func scanEvent(row scanner, extra ...any) (adapters.EventRecord, error) {
	var rec adapters.EventRecord
	var sequence int64
	var metadataJSON []byte

	dest := append([]any{
		&rec.ID,
		&rec.AggregateID,
		&rec.AggregateType,
		&sequence,
		&rec.Type,
		&rec.Data,
		&metadataJSON,
		&rec.Timestamp,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		return adapters.EventRecord{}, fmt.Errorf("ordermesh/postgres: failed to scan event: %w", err)
	}

	rec.Sequence = uint64(sequence)
	rec.Timestamp = rec.Timestamp.UTC()
	if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return adapters.EventRecord{}, fmt.Errorf("ordermesh/postgres: failed to unmarshal metadata: %w", err)
		}
	}
	return rec, nil
}

// Close releases the database connection.
func (a *PostgresAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}

// channel is the NOTIFY channel raised on every event insert.
func (a *PostgresAdapter) channel() string {
	return a.schema + "_events"
}
