package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Position is a change stream cursor: the writing transaction id and the
// row's global position. Rows are delivered in (TxID, GlobalPosition) order
// and only once every older transaction has finished, so a transaction that
// commits late can never be skipped.
type Position struct {
	TxID           uint64
	GlobalPosition int64
}

// Listener reconnect bounds.
const (
	listenerMinReconnect = 100 * time.Millisecond
	listenerMaxReconnect = 10 * time.Second
)

var _ adapters.ChangeStream = (*ChangeStream)(nil)

// ChangeStream polls the events table in commit order. When the adapter
// knows its connection string, a LISTEN on the insert trigger's channel
// wakes Next as soon as a row is written; polling remains the fallback.
type ChangeStream struct {
	adapter  *PostgresAdapter
	consumer string
	opts     adapters.StreamOptions
	listener *pq.Listener

	closeOnce sync.Once
	done      chan struct{}
}

// ChangeStream opens a change stream for consumer. The consumer's checkpoint
// is stored in the checkpoints table.
func (a *PostgresAdapter) ChangeStream(ctx context.Context, consumer string, opts ...adapters.StreamOptions) (adapters.ChangeStream, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}
	if consumer == "" {
		return nil, fmt.Errorf("ordermesh/postgres: consumer name is required")
	}

	s := &ChangeStream{
		adapter:  a,
		consumer: consumer,
		opts:     adapters.ApplyStreamOptions(opts...),
		done:     make(chan struct{}),
	}

	if a.connStr != "" {
		l := pq.NewListener(a.connStr, listenerMinReconnect, listenerMaxReconnect, nil)
		if err := l.Listen(a.channel()); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("ordermesh/postgres: failed to listen on %s: %w", a.channel(), err)
		}
		s.listener = l
	}

	return s, nil
}

// Next returns the records after the consumer's checkpoint, blocking until
// at least one is visible.
func (s *ChangeStream) Next(ctx context.Context) (*adapters.Batch, error) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var notify <-chan *pq.Notification
	if s.listener != nil {
		notify = s.listener.Notify
	}

	for {
		select {
		case <-s.done:
			return nil, adapters.ErrStreamClosed
		default:
		}

		batch, err := s.poll(ctx)
		if err != nil {
			return nil, err
		}
		if batch != nil {
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, adapters.ErrStreamClosed
		case <-notify:
		case <-ticker.C:
		}
	}
}

func (s *ChangeStream) poll(ctx context.Context) (*adapters.Batch, error) {
	a := s.adapter
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	from, err := a.Checkpoint(ctx, s.consumer)
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT event_id, aggregate_id, aggregate_type, sequence, event_type, data, metadata, timestamp,
		       tx_id::text, global_position
		FROM %s.events
		WHERE (tx_id, global_position) > ($1::text::xid8, $2)
		  AND tx_id < pg_snapshot_xmin(pg_current_snapshot())
		ORDER BY tx_id, global_position
		LIMIT $3`, a.schema),
		strconv.FormatUint(from.TxID, 10), from.GlobalPosition, s.opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: failed to poll events: %w", err)
	}
	defer rows.Close()

	var records []adapters.EventRecord
	last := from
	for rows.Next() {
		var txID string
		var pos int64
		rec, err := scanEvent(rows, &txID, &pos)
		if err != nil {
			return nil, err
		}
		last.TxID, err = strconv.ParseUint(txID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ordermesh/postgres: invalid transaction id %q: %w", txID, err)
		}
		last.GlobalPosition = pos
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ordermesh/postgres: error iterating events: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}
	return &adapters.Batch{Records: records, Cursor: last}, nil
}

// Ack stores the batch cursor as the consumer's checkpoint. Checkpoints
// never move backwards.
func (s *ChangeStream) Ack(ctx context.Context, batch *adapters.Batch) error {
	pos, ok := batch.Cursor.(Position)
	if !ok {
		return fmt.Errorf("ordermesh/postgres: unexpected cursor %T", batch.Cursor)
	}
	return s.adapter.SetCheckpoint(ctx, s.consumer, pos)
}

// Nack leaves the checkpoint unchanged so the batch is delivered again.
func (s *ChangeStream) Nack(ctx context.Context, batch *adapters.Batch) error {
	return nil
}

// Close stops the stream and its listener.
func (s *ChangeStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.listener != nil {
			err = s.listener.Close()
		}
	})
	return err
}

// Checkpoint returns the last acknowledged position of consumer.
func (a *PostgresAdapter) Checkpoint(ctx context.Context, consumer string) (Position, error) {
	if a.closed.Load() {
		return Position{}, ErrAdapterClosed
	}

	var txID string
	var pos Position
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT tx_id::text, position FROM %s.checkpoints
		WHERE consumer = $1`, a.schema), consumer).Scan(&txID, &pos.GlobalPosition)

	if err == sql.ErrNoRows {
		return Position{}, nil
	}
	if err != nil {
		return Position{}, fmt.Errorf("ordermesh/postgres: failed to get checkpoint: %w", err)
	}

	pos.TxID, err = strconv.ParseUint(txID, 10, 64)
	if err != nil {
		return Position{}, fmt.Errorf("ordermesh/postgres: invalid checkpoint %q: %w", txID, err)
	}
	return pos, nil
}

// SetCheckpoint stores the position of consumer unless a later one is
// already stored.
func (a *PostgresAdapter) SetCheckpoint(ctx context.Context, consumer string, pos Position) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.checkpoints (consumer, tx_id, position)
		VALUES ($1, $2::text::xid8, $3)
		ON CONFLICT (consumer) DO UPDATE SET
			tx_id = EXCLUDED.tx_id,
			position = EXCLUDED.position,
			updated_at = NOW()
		WHERE (%s.checkpoints.tx_id, %s.checkpoints.position) < (EXCLUDED.tx_id, EXCLUDED.position)`,
		a.schema, a.schema, a.schema),
		consumer, strconv.FormatUint(pos.TxID, 10), pos.GlobalPosition)
	if err != nil {
		return fmt.Errorf("ordermesh/postgres: failed to set checkpoint: %w", err)
	}
	return nil
}
