// Package redis binds the event relay to Redis Streams using
// github.com/redis/go-redis/v9.
//
// Publisher appends records with XADD. Source reads them through a consumer
// group; entries stay in the consumer's pending list until the batch is
// acknowledged with XACK, and Next re-reads that list before asking for new
// entries, so a released batch is delivered again.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/stream"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "ordermesh:events"

// recordField holds the encoded record in each entry.
const recordField = "record"

var (
	_ stream.Publisher      = (*Publisher)(nil)
	_ adapters.ChangeStream = (*Source)(nil)
)

// Publisher appends event records to a Redis stream.
type Publisher struct {
	client goredis.UniversalClient
	stream string
	maxLen int64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithStream sets the stream key.
func WithStream(key string) Option {
	return func(p *Publisher) {
		if key != "" {
			p.stream = key
		}
	}
}

// WithMaxLen caps the stream length approximately. Zero keeps everything.
func WithMaxLen(n int64) Option {
	return func(p *Publisher) {
		p.maxLen = n
	}
}

// New creates a Publisher on client.
func New(client goredis.UniversalClient, opts ...Option) *Publisher {
	p := &Publisher{client: client, stream: DefaultStream}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream returns the stream key.
func (p *Publisher) Stream() string {
	return p.stream
}

// Publish appends all records in one MULTI/EXEC block.
func (p *Publisher) Publish(ctx context.Context, records []adapters.EventRecord) error {
	values := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		v, err := toValues(rec)
		if err != nil {
			return err
		}
		values = append(values, v)
	}

	_, err := p.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, v := range values {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: p.stream,
				MaxLen: p.maxLen,
				Approx: p.maxLen > 0,
				Values: v,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ordermesh/redis: failed to append to %s: %w", p.stream, err)
	}
	return nil
}

// Close is a no-op; the client belongs to the caller.
func (p *Publisher) Close() error {
	return nil
}

func toValues(rec adapters.EventRecord) (map[string]any, error) {
	b, err := stream.Encode(rec)
	if err != nil {
		return nil, err
	}
	values := map[string]any{recordField: b}
	for k, v := range stream.Headers(rec) {
		if k == recordField {
			continue
		}
		values[k] = v
	}
	return values, nil
}

// Source consumes a Redis stream as a change stream.
type Source struct {
	client   goredis.UniversalClient
	stream   string
	group    string
	consumer string
	opts     adapters.StreamOptions

	groupOnce sync.Once
	groupErr  error
	closeOnce sync.Once
	done      chan struct{}
}

// NewSource creates a Source reading key as consumer within group. The
// group is created at the start of the stream on first use.
func NewSource(client goredis.UniversalClient, key, group, consumer string, opts ...adapters.StreamOptions) *Source {
	if key == "" {
		key = DefaultStream
	}
	return &Source{
		client:   client,
		stream:   key,
		group:    group,
		consumer: consumer,
		opts:     adapters.ApplyStreamOptions(opts...),
		done:     make(chan struct{}),
	}
}

func (s *Source) ensureGroup(ctx context.Context) error {
	s.groupOnce.Do(func() {
		err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			s.groupErr = fmt.Errorf("ordermesh/redis: failed to create group %s: %w", s.group, err)
		}
	})
	return s.groupErr
}

// Next returns the consumer's pending entries if it has any, otherwise
// blocks for new ones.
func (s *Source) Next(ctx context.Context) (*adapters.Batch, error) {
	select {
	case <-s.done:
		return nil, adapters.ErrStreamClosed
	default:
	}
	if err := s.ensureGroup(ctx); err != nil {
		return nil, err
	}

	batch, err := s.read(ctx, "0", -1)
	if err != nil || batch != nil {
		return batch, err
	}

	for {
		select {
		case <-s.done:
			return nil, adapters.ErrStreamClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		batch, err := s.read(ctx, ">", s.opts.PollInterval)
		if err != nil || batch != nil {
			return batch, err
		}
	}
}

// read issues one XREADGROUP from id. A negative block does not block.
func (s *Source) read(ctx context.Context, id string, block time.Duration) (*adapters.Batch, error) {
	res, err := s.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, id},
		Count:    int64(s.opts.BatchSize),
		Block:    block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		select {
		case <-s.done:
			return nil, adapters.ErrStreamClosed
		default:
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ordermesh/redis: read failed: %w", err)
	}

	var records []adapters.EventRecord
	var ids []string
	for _, str := range res {
		for _, msg := range str.Messages {
			raw, ok := msg.Values[recordField].(string)
			if !ok {
				return nil, fmt.Errorf("ordermesh/redis: entry %s has no %s field", msg.ID, recordField)
			}
			rec, err := stream.Decode([]byte(raw))
			if err != nil {
				return nil, fmt.Errorf("ordermesh/redis: entry %s: %w", msg.ID, err)
			}
			records = append(records, rec)
			ids = append(ids, msg.ID)
		}
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &adapters.Batch{Records: records, Cursor: ids}, nil
}

// Ack removes the batch entries from the pending list.
func (s *Source) Ack(ctx context.Context, batch *adapters.Batch) error {
	ids, ok := batch.Cursor.([]string)
	if !ok {
		return fmt.Errorf("ordermesh/redis: unexpected cursor %T", batch.Cursor)
	}
	if err := s.client.XAck(ctx, s.stream, s.group, ids...).Err(); err != nil {
		return fmt.Errorf("ordermesh/redis: ack failed: %w", err)
	}
	return nil
}

// Nack leaves the entries pending; Next reads them again.
func (s *Source) Nack(ctx context.Context, batch *adapters.Batch) error {
	return nil
}

// Close stops the source. The client belongs to the caller.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}
