// Package kafka binds the event relay to Kafka using
// github.com/segmentio/kafka-go.
//
// Publisher writes each record to one topic keyed by aggregate id, so the
// records of an aggregate stay ordered within a partition. Source reads the
// topic through a consumer group and presents it as a change stream; offsets
// are committed only when the router acknowledges a batch.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/stream"
)

// DefaultTopic is the topic used when none is configured.
const DefaultTopic = "ordermesh.events"

var (
	_ stream.Publisher      = (*Publisher)(nil)
	_ adapters.ChangeStream = (*Source)(nil)
)

// Publisher publishes event records to a Kafka topic.
type Publisher struct {
	brokers      []string
	topic        string
	balancer     kafkago.Balancer
	batchTimeout time.Duration
	transport    kafkago.RoundTripper

	once   sync.Once
	writer *kafkago.Writer
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithTopic sets the destination topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		if topic != "" {
			p.topic = topic
		}
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// WithTransport sets the round tripper used by the writer.
func WithTransport(t kafkago.RoundTripper) Option {
	return func(p *Publisher) {
		p.transport = t
	}
}

// New creates a Publisher. The balancer defaults to hashing the key.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		brokers:      []string{"localhost:9092"},
		topic:        DefaultTopic,
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish writes records synchronously; it returns once the brokers
// acknowledged every message.
func (p *Publisher) Publish(ctx context.Context, records []adapters.EventRecord) error {
	msgs := make([]kafkago.Message, 0, len(records))
	for _, rec := range records {
		msg, err := toMessage(rec)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.getWriter().WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("ordermesh/kafka: failed to write to topic %s: %w", p.topic, err)
	}
	return nil
}

// Close closes the writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func (p *Publisher) getWriter() *kafkago.Writer {
	p.once.Do(func() {
		p.writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(p.brokers...),
			Topic:                  p.topic,
			Balancer:               p.balancer,
			BatchTimeout:           p.batchTimeout,
			Transport:              p.transport,
			RequiredAcks:           kafkago.RequireAll,
			AllowAutoTopicCreation: true,
		}
	})
	return p.writer
}

func toMessage(rec adapters.EventRecord) (kafkago.Message, error) {
	value, err := stream.Encode(rec)
	if err != nil {
		return kafkago.Message{}, err
	}

	msg := kafkago.Message{
		Key:   []byte(rec.AggregateID),
		Value: value,
		Time:  rec.Timestamp,
	}
	for k, v := range stream.Headers(rec) {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}

// Source consumes a topic as a change stream. A released batch is returned
// again by the next call to Next; uncommitted offsets are redelivered by
// the group after a restart.
type Source struct {
	reader *kafkago.Reader
	opts   adapters.StreamOptions

	mu      sync.Mutex
	pending *adapters.Batch
}

// NewSource creates a Source reading topic as member of group.
func NewSource(brokers []string, topic, group string, opts ...adapters.StreamOptions) *Source {
	o := adapters.ApplyStreamOptions(opts...)
	return &Source{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     brokers,
			Topic:       topic,
			GroupID:     group,
			StartOffset: kafkago.FirstOffset,
			MaxWait:     o.PollInterval,
		}),
		opts: o,
	}
}

// Next blocks for the first message, then gathers what is already fetched
// up to the batch size.
func (s *Source) Next(ctx context.Context) (*adapters.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return s.pending, nil
	}

	first, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, s.fetchError(err)
	}
	msgs := []kafkago.Message{first}

	for len(msgs) < s.opts.BatchSize {
		wctx, cancel := context.WithTimeout(ctx, s.opts.PollInterval)
		msg, err := s.reader.FetchMessage(wctx)
		cancel()
		if err != nil {
			break
		}
		msgs = append(msgs, msg)
	}

	records := make([]adapters.EventRecord, 0, len(msgs))
	for _, msg := range msgs {
		rec, err := stream.Decode(msg.Value)
		if err != nil {
			return nil, fmt.Errorf("ordermesh/kafka: partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}
		records = append(records, rec)
	}

	s.pending = &adapters.Batch{Records: records, Cursor: msgs}
	return s.pending, nil
}

func (s *Source) fetchError(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return adapters.ErrStreamClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("ordermesh/kafka: fetch failed: %w", err)
	}
}

// Ack commits the offsets of the batch.
func (s *Source) Ack(ctx context.Context, batch *adapters.Batch) error {
	msgs, ok := batch.Cursor.([]kafkago.Message)
	if !ok {
		return fmt.Errorf("ordermesh/kafka: unexpected cursor %T", batch.Cursor)
	}
	if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("ordermesh/kafka: commit failed: %w", err)
	}

	s.mu.Lock()
	if s.pending == batch {
		s.pending = nil
	}
	s.mu.Unlock()
	return nil
}

// Nack keeps the batch pending so Next returns it again.
func (s *Source) Nack(ctx context.Context, batch *adapters.Batch) error {
	return nil
}

// Close closes the reader and leaves the group.
func (s *Source) Close() error {
	return s.reader.Close()
}
