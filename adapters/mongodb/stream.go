package mongodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

var _ adapters.ChangeStream = (*ChangeStream)(nil)

type changeEvent struct {
	FullDocument eventDocument `bson:"fullDocument"`
}

type checkpointDocument struct {
	Consumer  string    `bson:"_id"`
	Token     bson.Raw  `bson:"token"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// ChangeStream watches inserts into the events collection. Each consumer's
// resume token is stored in the checkpoints collection. A batch that is
// neither acknowledged nor released before the next call to Next is
// treated as released: the stream is reopened after the last checkpoint.
type ChangeStream struct {
	adapter  *Adapter
	consumer string
	opts     adapters.StreamOptions

	mu      sync.Mutex
	watch   *mongo.ChangeStream
	origin  bson.Raw
	pending bool

	closeOnce sync.Once
	done      chan struct{}
}

// ChangeStream opens a change stream for consumer. Without a stored
// checkpoint delivery starts at the time the stream is opened.
func (a *Adapter) ChangeStream(ctx context.Context, consumer string, opts ...adapters.StreamOptions) (adapters.ChangeStream, error) {
	if consumer == "" {
		return nil, fmt.Errorf("ordermesh/mongodb: consumer name is required")
	}

	s := &ChangeStream{
		adapter:  a,
		consumer: consumer,
		opts:     adapters.ApplyStreamOptions(opts...),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// open starts watching after the checkpoint, or after the origin token when
// the consumer has none.
func (s *ChangeStream) open(ctx context.Context) error {
	token, err := s.adapter.Checkpoint(ctx, s.consumer)
	if err != nil {
		return err
	}
	if token == nil {
		token = s.origin
	}

	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}}}
	copts := options.ChangeStream()
	if token != nil {
		copts.SetStartAfter(token)
	}

	watch, err := s.adapter.events().Watch(ctx, pipeline, copts)
	if err != nil {
		return fmt.Errorf("ordermesh/mongodb: failed to watch events: %w", err)
	}
	if s.origin == nil && token == nil {
		s.origin = slices.Clone(watch.ResumeToken())
	}
	s.watch = watch
	return nil
}

func (s *ChangeStream) reset(ctx context.Context) {
	if s.watch != nil {
		_ = s.watch.Close(ctx)
		s.watch = nil
	}
	s.pending = false
}

// Next blocks until at least one inserted event is available and returns
// up to BatchSize of them.
func (s *ChangeStream) Next(ctx context.Context) (*adapters.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return nil, adapters.ErrStreamClosed
	default:
	}

	if s.pending {
		s.reset(ctx)
	}
	if s.watch == nil {
		if err := s.open(ctx); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var records []adapters.EventRecord
	for len(records) < s.opts.BatchSize {
		if len(records) > 0 && s.watch.RemainingBatchLength() == 0 {
			break
		}
		if !s.watch.Next(ctx) {
			err := s.watch.Err()
			s.reset(context.Background())
			select {
			case <-s.done:
				return nil, adapters.ErrStreamClosed
			default:
			}
			if err == nil {
				err = ctx.Err()
			}
			return nil, fmt.Errorf("ordermesh/mongodb: change stream failed: %w", err)
		}

		var ev changeEvent
		if err := s.watch.Decode(&ev); err != nil {
			s.reset(context.Background())
			return nil, fmt.Errorf("ordermesh/mongodb: failed to decode change: %w", err)
		}
		records = append(records, normalize(ev.FullDocument.EventRecord))
	}

	s.pending = true
	return &adapters.Batch{Records: records, Cursor: slices.Clone(s.watch.ResumeToken())}, nil
}

// Ack stores the batch's resume token as the consumer's checkpoint.
func (s *ChangeStream) Ack(ctx context.Context, batch *adapters.Batch) error {
	token, ok := batch.Cursor.(bson.Raw)
	if !ok {
		return fmt.Errorf("ordermesh/mongodb: unexpected cursor %T", batch.Cursor)
	}
	if err := s.adapter.SetCheckpoint(ctx, s.consumer, token); err != nil {
		return err
	}

	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
	return nil
}

// Nack reopens the stream after the last checkpoint so the batch is
// delivered again.
func (s *ChangeStream) Nack(ctx context.Context, batch *adapters.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(ctx)
	return nil
}

// Close stops the stream.
func (s *ChangeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(context.Background())
	return nil
}

// Checkpoint returns the stored resume token of consumer, or nil.
func (a *Adapter) Checkpoint(ctx context.Context, consumer string) (bson.Raw, error) {
	var doc checkpointDocument
	err := a.checkpoints().FindOne(ctx, bson.M{"_id": consumer}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mongodb: failed to load checkpoint: %w", err)
	}
	return doc.Token, nil
}

// SetCheckpoint stores token as the resume point of consumer.
func (a *Adapter) SetCheckpoint(ctx context.Context, consumer string, token bson.Raw) error {
	_, err := a.checkpoints().UpdateOne(ctx,
		bson.M{"_id": consumer},
		bson.M{"$set": bson.M{"token": token, "updated_at": time.Now().UTC()}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("ordermesh/mongodb: failed to store checkpoint: %w", err)
	}
	return nil
}
