// Package mongodb provides a MongoDB implementation of the transactional store.
//
// Execute runs every write inside session.WithTransaction. Row-creating writes
// are inserts keyed by _id, so an existing row surfaces as a duplicate key
// error; updates filter on the expected version and report a failed guard when
// nothing matched. Transactions and change streams need a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// DefaultDatabase is the database used when WithDatabase is not given.
const DefaultDatabase = "ordermesh"

// Collection names.
const (
	EventsCollection      = "events"
	SequencesCollection   = "sequences"
	SnapshotsCollection   = "snapshots"
	CheckpointsCollection = "checkpoints"
)

var (
	_ adapters.TransactionalStore   = (*Adapter)(nil)
	_ adapters.ChangeStreamProvider = (*Adapter)(nil)
	_ adapters.HealthChecker        = (*Adapter)(nil)
)

// eventDocument is an event row. Its _id combines the aggregate id and the
// zero padded sequence, so a second insert of the same position collides.
type eventDocument struct {
	ID                   string `bson:"_id"`
	adapters.EventRecord `bson:",inline"`
}

func eventDocumentID(aggregateID string, sequence uint64) string {
	return fmt.Sprintf("%s:%020d", aggregateID, sequence)
}

type sequenceDocument struct {
	AggregateID   string    `bson:"_id"`
	LatestEventID uint64    `bson:"latest_event_id"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

type snapshotDocument struct {
	AggregateID   string    `bson:"_id"`
	AggregateType string    `bson:"aggregate_type"`
	Version       uint64    `bson:"version"`
	Payload       []byte    `bson:"payload"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// Adapter is a MongoDB implementation of TransactionalStore.
type Adapter struct {
	client   *mongo.Client
	database *mongo.Database
	owned    bool
}

// Option configures an Adapter.
type Option func(*adapterConfig)

type adapterConfig struct {
	database string
}

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(c *adapterConfig) {
		c.database = name
	}
}

// Connect creates a client for uri and an adapter that disconnects it on Close.
func Connect(uri string, opts ...Option) (*Adapter, error) {
	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	clientOpts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mongodb: error connecting to mongodb: %w", err)
	}

	a := NewAdapter(client, opts...)
	a.owned = true
	return a, nil
}

// NewAdapter creates an adapter over an existing client.
func NewAdapter(client *mongo.Client, opts ...Option) *Adapter {
	cfg := adapterConfig{database: DefaultDatabase}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Adapter{
		client:   client,
		database: client.Database(cfg.database),
	}
}

// Initialize creates the collections and the event position index.
// Collections are created up front because older servers cannot create them
// inside a transaction.
func (a *Adapter) Initialize(ctx context.Context) error {
	existing, err := a.database.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("ordermesh/mongodb: failed to list collections: %w", err)
	}

	for _, name := range []string{EventsCollection, SequencesCollection, SnapshotsCollection, CheckpointsCollection} {
		if slices.Contains(existing, name) {
			continue
		}
		if err := a.database.CreateCollection(ctx, name); err != nil {
			return fmt.Errorf("ordermesh/mongodb: failed to create collection %s: %w", name, err)
		}
	}

	_, err = a.events().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "aggregate_id", Value: 1}, {Key: "sequence", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("ordermesh/mongodb: failed to create index: %w", err)
	}

	_, err = a.snapshots().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "aggregate_type", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("ordermesh/mongodb: failed to create index: %w", err)
	}
	return nil
}

// Execute applies all writes in one multi-document transaction.
func (a *Adapter) Execute(ctx context.Context, writes []adapters.Write) error {
	if err := adapters.ValidateWrites(writes); err != nil {
		return err
	}

	session, err := a.client.StartSession()
	if err != nil {
		return fmt.Errorf("ordermesh/mongodb: failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		for i, w := range writes {
			ok, err := a.apply(ctx, w)
			if err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return nil, adapters.NewConditionFailedError(i, w)
				}
				// Returned unwrapped so WithTransaction can see transient labels.
				return nil, err
			}
			if !ok {
				return nil, adapters.NewConditionFailedError(i, w)
			}
		}
		return nil, nil
	})

	var cf *adapters.ConditionFailedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &cf):
		return cf
	default:
		return fmt.Errorf("ordermesh/mongodb: transaction failed: %w", err)
	}
}

// apply runs one write and reports whether its guard held.
func (a *Adapter) apply(ctx context.Context, w adapters.Write) (bool, error) {
	now := time.Now().UTC()

	switch w := w.(type) {
	case adapters.PutEvent:
		rec := w.Event
		if rec.Timestamp.IsZero() {
			rec.Timestamp = now
		}
		_, err := a.events().InsertOne(ctx, eventDocument{
			ID:          eventDocumentID(rec.AggregateID, rec.Sequence),
			EventRecord: rec,
		})
		return err == nil, err

	case adapters.PutSequence:
		_, err := a.sequences().InsertOne(ctx, sequenceDocument{
			AggregateID:   w.Sequence.AggregateID,
			LatestEventID: w.Sequence.LatestEventID,
			UpdatedAt:     now,
		})
		return err == nil, err

	case adapters.PutSnapshot:
		_, err := a.snapshots().InsertOne(ctx, snapshotDocument{
			AggregateID:   w.Snapshot.AggregateID,
			AggregateType: w.Snapshot.AggregateType,
			Version:       w.Snapshot.Version,
			Payload:       w.Snapshot.Payload,
			UpdatedAt:     now,
		})
		return err == nil, err

	case adapters.AdvanceSequence:
		res, err := a.sequences().UpdateOne(ctx,
			bson.M{"_id": w.ID, "latest_event_id": w.Expected},
			bson.M{"$set": bson.M{"latest_event_id": w.Next, "updated_at": now}},
		)
		if err != nil {
			return false, err
		}
		return res.MatchedCount > 0, nil

	case adapters.UpdateSnapshot:
		s := w.Snapshot
		res, err := a.snapshots().UpdateOne(ctx,
			bson.M{"_id": s.AggregateID, "version": w.ExpectedVersion},
			bson.M{"$set": bson.M{
				"aggregate_type": s.AggregateType,
				"version":        s.Version,
				"payload":        s.Payload,
				"updated_at":     now,
			}},
		)
		if err != nil {
			return false, err
		}
		return res.MatchedCount > 0, nil

	default:
		return false, fmt.Errorf("ordermesh/mongodb: unsupported write %T", w)
	}
}

// GetSnapshot returns the snapshot record, or nil if none exists.
func (a *Adapter) GetSnapshot(ctx context.Context, aggregateID string) (*adapters.SnapshotRecord, error) {
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	var doc snapshotDocument
	err := a.snapshots().FindOne(ctx, bson.M{"_id": aggregateID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mongodb: failed to load snapshot: %w", err)
	}

	return &adapters.SnapshotRecord{
		AggregateID:   doc.AggregateID,
		AggregateType: doc.AggregateType,
		Version:       doc.Version,
		Payload:       doc.Payload,
	}, nil
}

// ListSnapshots returns the snapshots of aggregateType ordered by id.
func (a *Adapter) ListSnapshots(ctx context.Context, aggregateType string) ([]adapters.SnapshotRecord, error) {
	cursor, err := a.snapshots().Find(ctx,
		bson.M{"aggregate_type": aggregateType},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mongodb: failed to find snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	snapshots := make([]adapters.SnapshotRecord, 0)
	for cursor.Next(ctx) {
		var doc snapshotDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("ordermesh/mongodb: failed to decode snapshot: %w", err)
		}
		snapshots = append(snapshots, adapters.SnapshotRecord{
			AggregateID:   doc.AggregateID,
			AggregateType: doc.AggregateType,
			Version:       doc.Version,
			Payload:       doc.Payload,
		})
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("ordermesh/mongodb: error iterating snapshots: %w", err)
	}
	return snapshots, nil
}

// GetSequence returns the sequence record, or nil if none exists.
func (a *Adapter) GetSequence(ctx context.Context, aggregateID string) (*adapters.SequenceRecord, error) {
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	var doc sequenceDocument
	err := a.sequences().FindOne(ctx, bson.M{"_id": aggregateID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mongodb: failed to load sequence: %w", err)
	}

	return &adapters.SequenceRecord{AggregateID: doc.AggregateID, LatestEventID: doc.LatestEventID}, nil
}

// LoadEvents returns every event of an aggregate ordered by sequence.
func (a *Adapter) LoadEvents(ctx context.Context, aggregateID string) ([]adapters.EventRecord, error) {
	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	cursor, err := a.events().Find(ctx,
		bson.M{"aggregate_id": aggregateID},
		options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("ordermesh/mongodb: failed to find events: %w", err)
	}
	defer cursor.Close(ctx)

	events := make([]adapters.EventRecord, 0)
	for cursor.Next(ctx) {
		var doc eventDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("ordermesh/mongodb: failed to decode event: %w", err)
		}
		events = append(events, normalize(doc.EventRecord))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("ordermesh/mongodb: error iterating events: %w", err)
	}
	return events, nil
}

// normalize restores the UTC location BSON dates lose.
func normalize(rec adapters.EventRecord) adapters.EventRecord {
	rec.Timestamp = rec.Timestamp.UTC()
	return rec
}

// Ping checks connectivity to the primary.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, nil)
}

// Close disconnects the client if Connect created it.
func (a *Adapter) Close() error {
	if !a.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}

// Database returns the database handle.
func (a *Adapter) Database() *mongo.Database {
	return a.database
}

func (a *Adapter) events() *mongo.Collection    { return a.database.Collection(EventsCollection) }
func (a *Adapter) sequences() *mongo.Collection { return a.database.Collection(SequencesCollection) }
func (a *Adapter) snapshots() *mongo.Collection { return a.database.Collection(SnapshotsCollection) }
func (a *Adapter) checkpoints() *mongo.Collection {
	return a.database.Collection(CheckpointsCollection)
}
