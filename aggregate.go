package ordermesh

import (
	"errors"
	"math"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Aggregate defines the interface for event-sourced aggregates.
// Implementations embed AggregateBase, which owns identity and versioning.
type Aggregate interface {
	// AggregateID returns the unique identifier for this aggregate instance.
	AggregateID() string

	// AggregateType returns the type/category of this aggregate (e.g. "widget").
	AggregateType() string

	// Version returns the number of non-creation events folded into this instance.
	Version() uint64

	// Created reports whether the creation event has been applied.
	Created() bool

	// ApplyEvent folds one event into the domain state. It must be
	// deterministic, must not touch identity or version, and must leave the
	// state unchanged when it returns an error.
	ApplyEvent(payload EventPayload) error

	// MarshalState encodes the domain state for the snapshot record.
	MarshalState() ([]byte, error)

	// UnmarshalState restores the domain state from MarshalState output.
	UnmarshalState(data []byte) error

	base() *AggregateBase
}

// Root constrains a pointer type *T that implements Aggregate.
// Generic code uses it to allocate fresh aggregates.
type Root[T any] interface {
	*T
	Aggregate
}

// AggregateBase provides identity, version and lifecycle tracking.
// Embed this struct in your aggregate types.
type AggregateBase struct {
	id      string
	version uint64
	created bool

	// unflushed holds events written inline to the snapshot by this instance
	// that no read has yet confirmed in the event log.
	unflushed []adapters.EventRecord
}

// NewAggregateBase creates a new AggregateBase with the given ID.
func NewAggregateBase(id string) AggregateBase {
	return AggregateBase{id: id}
}

// AggregateID returns the aggregate's unique identifier.
func (a *AggregateBase) AggregateID() string {
	return a.id
}

// Version returns the current version of the aggregate.
func (a *AggregateBase) Version() uint64 {
	return a.version
}

// Created reports whether the aggregate has been created.
func (a *AggregateBase) Created() bool {
	return a.created
}

func (a *AggregateBase) base() *AggregateBase {
	return a
}

// CommandOutcome is the result of applying a command.
type CommandOutcome struct {
	// Events are the produced payloads in order.
	Events []EventPayload

	// Version is the aggregate version after the command.
	Version uint64
}

// Record checks lifecycle rules for payloads, then folds them into agg.
// Aggregates call it from ApplyCommand after domain validation passed.
// Any error leaves agg untouched: when a later payload fails to apply, the
// domain state is restored from a MarshalState copy taken beforehand.
func Record(agg Aggregate, payloads ...EventPayload) (CommandOutcome, error) {
	if len(payloads) == 0 {
		return CommandOutcome{}, ErrNoEvents
	}

	b := agg.base()
	created := b.created
	next := b.version
	for _, p := range payloads {
		if IsCreation(p) {
			if created {
				return CommandOutcome{}, NewValidationError(agg.AggregateType(), ErrAggregateAlreadyCreated)
			}
			created = true
			continue
		}
		if !created {
			return CommandOutcome{}, NewValidationError(agg.AggregateType(), ErrAggregateNotCreated)
		}
		if next == math.MaxUint64 {
			return CommandOutcome{}, NewValidationError(agg.AggregateType(), ErrVersionOverflow)
		}
		next++
	}

	var saved []byte
	if len(payloads) > 1 {
		var err error
		if saved, err = agg.MarshalState(); err != nil {
			return CommandOutcome{}, err
		}
	}
	for i, p := range payloads {
		if err := agg.ApplyEvent(p); err != nil {
			if i > 0 {
				if restoreErr := agg.UnmarshalState(saved); restoreErr != nil {
					return CommandOutcome{}, errors.Join(err, restoreErr)
				}
			}
			return CommandOutcome{}, err
		}
	}
	b.created = created
	b.version = next

	events := make([]EventPayload, len(payloads))
	copy(events, payloads)
	return CommandOutcome{Events: events, Version: next}, nil
}

// RequireCreated returns the lifecycle error for a non-creation command on agg.
func RequireCreated(agg Aggregate) error {
	if !agg.Created() {
		return NewValidationError(agg.AggregateType(), ErrAggregateNotCreated)
	}
	return nil
}

// RequireNotCreated returns the lifecycle error for a creation command on agg.
func RequireNotCreated(agg Aggregate) error {
	if agg.Created() {
		return NewValidationError(agg.AggregateType(), ErrAggregateAlreadyCreated)
	}
	return nil
}

// New returns a fresh aggregate with id that has not been created yet.
func New[T any, A Root[T]](id ID[T]) A {
	return newAggregate[T, A](id.String())
}

func newAggregate[T any, A Root[T]](id string) A {
	agg := A(new(T))
	*agg.base() = NewAggregateBase(id)
	return agg
}
