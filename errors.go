package ordermesh

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// Sentinel errors for the engine's error taxonomy.
// Use errors.Is() to check for these errors.
var (
	// ErrValidation indicates a command was rejected before any event was produced.
	ErrValidation = errors.New("ordermesh: validation failed")

	// ErrNotFound indicates the aggregate does not exist.
	ErrNotFound = errors.New("ordermesh: aggregate not found")

	// ErrConflict indicates a conditional write lost a race or the aggregate already exists.
	ErrConflict = errors.New("ordermesh: conflict")

	// ErrCorruptState indicates a stored snapshot or event could not be interpreted.
	ErrCorruptState = errors.New("ordermesh: corrupt aggregate state")

	// ErrTransport indicates a store or RPC failure for infrastructure reasons.
	ErrTransport = errors.New("ordermesh: transport failure")

	// ErrInvalidEvents indicates Create or Update was called with events that
	// violate the persistence protocol. This is a programming error.
	ErrInvalidEvents = errors.New("ordermesh: invalid events")

	// ErrVersionOverflow indicates the aggregate version cannot be incremented.
	ErrVersionOverflow = errors.New("ordermesh: version overflow")

	// ErrAggregateAlreadyCreated indicates a creation command on a created aggregate.
	ErrAggregateAlreadyCreated = errors.New("ordermesh: aggregate already created")

	// ErrAggregateNotCreated indicates a non-creation command on an uncreated aggregate.
	ErrAggregateNotCreated = errors.New("ordermesh: aggregate not created")

	// ErrNoEvents indicates no events were produced or supplied.
	ErrNoEvents = errors.New("ordermesh: no events")

	// ErrSerializationFailed indicates payload serialization/deserialization failed.
	ErrSerializationFailed = errors.New("ordermesh: serialization failed")

	// ErrEventTypeNotRegistered indicates an unknown event type was encountered.
	ErrEventTypeNotRegistered = errors.New("ordermesh: event type not registered")

	// ErrConditionFailed is the store-level guard failure. The repository
	// reports it as ErrConflict.
	ErrConditionFailed = adapters.ErrConditionFailed
)

// ValidationError is a domain rejection of a command.
type ValidationError struct {
	AggregateType string
	Cause         error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("ordermesh: %s rejected command: %v", e.AggregateType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Unwrap returns the domain cause for errors.Is against domain sentinels.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new ValidationError.
func NewValidationError(aggregateType string, cause error) *ValidationError {
	return &ValidationError{AggregateType: aggregateType, Cause: cause}
}

// NotFoundError reports a missing aggregate.
type NotFoundError struct {
	AggregateType string
	AggregateID   string
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ordermesh: %s %q not found", e.AggregateType, e.AggregateID)
}

// Is reports whether this error matches the target error.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(aggregateType, aggregateID string) *NotFoundError {
	return &NotFoundError{AggregateType: aggregateType, AggregateID: aggregateID}
}

// ConflictError reports a lost optimistic concurrency race or an id collision.
type ConflictError struct {
	AggregateID string
	Operation   string // "create" or "update"
	Cause       error
}

// Error returns the error message.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("ordermesh: conflict on %s of aggregate %q: %v", e.Operation, e.AggregateID, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Unwrap returns the store's condition failure.
func (e *ConflictError) Unwrap() error {
	return e.Cause
}

// NewConflictError creates a new ConflictError.
func NewConflictError(aggregateID, operation string, cause error) *ConflictError {
	return &ConflictError{AggregateID: aggregateID, Operation: operation, Cause: cause}
}

// CorruptStateError reports stored data that cannot be interpreted.
type CorruptStateError struct {
	AggregateID string
	Reason      string
	Cause       error
}

// Error returns the error message.
func (e *CorruptStateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ordermesh: corrupt state for aggregate %q: %s: %v", e.AggregateID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("ordermesh: corrupt state for aggregate %q: %s", e.AggregateID, e.Reason)
}

// Is reports whether this error matches the target error.
func (e *CorruptStateError) Is(target error) bool {
	return target == ErrCorruptState
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *CorruptStateError) Unwrap() error {
	return e.Cause
}

// NewCorruptStateError creates a new CorruptStateError.
func NewCorruptStateError(aggregateID, reason string, cause error) *CorruptStateError {
	return &CorruptStateError{AggregateID: aggregateID, Reason: reason, Cause: cause}
}

// TransportError wraps an infrastructure failure of a store or RPC call.
type TransportError struct {
	Operation string
	Cause     error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return fmt.Sprintf("ordermesh: %s failed: %v", e.Operation, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a new TransportError.
func NewTransportError(operation string, cause error) *TransportError {
	return &TransportError{Operation: operation, Cause: cause}
}

// InvalidEventsError reports a persistence protocol violation by the caller.
type InvalidEventsError struct {
	AggregateID string
	Reason      string
}

// Error returns the error message.
func (e *InvalidEventsError) Error() string {
	return fmt.Sprintf("ordermesh: invalid events for aggregate %q: %s", e.AggregateID, e.Reason)
}

// Is reports whether this error matches the target error.
func (e *InvalidEventsError) Is(target error) bool {
	return target == ErrInvalidEvents
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *InvalidEventsError) Unwrap() error {
	return ErrInvalidEvents
}

// NewInvalidEventsError creates a new InvalidEventsError.
func NewInvalidEventsError(aggregateID, reason string) *InvalidEventsError {
	return &InvalidEventsError{AggregateID: aggregateID, Reason: reason}
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("ordermesh: failed to %s event type %q: %v", e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{EventType: eventType, Operation: operation, Cause: cause}
}

// EventTypeNotRegisteredError provides detailed information about an unregistered event type.
type EventTypeNotRegisteredError struct {
	EventType string
}

// Error returns the error message.
func (e *EventTypeNotRegisteredError) Error() string {
	return fmt.Sprintf("ordermesh: event type %q not registered", e.EventType)
}

// Is reports whether this error matches the target error.
func (e *EventTypeNotRegisteredError) Is(target error) bool {
	return target == ErrEventTypeNotRegistered
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *EventTypeNotRegisteredError) Unwrap() error {
	return ErrEventTypeNotRegistered
}

// NewEventTypeNotRegisteredError creates a new EventTypeNotRegisteredError.
func NewEventTypeNotRegisteredError(eventType string) *EventTypeNotRegisteredError {
	return &EventTypeNotRegisteredError{EventType: eventType}
}

// Kind classifies err into the taxonomy: "validation", "not_found",
// "conflict", "corrupt", "invalid_events", "transport" or "unknown".
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrValidation), errors.Is(err, ErrVersionOverflow):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict), errors.Is(err, ErrConditionFailed):
		return "conflict"
	case errors.Is(err, ErrCorruptState):
		return "corrupt"
	case errors.Is(err, ErrInvalidEvents):
		return "invalid_events"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "unknown"
	}
}
