package ordermesh

import (
	"sort"
	"time"
)

// EventPayload is a domain event body. EventType returns a versioned type
// name (e.g. "WidgetCreatedV1") that is stored with the event and used to
// deserialize it again.
type EventPayload interface {
	EventType() string
}

// CreationPayload marks the payload that creates an aggregate.
// Exactly one creation event starts every event log, at sequence 0.
type CreationPayload interface {
	EventPayload
	CreatesAggregate()
}

// IsCreation reports whether p is a creation payload.
func IsCreation(p EventPayload) bool {
	_, ok := p.(CreationPayload)
	return ok
}

// Metadata is the string map stored with every event. It carries trace
// propagation keys and satisfies the OpenTelemetry TextMapCarrier interface.
type Metadata map[string]string

// Get returns the value for key.
func (m Metadata) Get(key string) string {
	return m[key]
}

// Set stores value under key.
func (m Metadata) Set(key, value string) {
	m[key] = value
}

// Keys returns the keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Event is a decoded event of one aggregate.
type Event struct {
	// ID is the unique event identifier.
	ID string

	// AggregateID is the aggregate the event belongs to.
	AggregateID string

	// Sequence is the gapless per-aggregate position. The creation event is 0.
	Sequence uint64

	// Payload is the typed domain event.
	Payload EventPayload

	// Metadata carries propagation keys.
	Metadata Metadata

	// Timestamp is when the event was produced.
	Timestamp time.Time
}

// Type returns the payload's type name.
func (e Event) Type() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}
