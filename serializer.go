package ordermesh

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Serializer handles event payload serialization and deserialization.
type Serializer interface {
	// Serialize converts a payload to bytes.
	Serialize(payload EventPayload) ([]byte, error)

	// Deserialize converts bytes back to a payload.
	// The eventType is used to determine the target type.
	Deserialize(data []byte, eventType string) (EventPayload, error)
}

// EventRegistry maps versioned event type names to Go types.
// Serializers use it to decode payloads back into their concrete types.
type EventRegistry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// NewEventRegistry creates a new EventRegistry holding the given examples.
func NewEventRegistry(examples ...EventPayload) *EventRegistry {
	r := &EventRegistry{types: make(map[string]reflect.Type)}
	r.Register(examples...)
	return r
}

// Register adds each example under its EventType name.
// Examples should be values (not pointers) of the payload types.
func (r *EventRegistry) Register(examples ...EventPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, example := range examples {
		t := reflect.TypeOf(example)
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		r.types[example.EventType()] = t
	}
}

// Lookup returns the Go type for the given event type name.
func (r *EventRegistry) Lookup(eventType string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[eventType]
	return t, ok
}

// RegisteredTypes returns the registered event type names in sorted order.
func (r *EventRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New allocates a zero payload of eventType and returns a pointer to it for
// decoding, together with a function that yields the decoded value.
func (r *EventRegistry) New(eventType string) (target any, value func() (EventPayload, error), err error) {
	t, ok := r.Lookup(eventType)
	if !ok {
		return nil, nil, NewEventTypeNotRegisteredError(eventType)
	}
	ptr := reflect.New(t)
	return ptr.Interface(), func() (EventPayload, error) {
		p, ok := ptr.Elem().Interface().(EventPayload)
		if !ok {
			return nil, NewSerializationError(eventType, "deserialize",
				fmt.Errorf("registered type %s does not implement EventPayload", t))
		}
		return p, nil
	}, nil
}

// JSONSerializer is the default Serializer implementation using JSON encoding.
type JSONSerializer struct {
	registry *EventRegistry
}

// NewJSONSerializer creates a new JSONSerializer over registry.
func NewJSONSerializer(registry *EventRegistry) *JSONSerializer {
	if registry == nil {
		registry = NewEventRegistry()
	}
	return &JSONSerializer{registry: registry}
}

// Registry returns the underlying EventRegistry.
func (s *JSONSerializer) Registry() *EventRegistry {
	return s.registry
}

// Serialize converts a payload to JSON bytes.
func (s *JSONSerializer) Serialize(payload EventPayload) ([]byte, error) {
	if payload == nil {
		return nil, NewSerializationError("nil", "serialize", fmt.Errorf("payload cannot be nil"))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, NewSerializationError(payload.EventType(), "serialize", err)
	}
	return data, nil
}

// Deserialize converts JSON bytes back to a registered payload type.
func (s *JSONSerializer) Deserialize(data []byte, eventType string) (EventPayload, error) {
	if len(data) == 0 {
		return nil, NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	target, value, err := s.registry.New(eventType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, NewSerializationError(eventType, "deserialize", err)
	}
	return value()
}
