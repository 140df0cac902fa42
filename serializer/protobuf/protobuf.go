// Package protobuf provides a Protocol Buffers serializer for ordermesh events.
//
// Payloads are plain Go structs, so they are carried as google.protobuf.Struct
// messages built from their JSON form. The wire bytes are standard protobuf
// and can be decoded by any consumer that knows the well-known types.
//
// Usage:
//
//	s := protobuf.NewSerializer(ordermesh.NewEventRegistry(cart.Events()...))
//	data, err := s.Serialize(cart.OrderPlacedV1{})
//	payload, err := s.Deserialize(data, "CartOrderPlacedV1")
//
// Numbers travel as doubles; integer fields above 2^53 lose precision.
package protobuf

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AshkanYarmoradi/ordermesh"
)

var (
	// ErrNilPayload indicates an attempt to serialize a nil payload.
	ErrNilPayload = errors.New("ordermesh/protobuf: cannot serialize nil payload")

	// ErrNotObject indicates a value whose JSON form is not an object.
	ErrNotObject = errors.New("ordermesh/protobuf: value must encode as a JSON object")
)

var _ ordermesh.Serializer = (*Serializer)(nil)

// Serializer implements ordermesh.Serializer using Protocol Buffers.
type Serializer struct {
	registry *ordermesh.EventRegistry
}

// NewSerializer creates a new Protocol Buffers serializer over registry.
func NewSerializer(registry *ordermesh.EventRegistry) *Serializer {
	if registry == nil {
		registry = ordermesh.NewEventRegistry()
	}
	return &Serializer{registry: registry}
}

// Registry returns the underlying EventRegistry.
func (s *Serializer) Registry() *ordermesh.EventRegistry {
	return s.registry
}

// Serialize converts a payload to Protocol Buffers binary format.
func (s *Serializer) Serialize(payload ordermesh.EventPayload) ([]byte, error) {
	if payload == nil {
		return nil, ordermesh.NewSerializationError("nil", "serialize", ErrNilPayload)
	}

	msg, err := ToStruct(payload)
	if err != nil {
		return nil, ordermesh.NewSerializationError(payload.EventType(), "serialize", err)
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, ordermesh.NewSerializationError(payload.EventType(), "serialize", err)
	}
	return data, nil
}

// Deserialize converts Protocol Buffers binary data back to a registered payload.
// An empty slice is a valid encoding of a payload with no fields.
func (s *Serializer) Deserialize(data []byte, eventType string) (ordermesh.EventPayload, error) {
	target, value, err := s.registry.New(eventType)
	if err != nil {
		return nil, err
	}

	var msg structpb.Struct
	if err := proto.Unmarshal(data, &msg); err != nil {
		return nil, ordermesh.NewSerializationError(eventType, "deserialize", err)
	}
	if err := FromStruct(&msg, target); err != nil {
		return nil, ordermesh.NewSerializationError(eventType, "deserialize", err)
	}
	return value()
}

// ToStruct converts v to a google.protobuf.Struct through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}
	return structpb.NewStruct(fields)
}

// FromStruct decodes msg into target, which must be a pointer.
func FromStruct(msg *structpb.Struct, target any) error {
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
