// Package msgpack provides a MessagePack serializer for ordermesh event payloads.
//
// MessagePack is a binary serialization format that produces smaller payloads
// than JSON while maintaining similar flexibility. Field names follow the
// payloads' json tags, so a payload type needs no extra annotations.
//
// Basic usage:
//
//	registry := ordermesh.NewEventRegistry(widget.Events()...)
//	serializer := msgpack.NewSerializer(registry)
//
//	data, err := serializer.Serialize(widget.NameChangedV1{Name: "X"})
//	payload, err := serializer.Deserialize(data, "WidgetNameChangedV1")
package msgpack

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/AshkanYarmoradi/ordermesh"
)

// structTag makes msgpack use the same field names as JSON.
const structTag = "json"

var _ ordermesh.Serializer = (*Serializer)(nil)

// Serializer is a MessagePack implementation of ordermesh.Serializer.
type Serializer struct {
	registry *ordermesh.EventRegistry
}

// NewSerializer creates a new MessagePack Serializer over registry.
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

// Serialize converts a payload to MessagePack bytes.
func (s *Serializer) Serialize(payload ordermesh.EventPayload) ([]byte, error) {
	if payload == nil {
		return nil, ordermesh.NewSerializationError("nil", "serialize", fmt.Errorf("payload cannot be nil"))
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(structTag)
	if err := enc.Encode(payload); err != nil {
		return nil, ordermesh.NewSerializationError(payload.EventType(), "serialize", err)
	}
	return buf.Bytes(), nil
}

// Deserialize converts MessagePack bytes back to a registered payload type.
func (s *Serializer) Deserialize(data []byte, eventType string) (ordermesh.EventPayload, error) {
	if len(data) == 0 {
		return nil, ordermesh.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	target, value, err := s.registry.New(eventType)
	if err != nil {
		return nil, err
	}

	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(structTag)
	if err := dec.Decode(target); err != nil {
		return nil, ordermesh.NewSerializationError(eventType, "deserialize", err)
	}
	return value()
}
