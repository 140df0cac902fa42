package ordermesh

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a globally unique identifier bound to the entity type T.
// T is never stored; it only keeps IDs of different entities apart at compile time.
// IDs are UUIDv7 values, so their string form sorts by creation time.
type ID[T any] struct {
	value uuid.UUID
}

// NewID generates a new time-ordered ID.
func NewID[T any]() ID[T] {
	return ID[T]{value: uuid.Must(uuid.NewV7())}
}

// DeriveID returns the ID deterministically derived from name within namespace.
// The same inputs always produce the same ID.
func DeriveID[T any](namespace uuid.UUID, name string) ID[T] {
	return ID[T]{value: uuid.NewSHA1(namespace, []byte(name))}
}

// ParseID parses the canonical string form of an ID.
func ParseID[T any](s string) (ID[T], error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return ID[T]{}, fmt.Errorf("ordermesh: invalid id %q: %w", s, err)
	}
	return ID[T]{value: v}, nil
}

// MustParseID is like ParseID but panics on malformed input.
func MustParseID[T any](s string) ID[T] {
	id, err := ParseID[T](s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns the canonical string form.
func (id ID[T]) String() string {
	return id.value.String()
}

// IsZero reports whether the ID was never assigned.
func (id ID[T]) IsZero() bool {
	return id.value == uuid.Nil
}

// UUID returns the underlying UUID.
func (id ID[T]) UUID() uuid.UUID {
	return id.value
}

// MarshalText implements encoding.TextMarshaler.
func (id ID[T]) MarshalText() ([]byte, error) {
	return []byte(id.value.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID[T]) UnmarshalText(data []byte) error {
	parsed, err := ParseID[T](string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
