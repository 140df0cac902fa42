// Package bdd provides Given-When-Then fixtures for aggregate command tests.
//
//	bdd.Given[cart.Cart](t, id, cart.CreatedV1{}, cart.ItemAddedV1{...}).
//		When(func(c *cart.Cart) (ordermesh.CommandOutcome, error) {
//			return c.ApplyCommand(cart.PlaceOrder{})
//		}).
//		Then(cart.OrderPlacedV1{})
package bdd

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/ordermesh"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// Fixture holds one Given-When-Then scenario for an aggregate.
type Fixture[T any, A ordermesh.Root[T]] struct {
	t        TB
	id       ordermesh.ID[T]
	given    []ordermesh.EventPayload
	agg      A
	outcome  ordermesh.CommandOutcome
	err      error
	executed bool
}

// Given starts a scenario for the aggregate with id whose history is events.
// With no events the aggregate has not been created yet.
func Given[T any, A ordermesh.Root[T]](t TB, id ordermesh.ID[T], events ...ordermesh.EventPayload) *Fixture[T, A] {
	t.Helper()
	return &Fixture[T, A]{t: t, id: id, given: events}
}

// When rebuilds the aggregate from the given history and runs command on it.
func (f *Fixture[T, A]) When(command func(A) (ordermesh.CommandOutcome, error)) *Fixture[T, A] {
	f.t.Helper()

	if len(f.given) == 0 {
		f.agg = ordermesh.New[T, A](f.id)
	} else {
		history := make([]ordermesh.Event, len(f.given))
		for i, p := range f.given {
			history[i] = ordermesh.Event{AggregateID: f.id.String(), Sequence: uint64(i), Payload: p}
		}
		agg, err := ordermesh.Replay[T, A](f.id, history)
		if err != nil {
			f.t.Fatalf("bdd: failed to replay given events: %v", err)
		}
		f.agg = agg
	}

	f.outcome, f.err = command(f.agg)
	f.executed = true
	return f
}

func (f *Fixture[T, A]) requireExecuted(step string) {
	f.t.Helper()
	if !f.executed {
		f.t.Fatalf("bdd: %s() must be called after When()", step)
	}
}

func (f *Fixture[T, A]) requireSuccess() {
	f.t.Helper()
	if f.err != nil {
		f.t.Fatalf("Expected success but got error: %v", f.err)
	}
}

// Then asserts that the command succeeded and produced exactly expected.
func (f *Fixture[T, A]) Then(expected ...ordermesh.EventPayload) *Fixture[T, A] {
	f.t.Helper()
	f.requireExecuted("Then")
	f.requireSuccess()

	got := f.outcome.Events
	if len(got) != len(expected) {
		f.t.Fatalf("Expected %d events, got %d.\nExpected: %+v\nActual: %+v",
			len(expected), len(got), expected, got)
	}
	for i := range expected {
		if !reflect.DeepEqual(got[i], expected[i]) {
			f.t.Errorf("Event %d mismatch:\nExpected: %+v\nActual: %+v", i, expected[i], got[i])
		}
	}
	return f
}

// ThenVersion asserts the aggregate version after the command.
func (f *Fixture[T, A]) ThenVersion(expected uint64) *Fixture[T, A] {
	f.t.Helper()
	f.requireExecuted("ThenVersion")
	f.requireSuccess()

	if f.outcome.Version != expected {
		f.t.Errorf("Expected version %d, got %d", expected, f.outcome.Version)
	}
	if v := f.agg.Version(); v != f.outcome.Version {
		f.t.Errorf("Outcome version %d does not match aggregate version %d", f.outcome.Version, v)
	}
	return f
}

// ThenState passes the aggregate to check after a successful command.
func (f *Fixture[T, A]) ThenState(check func(A)) *Fixture[T, A] {
	f.t.Helper()
	f.requireExecuted("ThenState")
	f.requireSuccess()

	check(f.agg)
	return f
}

// ThenError asserts that the command failed with an error matching target.
func (f *Fixture[T, A]) ThenError(target error) {
	f.t.Helper()
	f.requireExecuted("ThenError")

	if f.err == nil {
		f.t.Fatal("Expected error but got success")
	}
	if !errors.Is(f.err, target) {
		f.t.Errorf("Expected error %v, got %v", target, f.err)
	}
}

// ThenErrorContains asserts that the error message contains substring.
func (f *Fixture[T, A]) ThenErrorContains(substring string) {
	f.t.Helper()
	f.requireExecuted("ThenErrorContains")

	if f.err == nil {
		f.t.Fatal("Expected error but got success")
	}
	if !strings.Contains(f.err.Error(), substring) {
		f.t.Errorf("Expected error containing %q, got %q", substring, f.err.Error())
	}
}
