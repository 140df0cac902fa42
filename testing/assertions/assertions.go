// Package assertions checks event histories read back from a repository or
// a store: their order, their payloads and the gapless sequence rule.
package assertions

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// Payloads returns the payload of each event.
func Payloads(events []ordermesh.Event) []ordermesh.EventPayload {
	out := make([]ordermesh.EventPayload, len(events))
	for i, e := range events {
		out[i] = e.Payload
	}
	return out
}

// AssertEventTypes checks that the events have the expected types in order.
func AssertEventTypes(t TB, events []ordermesh.Event, types ...string) {
	t.Helper()

	if len(events) != len(types) {
		t.Fatalf("Expected %d events, got %d", len(types), len(events))
	}
	for i, want := range types {
		if got := events[i].Type(); got != want {
			t.Errorf("Event %d: expected type %s, got %s", i, want, got)
		}
	}
}

// AssertContainsEventType checks that at least one event has typeName.
func AssertContainsEventType(t TB, events []ordermesh.Event, typeName string) {
	t.Helper()

	for _, e := range events {
		if e.Type() == typeName {
			return
		}
	}
	t.Errorf("Events do not contain event of type %s", typeName)
}

// AssertPayloads compares the event payloads with expected and reports a
// diff when they differ.
func AssertPayloads(t TB, events []ordermesh.Event, expected ...ordermesh.EventPayload) {
	t.Helper()

	if diffs := DiffPayloads(expected, Payloads(events)); len(diffs) > 0 {
		t.Error(FormatDiffs(diffs))
	}
}

// AssertGapless checks that events form a valid history: sequences run
// 0, 1, 2, ... without gaps, every event belongs to the same aggregate, and
// exactly the first event creates it.
func AssertGapless(t TB, events []ordermesh.Event) {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("Expected at least the creation event, got none")
	}
	aggregateID := events[0].AggregateID
	for i, e := range events {
		if e.Sequence != uint64(i) {
			t.Errorf("Event %d: expected sequence %d, got %d", i, i, e.Sequence)
		}
		if e.AggregateID != aggregateID {
			t.Errorf("Event %d: belongs to %s, not %s", i, e.AggregateID, aggregateID)
		}
		if creation := ordermesh.IsCreation(e.Payload); creation != (i == 0) {
			t.Errorf("Event %d: %s creation=%t", i, e.Type(), creation)
		}
	}
}

// AssertRecordsGapless checks the same sequence rule on raw store rows.
func AssertRecordsGapless(t TB, records []adapters.EventRecord) {
	t.Helper()

	for i, rec := range records {
		if rec.Sequence != uint64(i) {
			t.Errorf("Record %d: expected sequence %d, got %d", i, i, rec.Sequence)
		}
		if rec.AggregateID != records[0].AggregateID {
			t.Errorf("Record %d: belongs to %s, not %s", i, rec.AggregateID, records[0].AggregateID)
		}
	}
}

// EventDiff represents a difference between expected and actual payloads.
type EventDiff struct {
	Index    int
	Expected ordermesh.EventPayload
	Actual   ordermesh.EventPayload
	Type     DiffType
}

// DiffType represents the type of difference.
type DiffType int

const (
	// DiffMissing indicates an expected event was not present.
	DiffMissing DiffType = iota
	// DiffExtra indicates an unexpected event was present.
	DiffExtra
	// DiffMismatch indicates event data did not match.
	DiffMismatch
)

// String returns a human-readable representation of the diff type.
func (d DiffType) String() string {
	switch d {
	case DiffMissing:
		return "missing"
	case DiffExtra:
		return "extra"
	case DiffMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// DiffPayloads compares two payload slices position by position.
func DiffPayloads(expected, actual []ordermesh.EventPayload) []EventDiff {
	var diffs []EventDiff

	for i := 0; i < max(len(expected), len(actual)); i++ {
		switch {
		case i >= len(expected):
			diffs = append(diffs, EventDiff{Index: i, Actual: actual[i], Type: DiffExtra})
		case i >= len(actual):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Type: DiffMissing})
		case !reflect.DeepEqual(expected[i], actual[i]):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Actual: actual[i], Type: DiffMismatch})
		}
	}
	return diffs
}

// FormatDiffs formats diffs as a human-readable string.
func FormatDiffs(diffs []EventDiff) string {
	if len(diffs) == 0 {
		return "no differences"
	}

	var buf strings.Builder
	buf.WriteString("Event differences:\n")
	for _, d := range diffs {
		fmt.Fprintf(&buf, "  Event %d (%s):\n", d.Index, d.Type)
		switch d.Type {
		case DiffExtra:
			fmt.Fprintf(&buf, "    + %T %+v (unexpected)\n", d.Actual, d.Actual)
		case DiffMissing:
			fmt.Fprintf(&buf, "    - %T %+v (missing)\n", d.Expected, d.Expected)
		case DiffMismatch:
			fmt.Fprintf(&buf, "    - %T %+v\n", d.Expected, d.Expected)
			fmt.Fprintf(&buf, "    + %T %+v\n", d.Actual, d.Actual)
		}
	}
	return buf.String()
}
