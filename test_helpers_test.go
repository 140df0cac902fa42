package ordermesh

// test_helpers_test.go contains shared test doubles for ordermesh package tests.

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// =============================================================================
// Test aggregate
// =============================================================================

var errEmptyTitle = errors.New("title must not be empty")

type noteCreated struct {
	Title string `json:"title"`
}

func (noteCreated) EventType() string { return "NoteCreatedV1" }
func (noteCreated) CreatesAggregate() {}

type noteRetitled struct {
	Title string `json:"title"`
}

func (noteRetitled) EventType() string { return "NoteRetitledV1" }

type noteArchived struct{}

func (noteArchived) EventType() string { return "NoteArchivedV1" }

// noteUnknown is a payload testNote does not know how to apply.
type noteUnknown struct{}

func (noteUnknown) EventType() string { return "NoteUnknownV1" }

type testNote struct {
	AggregateBase
	Title    string
	Edits    int
	Archived bool
}

type testNoteState struct {
	Title    string `json:"title"`
	Edits    int    `json:"edits"`
	Archived bool   `json:"archived"`
}

func (n *testNote) AggregateType() string { return "note" }

func (n *testNote) ApplyEvent(p EventPayload) error {
	switch e := p.(type) {
	case noteCreated:
		n.Title = e.Title
	case noteRetitled:
		n.Title = e.Title
		n.Edits++
	case noteArchived:
		n.Archived = true
	default:
		return fmt.Errorf("note: unexpected event %T", p)
	}
	return nil
}

func (n *testNote) MarshalState() ([]byte, error) {
	return json.Marshal(testNoteState{Title: n.Title, Edits: n.Edits, Archived: n.Archived})
}

func (n *testNote) UnmarshalState(data []byte) error {
	var s testNoteState
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n.Title, n.Edits, n.Archived = s.Title, s.Edits, s.Archived
	return nil
}

func (n *testNote) create(title string) (CommandOutcome, error) {
	if err := RequireNotCreated(n); err != nil {
		return CommandOutcome{}, err
	}
	if title == "" {
		return CommandOutcome{}, NewValidationError(n.AggregateType(), errEmptyTitle)
	}
	return Record(n, noteCreated{Title: title})
}

func (n *testNote) retitle(title string) (CommandOutcome, error) {
	if err := RequireCreated(n); err != nil {
		return CommandOutcome{}, err
	}
	if title == "" {
		return CommandOutcome{}, NewValidationError(n.AggregateType(), errEmptyTitle)
	}
	return Record(n, noteRetitled{Title: title})
}

func newNote(id ID[testNote]) *testNote {
	return newAggregate[testNote](id.String())
}

func noteSerializer() *JSONSerializer {
	return NewJSONSerializer(NewEventRegistry(noteCreated{}, noteRetitled{}, noteArchived{}))
}

// =============================================================================
// Shared Test Logger
// =============================================================================

// testLogger is a shared test implementation of Logger.
type testLogger struct {
	mu        sync.Mutex
	debugLogs []string
	infoLogs  []string
	warnLogs  []string
	errorLogs []string
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) Debug(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugLogs = append(l.debugLogs, msg)
}

func (l *testLogger) Info(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLogs = append(l.infoLogs, msg)
}

func (l *testLogger) Warn(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warnLogs = append(l.warnLogs, msg)
}

func (l *testLogger) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, msg)
}

func (l *testLogger) infos() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.infoLogs...)
}
