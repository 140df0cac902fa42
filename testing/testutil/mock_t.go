package testutil

import (
	"fmt"
	"runtime"
	"strings"
	"testing"
)

// MockT is a testing.TB that records failures instead of failing the test.
// It is used to check that assertion helpers report what they should.
type MockT struct {
	testing.TB // embed to satisfy unexported methods

	failed bool
	fatal  bool
	msgs   []string
}

// NewMockT creates a MockT.
func NewMockT() *MockT {
	return &MockT{}
}

// Helper implements testing.TB.
func (m *MockT) Helper() {}

// Log implements testing.TB.
func (m *MockT) Log(args ...any) {}

// Logf implements testing.TB.
func (m *MockT) Logf(format string, args ...any) {}

// Error implements testing.TB.
func (m *MockT) Error(args ...any) {
	m.failed = true
	m.msgs = append(m.msgs, fmt.Sprint(args...))
}

// Errorf implements testing.TB.
func (m *MockT) Errorf(format string, args ...any) {
	m.failed = true
	m.msgs = append(m.msgs, fmt.Sprintf(format, args...))
}

// Fail implements testing.TB.
func (m *MockT) Fail() { m.failed = true }

// FailNow implements testing.TB.
func (m *MockT) FailNow() {
	m.failed = true
	m.fatal = true
	runtime.Goexit()
}

// Failed implements testing.TB.
func (m *MockT) Failed() bool { return m.failed }

// Fatal implements testing.TB.
func (m *MockT) Fatal(args ...any) {
	m.msgs = append(m.msgs, fmt.Sprint(args...))
	m.FailNow()
}

// Fatalf implements testing.TB.
func (m *MockT) Fatalf(format string, args ...any) {
	m.msgs = append(m.msgs, fmt.Sprintf(format, args...))
	m.FailNow()
}

// Fatalled reports whether Fatal, Fatalf or FailNow was called.
func (m *MockT) Fatalled() bool { return m.fatal }

// Messages returns the recorded failure messages.
func (m *MockT) Messages() []string { return m.msgs }

// Output joins the recorded failure messages.
func (m *MockT) Output() string { return strings.Join(m.msgs, "\n") }

// RunWithMockT runs fn with a MockT on its own goroutine, so Fatal and
// FailNow end fn without ending the caller.
func RunWithMockT(fn func(m *MockT)) *MockT {
	mt := NewMockT()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(mt)
	}()
	<-done
	return mt
}
