// Package adapters provides interfaces and shared utilities for store backends.
package adapters

import (
	"fmt"
	"sort"
	"time"
)

// Default change stream settings.
const (
	DefaultBatchSize    = 100
	DefaultPollInterval = 200 * time.Millisecond
)

// ConditionFailedError reports which write of an Execute call failed its guard.
type ConditionFailedError struct {
	// Index is the position of the failing write in the Execute call.
	Index int

	// Operation is the failing write's operation name.
	Operation string

	// AggregateID is the aggregate the failing write targeted.
	AggregateID string
}

// NewConditionFailedError creates a ConditionFailedError for writes[index].
func NewConditionFailedError(index int, w Write) *ConditionFailedError {
	return &ConditionFailedError{
		Index:       index,
		Operation:   w.Operation(),
		AggregateID: w.AggregateID(),
	}
}

// Error returns the error message.
func (e *ConditionFailedError) Error() string {
	return fmt.Sprintf("ordermesh: condition failed on %s for aggregate %q (write %d)",
		e.Operation, e.AggregateID, e.Index)
}

// Is reports whether this error matches the target error.
func (e *ConditionFailedError) Is(target error) bool {
	return target == ErrConditionFailed
}

// ValidateWrites checks the shape of an Execute call before any backend work.
func ValidateWrites(writes []Write) error {
	if len(writes) == 0 {
		return ErrNoWrites
	}
	for i, w := range writes {
		if w == nil {
			return fmt.Errorf("ordermesh: write %d is nil", i)
		}
		if w.AggregateID() == "" {
			return ErrEmptyAggregateID
		}
		if adv, ok := w.(AdvanceSequence); ok && adv.Next <= adv.Expected {
			return fmt.Errorf("ordermesh: sequence must advance (expected %d, next %d)", adv.Expected, adv.Next)
		}
	}
	return nil
}

// CopyEventRecord returns a deep copy so stored rows cannot be mutated by callers.
func CopyEventRecord(r EventRecord) EventRecord {
	out := r
	if r.Data != nil {
		out.Data = append([]byte(nil), r.Data...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// SortBySequence orders records by sequence in place.
func SortBySequence(records []EventRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Sequence < records[j].Sequence
	})
}

// ApplyStreamOptions merges opts over the defaults.
func ApplyStreamOptions(opts ...StreamOptions) StreamOptions {
	out := StreamOptions{BatchSize: DefaultBatchSize, PollInterval: DefaultPollInterval}
	for _, o := range opts {
		if o.BatchSize > 0 {
			out.BatchSize = o.BatchSize
		}
		if o.PollInterval > 0 {
			out.PollInterval = o.PollInterval
		}
	}
	return out
}
