package ordermesh

import (
	"fmt"
	"sort"
)

// Replay folds events onto a fresh aggregate with the given id.
//
// Events are folded strictly by sequence. The first event must be the
// creation event at sequence 0 and does not increment the version; every
// later event increments it by one. Gaps, duplicates, a missing or repeated
// creation event and payloads the aggregate rejects are reported as
// ErrCorruptState. The input slice is not modified.
func Replay[T any, A Root[T]](id ID[T], events []Event) (A, error) {
	aggregateID := id.String()
	if len(events) == 0 {
		return nil, NewCorruptStateError(aggregateID, "no events to replay", nil)
	}

	ordered := make([]Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})

	agg := newAggregate[T, A](aggregateID)
	b := agg.base()

	for i, e := range ordered {
		if e.Sequence != uint64(i) {
			return nil, NewCorruptStateError(aggregateID,
				fmt.Sprintf("expected sequence %d, found %d", i, e.Sequence), nil)
		}
		if e.AggregateID != "" && e.AggregateID != aggregateID {
			return nil, NewCorruptStateError(aggregateID,
				fmt.Sprintf("event %s belongs to aggregate %q", e.ID, e.AggregateID), nil)
		}
		if e.Payload == nil {
			return nil, NewCorruptStateError(aggregateID,
				fmt.Sprintf("event at sequence %d has no payload", e.Sequence), nil)
		}

		creation := IsCreation(e.Payload)
		if i == 0 && !creation {
			return nil, NewCorruptStateError(aggregateID,
				fmt.Sprintf("first event is %s, not a creation event", e.Type()), nil)
		}
		if i > 0 && creation {
			return nil, NewCorruptStateError(aggregateID,
				fmt.Sprintf("creation event %s at sequence %d", e.Type(), e.Sequence), nil)
		}

		if err := agg.ApplyEvent(e.Payload); err != nil {
			return nil, NewCorruptStateError(aggregateID,
				fmt.Sprintf("apply %s at sequence %d", e.Type(), e.Sequence), err)
		}

		if creation {
			b.created = true
		} else {
			b.version++
		}
	}

	return agg, nil
}
