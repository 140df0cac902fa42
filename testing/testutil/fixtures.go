package testutil

import (
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// FixedTime is the timestamp fixture records carry.
var FixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Record returns a committed event row for aggregateID at seq.
func Record(aggregateType, aggregateID string, seq uint64, eventType string) adapters.EventRecord {
	return adapters.EventRecord{
		ID:            fmt.Sprintf("%s-%d", aggregateID, seq),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Sequence:      seq,
		Type:          eventType,
		Data:          []byte(`{}`),
		Metadata:      map[string]string{},
		Timestamp:     FixedTime,
	}
}

// Records returns n gapless rows for aggregateID starting at sequence 0.
func Records(aggregateType, aggregateID string, n int, eventType string) []adapters.EventRecord {
	out := make([]adapters.EventRecord, n)
	for i := range out {
		out[i] = Record(aggregateType, aggregateID, uint64(i), eventType)
	}
	return out
}
