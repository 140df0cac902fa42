package ordermesh

import (
	"encoding/json"
	"fmt"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// snapshotSchemaV1 tags the snapshot payload layout.
const snapshotSchemaV1 = "v1"

// snapshotDocument is the payload of a snapshot record. State is the
// aggregate's MarshalState output and must be JSON. Pending holds events
// that were written inline and may not be in the event log yet.
type snapshotDocument struct {
	Schema  string                 `json:"schema"`
	State   json.RawMessage        `json:"state"`
	Pending []adapters.EventRecord `json:"pending,omitempty"`
}

func encodeSnapshot(state []byte, pending []adapters.EventRecord) ([]byte, error) {
	if !json.Valid(state) {
		return nil, fmt.Errorf("ordermesh: aggregate state is not valid JSON")
	}
	return json.Marshal(snapshotDocument{
		Schema:  snapshotSchemaV1,
		State:   state,
		Pending: pending,
	})
}

func decodeSnapshot(rec *adapters.SnapshotRecord) (*snapshotDocument, error) {
	var doc snapshotDocument
	if err := json.Unmarshal(rec.Payload, &doc); err != nil {
		return nil, NewCorruptStateError(rec.AggregateID, "malformed snapshot payload", err)
	}
	if doc.Schema != snapshotSchemaV1 {
		return nil, NewCorruptStateError(rec.AggregateID,
			fmt.Sprintf("unsupported snapshot schema %q", doc.Schema), nil)
	}
	if len(doc.State) == 0 {
		return nil, NewCorruptStateError(rec.AggregateID, "snapshot has no state", nil)
	}
	return &doc, nil
}

// DecodeEvents deserializes stored event rows with serializer.
func DecodeEvents(serializer Serializer, records []adapters.EventRecord) ([]Event, error) {
	events := make([]Event, 0, len(records))
	for _, rec := range records {
		e, err := DecodeEvent(serializer, rec)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// DecodeEvent deserializes one stored event row.
func DecodeEvent(serializer Serializer, rec adapters.EventRecord) (Event, error) {
	payload, err := serializer.Deserialize(rec.Data, rec.Type)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          rec.ID,
		AggregateID: rec.AggregateID,
		Sequence:    rec.Sequence,
		Payload:     payload,
		Metadata:    Metadata(rec.Metadata),
		Timestamp:   rec.Timestamp,
	}, nil
}
