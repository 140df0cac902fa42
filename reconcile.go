package ordermesh

import (
	"context"
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/ordermesh/adapters"
)

// reconcile flushes the pending events of a snapshot into the event log and
// folds the log up to the snapshot version.
//
// Each pending event is written on its own with a "does not exist" guard, so
// a concurrent reader flushing the same rows is harmless. Events a concurrent
// writer appends after the snapshot was read are ignored.
func (r *Repository[T, A]) reconcile(ctx context.Context, id ID[T], snap *adapters.SnapshotRecord, doc *snapshotDocument) (A, error) {
	aggregateID := id.String()

	if len(doc.Pending) == 0 {
		return nil, NewCorruptStateError(aggregateID, "snapshot has no pending events", nil)
	}
	if last := doc.Pending[len(doc.Pending)-1].Sequence; last != snap.Version {
		return nil, NewCorruptStateError(aggregateID,
			fmt.Sprintf("pending events end at sequence %d, snapshot is at version %d", last, snap.Version), nil)
	}

	for _, rec := range doc.Pending {
		if rec.AggregateID != aggregateID {
			return nil, NewCorruptStateError(aggregateID,
				fmt.Sprintf("pending event %s belongs to aggregate %q", rec.ID, rec.AggregateID), nil)
		}

		err := r.store.Execute(ctx, []adapters.Write{adapters.PutEvent{Event: rec}})
		switch {
		case err == nil:
			r.cfg.logger.Debug("Flushed pending event",
				"aggregateId", aggregateID, "sequence", rec.Sequence, "eventType", rec.Type)
		case errors.Is(err, adapters.ErrConditionFailed):
			// Already in the log.
		default:
			return nil, NewTransportError("flush pending event", err)
		}
	}

	records, err := r.store.LoadEvents(ctx, aggregateID)
	if err != nil {
		return nil, NewTransportError("load events", err)
	}

	visible := records[:0:0]
	for _, rec := range records {
		if rec.Sequence <= snap.Version {
			visible = append(visible, rec)
		}
	}

	events, err := DecodeEvents(r.serializer, visible)
	if err != nil {
		return nil, NewCorruptStateError(aggregateID, "undecodable event", err)
	}

	agg, err := Replay[T, A](id, events)
	if err != nil {
		return nil, err
	}
	if agg.Version() != snap.Version {
		return nil, NewCorruptStateError(aggregateID,
			fmt.Sprintf("replayed version %d does not match snapshot version %d", agg.Version(), snap.Version), nil)
	}

	return agg, nil
}
