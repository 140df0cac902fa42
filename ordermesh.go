// Package ordermesh persists event-sourced aggregates over a transactional
// key/value store and routes committed events between services.
//
// Every aggregate is stored as three kinds of rows: an immutable event log
// keyed by (aggregate id, sequence), one snapshot record holding the current
// state, and one sequence record holding the last assigned sequence. Create
// and Update write all of them in one atomic conditional transaction, so two
// writers that observed the same version can never both succeed.
//
// # Quick Start
//
// Create a repository with the in-memory adapter for development:
//
//	import (
//	    "github.com/AshkanYarmoradi/ordermesh"
//	    "github.com/AshkanYarmoradi/ordermesh/adapters/memory"
//	)
//
//	serializer := ordermesh.NewJSONSerializer(ordermesh.NewEventRegistry(WidgetCreatedV1{}, WidgetNameChangedV1{}))
//	repo := ordermesh.NewRepository[Widget](memory.NewAdapter(), serializer)
//
// For production, use the PostgreSQL adapter:
//
//	adapter, err := postgres.NewAdapter(ctx, connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	repo := ordermesh.NewRepository[Widget](adapter, serializer)
//
// # Defining Aggregates
//
// Aggregates embed AggregateBase and fold events in ApplyEvent. Commands
// validate first and then call Record, which applies the events and
// advances the version:
//
//	type Widget struct {
//	    ordermesh.AggregateBase
//	    Name string
//	}
//
//	func (w *Widget) AggregateType() string { return "widget" }
//
//	func (w *Widget) ApplyEvent(p ordermesh.EventPayload) error {
//	    switch e := p.(type) {
//	    case WidgetCreatedV1:
//	        w.Name = e.Name
//	    case WidgetNameChangedV1:
//	        w.Name = e.Name
//	    }
//	    return nil
//	}
//
// The creation event leaves the version at 0. Every later event adds one, and
// its sequence in the log equals the version it produces.
//
// # Saving and Loading Aggregates
//
//	w := new(Widget)
//	outcome, err := w.ApplyCommand(CreateWidget{Name: "X"})
//	err = repo.Create(ctx, w, outcome.Events[0])
//
//	w, err = repo.Get(ctx, id)
//	outcome, err = w.ApplyCommand(ChangeName{Name: "Y"})
//	err = repo.Update(ctx, w, outcome.Events)
//
// Update returns an error matching ErrConflict when another writer got there
// first. The engine never retries; re-read and decide again.
//
// # Lazy Materialization
//
// WithMaterialization(LazyEvents) stores new events inline in the snapshot
// record instead of the event log. Get flushes them to the log and replays
// the log, so the log is complete after every read.
package ordermesh

// Version returns the library version string.
func Version() string {
	return "0.3.0"
}
