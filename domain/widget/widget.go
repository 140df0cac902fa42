// Package widget implements the widget aggregate: a named part with a
// description. Widgets are stored with lazy event materialization.
package widget

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AshkanYarmoradi/ordermesh"
)

// AggregateType is the stored aggregate type name.
const AggregateType = "widget"

// Field limits, in runes.
const (
	MaxNameLength        = 100
	MaxDescriptionLength = 1000
)

// Domain validation errors. Returned errors also match ordermesh.ErrValidation.
var (
	ErrInvalidName        = errors.New("widget: invalid name")
	ErrInvalidDescription = errors.New("widget: invalid description")
)

// Widget is the widget aggregate.
type Widget struct {
	ordermesh.AggregateBase

	name        string
	description string
}

// Name returns the widget name.
func (w *Widget) Name() string { return w.name }

// Description returns the widget description.
func (w *Widget) Description() string { return w.description }

// AggregateType returns "widget".
func (w *Widget) AggregateType() string { return AggregateType }

// Command is a widget command. The set is closed.
type Command interface {
	isWidgetCommand()
}

// Create creates a widget.
type Create struct {
	Name        string
	Description string
}

// ChangeName renames a widget.
type ChangeName struct {
	Name string
}

// ChangeDescription replaces the description of a widget.
type ChangeDescription struct {
	Description string
}

func (Create) isWidgetCommand()            {}
func (ChangeName) isWidgetCommand()        {}
func (ChangeDescription) isWidgetCommand() {}

// CreatedV1 is the creation event.
type CreatedV1 struct {
	Name        string `json:"widget_name"`
	Description string `json:"widget_description"`
}

// NameChangedV1 records a rename.
type NameChangedV1 struct {
	Name string `json:"widget_name"`
}

// DescriptionChangedV1 records a description change.
type DescriptionChangedV1 struct {
	Description string `json:"widget_description"`
}

func (CreatedV1) EventType() string            { return "WidgetCreatedV1" }
func (CreatedV1) CreatesAggregate()            {}
func (NameChangedV1) EventType() string        { return "WidgetNameChangedV1" }
func (DescriptionChangedV1) EventType() string { return "WidgetDescriptionChangedV1" }

// Events returns an example of every widget event for registry setup.
func Events() []ordermesh.EventPayload {
	return []ordermesh.EventPayload{CreatedV1{}, NameChangedV1{}, DescriptionChangedV1{}}
}

// ApplyCommand validates cmd against the current state and, if it is
// accepted, applies the resulting event.
func (w *Widget) ApplyCommand(cmd Command) (ordermesh.CommandOutcome, error) {
	switch c := cmd.(type) {
	case Create:
		if err := ordermesh.RequireNotCreated(w); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if err := validateName(c.Name); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if err := validateDescription(c.Description); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		return ordermesh.Record(w, CreatedV1{Name: c.Name, Description: c.Description})

	case ChangeName:
		if err := ordermesh.RequireCreated(w); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if err := validateName(c.Name); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		return ordermesh.Record(w, NameChangedV1{Name: c.Name})

	case ChangeDescription:
		if err := ordermesh.RequireCreated(w); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		if err := validateDescription(c.Description); err != nil {
			return ordermesh.CommandOutcome{}, err
		}
		return ordermesh.Record(w, DescriptionChangedV1{Description: c.Description})

	default:
		return ordermesh.CommandOutcome{}, fmt.Errorf("widget: unknown command %T", cmd)
	}
}

// ApplyEvent folds one widget event.
func (w *Widget) ApplyEvent(payload ordermesh.EventPayload) error {
	switch e := payload.(type) {
	case CreatedV1:
		w.name = e.Name
		w.description = e.Description
	case NameChangedV1:
		w.name = e.Name
	case DescriptionChangedV1:
		w.description = e.Description
	default:
		return fmt.Errorf("widget: unexpected event %T", payload)
	}
	return nil
}

type state struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MarshalState encodes the widget fields.
func (w *Widget) MarshalState() ([]byte, error) {
	return json.Marshal(state{Name: w.name, Description: w.description})
}

// UnmarshalState restores the widget fields.
func (w *Widget) UnmarshalState(data []byte) error {
	var s state
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	w.name, w.description = s.Name, s.Description
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return ordermesh.NewValidationError(AggregateType, ErrInvalidName)
	}
	return nil
}

func validateDescription(description string) error {
	if strings.TrimSpace(description) == "" || utf8.RuneCountInString(description) > MaxDescriptionLength {
		return ordermesh.NewValidationError(AggregateType, ErrInvalidDescription)
	}
	return nil
}
