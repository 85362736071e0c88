package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEvent = errors.New("unknown event")

// EventName is a source to controller state or telemetry notification.
type EventName string

const (
	EvtActivityState   EventName = "activity-state"
	EvtDeviceInventory EventName = "device-inventory"
	EvtCapabilitySet   EventName = "capability-set"
	EvtWarning         EventName = "warning"
)

// ResyncEvents are the events a source announces in reply to request-state.
var ResyncEvents = []EventName{EvtDeviceInventory, EvtCapabilitySet, EvtActivityState}

// Event args are opaque to the relay; only the name is checked.
type Event struct {
	Name EventName       `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

func ParseEvent(name string, args json.RawMessage) (Event, error) {
	switch n := EventName(name); n {
	case EvtActivityState, EvtDeviceInventory, EvtCapabilitySet, EvtWarning:
		if len(args) > 0 && !json.Valid(args) {
			return Event{}, fmt.Errorf("%w: args are not json", ErrBadArgs)
		}
		return Event{Name: n, Args: args}, nil
	}
	return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}
