package decode

import (
	"encoding/json"
	"errors"
	"fmt"

	"roomnotify/internal/notification"
)

var (
	// ErrUnrecognized means the payload is valid JSON but matches no known event shape.
	ErrUnrecognized = errors.New("decode: unrecognized event")
)

// Event is a decoded inbound domain event: *MaintenanceScheduled or *GenericAlert.
type Event interface {
	isEvent()
}

// MaintenanceScheduled announces a maintenance window for a room. Start and End
// are [year, month(1-12), day, hour, minute] tuples as sent on the wire.
type MaintenanceScheduled struct {
	RoomID        int
	Reason        string
	Start         []int
	End           []int
	CoordinatorID int
}

type GenericAlert struct {
	Message  string
	Category notification.Category
}

func (*MaintenanceScheduled) isEvent() {}
func (*GenericAlert) isEvent()         {}

// Parse decodes a raw payload into an Event. It returns a wrapped JSON error when
// the payload is not a JSON object and ErrUnrecognized for an object of unknown
// shape. The shape is picked from key presence; fields are then decoded one at
// a time so a mistyped field degrades to its zero value instead of losing the event.
func Parse(payload []byte) (Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if room, ok := field[int](fields, "consultorioId"); ok {
		reason, _ := field[string](fields, "motivo")
		start, _ := field[[]int](fields, "fechaInicio")
		end, _ := field[[]int](fields, "fechaFin")
		coordinator, _ := field[int](fields, "coordinadorUserId")
		return &MaintenanceScheduled{
			RoomID:        room,
			Reason:        reason,
			Start:         start,
			End:           end,
			CoordinatorID: coordinator,
		}, nil
	}
	if msg, ok := field[string](fields, "message"); ok && msg != "" {
		typ, _ := field[string](fields, "type")
		cat, _ := notification.ParseCategory(typ)
		return &GenericAlert{Message: msg, Category: cat}, nil
	}
	return nil, ErrUnrecognized
}

// field decodes fields[key] as T. ok is false when the key is absent, null or
// of another JSON type.
func field[T any](fields map[string]json.RawMessage, key string) (v T, ok bool) {
	raw, present := fields[key]
	if !present || string(raw) == "null" {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, false
	}
	return v, true
}
