// Package decode turns raw frame payloads into displayable notifications.
// Decoding never fails: anything it cannot understand becomes a generic
// "New event" notification carrying the raw text.
package decode

import (
	"errors"
	"fmt"
	"time"

	"roomnotify/internal/notification"
	"roomnotify/internal/runtime/clock"
)

// Source says which kind of topic a frame arrived on.
type Source int

const (
	SourceEntity Source = iota
	SourceBroadcast
)

func (s Source) String() string {
	switch s {
	case SourceEntity:
		return "entity"
	case SourceBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

const (
	DateUnavailable = "date unavailable"
	dateLayout      = "02/01/2006 15:04"

	fallbackPrefix   = "New event: "
	defaultAlertText = "New alert received"
)

type Decoder struct {
	clk clock.Clock
}

func New(clk clock.Clock) *Decoder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Decoder{clk: clk}
}

// Decode builds a notification candidate (no id, no fingerprint) from payload.
// ok is false when the fallback path was taken.
func (d *Decoder) Decode(src Source, payload []byte) (n notification.Notification, ok bool) {
	n = notification.Notification{Timestamp: d.clk.Now()}

	ev, err := Parse(payload)
	if errors.Is(err, ErrUnrecognized) && src == SourceBroadcast {
		ev, err = &GenericAlert{Message: defaultAlertText, Category: notification.CategoryInfo}, nil
	}
	if err != nil {
		n.Message = fallbackPrefix + string(payload)
		n.Category = notification.CategoryInfo
		return n, false
	}

	n.Message, n.Category = d.Render(ev)
	return n, true
}

// Render formats an event as user-facing text.
func (d *Decoder) Render(ev Event) (string, notification.Category) {
	switch e := ev.(type) {
	case *MaintenanceScheduled:
		msg := fmt.Sprintf("Maintenance in room %d: \"%s\" scheduled from %s to %s",
			e.RoomID, e.Reason, FormatDate(e.Start), FormatDate(e.End))
		return msg, notification.CategoryWarning
	case *GenericAlert:
		cat := e.Category
		if _, known := notification.ParseCategory(string(cat)); !known {
			cat = notification.CategoryInfo
		}
		return e.Message, cat
	default:
		return defaultAlertText, notification.CategoryInfo
	}
}

// FormatDate renders a [year, month, day, hour, minute] tuple as dd/mm/yyyy hh:mm.
// The tuple is a wall-clock reading, so it is laid out in UTC where no DST gap
// can shift it. Out-of-range components roll over the way time.Date normalizes them.
func FormatDate(tuple []int) string {
	if len(tuple) < 5 {
		return DateUnavailable
	}
	t := time.Date(tuple[0], time.Month(tuple[1]), tuple[2], tuple[3], tuple[4], 0, 0, time.UTC)
	return t.Format(dateLayout)
}
