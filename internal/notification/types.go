// Package notification holds the user-facing notification record and the
// in-memory store the presentation layer reads from.
package notification

import (
	"strings"
	"time"
)

type Category string

const (
	CategorySuccess Category = "success"
	CategoryError   Category = "error"
	CategoryWarning Category = "warning"
	CategoryInfo    Category = "info"
)

// ParseCategory maps a wire value to a Category. Unknown or empty values map to
// CategoryInfo with ok=false.
func ParseCategory(s string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategorySuccess:
		return CategorySuccess, true
	case CategoryError:
		return CategoryError, true
	case CategoryWarning:
		return CategoryWarning, true
	case CategoryInfo:
		return CategoryInfo, true
	default:
		return CategoryInfo, false
	}
}

// Notification is never mutated once it reaches the Store.
type Notification struct {
	ID          string    `json:"id"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Category    Category  `json:"category"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	// Topic is the destination the originating frame arrived on.
	Topic string `json:"topic,omitempty"`
}
