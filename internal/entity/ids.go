package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderID returns a human-readable order id: a UTC date prefix and a
// random suffix, e.g. ORD-20261019-9F1C2A7B. Collisions are possible but
// rare; repositories report them as ErrDuplicateOrderID.
func NewOrderID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix
}

// NewItemID returns a unique order item id.
func NewItemID() string {
	return uuid.NewString()
}
