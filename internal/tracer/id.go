// Package tracer mints the identifiers and timestamps stamped on decisions.
package tracer

import (
	"time"

	"github.com/google/uuid"
)

// NewRequestID generates the request identifier carried through the decision
// trace and returned to the caller.
func NewRequestID() string {
	return uuid.NewString()
}

// UTCNowISO returns the current UTC time in ISO format with Z suffix.
func UTCNowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
