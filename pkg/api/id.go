package api

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const (
	sessionIDPrefix = "sess_"

	// MaxSessionIDLength bounds caller-supplied session IDs so they stay
	// usable as storage keys.
	MaxSessionIDLength = 256
)

// NewSessionID generates a session ID with the "sess_" prefix followed by
// a random UUID in its 32 hex digit form.
func NewSessionID() string {
	return sessionIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidateSessionID checks whether id can be used as a session ID. Session
// IDs are opaque to the engine: any non-empty string of printable,
// non-space characters up to MaxSessionIDLength bytes is accepted.
func ValidateSessionID(id string) bool {
	if id == "" || len(id) > MaxSessionIDLength {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
