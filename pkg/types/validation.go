package types

import (
	"regexp"
)

// MaxPayloadBytes bounds the raw data of a client frame.
const MaxPayloadBytes = 65536

var (
	idRegex        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	eventNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*(:[a-z0-9_]+)*$`)
)

// Validate checks the frame name and payload size.
func (f *InboundFrame) Validate() error {
	if !IsValidEventName(f.Event) {
		return ErrInvalidEventName
	}
	if len(f.Data) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements.
// LMS ids are cuid/uuid shaped, so 64 characters is plenty.
func IsValidUserID(userID string) bool {
	return isValidID(userID)
}

// IsValidClassID checks if a class ID meets format requirements.
func IsValidClassID(classID string) bool {
	return isValidID(classID)
}

// IsValidEventName accepts lowercase colon separated names such as
// "typing:start" or "grade:published".
func IsValidEventName(name string) bool {
	if len(name) < 1 || len(name) > 64 {
		return false
	}
	return eventNameRegex.MatchString(name)
}

func isValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}
