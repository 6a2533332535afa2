package interfaces

import (
	"context"

	"socialwall/pkg/types"
)

// SessionValidator resolves an opaque session token.
type SessionValidator interface {
	// Validate returns the session the token belongs to, or nil when the
	// token is unknown. Expiry is checked by the caller.
	Validate(ctx context.Context, token string) (*types.SessionInfo, error)
}

// AccessChecker decides whether a user may enter a class room.
type AccessChecker interface {
	// HasClassAccess is true when the user has an active student enrollment
	// or an active teacher assignment for the class.
	HasClassAccess(ctx context.Context, userID, classID string) (bool, error)
}

// Store is a session and access backend with a lifecycle.
type Store interface {
	SessionValidator
	AccessChecker
	HealthCheck(ctx context.Context) error
	Close() error
}
