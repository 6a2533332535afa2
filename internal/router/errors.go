package router

import "errors"

var (
	ErrInvalidClassID    = errors.New("invalid class id")
	ErrInvalidConnection = errors.New("invalid connection id")
	ErrClassMismatch     = errors.New("connection already joined another class")
	ErrRoleNotMember     = errors.New("role room member missing from general room")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)
