package types

import "errors"

var (
	ErrInvalidUserID    = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidClassID   = errors.New("class ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidEventName = errors.New("invalid event name")
	ErrPayloadTooLarge  = errors.New("event payload exceeds 64KB limit")
)
