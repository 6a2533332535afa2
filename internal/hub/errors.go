package hub

import "errors"

var (
	ErrHubNotRunning       = errors.New("hub is not running")
	ErrCapacityExceeded    = errors.New("connection capacity exceeded")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrClassAlreadySet     = errors.New("connection already scoped to a class")
	ErrUnknownEvent        = errors.New("unknown client event")
	ErrInvalidConnectionID = errors.New("connection has no id")
)
