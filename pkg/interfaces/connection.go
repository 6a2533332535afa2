package interfaces

import "socialwall/pkg/types"

// Connection is one live transport channel to a client.
type Connection interface {
	// ID is unique per connection, not per user.
	ID() string

	// Send queues a frame without blocking. Implementations drop the frame
	// and return an error when the client cannot keep up.
	Send(frame types.Frame) error

	// Close tears down the transport. Safe to call more than once.
	Close() error
}
