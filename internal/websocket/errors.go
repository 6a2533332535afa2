package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full, frame dropped")
	ErrHandlerClosed    = errors.New("handler no longer accepting connections")
)
