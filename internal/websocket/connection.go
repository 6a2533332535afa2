// Package websocket is the gorilla/websocket transport: the handshake
// handler and the per-connection writer.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"socialwall/pkg/interfaces"
	"socialwall/pkg/types"
)

// Connection wraps a websocket with a single writer goroutine. Frames are
// written in the order Send accepted them.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan types.Frame
	writeWait time.Duration
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	dropped   atomic.Int64
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection starts the writer for conn.
func NewConnection(conn *websocket.Conn, bufferSize int, writeWait time.Duration, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:        uuid.NewString(),
		conn:      conn,
		writeCh:   make(chan types.Frame, bufferSize),
		writeWait: writeWait,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.logger = logger.With("conn_id", c.id)

	go c.writeLoop()

	return c
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Dropped returns how many frames were dropped on a full buffer.
func (c *Connection) Dropped() int64 { return c.dropped.Load() }

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.writeCh:
			data, err := json.Marshal(frame)
			if err != nil {
				c.logger.Error("frame encoding failed", "event", frame.Event, "error", err)
				continue
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", "error", err)
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues frame without blocking. A full buffer drops the frame.
func (c *Connection) Send(frame types.Frame) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	default:
		c.dropped.Add(1)
		return ErrSendBufferFull
	}
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
