package websocket

import (
	"context"
	"testing"
	"time"

	"socialwall/pkg/types"
)

func newBufferedConnection(size int) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:      "test",
		writeCh: make(chan types.Frame, size),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func TestConnection_SendDropsWhenBufferFull(t *testing.T) {
	c := newBufferedConnection(2)

	for i := 0; i < 2; i++ {
		if err := c.Send(types.Frame{Event: "post:new"}); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if err := c.Send(types.Frame{Event: "post:new"}); err != ErrSendBufferFull {
		t.Fatalf("expected ErrSendBufferFull, got %v", err)
	}
	if c.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", c.Dropped())
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	c := newBufferedConnection(1)

	if err := c.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}

	if err := c.Send(types.Frame{Event: "post:new"}); err != ErrConnectionClosed {
		t.Errorf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cfg := DefaultConfig()
	cfg.PingInterval = cfg.PongWait
	if err := cfg.Validate(); err == nil {
		t.Error("ping interval equal to pong wait should be rejected")
	}

	cfg = DefaultConfig()
	cfg.SendBuffer = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero send buffer should be rejected")
	}
}
