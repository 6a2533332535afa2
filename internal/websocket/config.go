package websocket

import (
	"errors"
	"time"
)

// Config tunes the transport.
type Config struct {
	SendBuffer       int
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	HandshakeTimeout time.Duration
	MaxMessageBytes  int64
	CookieName       string
	AllowedOrigins   []string
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:       100,
		PingInterval:     30 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageBytes:  128 * 1024,
		CookieName:       "session_token",
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.SendBuffer <= 0 {
		return errors.New("send buffer must be greater than 0")
	}
	if c.PingInterval <= 0 || c.PongWait <= 0 || c.WriteWait <= 0 {
		return errors.New("ping interval, pong wait and write wait must be greater than 0")
	}
	if c.PingInterval >= c.PongWait {
		return errors.New("ping interval must be shorter than pong wait")
	}
	if c.MaxMessageBytes <= 0 {
		return errors.New("max message bytes must be greater than 0")
	}
	return nil
}
