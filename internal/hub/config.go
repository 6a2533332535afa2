package hub

import (
	"errors"
	"time"

	"socialwall/internal/router"
)

// Config tunes admission, timeouts and signal limits.
type Config struct {
	MaxConnections int
	AuthTimeout    time.Duration
	SweepInterval  time.Duration
	IdleTimeout    time.Duration
	SignalLimit    int
	SignalWindow   time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 1000,
		AuthTimeout:    5 * time.Minute,
		SweepInterval:  5 * time.Minute,
		IdleTimeout:    30 * time.Minute,
		SignalLimit:    router.DefaultSignalLimit,
		SignalWindow:   router.DefaultSignalWindow,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.AuthTimeout <= 0 {
		return errors.New("auth timeout must be greater than 0")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be greater than 0")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be greater than 0")
	}
	return nil
}
