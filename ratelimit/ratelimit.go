package ratelimit

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed          = errors.New("limiter closed")
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrInvalidWindow   = errors.New("invalid window")
)

// Config configures a Limiter.
type Config struct {
	// Capacity is the number of tokens per window for each key.
	Capacity int

	// Window is the refill period.
	Window time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return ErrInvalidCapacity
	}
	if c.Window <= 0 {
		return ErrInvalidWindow
	}
	return nil
}

// Capacity describes the bucket for one key.
type Capacity struct {
	// Key is the rate-limited identity, such as a sender id.
	Key string

	// Available is the current number of available tokens.
	Available int

	// Total is the maximum capacity (tokens per window).
	Total int

	// Window is the refill period.
	Window time.Duration

	// InFlight tracks acquired tokens not yet released.
	InFlight int
}
