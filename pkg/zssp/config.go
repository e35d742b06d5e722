package zssp

import (
	"fmt"

	"github.com/pion/logging"

	"github.com/backkem/zssp/pkg/session"
)

// Context limits.
const (
	// DefaultMaxSessions is the default capacity of the session table.
	DefaultMaxSessions = session.DefaultMaxSessions

	// DefaultMaxIncomingNegotiations is the default number of incoming
	// handshakes that may be pending at once.
	DefaultMaxIncomingNegotiations = 256

	// DefaultExpiredSessionMemory is the number of recently closed session
	// IDs remembered so late packets report ErrSessionExpired.
	DefaultExpiredSessionMemory = 1024

	// DefaultMaxReassemblyBytes is the default cap on fragment bytes
	// buffered across all sessions.
	DefaultMaxReassemblyBytes int64 = 32 << 20
)

// Config holds all configuration for a Context.
type Config struct {
	// Params are the session limits (rekey and expiry thresholds, timeouts,
	// MTU, replay window). Zero fields use defaults.
	Params session.Params

	// MaxSessions is the capacity of the session table.
	// Default: DefaultMaxSessions
	MaxSessions int

	// MaxIncomingNegotiations bounds pending incoming handshakes.
	// Default: DefaultMaxIncomingNegotiations
	MaxIncomingNegotiations int

	// ExpiredSessionMemory is the number of closed session IDs remembered.
	// Default: DefaultExpiredSessionMemory
	ExpiredSessionMemory int

	// MaxReassemblyBytes caps the fragment payload buffered for partially
	// received messages across every session of the Context. Fragments
	// beyond it are dropped with ErrResourceExhausted.
	// Default: DefaultMaxReassemblyBytes
	MaxReassemblyBytes int64

	// Random draws rekey jitter.
	// Default: session.DefaultRandomSource
	Random session.RandomSource

	// LoggerFactory creates the "zssp" logger. Nil disables logging.
	LoggerFactory logging.LoggerFactory

	// Metrics observes activity. Optional.
	Metrics Metrics

	// Callbacks - Optional. They run on the goroutine that caused the event,
	// outside any session lock.
	OnSessionEstablished func(s *session.Session)
	OnSessionClosed      func(s *session.Session, reason error)
	OnRatchet            func(s *session.Session, generation uint64)
}

// DefaultConfig returns a Config with every limit at its default.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// WithDefaults returns a copy of c with zero fields replaced by defaults.
func (c Config) WithDefaults() Config {
	c.Params = c.Params.WithDefaults()
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxIncomingNegotiations == 0 {
		c.MaxIncomingNegotiations = DefaultMaxIncomingNegotiations
	}
	if c.ExpiredSessionMemory == 0 {
		c.ExpiredSessionMemory = DefaultExpiredSessionMemory
	}
	if c.MaxReassemblyBytes == 0 {
		c.MaxReassemblyBytes = DefaultMaxReassemblyBytes
	}
	if c.Random == nil {
		c.Random = session.DefaultRandomSource
	}
	if c.Metrics == nil {
		c.Metrics = nopMetrics{}
	}
	return c
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.MaxSessions <= 0 || uint64(c.MaxSessions) > 1<<32 {
		return fmt.Errorf("%w: MaxSessions %d", ErrInvalidConfig, c.MaxSessions)
	}
	if c.MaxIncomingNegotiations <= 0 || c.MaxIncomingNegotiations > c.MaxSessions {
		return fmt.Errorf("%w: MaxIncomingNegotiations %d", ErrInvalidConfig, c.MaxIncomingNegotiations)
	}
	if c.ExpiredSessionMemory <= 0 {
		return fmt.Errorf("%w: ExpiredSessionMemory %d", ErrInvalidConfig, c.ExpiredSessionMemory)
	}
	if c.MaxReassemblyBytes < int64(c.Params.MTU) {
		return fmt.Errorf("%w: MaxReassemblyBytes %d below one MTU", ErrInvalidConfig, c.MaxReassemblyBytes)
	}
	return nil
}
