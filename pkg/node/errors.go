package node

import "errors"

// Node errors.
var (
	// ErrAlreadyStarted is returned when Start() is called on a running node.
	ErrAlreadyStarted = errors.New("node: already started")

	// ErrNotStarted is returned when an operation requires a running node.
	ErrNotStarted = errors.New("node: not started")

	// ErrStopped is returned when Start() is called on a stopped node.
	ErrStopped = errors.New("node: stopped")

	// ErrInvalidPath is returned when a session path is not a network address.
	ErrInvalidPath = errors.New("node: session path is not a net.Addr")
)
