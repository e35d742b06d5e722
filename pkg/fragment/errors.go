package fragment

import "errors"

// Fragmentation errors.
var (
	// ErrDataTooLarge is returned when a message needs more fragments than a
	// header can express.
	ErrDataTooLarge = errors.New("fragment: data too large")

	// ErrInvalidMTU is returned when the MTU leaves no room for payload.
	ErrInvalidMTU = errors.New("fragment: invalid MTU")

	// ErrBudgetExhausted is returned when buffering a fragment would exceed
	// the shared reassembly Budget.
	ErrBudgetExhausted = errors.New("fragment: reassembly budget exhausted")
)
