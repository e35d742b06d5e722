package message

import (
	"fmt"
	"math"
	"sync"
)

// Replay window constants.
const (
	// DefaultReplayWindowSize is the number of counters tracked behind the
	// highest accepted counter.
	DefaultReplayWindowSize = 1024
)

// SendCounter hands out strictly increasing packet counters for one key
// generation. Counters start at 0 for every generation because each
// generation has a fresh key. It is safe for concurrent use.
type SendCounter struct {
	value     uint64
	exhausted bool
	mu        sync.Mutex
}

// NewSendCounter creates a counter starting at 0.
func NewSendCounter() *SendCounter {
	return &SendCounter{}
}

// NewSendCounterWithValue creates a counter with a specific next value.
// Used for testing counter exhaustion.
func NewSendCounterWithValue(next uint64) *SendCounter {
	return &SendCounter{value: next}
}

// Next returns the next counter value and increments the internal counter.
// Returns ErrCounterExhausted once every value has been issued.
func (c *SendCounter) Next() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.exhausted {
		return 0, ErrCounterExhausted
	}

	current := c.value
	if c.value == math.MaxUint64 {
		c.exhausted = true
	} else {
		c.value++
	}
	return current, nil
}

// Reserve allocates n consecutive counters and returns the first.
// Fragments of one message use consecutive counters so that the first
// counter doubles as the message identifier.
func (c *SendCounter) Reserve(n int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 {
		return 0, fmt.Errorf("%w: reserve %d counters", ErrMalformedPacket, n)
	}
	if c.exhausted || math.MaxUint64-c.value < uint64(n) {
		return 0, ErrCounterExhausted
	}

	first := c.value
	c.value += uint64(n)
	return first, nil
}

// Current returns the next counter value without incrementing, which is also
// the number of counters issued so far.
func (c *SendCounter) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// ReplayWindow implements sliding bitmap replay detection over 64-bit
// counters. It remembers the highest accepted counter and a window of Size()
// counters behind it.
//
// Checking and accepting are separate steps so that a counter is consumed only
// after the packet carrying it has been authenticated. ReplayWindow is not
// safe for concurrent use; callers serialize access.
type ReplayWindow struct {
	size    uint64
	highest uint64
	started bool
	bitmap  []uint64
}

// NewReplayWindow creates a window that tracks size counters behind the
// highest one seen. size is rounded up to a multiple of 64; values below 64
// select DefaultReplayWindowSize.
func NewReplayWindow(size int) *ReplayWindow {
	if size < 64 {
		size = DefaultReplayWindowSize
	}
	words := (size + 63) / 64
	return &ReplayWindow{
		size:   uint64(words * 64),
		bitmap: make([]uint64, words),
	}
}

// Size returns the number of counters tracked behind the highest counter.
func (w *ReplayWindow) Size() int {
	return int(w.size)
}

// Highest returns the highest accepted counter and whether any counter has
// been accepted.
func (w *ReplayWindow) Highest() (uint64, bool) {
	return w.highest, w.started
}

// Check reports whether counter would be accepted, without recording it.
// Returns ErrReplayDetected for counters already seen or too far behind.
func (w *ReplayWindow) Check(counter uint64) error {
	if !w.started || counter > w.highest {
		return nil
	}
	if w.highest-counter >= w.size {
		return fmt.Errorf("%w: counter %d behind window (highest %d)", ErrReplayDetected, counter, w.highest)
	}
	if w.isSet(counter) {
		return fmt.Errorf("%w: counter %d", ErrReplayDetected, counter)
	}
	return nil
}

// Accept records counter as consumed. It re-checks the counter and returns
// ErrReplayDetected if it is not acceptable.
func (w *ReplayWindow) Accept(counter uint64) error {
	if err := w.Check(counter); err != nil {
		return err
	}

	if !w.started || counter > w.highest {
		w.advance(counter)
	}
	w.set(counter)
	return nil
}

// advance moves the window so that newHighest becomes the highest counter,
// clearing the slots of every counter skipped over.
func (w *ReplayWindow) advance(newHighest uint64) {
	if !w.started || newHighest-w.highest >= w.size {
		for i := range w.bitmap {
			w.bitmap[i] = 0
		}
	} else {
		for c := w.highest + 1; c <= newHighest; c++ {
			w.clear(c)
		}
	}
	w.highest = newHighest
	w.started = true
}

func (w *ReplayWindow) slot(counter uint64) (int, uint64) {
	bit := counter % w.size
	return int(bit / 64), uint64(1) << (bit % 64)
}

func (w *ReplayWindow) isSet(counter uint64) bool {
	i, mask := w.slot(counter)
	return w.bitmap[i]&mask != 0
}

func (w *ReplayWindow) set(counter uint64) {
	i, mask := w.slot(counter)
	w.bitmap[i] |= mask
}

func (w *ReplayWindow) clear(counter uint64) {
	i, mask := w.slot(counter)
	w.bitmap[i] &^= mask
}

// Reset forgets every accepted counter.
func (w *ReplayWindow) Reset() {
	for i := range w.bitmap {
		w.bitmap[i] = 0
	}
	w.highest = 0
	w.started = false
}
