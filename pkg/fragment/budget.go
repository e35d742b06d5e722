package fragment

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Budget caps the payload bytes buffered by every Reassembler sharing it.
// It is safe for concurrent use. A nil *Budget imposes no limit.
type Budget struct {
	sem   *semaphore.Weighted
	limit int64
	used  atomic.Int64
}

// NewBudget creates a Budget of limit bytes. A limit <= 0 imposes no limit.
func NewBudget(limit int64) *Budget {
	b := &Budget{limit: limit}
	if limit > 0 {
		b.sem = semaphore.NewWeighted(limit)
	}
	return b
}

// reserve claims n bytes without blocking, or reports false if that would
// exceed the limit.
func (b *Budget) reserve(n int) bool {
	if b == nil || n <= 0 {
		return true
	}
	if b.sem != nil && !b.sem.TryAcquire(int64(n)) {
		return false
	}
	b.used.Add(int64(n))
	return true
}

func (b *Budget) release(n int) {
	if b == nil || n <= 0 {
		return
	}
	b.used.Add(-int64(n))
	if b.sem != nil {
		b.sem.Release(int64(n))
	}
}

// Used returns the bytes currently buffered.
func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}

// Limit returns the configured limit.
func (b *Budget) Limit() int64 {
	if b == nil {
		return 0
	}
	return b.limit
}
