package fragment

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/backkem/zssp/pkg/message"
)

// Reassembly limits.
const (
	// DefaultMaxMessages is the default number of partially received
	// messages kept per session.
	DefaultMaxMessages = 16

	// DefaultTimeoutMs is the default age after which a partial message is
	// abandoned.
	DefaultTimeoutMs int64 = 5000
)

// key identifies a message within a session.
type key struct {
	generation uint32
	messageID  uint64
}

// partial holds the fragments of one message received so far.
type partial struct {
	total    uint8
	received int
	size     int
	parts    [][]byte
	firstAt  int64
}

// ReassemblerConfig configures a Reassembler.
type ReassemblerConfig struct {
	// MaxMessages is the number of partial messages kept at once. When a new
	// message arrives and the table is full, the least recently touched
	// partial message is dropped.
	// Default: DefaultMaxMessages
	MaxMessages int

	// TimeoutMs is the age after which Evict drops a partial message.
	// Default: DefaultTimeoutMs
	TimeoutMs int64

	// OnDrop is called for every partial message that is abandoned, either by
	// eviction from a full table or by timeout. Optional.
	OnDrop func(generation uint32, messageID uint64)

	// Budget, when set, is charged for every buffered fragment and shared
	// with other reassemblers. Optional.
	Budget *Budget
}

// Reassembler buffers fragments until every ordinal of a message has arrived.
// Its memory is bounded by MaxMessages * 255 fragments of one MTU each, and
// by its Budget.
//
// Reassembler is not safe for concurrent use; the owning session serializes
// access.
type Reassembler struct {
	cache     *lru.Cache[key, *partial]
	timeoutMs int64
	onDrop    func(generation uint32, messageID uint64)
	budget    *Budget
	// silent suppresses onDrop for removals that are not abandonment.
	silent bool
}

// NewReassembler creates a Reassembler with the given configuration.
func NewReassembler(config ReassemblerConfig) (*Reassembler, error) {
	if config.MaxMessages <= 0 {
		config.MaxMessages = DefaultMaxMessages
	}
	if config.TimeoutMs <= 0 {
		config.TimeoutMs = DefaultTimeoutMs
	}

	r := &Reassembler{
		timeoutMs: config.TimeoutMs,
		onDrop:    config.OnDrop,
		budget:    config.Budget,
	}

	cache, err := lru.NewWithEvict[key, *partial](config.MaxMessages, func(k key, p *partial) {
		r.budget.release(p.size)
		if !r.silent && r.onDrop != nil {
			r.onDrop(k.generation, k.messageID)
		}
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Add stores a fragment. When the fragment completes its message, the
// reassembled message is returned with complete set to true.
//
// Single-fragment messages are returned immediately without buffering.
// A fragment whose total disagrees with earlier fragments of the same message
// drops the whole message and fails with message.ErrMalformedPacket.
func (r *Reassembler) Add(f Fragment, now int64) (msg []byte, complete bool, err error) {
	if f.Total == 0 || f.Number >= f.Total {
		return nil, false, fmt.Errorf("%w: fragment %d of %d", message.ErrMalformedPacket, f.Number, f.Total)
	}
	if f.Total == 1 {
		return f.Payload, true, nil
	}

	id, err := f.MessageID()
	if err != nil {
		return nil, false, err
	}
	k := key{generation: f.Generation, messageID: id}

	p, ok := r.cache.Get(k)
	if ok && p.total != f.Total {
		r.cache.Remove(k)
		return nil, false, fmt.Errorf("%w: fragment count %d, earlier fragments said %d", message.ErrMalformedPacket, f.Total, p.total)
	}
	if ok && p.parts[f.Number] != nil {
		return nil, false, nil
	}
	if !r.budget.reserve(len(f.Payload)) {
		return nil, false, fmt.Errorf("%w: %d of %d bytes in use", ErrBudgetExhausted, r.budget.Used(), r.budget.Limit())
	}
	if !ok {
		p = &partial{
			total:   f.Total,
			parts:   make([][]byte, f.Total),
			firstAt: now,
		}
		r.cache.Add(k, p)
	}

	p.parts[f.Number] = f.Payload
	p.received++
	p.size += len(f.Payload)
	if p.received < int(p.total) {
		return nil, false, nil
	}

	r.removeSilently(k)

	msg = make([]byte, 0, p.size)
	for _, part := range p.parts {
		msg = append(msg, part...)
	}
	return msg, true, nil
}

// removeSilently removes a completed message. Cache removal fires the evict
// callback, which must only report abandoned messages.
func (r *Reassembler) removeSilently(k key) {
	r.silent = true
	r.cache.Remove(k)
	r.silent = false
}

// Evict drops partial messages whose first fragment arrived more than the
// configured timeout before now. Returns the number dropped.
func (r *Reassembler) Evict(now int64) int {
	dropped := 0
	for _, k := range r.cache.Keys() {
		p, ok := r.cache.Peek(k)
		if !ok {
			continue
		}
		if now-p.firstAt >= r.timeoutMs {
			r.cache.Remove(k)
			dropped++
		}
	}
	return dropped
}

// DropGeneration abandons every partial message of a key generation that is
// no longer accepted.
func (r *Reassembler) DropGeneration(generation uint32) {
	for _, k := range r.cache.Keys() {
		if k.generation == generation {
			r.cache.Remove(k)
		}
	}
}

// NextDeadline returns the time at which the oldest partial message expires,
// or ok=false if nothing is buffered.
func (r *Reassembler) NextDeadline() (deadline int64, ok bool) {
	for _, k := range r.cache.Keys() {
		p, found := r.cache.Peek(k)
		if !found {
			continue
		}
		d := p.firstAt + r.timeoutMs
		if !ok || d < deadline {
			deadline, ok = d, true
		}
	}
	return deadline, ok
}

// Pending returns the number of partially received messages.
func (r *Reassembler) Pending() int {
	return r.cache.Len()
}

// Reset drops every partial message without reporting them.
func (r *Reassembler) Reset() {
	r.silent = true
	r.cache.Purge()
	r.silent = false
}
