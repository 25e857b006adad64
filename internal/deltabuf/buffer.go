// Package deltabuf coalesces streamed text fragments so that a consumer
// renders at most once per tick instead of once per fragment.
package deltabuf

import (
	"strings"
	"sync"
	"time"
)

// Scheduler runs fn on the next tick. The returned function cancels the
// scheduled call if it has not run yet.
type Scheduler interface {
	Schedule(fn func()) (stop func())
}

// DefaultInterval is a typical render tick.
const DefaultInterval = 16 * time.Millisecond

// Ticker schedules on a timer.
type Ticker struct {
	Interval time.Duration
}

func (t Ticker) Schedule(fn func()) func() {
	d := t.Interval
	if d <= 0 {
		d = DefaultInterval
	}
	timer := time.AfterFunc(d, fn)
	return func() { timer.Stop() }
}

// Manual only runs scheduled work when Tick is called.
type Manual struct {
	mu      sync.Mutex
	pending func()
}

func (m *Manual) Schedule(fn func()) func() {
	m.mu.Lock()
	m.pending = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.pending = nil
		m.mu.Unlock()
	}
}

// Pending reports whether a tick is scheduled.
func (m *Manual) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Tick runs the scheduled work, if any.
func (m *Manual) Tick() {
	m.mu.Lock()
	fn := m.pending
	m.pending = nil
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// ApplyFunc receives the text accumulated for one message.
type ApplyFunc func(id, text string)

// Buffer accumulates fragments per message id.
type Buffer struct {
	mu       sync.Mutex
	pending  map[string]*strings.Builder
	order    []string
	stop     func()
	gen      uint64
	disposed bool

	applyMu sync.Mutex // taken before mu
	apply   ApplyFunc
	sched   Scheduler
}

// New creates a buffer that hands coalesced text to apply.
func New(apply ApplyFunc, sched Scheduler) *Buffer {
	if sched == nil {
		sched = Ticker{}
	}
	return &Buffer{
		pending: make(map[string]*strings.Builder),
		apply:   apply,
		sched:   sched,
	}
}

// Enqueue appends a fragment for id and schedules a flush when none is
// pending. Fragments enqueued after Dispose are dropped.
func (b *Buffer) Enqueue(id, fragment string) {
	if fragment == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disposed {
		return
	}

	sb, ok := b.pending[id]
	if !ok {
		sb = &strings.Builder{}
		b.pending[id] = sb
		b.order = append(b.order, id)
	}
	sb.WriteString(fragment)

	if b.stop == nil {
		b.gen++
		gen := b.gen
		b.stop = b.sched.Schedule(func() { b.tick(gen) })
	}
}

// FlushMessage applies the pending text of one message.
func (b *Buffer) FlushMessage(id string) {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	b.mu.Lock()
	sb, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
	if len(b.pending) == 0 {
		b.stopLocked()
	}
	b.mu.Unlock()

	if ok {
		b.apply(id, sb.String())
	}
}

// FlushAll applies every pending message in enqueue order.
func (b *Buffer) FlushAll() {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	b.mu.Lock()
	ids, texts := b.takeLocked()
	b.stopLocked()
	b.mu.Unlock()

	b.applyAll(ids, texts)
}

// Dispose flushes synchronously and stops all further scheduling.
func (b *Buffer) Dispose() {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	ids, texts := b.takeLocked()
	b.stopLocked()
	b.mu.Unlock()

	b.applyAll(ids, texts)
}

// Pending returns the unflushed text of a message.
func (b *Buffer) Pending(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sb, ok := b.pending[id]; ok {
		return sb.String()
	}
	return ""
}

func (b *Buffer) tick(gen uint64) {
	b.applyMu.Lock()
	defer b.applyMu.Unlock()

	b.mu.Lock()
	if gen != b.gen || b.stop == nil {
		b.mu.Unlock()
		return
	}
	b.stop = nil
	ids, texts := b.takeLocked()
	b.mu.Unlock()

	b.applyAll(ids, texts)
}

func (b *Buffer) takeLocked() ([]string, []string) {
	if len(b.order) == 0 {
		return nil, nil
	}
	ids := b.order
	texts := make([]string, len(ids))
	for i, id := range ids {
		texts[i] = b.pending[id].String()
		delete(b.pending, id)
	}
	b.order = nil
	return ids, texts
}

func (b *Buffer) stopLocked() {
	if b.stop != nil {
		b.stop()
		b.stop = nil
	}
}

// applyAll must be called with applyMu held, so texts taken under mu reach
// apply in the order they were taken.
func (b *Buffer) applyAll(ids, texts []string) {
	for i, id := range ids {
		b.apply(id, texts[i])
	}
}
