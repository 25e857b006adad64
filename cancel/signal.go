package cancel

import (
	"sync"
)

// Signal is the read-only side of a Controller.
type Signal interface {
	// Aborted reports whether the owning controller was cancelled.
	Aborted() bool
	// Reason returns the cancellation reason, nil while not aborted.
	Reason() error
	// Done returns a channel that is closed when the signal aborts.
	Done() <-chan struct{}
	// Subscribe registers fn to be called once with the reason when the
	// signal aborts. Subscribing to an aborted signal calls fn immediately.
	// The returned function removes the subscription.
	Subscribe(fn func(reason error)) (unsubscribe func())
}

type subscriber struct {
	id uint64
	fn func(error)
}

// Controller owns a single Signal and is the only way to abort it.
type Controller struct {
	mu     sync.Mutex
	reason error
	done   chan struct{}
	subs   []subscriber
	nextID uint64
}

// NewController creates a controller whose signal is not aborted.
func NewController() *Controller {
	return &Controller{done: make(chan struct{})}
}

// Signal returns the read-only view of the controller.
func (c *Controller) Signal() Signal {
	return signal{c}
}

// Cancel aborts the signal with the given reason. A nil reason is recorded as
// ErrCanceled. Only the first call has any effect.
func (c *Controller) Cancel(reason error) {
	if reason == nil {
		reason = ErrCanceled
	}

	c.mu.Lock()
	if c.reason != nil {
		c.mu.Unlock()
		return
	}
	c.reason = reason
	subs := c.subs
	c.subs = nil
	close(c.done)
	c.mu.Unlock()

	for _, s := range subs {
		s.fn(reason)
	}
}

func (c *Controller) aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason != nil
}

func (c *Controller) currentReason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *Controller) subscribe(fn func(error)) func() {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	if c.reason != nil {
		reason := c.reason
		c.mu.Unlock()
		fn(reason)
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, s := range c.subs {
				if s.id == id {
					c.subs = append(c.subs[:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

type signal struct {
	c *Controller
}

func (s signal) Aborted() bool { return s.c.aborted() }

func (s signal) Reason() error { return s.c.currentReason() }

func (s signal) Done() <-chan struct{} { return s.c.done }

func (s signal) Subscribe(fn func(error)) func() { return s.c.subscribe(fn) }

var never = NewController().Signal()

// Never returns a signal that never aborts.
func Never() Signal {
	return never
}

// OrNever returns s, or Never when s is nil.
func OrNever(s Signal) Signal {
	if s == nil {
		return never
	}
	return s
}
