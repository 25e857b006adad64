package cancel

import (
	"sync"
	"time"
)

// Timeout is a controller that cancels itself with a *TimeoutReason once its
// deadline passes. A zero or negative duration never fires.
type Timeout struct {
	*Controller

	kind  TimeoutKind
	after time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	disposed bool
}

// NewTimeout creates and arms a timeout of the given kind.
func NewTimeout(kind TimeoutKind, after time.Duration) *Timeout {
	t := &Timeout{
		Controller: NewController(),
		kind:       kind,
		after:      after,
	}
	t.Reset()
	return t
}

// Reset re-arms the timer for another full duration. It is a no-op once the
// timeout fired or was disposed.
func (t *Timeout) Reset() {
	if t.after <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed || t.aborted() {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.after, t.fire)
}

// Dispose clears the pending timer without cancelling the signal.
func (t *Timeout) Dispose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disposed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Timeout) fire() {
	t.Cancel(&TimeoutReason{Kind: t.kind, After: t.after})
}
