package host

import (
	"sync"

	"github.com/alphadose/haxmap"
)

// Turns tracks the running turn of every session. Connections that write to
// the same transcript share one Turns so a session never streams two turns at
// once, whichever connection they arrive on.
type Turns struct {
	mu      sync.Mutex
	running *haxmap.Map[string, *turn] // session id -> running turn
}

// NewTurns creates an empty turn registry.
func NewTurns() *Turns {
	return &Turns{running: haxmap.New[string, *turn]()}
}

// Running returns the request id of the turn running for a session.
func (ts *Turns) Running(sessionID string) (string, bool) {
	t, ok := ts.running.Get(sessionID)
	if !ok {
		return "", false
	}
	return t.requestID, true
}

// swap makes t the running turn of its session and returns the turn it replaces.
func (ts *Turns) swap(t *turn) (*turn, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	prev, ok := ts.running.Get(t.sessionID)
	ts.running.Set(t.sessionID, t)
	return prev, ok
}

func (ts *Turns) get(sessionID string) (*turn, bool) {
	return ts.running.Get(sessionID)
}

func (ts *Turns) release(t *turn) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if cur, ok := ts.running.Get(t.sessionID); ok && cur == t {
		ts.running.Del(t.sessionID)
	}
}
