package protocol

import (
	"sync"
)

// Outcome is the decision taken for one inbound event.
type Outcome int

const (
	Ignore Outcome = iota
	Accept
	Violation
)

func (o Outcome) String() string {
	switch o {
	case Accept:
		return "accept"
	case Violation:
		return "violation"
	default:
		return "ignore"
	}
}

// ViolationCode identifies a protocol violation.
type ViolationCode string

const (
	CodeRequestMismatch ViolationCode = "request_mismatch"
	CodeRequestMissing  ViolationCode = "request_missing"
	CodeTurnMissing     ViolationCode = "turn_missing"
	CodeTurnMismatch    ViolationCode = "turn_mismatch"
	CodeInvalidSeq      ViolationCode = "invalid_seq"
	CodeGap             ViolationCode = "gap"
)

// Verdict is the result of Guard.Check.
type Verdict struct {
	Outcome Outcome
	// Code is set for violations.
	Code ViolationCode
	// RequestID and SessionID name the affected request, when known.
	RequestID string
	SessionID string
	// Closed reports that the request reached its terminal state with this event.
	Closed bool
}

// State is the lifecycle of one request as seen by the receiver.
type State int

const (
	StateActive State = iota
	StateCancelling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCancelling:
		return "cancelling"
	case StateClosed:
		return "closed"
	default:
		return "active"
	}
}

type requestState struct {
	sessionID string
	state     State
	lastSeq   int
	turnID    string
}

// Guard correlates inbound events with the requests a connection started.
// One guard belongs to one connection; it is safe for concurrent use.
type Guard struct {
	mu       sync.Mutex
	active   map[string]string // session id -> request id
	requests map[string]*requestState
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{
		active:   make(map[string]string),
		requests: make(map[string]*requestState),
	}
}

// Begin makes requestID the active request of sessionID. State kept for the
// session's previous request is dropped.
func (g *Guard) Begin(sessionID, requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for id, st := range g.requests {
		if st.sessionID == sessionID && id != requestID {
			delete(g.requests, id)
		}
	}
	g.active[sessionID] = requestID
	g.requests[requestID] = &requestState{sessionID: sessionID}
}

// Cancel moves an active request to the cancelling state. Trailing deltas are
// ignored from then on while a terminal event is still accepted.
func (g *Guard) Cancel(requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if st, ok := g.requests[requestID]; ok && st.state == StateActive {
		st.state = StateCancelling
	}
}

// Release drops the active pointer for requestID.
func (g *Guard) Release(requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.requests[requestID]
	if !ok {
		return
	}
	if g.active[st.sessionID] == requestID {
		delete(g.active, st.sessionID)
	}
}

// Active returns the active request of a session.
func (g *Guard) Active(sessionID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.active[sessionID]
	return id, ok
}

// State returns the state of a known request.
func (g *Guard) State(requestID string) (State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.requests[requestID]
	if !ok {
		return 0, false
	}
	return st.state, true
}

// Check decides whether an inbound envelope is accepted. Violations close the
// affected request; they are reported through the verdict, never as errors.
func (g *Guard) Check(env Envelope) Verdict {
	ev, ok := env.Message.(Event)
	if !ok {
		return Verdict{Outcome: Ignore, RequestID: env.RequestID}
	}
	meta := ev.Meta()

	g.mu.Lock()
	defer g.mu.Unlock()

	// identity
	if env.RequestID != "" && meta.RequestID != "" && env.RequestID != meta.RequestID {
		return g.violate(meta.RequestID, meta.SessionID, CodeRequestMismatch)
	}
	requestID := meta.RequestID
	if requestID == "" {
		requestID = env.RequestID
	}
	if requestID == "" {
		activeID, hasActive := g.active[meta.SessionID]
		if meta.SessionID == "" || !hasActive {
			return Verdict{Outcome: Ignore, SessionID: meta.SessionID}
		}
		return g.violate(activeID, meta.SessionID, CodeRequestMissing)
	}

	st, ok := g.requests[requestID]
	if !ok {
		return Verdict{Outcome: Ignore, RequestID: requestID, SessionID: meta.SessionID}
	}
	if meta.SessionID != "" && meta.SessionID != st.sessionID {
		return g.violate(requestID, st.sessionID, CodeRequestMismatch)
	}
	if g.active[st.sessionID] != requestID || st.state == StateClosed {
		return Verdict{Outcome: Ignore, RequestID: requestID, SessionID: st.sessionID}
	}

	// turn binding
	switch {
	case meta.TurnID == "":
		return g.violate(requestID, st.sessionID, CodeTurnMissing)
	case st.turnID == "":
		st.turnID = meta.TurnID
	case st.turnID != meta.TurnID:
		return g.violate(requestID, st.sessionID, CodeTurnMismatch)
	}

	// sequence
	terminal := ev.Terminal()
	verdict := Verdict{Outcome: Accept, RequestID: requestID, SessionID: st.sessionID}

	if st.state == StateCancelling {
		if !terminal {
			verdict.Outcome = Ignore
			return verdict
		}
		if meta.Seq > st.lastSeq {
			st.lastSeq = meta.Seq
		}
		st.state = StateClosed
		verdict.Closed = true
		return verdict
	}

	if meta.Seq <= 0 {
		return g.violate(requestID, st.sessionID, CodeInvalidSeq)
	}
	if meta.Seq <= st.lastSeq {
		verdict.Outcome = Ignore
		return verdict
	}
	if meta.Seq > st.lastSeq+1 {
		return g.violate(requestID, st.sessionID, CodeGap)
	}
	st.lastSeq = meta.Seq
	if terminal {
		st.state = StateClosed
		verdict.Closed = true
	}
	return verdict
}

func (g *Guard) violate(requestID, sessionID string, code ViolationCode) Verdict {
	if st, ok := g.requests[requestID]; ok {
		st.state = StateClosed
		if sessionID == "" {
			sessionID = st.sessionID
		}
	}
	return Verdict{Outcome: Violation, Code: code, RequestID: requestID, SessionID: sessionID, Closed: true}
}
