// Package approval implements the human-in-the-loop approval queue that
// the interceptor consults before letting an intercepted tool call
// through, and that an operator (CLI or dashboard) resolves.
package approval

import (
	"sync"

	"github.com/google/uuid"
)

// Decision is the operator's resolution of a pending approval.
type Decision int

const (
	Fail Decision = iota
	Mock
	Accept
)

// ToolInfo summarizes one intercepted tool call for operator display.
type ToolInfo struct {
	Name         string
	InputSummary string
}

// Pending is one queued approval awaiting an operator decision.
type Pending struct {
	SessionID string
	Tools     []ToolInfo
	reply     chan Decision
}

// Queue is a thread-safe, in-memory table of pending approvals. Entries
// are transient: nothing here is persisted, and a process restart loses
// every pending approval (callers waiting on one will hit their timeout).
type Queue struct {
	mu      sync.Mutex
	pending map[string]*Pending
	subs    []func(id string, p Pending)
}

// New creates an empty approval queue.
func New() *Queue {
	return &Queue{pending: make(map[string]*Pending)}
}

// Subscribe registers a callback invoked whenever a new approval is
// enqueued. Used by the dashboard to broadcast live updates over its
// websocket connections.
func (q *Queue) Subscribe(fn func(id string, p Pending)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs = append(q.subs, fn)
}

// Enqueue inserts a new pending approval and returns its id and the
// channel the caller should receive the eventual decision on.
func (q *Queue) Enqueue(sessionID string, tools []ToolInfo) (string, <-chan Decision) {
	id := uuid.New().String()
	reply := make(chan Decision, 1)
	p := Pending{SessionID: sessionID, Tools: tools, reply: reply}

	q.mu.Lock()
	q.pending[id] = &p
	subs := append([]func(string, Pending){}, q.subs...)
	q.mu.Unlock()

	for _, fn := range subs {
		fn(id, p)
	}

	return id, reply
}

// ListPending returns every approval queued for the given session id, in
// no particular order.
func (q *Queue) ListPending(sessionID string) map[string][]ToolInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := map[string][]ToolInfo{}
	for id, p := range q.pending {
		if p.SessionID == sessionID {
			out[id] = p.Tools
		}
	}
	return out
}

// ListAll returns every pending approval across all sessions, keyed by
// approval id. Used by the dashboard to render the global pending queue.
func (q *Queue) ListAll() map[string]Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make(map[string]Pending, len(q.pending))
	for id, p := range q.pending {
		out[id] = *p
	}
	return out
}

// Resolve delivers a decision to the waiting caller for approvalID,
// atomically removing it from the queue. Returns false if no such entry
// exists (already resolved, timed out, or never queued) — a caller seeing
// false should not treat it as an error, since a double-resolve is
// expected when an operator and a timeout race.
func (q *Queue) Resolve(approvalID string, decision Decision) bool {
	q.mu.Lock()
	p, ok := q.pending[approvalID]
	if ok {
		delete(q.pending, approvalID)
	}
	q.mu.Unlock()

	if !ok {
		return false
	}
	p.reply <- decision
	return true
}

// Remove deletes approvalID from the queue without sending a decision.
// Used by the timeout path, which decides Fail itself instead of
// receiving a decision through Resolve.
func (q *Queue) Remove(approvalID string) {
	q.mu.Lock()
	delete(q.pending, approvalID)
	q.mu.Unlock()
}
