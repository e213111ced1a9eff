package agent

import (
	"errors"
	"time"

	"github.com/savehub/savehub/pkg/state"
)

type ActionKind string

const (
	ActionScan      ActionKind = "scan"
	ActionLaunch    ActionKind = "launch"
	ActionTerminate ActionKind = "terminate"
	// synthetic event from the exit watcher, keeps all session
	// transitions inside the one serialization point
	actionProcessExited ActionKind = "process_exited"
)

// Action is a transient state-changing request,
// consumed by the mutation queue.
type Action struct {
	Kind     ActionKind
	GameID   string
	SavePath string
	Origin   string
	gen      int
	// internal actions never time out in the buffer
	internal bool
}

// ErrQueueTimeout means the action waited behind others longer than
// the configured bound. The client should retry.
var ErrQueueTimeout = errors.New("action queue timeout")

type result struct {
	snap state.Snapshot
	err  error
}

type task struct {
	action     Action
	enqueuedAt time.Time
	resp       chan result
}

// queue serializes all state-changing actions into one ordered stream
// processed by a single worker. Each action is applied to completion
// before the next is dequeued.
type queue struct {
	ch      chan task
	timeout time.Duration
	done    chan struct{}
}

func newQueue(size int, timeout time.Duration) *queue {
	if size < 1 {
		size = 1
	}
	return &queue{ch: make(chan task, size), timeout: timeout, done: make(chan struct{})}
}

// enqueue submits a client action and waits for its result.
// Waiting for a free slot is bounded by the queue timeout; the worker
// additionally rejects tasks that waited past the bound in the buffer,
// so a timed-out client never has its action applied late.
func (q *queue) enqueue(a Action) (state.Snapshot, error) {
	t := task{action: a, enqueuedAt: time.Now(), resp: make(chan result, 1)}
	select {
	case q.ch <- t:
	case <-time.After(q.timeout):
		return state.Snapshot{}, ErrQueueTimeout
	}
	r := <-t.resp
	return r.snap, r.err
}

// post delivers an internal event. It never times out and never
// blocks the caller; watcher events must not be dropped while the
// worker is alive, and must not hang a goroutine once it is gone.
func (q *queue) post(a Action) {
	a.internal = true
	t := task{action: a, enqueuedAt: time.Now(), resp: make(chan result, 1)}
	go func() {
		select {
		case q.ch <- t:
		case <-q.done:
		}
	}()
}

// stop releases any posters still waiting for a buffer slot.
func (q *queue) stop() { close(q.done) }

// stale reports whether a dequeued client task already outlived the
// queue timeout. Internal events are applied regardless of age.
func (q *queue) stale(t task) bool {
	if t.action.internal {
		return false
	}
	return time.Since(t.enqueuedAt) > q.timeout
}
