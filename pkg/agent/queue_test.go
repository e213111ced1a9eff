package agent

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnqueueTimesOutWhenFull(t *testing.T) {
	q := newQueue(1, 30*time.Millisecond)
	// nobody drains the channel, so the buffer stays full
	q.ch <- task{action: Action{Kind: ActionScan}}

	_, err := q.enqueue(Action{Kind: ActionScan})
	require.ErrorIs(t, err, ErrQueueTimeout)
}

func TestStaleRejectsOverdueClientTasks(t *testing.T) {
	q := newQueue(1, 30*time.Millisecond)

	old := task{action: Action{Kind: ActionLaunch}, enqueuedAt: time.Now().Add(-time.Second)}
	require.True(t, q.stale(old))

	fresh := task{action: Action{Kind: ActionLaunch}, enqueuedAt: time.Now()}
	require.False(t, q.stale(fresh))
}

func TestPostReleasesBlockedSendersOnStop(t *testing.T) {
	q := newQueue(1, 30*time.Millisecond)
	// nobody drains the channel, so every post below blocks
	q.ch <- task{action: Action{Kind: ActionScan}}

	before := runtime.NumGoroutine()
	for i := 0; i < 4; i++ {
		q.post(Action{Kind: actionProcessExited})
	}
	q.stop()

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInternalEventsNeverGoStale(t *testing.T) {
	q := newQueue(1, 30*time.Millisecond)
	q.post(Action{Kind: actionProcessExited})

	tk := <-q.ch
	tk.enqueuedAt = time.Now().Add(-time.Minute)
	require.False(t, q.stale(tk))
}
