package companion

import (
	"context"
	"sync"

	"github.com/gustavoprado11/kinevo-2.0-sub002/internal/watch"
)

// LatestContext holds the most recent context pushed by the phone. Each Set
// overwrites the previous value; readers only ever see the newest one.
type LatestContext struct {
	mu      sync.Mutex
	snap    *watch.WorkoutSnapshot
	seq     uint64
	changed chan struct{}
}

func NewLatestContext() *LatestContext {
	return &LatestContext{changed: make(chan struct{})}
}

// Set stores snap (nil means "no workout pending") and wakes waiters.
func (l *LatestContext) Set(snap *watch.WorkoutSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = snap.Clone()
	l.seq++
	close(l.changed)
	l.changed = make(chan struct{})
}

// Get returns the newest context and its sequence number. seq is 0 until the
// first push, which tells "never received" apart from "received null".
func (l *LatestContext) Get() (snap *watch.WorkoutSnapshot, seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap.Clone(), l.seq
}

// Wait blocks until a context newer than after arrives or ctx ends.
func (l *LatestContext) Wait(ctx context.Context, after uint64) (*watch.WorkoutSnapshot, uint64, error) {
	for {
		l.mu.Lock()
		if l.seq > after {
			snap, seq := l.snap.Clone(), l.seq
			l.mu.Unlock()
			return snap, seq, nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}
