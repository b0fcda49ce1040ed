package session

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrClosed is returned when work is submitted to a stopped loop.
var ErrClosed = errors.New("session loop closed")

// Loop runs submitted functions one at a time on a single goroutine.
type Loop struct {
	work chan func()
	done chan struct{}
}

// NewLoop returns a loop with room for buf queued functions.
func NewLoop(buf int) *Loop {
	return &Loop{work: make(chan func(), buf), done: make(chan struct{})}
}

// Run executes queued functions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.work:
			fn()
		}
	}
}

// Post queues fn and reports whether the loop accepted it.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.work <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. If ctx ends before
// fn starts, fn is skipped; once fn has started, Do waits for it.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	const (
		queued int32 = iota
		running
		abandoned
	)
	var phase atomic.Int32
	finished := make(chan struct{})
	if !l.Post(func() {
		if !phase.CompareAndSwap(queued, running) {
			return
		}
		fn()
		close(finished)
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		if phase.CompareAndSwap(queued, abandoned) {
			return ctx.Err()
		}
		<-finished
		return nil
	}
}
