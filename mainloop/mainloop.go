// Package mainloop provides the single goroutine event loop that drives the
// daemon. Bus traffic, pending call completions and OS signals are forwarded
// onto the loop so that component state is only ever touched from one place.
package mainloop

import (
	"context"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Process exit statuses, ordered by severity.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

const taskQueueSize = 32

// Loop is a run-to-completion task loop.
type Loop struct {
	ctx      context.Context
	log      *zap.SugaredLogger
	tasks    chan func()
	quit     chan struct{}
	quitOnce sync.Once
	started  atomic.Bool
	status   atomic.Int32
	exit     func(int)
}

// NewLoop creates a loop bound to ctx. Cancelling ctx ends Run with the
// status recorded so far.
func NewLoop(ctx context.Context, log *zap.SugaredLogger) *Loop {
	return &Loop{
		ctx:   ctx,
		log:   log,
		tasks: make(chan func(), taskQueueSize),
		quit:  make(chan struct{}),
		exit:  os.Exit,
	}
}

// SetExitFunc replaces os.Exit for a Stop issued before the loop runs.
func (l *Loop) SetExitFunc(exit func(int)) {
	l.exit = exit
}

// Status returns the highest exit status recorded by Stop.
func (l *Loop) Status() int {
	return int(l.status.Load())
}

// Done is closed once Stop has requested termination.
func (l *Loop) Done() <-chan struct{} {
	return l.quit
}

// Stop records status and asks the loop to return. A failure status is
// never downgraded by a later success. Stopping a loop that has not been
// started terminates the process with ExitFailure.
func (l *Loop) Stop(status int) {
	for {
		cur := l.status.Load()
		if int32(status) <= cur || l.status.CompareAndSwap(cur, int32(status)) {
			break
		}
	}

	if !l.started.Load() {
		l.log.Errorf("Stop(%d) requested before main loop started", status)
		l.exit(ExitFailure)
		return
	}
	l.quitOnce.Do(func() { close(l.quit) })
}

// Run executes posted tasks until Stop is called and returns the recorded
// exit status.
func (l *Loop) Run() int {
	if !l.started.CompareAndSwap(false, true) {
		l.log.Warn("Main loop is already running")
		return ExitFailure
	}

	l.log.Debug("Enter main loop")
	defer l.log.Debug("Leave main loop")

	for {
		select {
		case <-l.quit:
			return l.Status()
		default:
		}

		select {
		case <-l.quit:
			return l.Status()
		case <-l.ctx.Done():
			l.log.Infof("Main loop context finished: %v", l.ctx.Err())
			return l.Status()
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Iterate runs at most one pending task on the calling goroutine. With block
// set it waits for a task to arrive. It reports whether a task ran.
func (l *Loop) Iterate(block bool) bool {
	if !block {
		select {
		case fn := <-l.tasks:
			fn()
			return true
		default:
			return false
		}
	}

	select {
	case fn := <-l.tasks:
		fn()
		return true
	case <-l.quit:
		return false
	case <-l.ctx.Done():
		return false
	}
}

// Post queues fn for execution on the loop. It returns false when the loop
// has already been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.quit:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.quit:
		return false
	case <-l.ctx.Done():
		return false
	}
}

// Watch delivers every value received on ch to fn on the loop, until ch is
// closed or the loop stops.
func Watch[T any](l *Loop, ch <-chan T, fn func(T)) {
	go func() {
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					return
				}
				if !l.Post(func() { fn(v) }) {
					return
				}
			case <-l.quit:
				return
			case <-l.ctx.Done():
				return
			}
		}
	}()
}

// Await delivers the first value received on ch to fn on the loop. A closed
// channel delivers the zero value.
func Await[T any](l *Loop, ch <-chan T, fn func(T)) {
	go func() {
		select {
		case v := <-ch:
			l.Post(func() { fn(v) })
		case <-l.quit:
		case <-l.ctx.Done():
		}
	}()
}
