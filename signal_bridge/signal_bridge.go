// Package signal_bridge moves OS signal delivery onto the main loop.
//
// The handler side runs on its own goroutine, fed by os/signal. It only
// writes a diagnostic to stderr, counts trapped signals and places the
// signal number in a single slot pipe. Everything else happens in the
// consumer, which runs on the main loop and decides the exit status.
package signal_bridge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"sailfishos.org/unblank_daemon/mainloop"
)

// Signals the bridge traps. Each one stops the main loop.
var trappedSignals = []os.Signal{unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM}

const breakMessage = "\n*** BREAK ***\n"

// abortGrace is how long the default abort waits for SIGABRT to take the
// process down before exiting on its own.
const abortGrace = 100 * time.Millisecond

// ErrHungLoop is passed to abort when a second trapped signal arrives.
var ErrHungLoop = errors.New("signal received again, main loop assumed hung")

// PipeIntegrityError reports a failed transfer through the signal pipe.
type PipeIntegrityError struct {
	Op     string
	Signal unix.Signal
}

func (e *PipeIntegrityError) Error() string {
	if e.Op == "read" {
		return "signal pipe: read failed, pipe closed"
	}
	return fmt.Sprintf("signal pipe: %s of %s failed", e.Op, unix.SignalName(e.Signal))
}

// Bridge forwards trapped OS signals to the main loop.
type Bridge struct {
	loop      *mainloop.Loop
	stderr    io.Writer
	log       *zap.SugaredLogger
	notify    chan os.Signal
	pipe      chan unix.Signal
	exitTries atomic.Int32
	abort     func(error)
}

// NewBridge creates a bridge that stops loop. Diagnostics are written to stderr.
func NewBridge(loop *mainloop.Loop, stderr io.Writer, log *zap.SugaredLogger) *Bridge {
	b := &Bridge{loop: loop, stderr: stderr, log: log}
	b.abort = b.defaultAbort
	return b
}

// SetAbortFunc replaces the function used to terminate the process when the
// bridge can no longer be trusted.
func (b *Bridge) SetAbortFunc(abort func(error)) {
	b.abort = abort
}

// Init creates the pipe, attaches its read end to the loop and starts
// trapping SIGHUP, SIGINT, SIGQUIT and SIGTERM.
func (b *Bridge) Init() error {
	if b.pipe != nil {
		return errors.New("signal bridge already initialized")
	}
	b.pipe = make(chan unix.Signal, 1)
	go b.forward()

	b.notify = make(chan os.Signal, len(trappedSignals))
	signal.Notify(b.notify, trappedSignals...)
	go func(notify <-chan os.Signal) {
		for sig := range notify {
			b.transmit(sig)
		}
	}(b.notify)

	b.log.Debug("Signal handlers installed")
	return nil
}

// Close stops trapping signals.
func (b *Bridge) Close() {
	if b.notify == nil {
		return
	}
	signal.Stop(b.notify)
	close(b.notify)
	b.notify = nil
}

// transmit is the handler side. It must stay minimal: no loop state is
// touched here.
func (b *Bridge) transmit(sig os.Signal) {
	signr, ok := sig.(unix.Signal)
	if !ok {
		return
	}

	switch signr {
	case unix.SIGHUP, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM:
		_, _ = io.WriteString(b.stderr, breakMessage)

		if b.exitTries.Add(1) >= 2 {
			b.abort(ErrHungLoop)
			return
		}
	}

	select {
	case b.pipe <- signr:
	default:
		b.abort(&PipeIntegrityError{Op: "write", Signal: signr})
	}
}

// forward posts one receive per signal read from the pipe.
func (b *Bridge) forward() {
	for {
		select {
		case signr, ok := <-b.pipe:
			if !b.loop.Post(func() { b.receive(signr, ok) }) || !ok {
				return
			}
		case <-b.loop.Done():
			return
		}
	}
}

// receive is the consumer side, run on the main loop.
func (b *Bridge) receive(signr unix.Signal, ok bool) {
	if !ok {
		b.abort(&PipeIntegrityError{Op: "read"})
		return
	}

	switch signr {
	case unix.SIGHUP, unix.SIGINT, unix.SIGQUIT:
		b.log.Infof("Received %s, exiting with failure", unix.SignalName(signr))
		b.loop.Stop(mainloop.ExitFailure)
	case unix.SIGTERM:
		b.log.Infof("Received %s, exiting", unix.SignalName(signr))
		b.loop.Stop(mainloop.ExitSuccess)
	default:
	}
}

func (b *Bridge) defaultAbort(err error) {
	b.log.Errorf("Aborting: %v", err)
	_ = b.log.Sync()

	signal.Reset(unix.SIGABRT)
	_ = unix.Kill(unix.Getpid(), unix.SIGABRT)
	time.Sleep(abortGrace)
	os.Exit(128 + int(unix.SIGABRT))
}
