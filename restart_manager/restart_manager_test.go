package restart_manager

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sailfishos.org/unblank_daemon/config"
	"sailfishos.org/unblank_daemon/dbusutil"
	"sailfishos.org/unblank_daemon/display_manager"
	"sailfishos.org/unblank_daemon/mainloop"
)

type fakeRequester struct {
	err     error
	calls   []dbusutil.MethodCall
	pending []*dbusutil.PendingCall
}

func (r *fakeRequester) CallAsync(_ context.Context, mc dbusutil.MethodCall) (*dbusutil.PendingCall, error) {
	r.calls = append(r.calls, mc)
	if r.err != nil {
		return nil, r.err
	}
	p := dbusutil.NewPendingCall(mc)
	r.pending = append(r.pending, p)
	return p, nil
}

type fixture struct {
	manager *RestartManager
	bus     *fakeRequester
	loop    *mainloop.Loop
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core).Sugar()
	loop := mainloop.NewLoop(ctx, log)
	bus := &fakeRequester{}
	return &fixture{
		manager: NewRestartManager(ctx, loop, bus, config.DefaultConfig().Restart, log),
		bus:     bus,
		loop:    loop,
		logs:    logs,
	}
}

// complete finishes the n-th request and runs the reply and release
// notifications on the loop.
func (f *fixture) complete(t *testing.T, n int, err error) {
	t.Helper()
	f.bus.pending[n].Complete(err)
	require.True(t, f.loop.Iterate(true))
	require.True(t, f.loop.Iterate(true))
}

func TestRestartCycle(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, StateIdle, f.manager.State())

	f.manager.HandleDisplayState(display_manager.StateOn)
	require.Len(t, f.bus.calls, 1)
	assert.Equal(t, StateRestartInFlight, f.manager.State())

	call := f.bus.calls[0]
	assert.Equal(t, "org.freedesktop.systemd1", call.Destination)
	assert.Equal(t, dbus.ObjectPath("/org/freedesktop/systemd1"), call.Path)
	assert.Equal(t, "org.freedesktop.systemd1.Manager.RestartUnit", call.Name())
	assert.Equal(t, []interface{}{"sensorfwd.service", "replace"}, call.Args)

	f.manager.HandleDisplayState(display_manager.StateOn)
	assert.Len(t, f.bus.calls, 1)

	f.complete(t, 0, nil)
	assert.Equal(t, StateIdle, f.manager.State())

	f.manager.HandleDisplayState(display_manager.StateOn)
	assert.Len(t, f.bus.calls, 2)
	assert.Equal(t, StateRestartInFlight, f.manager.State())
	assert.Equal(t, Stats{Submitted: 2, Suppressed: 1, Released: 1}, f.manager.Stats())
}

func TestOtherStatesAreIgnored(t *testing.T) {
	f := newFixture(t)
	for _, state := range []display_manager.DisplayState{"off", "dim", "ON", "", "on "} {
		f.manager.HandleDisplayState(state)
	}
	assert.Empty(t, f.bus.calls)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, Stats{}, f.manager.Stats())
}

func TestDisplayOnWhileInFlightIsSuppressed(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		f.manager.HandleDisplayState(display_manager.StateOn)
		f.manager.HandleDisplayState(display_manager.StateOff)
	}
	assert.Len(t, f.bus.calls, 1)
	assert.Equal(t, 9, f.manager.Stats().Suppressed)
	assert.False(t, f.loop.Iterate(false))
}

func TestSubmissionFailureStaysIdle(t *testing.T) {
	f := newFixture(t)
	f.bus.err = &dbusutil.RequestSubmissionError{
		Interface: dbusutil.SystemdManagerInterface,
		Method:    dbusutil.SystemdRestartUnit,
		Err:       dbusutil.ErrNotConnected,
	}

	f.manager.HandleDisplayState(display_manager.StateOn)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, 1, f.manager.Stats().Failed)
	assert.False(t, f.loop.Iterate(false))

	f.bus.err = nil
	f.manager.HandleDisplayState(display_manager.StateOn)
	assert.Equal(t, StateRestartInFlight, f.manager.State())
	assert.Len(t, f.bus.pending, 1)
}

func TestReleaseRegardlessOfOutcome(t *testing.T) {
	outcomes := map[string]error{
		"success": nil,
		"error":   dbus.Error{Name: "org.freedesktop.systemd1.NoSuchUnit"},
		"timeout": context.DeadlineExceeded,
		"closed":  dbus.ErrClosed,
	}
	for name, outcome := range outcomes {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.manager.HandleDisplayState(display_manager.StateOn)
			f.complete(t, 0, outcome)

			assert.Equal(t, StateIdle, f.manager.State())
			assert.Equal(t, 1, f.manager.Stats().Released)

			warnings := f.logs.FilterLevelExact(zap.WarnLevel).Len()
			if outcome == nil {
				assert.Zero(t, warnings)
			} else {
				assert.Equal(t, 1, warnings)
			}
		})
	}
}

func TestCompleteTwiceReleasesOnce(t *testing.T) {
	f := newFixture(t)
	f.manager.HandleDisplayState(display_manager.StateOn)
	f.complete(t, 0, nil)
	f.bus.pending[0].Complete(errors.New("late"))

	assert.False(t, f.loop.Iterate(false))
	assert.Equal(t, 1, f.manager.Stats().Released)
}

// A request is submitted exactly when the state is "on" and nothing is in
// flight, over arbitrary interleavings of display states and completions.
func TestSubmissionMatchesModel(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(1))
	states := []display_manager.DisplayState{"on", "on", "off", "dim", "bogus"}

	inFlight := false
	submitted := 0
	for i := 0; i < 500; i++ {
		if inFlight && rng.Intn(4) == 0 {
			f.complete(t, len(f.bus.pending)-1, nil)
			inFlight = false
			continue
		}

		state := states[rng.Intn(len(states))]
		f.manager.HandleDisplayState(state)
		if state == display_manager.StateOn && !inFlight {
			inFlight = true
			submitted++
		}

		require.Equal(t, submitted, len(f.bus.calls), "step %d", i)
		if inFlight {
			require.Equal(t, StateRestartInFlight, f.manager.State())
		} else {
			require.Equal(t, StateIdle, f.manager.State())
		}
	}
}
