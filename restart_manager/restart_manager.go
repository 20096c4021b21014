// Package restart_manager restarts the sensor daemon whenever the display
// turns on, keeping at most one restart request in flight.
package restart_manager

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"sailfishos.org/unblank_daemon/config"
	"sailfishos.org/unblank_daemon/dbusutil"
	"sailfishos.org/unblank_daemon/display_manager"
	"sailfishos.org/unblank_daemon/mainloop"
)

const (
	// States of the restart request.
	StateIdle            = "idle"
	StateRestartInFlight = "restart_in_flight"

	// Events driving the request.
	eventSubmit  = "submit"
	eventRelease = "release"
)

// Requester submits asynchronous bus calls.
type Requester interface {
	CallAsync(ctx context.Context, mc dbusutil.MethodCall) (*dbusutil.PendingCall, error)
}

// Stats counts what happened to display-on events.
type Stats struct {
	Submitted  int
	Suppressed int
	Failed     int
	Released   int
}

// RestartManager decides, for each display state, whether to ask systemd to
// restart the unit. All methods run on the main loop.
type RestartManager struct {
	ctx     context.Context
	loop    *mainloop.Loop
	bus     Requester
	unit    string
	call    dbusutil.MethodCall
	machine *fsm.FSM
	log     *zap.SugaredLogger
	stats   Stats
}

// NewRestartManager initializes a new RestartManager in the idle state.
func NewRestartManager(ctx context.Context, loop *mainloop.Loop, bus Requester, cfg config.RestartConfig, log *zap.SugaredLogger) *RestartManager {
	manager := &RestartManager{
		ctx:  ctx,
		loop: loop,
		bus:  bus,
		unit: cfg.Unit,
		call: dbusutil.RestartUnitCall(cfg.Unit, cfg.Mode, cfg.Timeout),
		log:  log,
	}
	manager.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventSubmit, Src: []string{StateIdle}, Dst: StateRestartInFlight},
			{Name: eventRelease, Src: []string{StateRestartInFlight}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"before_submit": manager.submit,
			"enter_idle":    manager.enterIdle,
		},
	)
	return manager
}

// State returns the current state, StateIdle or StateRestartInFlight.
func (manager *RestartManager) State() string {
	return manager.machine.Current()
}

// Stats returns the event counters.
func (manager *RestartManager) Stats() Stats {
	return manager.stats
}

// submit sends the restart request. A failed submission cancels the
// transition, so the manager stays idle and the event is dropped.
func (manager *RestartManager) submit(_ context.Context, e *fsm.Event) {
	pending, err := manager.bus.CallAsync(manager.ctx, manager.call)
	if err != nil {
		e.Cancel(err)
		return
	}
	mainloop.Await(manager.loop, pending.Reply(), manager.handleReply)
	mainloop.Await(manager.loop, pending.Released(), manager.handleRelease)
}

func (manager *RestartManager) enterIdle(_ context.Context, e *fsm.Event) {
	manager.log.Debugf("Restart request for %s released", manager.unit)
}

func (manager *RestartManager) handleReply(err error) {
	if err != nil {
		manager.log.Warnf("%s: %v", manager.call.Name(), err)
		return
	}
	manager.log.Debugf("%s(%s): reply received", manager.call.Name(), manager.unit)
}

func (manager *RestartManager) handleRelease(struct{}) {
	if err := manager.machine.Event(manager.ctx, eventRelease); err != nil {
		manager.log.Errorf("Releasing restart request: %v", err)
		return
	}
	manager.stats.Released++
}

// HandleDisplayState requests a restart when state is "on" and no request
// is in flight. Display-on while a request is in flight is dropped, not queued.
func (manager *RestartManager) HandleDisplayState(state display_manager.DisplayState) {
	if state != display_manager.StateOn {
		return
	}
	if !manager.machine.Can(eventSubmit) {
		manager.stats.Suppressed++
		manager.log.Debugf("Restart of %v already in progress", manager.unit)
		return
	}
	if err := manager.machine.Event(manager.ctx, eventSubmit); err != nil {
		manager.stats.Failed++
		manager.log.Debugf("Restart of %v not requested: %v", manager.unit, err)
		return
	}
	manager.stats.Submitted++
	manager.log.Infof("Display on, restarting %v", manager.unit)
}

// Register subscribes the restart manager to display state changes.
func (manager *RestartManager) Register(displayManager *display_manager.DisplayManager) {
	displayManager.AddListener(manager.HandleDisplayState)
	manager.log.Debug("Restart manager registered")
}
