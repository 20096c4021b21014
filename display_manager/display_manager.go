// Package display_manager turns MCE display_status_ind signals into typed
// display state events.
package display_manager

import (
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"sailfishos.org/unblank_daemon/dbusutil"
)

// DisplayState is the state string carried by display_status_ind.
type DisplayState string

// Display states emitted by MCE. Other values may appear and are passed on
// unchanged.
const (
	StateOn  DisplayState = "on"
	StateDim DisplayState = "dim"
	StateOff DisplayState = "off"
)

// EventKind tags the variant held by an Event.
type EventKind int

const (
	KindUnrecognized EventKind = iota
	KindDisplayState
)

// Event is a bus message decoded at the bus boundary.
type Event struct {
	Kind  EventKind
	State DisplayState
}

// DecodeEvent decodes sig. Signals other than display_status_ind yield an
// unrecognized event; a display_status_ind without a single string argument
// yields an unrecognized event and a *dbusutil.ProtocolMismatchError.
func DecodeEvent(sig *dbus.Signal) (Event, error) {
	if sig == nil || sig.Name != dbusutil.GetMethod(dbusutil.MceSignalInterface, dbusutil.MceDisplaySignal) {
		return Event{Kind: KindUnrecognized}, nil
	}
	value, err := dbusutil.DecodeStringSignal(sig)
	if err != nil {
		return Event{Kind: KindUnrecognized}, err
	}
	return Event{Kind: KindDisplayState, State: DisplayState(value)}, nil
}

// Listener receives every decoded display state.
type Listener func(DisplayState)

// DisplayManager follows the display state reported by MCE.
type DisplayManager struct {
	log       *zap.SugaredLogger
	state     DisplayState
	listeners []Listener
}

// NewDisplayManager initializes a new DisplayManager instance.
func NewDisplayManager(log *zap.SugaredLogger) *DisplayManager {
	return &DisplayManager{log: log}
}

// State returns the last display state seen, or "" before the first signal.
func (dm *DisplayManager) State() DisplayState {
	return dm.state
}

// AddListener registers l for all subsequent display states.
func (dm *DisplayManager) AddListener(l Listener) {
	dm.listeners = append(dm.listeners, l)
}

// HandleDisplayStatus processes a display_status_ind signal.
func (dm *DisplayManager) HandleDisplayStatus(signal *dbus.Signal) error {
	event, err := DecodeEvent(signal)
	if err != nil {
		return err
	}
	if event.Kind != KindDisplayState {
		return nil
	}

	if event.State != dm.state {
		dm.log.Debugf("Display state %q -> %q", dm.state, event.State)
	}
	dm.state = event.State
	for _, l := range dm.listeners {
		l(event.State)
	}
	return nil
}

// Register registers the display manager with the signal server.
func (dm *DisplayManager) Register(sigServer *dbusutil.SignalServer) {
	sigServer.RegisterSignalHandler(dbusutil.MceDisplaySignal, dm.HandleDisplayStatus)
	dm.log.Debug("Register display manager")
}
