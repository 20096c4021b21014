package dbusutil

import (
	"context"
	"strings"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"sailfishos.org/unblank_daemon/mainloop"
)

// SignalHandler defines a function type for handling D-Bus signals.
type SignalHandler func(*dbus.Signal) error

// SignalHandlers is a slice of SignalHandler functions.
type SignalHandlers []SignalHandler

// SignalMap maps signal member names to their respective handlers.
type SignalMap map[string]SignalHandlers

// SignalSource identifies the emitter whose signals a SignalServer follows.
type SignalSource struct {
	Sender    string
	Path      dbus.ObjectPath
	Interface string
}

// MceSignalSource is the MCE signal emitter.
var MceSignalSource = SignalSource{
	Sender:    MceServiceName,
	Path:      MceSignalPath,
	Interface: MceSignalInterface,
}

const signalQueueSize = 10

// SignalServer manages D-Bus signal registration and handling. Handlers run
// on the main loop.
type SignalServer struct {
	ctx    context.Context
	conn   Conn
	loop   *mainloop.Loop
	log    *zap.SugaredLogger
	source SignalSource
	sigmap SignalMap
	ch     chan *dbus.Signal
}

// NewSignalServer initializes a new SignalServer instance.
func NewSignalServer(ctx context.Context, conn Conn, loop *mainloop.Loop, source SignalSource, log *zap.SugaredLogger) *SignalServer {
	return &SignalServer{
		ctx:    ctx,
		conn:   conn,
		loop:   loop,
		log:    log,
		source: source,
		sigmap: make(SignalMap),
	}
}

// RegisterSignalHandler registers a handler for a specific D-Bus signal member.
func (sigServer *SignalServer) RegisterSignalHandler(sigName string, handler SignalHandler) {
	sigServer.sigmap[sigName] = append(sigServer.sigmap[sigName], handler)
}

func (sigServer *SignalServer) matchOptions(sigName string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchSender(sigServer.source.Sender),
		dbus.WithMatchObjectPath(sigServer.source.Path),
		dbus.WithMatchInterface(sigServer.source.Interface),
		dbus.WithMatchMember(sigName),
	}
}

// addMatchSignal adds a match rule for a specific D-Bus signal.
func (sigServer *SignalServer) addMatchSignal(sigName string) error {
	sigServer.log.Debugf("Add signal filter sender:%s, path:%s, interface:%s, signal:%s",
		sigServer.source.Sender, sigServer.source.Path, sigServer.source.Interface, sigName)
	return sigServer.conn.AddMatchSignal(sigServer.matchOptions(sigName)...)
}

// removeMatchSignal removes a match rule for a specific D-Bus signal.
func (sigServer *SignalServer) removeMatchSignal(sigName string) error {
	sigServer.log.Debugf("Remove signal filter sender:%s, path:%s, interface:%s, signal:%s",
		sigServer.source.Sender, sigServer.source.Path, sigServer.source.Interface, sigName)
	return sigServer.conn.RemoveMatchSignal(sigServer.matchOptions(sigName)...)
}

// addAllSignals adds match rules for all registered signals.
func (sigServer *SignalServer) addAllSignals() {
	for name := range sigServer.sigmap {
		if err := sigServer.addMatchSignal(name); err != nil {
			sigServer.log.Warnf("Add signal %s, got error: %v", name, err)
		}
	}
}

// removeAllSignals removes match rules for all registered signals.
func (sigServer *SignalServer) removeAllSignals() {
	for name := range sigServer.sigmap {
		if err := sigServer.removeMatchSignal(name); err != nil {
			sigServer.log.Warnf("Remove signal %s, got error: %v", name, err)
		}
	}
}

// handleSignal routes a signal to the handlers registered for its member.
// The connection delivers every signal it receives, including ones outside
// the match rules, so anything not from the followed interface is dropped.
func (sigServer *SignalServer) handleSignal(sig *dbus.Signal) {
	if sig == nil {
		return
	}
	prefix := sigServer.source.Interface + "."
	if !strings.HasPrefix(sig.Name, prefix) {
		return
	}
	member := sig.Name[len(prefix):]
	handlers, ok := sigServer.sigmap[member]
	if !ok {
		return
	}

	sigServer.log.Debugf("Received signal %s, member: %s", sig.Name, member)
	for _, h := range handlers {
		if h == nil {
			continue
		}
		if err := h(sig); err != nil {
			sigServer.log.Warnf("Handler signal error: %v", err)
		}
	}
}

// StartWorking installs the match rules and starts feeding signals to the
// main loop. It returns immediately; handlers run once the loop runs.
func (sigServer *SignalServer) StartWorking() {
	if sigServer.ch != nil {
		return
	}
	sigServer.addAllSignals()

	sigServer.ch = make(chan *dbus.Signal, signalQueueSize)
	sigServer.conn.Signal(sigServer.ch)
	mainloop.Watch(sigServer.loop, sigServer.ch, sigServer.handleSignal)

	sigServer.log.Info("Start listening for signals...")
}

// StopWorking detaches the signal channel and removes the match rules.
func (sigServer *SignalServer) StopWorking() {
	if sigServer.ch == nil {
		return
	}
	sigServer.conn.RemoveSignal(sigServer.ch)
	sigServer.removeAllSignals()
	sigServer.ch = nil
}
