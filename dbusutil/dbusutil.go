package dbusutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// MethodCall describes an asynchronous method invocation.
type MethodCall struct {
	Destination string
	Path        dbus.ObjectPath
	Interface   string
	Method      string
	Args        []interface{}

	// Timeout bounds how long the call stays pending. Zero means
	// DefaultCallTimeout.
	Timeout time.Duration
}

// Name returns the interface qualified method name.
func (mc MethodCall) Name() string {
	return GetMethod(mc.Interface, mc.Method)
}

// PendingCall tracks an outstanding asynchronous call. Reply yields the
// call error, nil on success, exactly once. Released is closed after that,
// whatever the outcome: an error reply, a transport failure, a closed
// connection or a timeout all release the call.
type PendingCall struct {
	call     MethodCall
	reply    chan error
	released chan struct{}
	once     sync.Once
}

// NewPendingCall creates the pending state for mc. The transport finishes it
// with Complete.
func NewPendingCall(mc MethodCall) *PendingCall {
	return &PendingCall{
		call:     mc,
		reply:    make(chan error, 1),
		released: make(chan struct{}),
	}
}

// Reply returns the channel carrying the outcome of the call.
func (p *PendingCall) Reply() <-chan error {
	return p.reply
}

// Released returns the channel closed once the call's resources are released.
func (p *PendingCall) Released() <-chan struct{} {
	return p.released
}

// Method returns the interface qualified name of the pending method.
func (p *PendingCall) Method() string {
	return p.call.Name()
}

// Complete delivers err as the reply and then releases the call. Only the
// first Complete has an effect.
func (p *PendingCall) Complete(err error) {
	p.once.Do(func() {
		p.reply <- err
		close(p.reply)
		close(p.released)
	})
}

func (p *PendingCall) wait(done <-chan *dbus.Call, release context.CancelFunc) {
	call := <-done
	release()
	p.Complete(call.Err)
}

// CallAsync sends mc without waiting for the reply. A submission error
// means no call is pending and neither channel of a PendingCall will fire.
func (c *Connection) CallAsync(ctx context.Context, mc MethodCall) (*PendingCall, error) {
	if c.conn == nil {
		return nil, c.submissionFailed(mc, ErrNotConnected)
	}

	timeout := mc.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)

	done := make(chan *dbus.Call, 1)
	call := c.conn.Object(mc.Destination, mc.Path).GoWithContext(callCtx, mc.Name(), 0, done, mc.Args...)
	if call == nil {
		cancel()
		return nil, c.submissionFailed(mc, errors.New("no call created"))
	}
	if call.Err != nil {
		cancel()
		return nil, c.submissionFailed(mc, call.Err)
	}

	pending := NewPendingCall(mc)
	go pending.wait(done, cancel)
	c.log.Debugf("%s: query sent to %s", mc.Name(), mc.Destination)
	return pending, nil
}

func (c *Connection) submissionFailed(mc MethodCall, err error) error {
	subErr := &RequestSubmissionError{Interface: mc.Interface, Method: mc.Method, Err: err}
	c.log.Errorf("%v", subErr)
	return subErr
}

// DecodeStringSignal returns the single string argument of sig.
func DecodeStringSignal(sig *dbus.Signal) (string, error) {
	if len(sig.Body) == 0 {
		return "", &ProtocolMismatchError{Signal: sig.Name, Reason: "signal lacked a body"}
	}
	value, ok := sig.Body[0].(string)
	if !ok {
		return "", &ProtocolMismatchError{
			Signal: sig.Name,
			Reason: fmt.Sprintf("argument is %T, not a string", sig.Body[0]),
		}
	}
	return value, nil
}

// GetMethod constructs the full D-Bus method name by combining the interface
// name with the method name.
func GetMethod(iface, method string) string {
	return iface + "." + method
}

// RestartUnitCall builds the systemd RestartUnit call for unit.
func RestartUnitCall(unit, mode string, timeout time.Duration) MethodCall {
	return MethodCall{
		Destination: SystemdServiceName,
		Path:        SystemdPath,
		Interface:   SystemdManagerInterface,
		Method:      SystemdRestartUnit,
		Args:        []interface{}{unit, mode},
		Timeout:     timeout,
	}
}
