package dbusutil

import (
	"context"

	"github.com/godbus/dbus/v5"
)

type fakeCall struct {
	ctx    context.Context
	method string
	args   []interface{}
	done   chan *dbus.Call
}

// fakeObject records asynchronous calls. Completion is left to the test.
type fakeObject struct {
	dbus.BusObject
	dest    string
	path    dbus.ObjectPath
	sendErr error
	calls   []fakeCall
}

func (o *fakeObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call {
	call := &dbus.Call{Destination: o.dest, Path: o.path, Method: method, Args: args, Done: ch}
	if o.sendErr != nil {
		call.Err = o.sendErr
		ch <- call
		return call
	}
	o.calls = append(o.calls, fakeCall{ctx: ctx, method: method, args: args, done: ch})
	return call
}

type fakeConn struct {
	obj      *fakeObject
	matchErr error
	matches  [][]dbus.MatchOption
	removed  [][]dbus.MatchOption
	signals  chan<- *dbus.Signal
	closed   int
}

func newFakeConn() *fakeConn {
	return &fakeConn{obj: &fakeObject{}}
}

func (c *fakeConn) AddMatchSignal(options ...dbus.MatchOption) error {
	c.matches = append(c.matches, options)
	return c.matchErr
}

func (c *fakeConn) RemoveMatchSignal(options ...dbus.MatchOption) error {
	c.removed = append(c.removed, options)
	return nil
}

func (c *fakeConn) Signal(ch chan<- *dbus.Signal) {
	c.signals = ch
}

func (c *fakeConn) RemoveSignal(ch chan<- *dbus.Signal) {
	if c.signals == ch {
		c.signals = nil
	}
}

func (c *fakeConn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	c.obj.dest = dest
	c.obj.path = path
	return c.obj
}

func (c *fakeConn) Close() error {
	c.closed++
	return nil
}
