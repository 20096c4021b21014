package dbusutil

import (
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Conn is the part of *dbus.Conn the daemon relies on.
type Conn interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Close() error
}

// Dialer opens a new bus connection.
type Dialer func() (Conn, error)

// SystemBusDialer returns a Dialer for a private system bus connection whose
// signals are delivered in order.
func SystemBusDialer() Dialer {
	return func() (Conn, error) {
		conn, err := dbus.ConnectSystemBus(dbus.WithSignalHandler(dbus.NewSequentialSignalHandler()))
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Connection owns the process wide bus handle.
type Connection struct {
	dial Dialer
	conn Conn
	log  *zap.SugaredLogger
}

// NewConnection creates a disconnected Connection.
func NewConnection(dial Dialer, log *zap.SugaredLogger) *Connection {
	return &Connection{dial: dial, log: log}
}

// Connect opens the bus connection. Calling it while connected returns the
// existing handle.
func (c *Connection) Connect() (Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	c.log.Info("Trying to connect to the system bus")
	conn, err := c.dial()
	if err != nil {
		connErr := &ConnectionError{Err: err}
		c.log.Errorf("%v", connErr)
		return nil, connErr
	}
	c.conn = conn
	c.log.Debug("Connected to system bus")
	return conn, nil
}

// Connected reports whether Connect has succeeded and Disconnect has not
// been called since.
func (c *Connection) Connected() bool {
	return c.conn != nil
}

// Disconnect closes the bus connection. It is safe to call repeatedly and
// without a prior Connect.
func (c *Connection) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.log.Debug("Disconnected from system bus")
	return err
}
