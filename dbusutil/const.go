package dbusutil

import "time"

// Names of the MCE service that broadcasts display state changes.
const (
	// MceServiceName is the well-known bus name of the Mode Control Entity.
	MceServiceName = "com.nokia.mce"

	// MceSignalPath is the object path MCE emits its signals from.
	MceSignalPath = "/com/nokia/mce/signal"

	// MceSignalInterface is the interface carrying MCE indications.
	MceSignalInterface = "com.nokia.mce.signal"

	// MceDisplaySignal is emitted with the new display state as its only argument.
	MceDisplaySignal = "display_status_ind"
)

// Names of the systemd manager used to restart units.
const (
	SystemdServiceName      = "org.freedesktop.systemd1"
	SystemdPath             = "/org/freedesktop/systemd1"
	SystemdManagerInterface = "org.freedesktop.systemd1.Manager"
	SystemdRestartUnit      = "RestartUnit"
)

// DefaultCallTimeout matches the libdbus default reply timeout.
const DefaultCallTimeout = 25 * time.Second
