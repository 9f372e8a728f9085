package dbusapi

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Standard error names returned in error replies.
const (
	ErrorInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	ErrorUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	ErrorUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	ErrorUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	ErrorFailed           = "org.freedesktop.DBus.Error.Failed"
)

var (
	// ErrNameTaken is returned by Start when another process owns the bus
	// name and does not allow replacement.
	ErrNameTaken = errors.New("dbus: bus name already owned")
	// ErrDisconnected is returned by Run when the bus connection drops.
	ErrDisconnected = errors.New("dbus: connection lost")
)

func newError(name, format string, args ...interface{}) *dbus.Error {
	return dbus.NewError(name, []interface{}{fmt.Sprintf(format, args...)})
}
