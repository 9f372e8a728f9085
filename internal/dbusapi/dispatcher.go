// Package dbusapi exports the hot corner state on the session bus as
// com.deepin.daemon.Zone. Dispatcher maps incoming method calls onto a fixed
// method table; Service owns the connection and runs the receive loop.
package dbusapi

import (
	"log/slog"
	"os"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/linuxdeepin/dde-zone/internal/zone"
)

// Bus identity of the service.
const (
	BusName    = "com.deepin.daemon.Zone"
	ObjectPath = dbus.ObjectPath("/com/deepin/daemon/Zone")
	Interface  = "com.deepin.daemon.Zone"
	SignalName = "TestSignal"

	introspectableIface = "org.freedesktop.DBus.Introspectable"
	peerIface           = "org.freedesktop.DBus.Peer"
)

// Zone is the state the method handlers read and mutate.
type Zone interface {
	Action(c zone.Corner) string
	SetAction(c zone.Corner, action string)
	SetDetected(v bool)
}

// Arg is a named method or signal argument with its D-Bus signature.
type Arg struct {
	Name string
	Type string
}

// Method is one entry of the method table. call receives arguments whose
// signatures already match In.
type Method struct {
	Name string
	In   []Arg
	Out  []Arg
	call func(args []interface{}) []interface{}
}

// Dispatcher routes method calls addressed to one object path and interface.
// It is not safe for concurrent use; the service calls it from a single
// receive loop.
type Dispatcher struct {
	path    dbus.ObjectPath
	iface   string
	methods map[string]*Method
	order   []*Method
	signals []signalSpec
}

type signalSpec struct {
	name string
	args []Arg
}

// NewDispatcher builds the com.deepin.daemon.Zone method table over z.
func NewDispatcher(z Zone) *Dispatcher {
	d := &Dispatcher{
		path:    ObjectPath,
		iface:   Interface,
		methods: make(map[string]*Method),
	}
	d.add(boolSetter("EnableZoneDetected", "detected", z.SetDetected))
	for _, c := range zone.Corners {
		c := c // per-iteration copy; go.mod targets go 1.21 (pre-1.22 loop semantics)
		name := cornerMethodName(c)
		d.add(stringSetter("Set"+name, "action", func(v string) { z.SetAction(c, v) }))
		d.add(stringGetter(name+"Action", "action", func() string { return z.Action(c) }))
	}
	d.signals = append(d.signals, signalSpec{name: SignalName, args: []Arg{{Name: "arg", Type: "a{sd}"}}})
	return d
}

func cornerMethodName(c zone.Corner) string {
	switch c {
	case zone.TopLeft:
		return "TopLeft"
	case zone.TopRight:
		return "TopRight"
	case zone.BottomLeft:
		return "BottomLeft"
	default:
		return "BottomRight"
	}
}

func (d *Dispatcher) add(m *Method) {
	d.methods[m.Name] = m
	d.order = append(d.order, m)
}

// Methods returns the method table in registration order.
func (d *Dispatcher) Methods() []*Method {
	return append([]*Method(nil), d.order...)
}

// Handle dispatches a method call and returns the reply to send, or nil if
// msg is not a method call or the caller asked for no reply.
func (d *Dispatcher) Handle(msg *dbus.Message) *dbus.Message {
	if msg.Type != dbus.TypeMethodCall {
		return nil
	}
	member, _ := headerString(msg, dbus.FieldMember)
	iface, _ := headerString(msg, dbus.FieldInterface)
	path, _ := msg.Headers[dbus.FieldPath].Value().(dbus.ObjectPath)

	ret, derr := d.dispatch(path, iface, member, msg.Body)
	if derr != nil {
		slog.Debug("dbus: call failed", "member", member, "path", path, "err", derr.Name)
	}
	if msg.Flags&dbus.FlagNoReplyExpected != 0 {
		return nil
	}
	if derr != nil {
		return newErrorReply(msg, derr)
	}
	return newMethodReply(msg, ret)
}

func (d *Dispatcher) dispatch(path dbus.ObjectPath, iface, member string, body []interface{}) ([]interface{}, *dbus.Error) {
	switch iface {
	case peerIface:
		return d.peer(member, body)
	case introspectableIface:
		if member != "Introspect" {
			return nil, newError(ErrorUnknownMethod, "no method %s on %s", member, iface)
		}
		if len(body) != 0 {
			return nil, newError(ErrorInvalidArgs, "Introspect takes no arguments")
		}
		xml, ok := d.introspect(path)
		if !ok {
			return nil, newError(ErrorUnknownObject, "no object at %s", path)
		}
		return []interface{}{xml}, nil
	}

	if path != d.path {
		return nil, newError(ErrorUnknownObject, "no object at %s", path)
	}
	if iface != "" && iface != d.iface {
		return nil, newError(ErrorUnknownInterface, "no interface %s at %s", iface, path)
	}
	m, ok := d.methods[member]
	if !ok {
		return nil, newError(ErrorUnknownMethod, "no method %s on %s", member, d.iface)
	}
	if derr := checkArgs(m, body); derr != nil {
		return nil, derr
	}
	return m.call(body), nil
}

func (d *Dispatcher) peer(member string, body []interface{}) ([]interface{}, *dbus.Error) {
	if len(body) != 0 {
		return nil, newError(ErrorInvalidArgs, "%s takes no arguments", member)
	}
	switch member {
	case "Ping":
		return nil, nil
	case "GetMachineId":
		id, err := machineID()
		if err != nil {
			return nil, newError(ErrorFailed, "read machine id: %v", err)
		}
		return []interface{}{id}, nil
	}
	return nil, newError(ErrorUnknownMethod, "no method %s on %s", member, peerIface)
}

// checkArgs verifies arity and per-argument signatures.
func checkArgs(m *Method, body []interface{}) *dbus.Error {
	if len(body) != len(m.In) {
		return newError(ErrorInvalidArgs, "%s expects %d argument(s), got %d", m.Name, len(m.In), len(body))
	}
	for i, arg := range m.In {
		if got := dbus.SignatureOf(body[i]).String(); got != arg.Type {
			return newError(ErrorInvalidArgs, "%s argument %q: expected type %s, got %s", m.Name, arg.Name, arg.Type, got)
		}
	}
	return nil
}

func boolSetter(name, argName string, set func(bool)) *Method {
	return &Method{
		Name: name,
		In:   []Arg{{Name: argName, Type: "b"}},
		call: func(args []interface{}) []interface{} {
			set(args[0].(bool))
			return nil
		},
	}
}

func stringSetter(name, argName string, set func(string)) *Method {
	return &Method{
		Name: name,
		In:   []Arg{{Name: argName, Type: "s"}},
		call: func(args []interface{}) []interface{} {
			set(args[0].(string))
			return nil
		},
	}
}

func stringGetter(name, argName string, get func() string) *Method {
	return &Method{
		Name: name,
		Out:  []Arg{{Name: argName, Type: "s"}},
		call: func([]interface{}) []interface{} {
			return []interface{}{get()}
		},
	}
}

func headerString(msg *dbus.Message, field dbus.HeaderField) (string, bool) {
	v, ok := msg.Headers[field]
	if !ok {
		return "", false
	}
	s, ok := v.Value().(string)
	return s, ok
}

func newMethodReply(call *dbus.Message, body []interface{}) *dbus.Message {
	reply := &dbus.Message{
		Type:    dbus.TypeMethodReply,
		Headers: replyHeaders(call),
		Body:    body,
	}
	if len(body) > 0 {
		reply.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(body...))
	}
	return reply
}

func newErrorReply(call *dbus.Message, derr *dbus.Error) *dbus.Message {
	reply := &dbus.Message{
		Type:    dbus.TypeError,
		Headers: replyHeaders(call),
		Body:    derr.Body,
	}
	reply.Headers[dbus.FieldErrorName] = dbus.MakeVariant(derr.Name)
	if len(derr.Body) > 0 {
		reply.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(derr.Body...))
	}
	return reply
}

func replyHeaders(call *dbus.Message) map[dbus.HeaderField]dbus.Variant {
	h := map[dbus.HeaderField]dbus.Variant{
		dbus.FieldReplySerial: dbus.MakeVariant(call.Serial()),
	}
	if sender, ok := call.Headers[dbus.FieldSender]; ok {
		h[dbus.FieldDestination] = sender
	}
	return h
}

func machineID() (string, error) {
	var lastErr error
	for _, p := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		data, err := os.ReadFile(p)
		if err != nil {
			lastErr = err
			continue
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", lastErr
}
