package dbusapi_test

import (
	"encoding/xml"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/linuxdeepin/dde-zone/internal/dbusapi"
	"github.com/linuxdeepin/dde-zone/internal/settings"
	"github.com/linuxdeepin/dde-zone/internal/zone"
)

func newZone(t *testing.T) *zone.State {
	t.Helper()
	z, err := zone.New(settings.NewMemBackend(settings.ZoneSchema), nil)
	if err != nil {
		t.Fatalf("zone.New: %v", err)
	}
	return z
}

// call builds a method call frame addressed to the zone object.
func call(member string, args ...interface{}) *dbus.Message {
	return callOn(dbusapi.ObjectPath, dbusapi.Interface, member, args...)
}

func callOn(path dbus.ObjectPath, iface, member string, args ...interface{}) *dbus.Message {
	msg := &dbus.Message{
		Type: dbus.TypeMethodCall,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldPath:   dbus.MakeVariant(path),
			dbus.FieldMember: dbus.MakeVariant(member),
			dbus.FieldSender: dbus.MakeVariant(":1.42"),
		},
		Body: args,
	}
	if iface != "" {
		msg.Headers[dbus.FieldInterface] = dbus.MakeVariant(iface)
	}
	if len(args) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(args...))
	}
	return msg
}

func errorName(t *testing.T, reply *dbus.Message) string {
	t.Helper()
	if reply == nil {
		t.Fatal("no reply")
	}
	if reply.Type != dbus.TypeError {
		return ""
	}
	name, _ := reply.Headers[dbus.FieldErrorName].Value().(string)
	return name
}

func replyString(t *testing.T, reply *dbus.Message) string {
	t.Helper()
	if name := errorName(t, reply); name != "" {
		t.Fatalf("got error reply %s: %v", name, reply.Body)
	}
	if len(reply.Body) != 1 {
		t.Fatalf("reply body has %d values, want 1", len(reply.Body))
	}
	s, ok := reply.Body[0].(string)
	if !ok {
		t.Fatalf("reply body %T, want string", reply.Body[0])
	}
	return s
}

func TestDispatcher_SetAndGetEveryCorner(t *testing.T) {
	tests := []struct {
		set, get string
		corner   zone.Corner
	}{
		{"SetTopLeft", "TopLeftAction", zone.TopLeft},
		{"SetTopRight", "TopRightAction", zone.TopRight},
		{"SetBottomLeft", "BottomLeftAction", zone.BottomLeft},
		{"SetBottomRight", "BottomRightAction", zone.BottomRight},
	}
	for _, tt := range tests {
		t.Run(tt.set, func(t *testing.T) {
			z := newZone(t)
			d := dbusapi.NewDispatcher(z)

			for _, v := range []string{"launcher", "", "工作区"} {
				reply := d.Handle(call(tt.set, v))
				if name := errorName(t, reply); name != "" {
					t.Fatalf("%s(%q) error %s", tt.set, v, name)
				}
				if len(reply.Body) != 0 {
					t.Errorf("%s reply body = %v, want empty", tt.set, reply.Body)
				}
				if got := z.Action(tt.corner); got != v {
					t.Errorf("state after %s = %q, want %q", tt.set, got, v)
				}
				if got := replyString(t, d.Handle(call(tt.get))); got != v {
					t.Errorf("%s() = %q, want %q", tt.get, got, v)
				}
			}
		})
	}
}

func TestDispatcher_ReplyCorrelation(t *testing.T) {
	d := dbusapi.NewDispatcher(newZone(t))
	reply := d.Handle(call("TopLeftAction"))

	if reply.Type != dbus.TypeMethodReply {
		t.Fatalf("reply type = %v, want method return", reply.Type)
	}
	if _, ok := reply.Headers[dbus.FieldReplySerial]; !ok {
		t.Error("reply has no REPLY_SERIAL header")
	}
	if dest, _ := reply.Headers[dbus.FieldDestination].Value().(string); dest != ":1.42" {
		t.Errorf("reply destination = %q, want :1.42", dest)
	}
	if sig, _ := reply.Headers[dbus.FieldSignature].Value().(dbus.Signature); sig.String() != "s" {
		t.Errorf("reply signature = %q, want s", sig.String())
	}
}

func TestDispatcher_WrongArgumentsLeaveStateUnchanged(t *testing.T) {
	tests := []struct {
		name string
		msg  *dbus.Message
	}{
		{"bool for string", call("SetTopLeft", true)},
		{"int for string", call("SetBottomRight", int32(7))},
		{"missing argument", call("SetTopRight")},
		{"extra argument", call("SetBottomLeft", "a", "b")},
		{"string for bool", call("EnableZoneDetected", "yes")},
		{"missing bool", call("EnableZoneDetected")},
		{"argument to getter", call("TopLeftAction", "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z := newZone(t)
			for _, c := range zone.Corners {
				z.SetAction(c, "before")
			}
			d := dbusapi.NewDispatcher(z)

			if name := errorName(t, d.Handle(tt.msg)); name != dbusapi.ErrorInvalidArgs {
				t.Errorf("error = %q, want %s", name, dbusapi.ErrorInvalidArgs)
			}
			for _, c := range zone.Corners {
				if got := z.Action(c); got != "before" {
					t.Errorf("%s changed to %q", c, got)
				}
			}
			if z.Detected() {
				t.Error("detected flag changed")
			}
		})
	}
}

func TestDispatcher_EnableZoneDetected(t *testing.T) {
	z := newZone(t)
	d := dbusapi.NewDispatcher(z)

	if name := errorName(t, d.Handle(call("EnableZoneDetected", true))); name != "" {
		t.Fatalf("EnableZoneDetected(true) error %s", name)
	}
	if !z.Detected() {
		t.Fatal("Detected() = false after EnableZoneDetected(true)")
	}
	d.Handle(call("EnableZoneDetected", false))
	if z.Detected() {
		t.Error("Detected() = true after EnableZoneDetected(false)")
	}
}

func TestDispatcher_UnknownMethodThenValidCall(t *testing.T) {
	z := newZone(t)
	z.SetAction(zone.TopLeft, "launcher")
	d := dbusapi.NewDispatcher(z)

	if name := errorName(t, d.Handle(call("ButtomLeftAction"))); name != dbusapi.ErrorUnknownMethod {
		t.Errorf("error = %q, want %s", name, dbusapi.ErrorUnknownMethod)
	}
	if got := replyString(t, d.Handle(call("TopLeftAction"))); got != "launcher" {
		t.Errorf("TopLeftAction() = %q, want launcher", got)
	}
}

func TestDispatcher_RoutingErrors(t *testing.T) {
	d := dbusapi.NewDispatcher(newZone(t))
	tests := []struct {
		name string
		msg  *dbus.Message
		want string
	}{
		{"unknown path", callOn("/com/deepin/daemon/Other", dbusapi.Interface, "TopLeftAction"), dbusapi.ErrorUnknownObject},
		{"unknown interface", callOn(dbusapi.ObjectPath, "com.deepin.daemon.Other", "TopLeftAction"), dbusapi.ErrorUnknownInterface},
		{"unknown peer method", callOn(dbusapi.ObjectPath, "org.freedesktop.DBus.Peer", "Pong"), dbusapi.ErrorUnknownMethod},
		{"introspect unrelated path", callOn("/org/other", "org.freedesktop.DBus.Introspectable", "Introspect"), dbusapi.ErrorUnknownObject},
	}
	for _, tt := range tests {
		if got := errorName(t, d.Handle(tt.msg)); got != tt.want {
			t.Errorf("%s: error = %q, want %s", tt.name, got, tt.want)
		}
	}
}

func TestDispatcher_EmptyInterfaceMatchesByName(t *testing.T) {
	z := newZone(t)
	z.SetAction(zone.BottomRight, "desktop")
	d := dbusapi.NewDispatcher(z)

	if got := replyString(t, d.Handle(callOn(dbusapi.ObjectPath, "", "BottomRightAction"))); got != "desktop" {
		t.Errorf("BottomRightAction() = %q, want desktop", got)
	}
}

func TestDispatcher_PeerPing(t *testing.T) {
	d := dbusapi.NewDispatcher(newZone(t))
	reply := d.Handle(callOn(dbusapi.ObjectPath, "org.freedesktop.DBus.Peer", "Ping"))
	if name := errorName(t, reply); name != "" {
		t.Errorf("Ping error %s", name)
	}
}

func TestDispatcher_NoReplyExpected(t *testing.T) {
	z := newZone(t)
	d := dbusapi.NewDispatcher(z)

	msg := call("SetTopRight", "workspace")
	msg.Flags |= dbus.FlagNoReplyExpected
	if reply := d.Handle(msg); reply != nil {
		t.Errorf("Handle returned a reply for a NO_REPLY_EXPECTED call: %+v", reply)
	}
	if got := z.Action(zone.TopRight); got != "workspace" {
		t.Errorf("TopRight = %q, want workspace", got)
	}
}

func TestDispatcher_IgnoresNonCalls(t *testing.T) {
	d := dbusapi.NewDispatcher(newZone(t))
	msg := call("TopLeftAction")
	msg.Type = dbus.TypeSignal
	if reply := d.Handle(msg); reply != nil {
		t.Errorf("Handle replied to a signal: %+v", reply)
	}
}

func TestDispatcher_TopRightActionEmitsNothing(t *testing.T) {
	z := newZone(t)
	z.SetAction(zone.TopRight, "workspace")
	d := dbusapi.NewDispatcher(z)

	reply := d.Handle(call("TopRightAction"))
	if got := replyString(t, reply); got != "workspace" {
		t.Errorf("TopRightAction() = %q", got)
	}
}

func TestDispatcher_MethodTable(t *testing.T) {
	want := []struct {
		name    string
		in, out string
	}{
		{"EnableZoneDetected", "b:detected", ""},
		{"SetTopLeft", "s:action", ""},
		{"TopLeftAction", "", "s:action"},
		{"SetTopRight", "s:action", ""},
		{"TopRightAction", "", "s:action"},
		{"SetBottomLeft", "s:action", ""},
		{"BottomLeftAction", "", "s:action"},
		{"SetBottomRight", "s:action", ""},
		{"BottomRightAction", "", "s:action"},
	}
	methods := dbusapi.NewDispatcher(newZone(t)).Methods()
	if len(methods) != len(want) {
		t.Fatalf("method table has %d entries, want %d", len(methods), len(want))
	}
	format := func(args []dbusapi.Arg) string {
		if len(args) == 0 {
			return ""
		}
		return args[0].Type + ":" + args[0].Name
	}
	for i, w := range want {
		m := methods[i]
		if m.Name != w.name || format(m.In) != w.in || format(m.Out) != w.out {
			t.Errorf("method %d = %s(%s) -> %s, want %s(%s) -> %s",
				i, m.Name, format(m.In), format(m.Out), w.name, w.in, w.out)
		}
	}
}

func TestDispatcher_Introspect(t *testing.T) {
	d := dbusapi.NewDispatcher(newZone(t))
	xmlData := replyString(t, d.Handle(callOn(dbusapi.ObjectPath, "org.freedesktop.DBus.Introspectable", "Introspect")))

	var node introspect.Node
	if err := xml.Unmarshal([]byte(xmlData), &node); err != nil {
		t.Fatalf("introspection XML does not parse: %v\n%s", err, xmlData)
	}

	var zoneIface *introspect.Interface
	for i := range node.Interfaces {
		if node.Interfaces[i].Name == dbusapi.Interface {
			zoneIface = &node.Interfaces[i]
		}
	}
	if zoneIface == nil {
		t.Fatalf("interface %s missing from introspection", dbusapi.Interface)
	}
	if len(zoneIface.Methods) != 9 {
		t.Errorf("introspection lists %d methods, want 9", len(zoneIface.Methods))
	}
	for _, m := range zoneIface.Methods {
		if m.Name == "EnableZoneDetected" {
			if len(m.Args) != 1 || m.Args[0].Name != "detected" || m.Args[0].Type != "b" || m.Args[0].Direction != "in" {
				t.Errorf("EnableZoneDetected args = %+v", m.Args)
			}
		}
	}
	if len(zoneIface.Signals) != 1 || zoneIface.Signals[0].Name != "TestSignal" {
		t.Fatalf("signals = %+v, want TestSignal", zoneIface.Signals)
	}
	sigArgs := zoneIface.Signals[0].Args
	if len(sigArgs) != 1 || sigArgs[0].Name != "arg" || sigArgs[0].Type != "a{sd}" {
		t.Errorf("TestSignal args = %+v, want arg a{sd}", sigArgs)
	}
}

func TestDispatcher_IntrospectAncestors(t *testing.T) {
	d := dbusapi.NewDispatcher(newZone(t))
	tests := []struct {
		path  dbus.ObjectPath
		child string
	}{
		{"/", "com"},
		{"/com", "deepin"},
		{"/com/deepin/daemon", "Zone"},
	}
	for _, tt := range tests {
		xmlData := replyString(t, d.Handle(callOn(tt.path, "org.freedesktop.DBus.Introspectable", "Introspect")))
		var node introspect.Node
		if err := xml.Unmarshal([]byte(xmlData), &node); err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if len(node.Children) != 1 || node.Children[0].Name != tt.child {
			t.Errorf("%s children = %+v, want %s", tt.path, node.Children, tt.child)
		}
	}
}
