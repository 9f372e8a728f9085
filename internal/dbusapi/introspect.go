package dbusapi

import (
	"encoding/xml"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

var peerData = introspect.Interface{
	Name: peerIface,
	Methods: []introspect.Method{
		{Name: "Ping"},
		{Name: "GetMachineId", Args: []introspect.Arg{{Name: "machine_uuid", Type: "s", Direction: "out"}}},
	},
}

// introspect returns the introspection XML for path: the full interface
// description at the object path, and a bare node listing the next child on
// each ancestor path so tools like d-feet can walk down to the object.
func (d *Dispatcher) introspect(path dbus.ObjectPath) (string, bool) {
	var node introspect.Node
	switch {
	case path == d.path:
		node = introspect.Node{
			Name:       string(path),
			Interfaces: []introspect.Interface{introspect.IntrospectData, peerData, d.interfaceData()},
		}
	default:
		child, ok := childOf(path, d.path)
		if !ok {
			return "", false
		}
		node = introspect.Node{
			Name:       string(path),
			Interfaces: []introspect.Interface{introspect.IntrospectData},
			Children:   []introspect.Node{{Name: child}},
		}
	}

	data, err := xml.MarshalIndent(node, "", "  ")
	if err != nil {
		return "", false
	}
	return introspect.IntrospectDeclarationString + string(data), true
}

func (d *Dispatcher) interfaceData() introspect.Interface {
	iface := introspect.Interface{Name: d.iface}
	for _, m := range d.order {
		im := introspect.Method{Name: m.Name}
		for _, a := range m.In {
			im.Args = append(im.Args, introspect.Arg{Name: a.Name, Type: a.Type, Direction: "in"})
		}
		for _, a := range m.Out {
			im.Args = append(im.Args, introspect.Arg{Name: a.Name, Type: a.Type, Direction: "out"})
		}
		iface.Methods = append(iface.Methods, im)
	}
	for _, s := range d.signals {
		is := introspect.Signal{Name: s.name}
		for _, a := range s.args {
			is.Args = append(is.Args, introspect.Arg{Name: a.Name, Type: a.Type})
		}
		iface.Signals = append(iface.Signals, is)
	}
	return iface
}

// childOf returns the first path element of target below parent, if parent
// is a proper ancestor of target.
func childOf(parent, target dbus.ObjectPath) (string, bool) {
	prefix := string(parent)
	if prefix != "/" {
		prefix += "/"
	}
	rest, ok := strings.CutPrefix(string(target), prefix)
	if !ok || rest == "" {
		return "", false
	}
	child, _, _ := strings.Cut(rest, "/")
	return child, true
}
