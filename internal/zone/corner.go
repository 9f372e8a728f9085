package zone

import "github.com/linuxdeepin/dde-zone/internal/settings"

// Corner is one of the four screen corners.
type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomLeft
	BottomRight
)

// Corners lists every corner in schema order.
var Corners = [...]Corner{TopLeft, TopRight, BottomLeft, BottomRight}

var cornerKeys = [...]string{
	TopLeft:     settings.KeyLeftUp,
	TopRight:    settings.KeyRightUp,
	BottomLeft:  settings.KeyLeftDown,
	BottomRight: settings.KeyRightDown,
}

var cornerNames = [...]string{
	TopLeft:     "top-left",
	TopRight:    "top-right",
	BottomLeft:  "bottom-left",
	BottomRight: "bottom-right",
}

func (c Corner) valid() bool { return c >= TopLeft && c <= BottomRight }

func (c Corner) String() string {
	if !c.valid() {
		return "unknown"
	}
	return cornerNames[c]
}

// Key returns the settings key the corner is stored under.
func (c Corner) Key() string {
	if !c.valid() {
		return ""
	}
	return cornerKeys[c]
}

// CornerForKey maps a settings key (left-up, right-up, ...) to its corner.
func CornerForKey(key string) (Corner, bool) {
	for _, c := range Corners {
		if cornerKeys[c] == key {
			return c, true
		}
	}
	return 0, false
}
