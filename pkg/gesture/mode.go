// Package gesture turns tracked hand motion into camera commands for the
// remote 3D tool.
//
// A single Mode is active at a time. Voice tokens change the mode through a
// ModeController; skeleton frames are accumulated per body slot by a Sampler;
// full histories are turned into DOLLY/TUMBLE commands by a Translator.
package gesture

import (
	"fmt"
	"strings"
)

// Mode is the active interpretation applied to hand motion.
type Mode int

const (
	ZoomIn Mode = iota
	ZoomOut
	Left
	Right
	Up
	Down
	Stop

	modeCount
)

// modeNames is indexed by Mode. The array length is fixed by modeCount, so
// adding a mode without a name leaves an empty entry that TestModeTables catches.
var modeNames = [modeCount]string{
	ZoomIn:  "zoomin",
	ZoomOut: "zoomout",
	Left:    "left",
	Right:   "right",
	Up:      "up",
	Down:    "down",
	Stop:    "stop",
}

// Modes returns every mode in declaration order.
func Modes() []Mode {
	out := make([]Mode, 0, modeCount)
	for m := Mode(0); m < modeCount; m++ {
		out = append(out, m)
	}
	return out
}

// String returns the wire name of the mode (e.g. "zoomin").
func (m Mode) String() string {
	if !m.Valid() {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// Valid reports whether m is a declared mode.
func (m Mode) Valid() bool {
	return m >= 0 && m < modeCount
}

// Sign returns the mode-sync datagram announcing m, e.g. "kinect zoomin".
func (m Mode) Sign() string {
	return "kinect " + m.String()
}

// IsDistance reports whether the mode maps depth motion to DOLLY.
func (m Mode) IsDistance() bool {
	return m == ZoomIn || m == ZoomOut
}

// IsDirectional reports whether the mode maps planar motion to TUMBLE.
func (m Mode) IsDirectional() bool {
	return m == Left || m == Right || m == Up || m == Down
}

// ParseMode accepts the wire name ("zoomin") as well as the upper-case
// constant spelling ("ZOOM_IN").
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "_", "")
	for m := Mode(0); m < modeCount; m++ {
		if modeNames[m] == key {
			return m, nil
		}
	}
	return Stop, fmt.Errorf("gesture: unknown mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("gesture: invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
