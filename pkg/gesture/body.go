package gesture

import "fmt"

// MaxBodies is the number of body slots the sensor can report (3-bit player index).
const MaxBodies = 7

// TrackingState is the per-frame tracking quality of a body.
type TrackingState int

const (
	NotTracked TrackingState = iota
	PositionOnly
	Tracked
)

var trackingStateNames = [...]string{
	NotTracked:   "not_tracked",
	PositionOnly: "position_only",
	Tracked:      "tracked",
}

func (s TrackingState) String() string {
	if s < 0 || int(s) >= len(trackingStateNames) {
		return fmt.Sprintf("tracking_state(%d)", int(s))
	}
	return trackingStateNames[s]
}

// ParseTrackingState maps a wire name to a TrackingState. Unknown names map
// to NotTracked so that a malformed body is skipped instead of sampled.
func ParseTrackingState(s string) TrackingState {
	for i, name := range trackingStateNames {
		if name == s {
			return TrackingState(i)
		}
	}
	return NotTracked
}

// JointID names a skeleton joint, e.g. "hand_right".
type JointID string

// Joints the sensor reports. Only the control joint is read by the sampler.
const (
	JointHandRight  JointID = "hand_right"
	JointHandLeft   JointID = "hand_left"
	JointWristRight JointID = "wrist_right"
	JointWristLeft  JointID = "wrist_left"
)

// Joint is one joint sample: its 3D position in meters (sensor space) and its
// projection onto the display plane in pixels.
type Joint struct {
	X, Y, Z float64

	ScreenX, ScreenY float64
}

// Body is one tracked person in a frame.
type Body struct {
	Slot   int
	State  TrackingState
	Joints map[JointID]Joint
}

// Frame is one skeleton frame delivered by the frame source.
type Frame struct {
	Number int64
	Bodies []Body
}
