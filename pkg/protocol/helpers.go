package protocol

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-i4c3d/pkg/gesture"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewSkeletonMessage creates a skeleton message from a tracked frame
func NewSkeletonMessage(f gesture.Frame) (*Message, error) {
	return NewMessage(TypeSkeleton, SkeletonFromFrame(f))
}

// NewTokenMessage creates a token message
func NewTokenMessage(vocabulary, text string) (*Message, error) {
	return NewMessage(TypeToken, TokenData{
		Vocabulary: vocabulary,
		Text:       text,
	})
}

// NewTiltMessage creates a sensor elevation message
func NewTiltMessage(elevation int) (*Message, error) {
	return NewMessage(TypeTilt, TiltData{Elevation: elevation})
}

// NewStatusMessage creates a status message
func NewStatusMessage(mode string, armed, connected bool) (*Message, error) {
	return NewMessage(TypeStatus, StatusData{
		Mode:      mode,
		Armed:     armed,
		Connected: connected,
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string, ts int64) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: ts,
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetSkeletonData extracts skeleton data from a message
func (m *Message) GetSkeletonData() (*SkeletonData, error) {
	var data SkeletonData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTokenData extracts token data from a message
func (m *Message) GetTokenData() (*TokenData, error) {
	var data TokenData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	data.Vocabulary = strings.ToLower(strings.TrimSpace(data.Vocabulary))
	switch data.Vocabulary {
	case VocabularyCamera, VocabularyGesture:
	default:
		return nil, fmt.Errorf("token: unknown vocabulary %q", data.Vocabulary)
	}
	return &data, nil
}

// GetTiltData extracts tilt data from a message
func (m *Message) GetTiltData() (*TiltData, error) {
	var data TiltData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStatusData extracts status data from a message
func (m *Message) GetStatusData() (*StatusData, error) {
	var data StatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// =============================================================================
// Frame conversion
// =============================================================================

// ToFrame converts wire data to a gesture frame. A joint present in Joints but
// missing from Screen keeps a zero screen position, and the reverse.
func (s *SkeletonData) ToFrame() gesture.Frame {
	f := gesture.Frame{Number: s.Frame, Bodies: make([]gesture.Body, 0, len(s.Bodies))}
	for _, b := range s.Bodies {
		body := gesture.Body{
			Slot:   b.Slot,
			State:  gesture.ParseTrackingState(strings.ToLower(b.State)),
			Joints: make(map[gesture.JointID]gesture.Joint, len(b.Joints)),
		}
		for name, p := range b.Joints {
			j := body.Joints[gesture.JointID(name)]
			j.X, j.Y, j.Z = p.X, p.Y, p.Z
			body.Joints[gesture.JointID(name)] = j
		}
		for name, p := range b.Screen {
			j := body.Joints[gesture.JointID(name)]
			j.ScreenX, j.ScreenY = p.X, p.Y
			body.Joints[gesture.JointID(name)] = j
		}
		f.Bodies = append(f.Bodies, body)
	}
	return f
}

// SkeletonFromFrame is the inverse of ToFrame.
func SkeletonFromFrame(f gesture.Frame) SkeletonData {
	s := SkeletonData{Frame: f.Number, Bodies: make([]BodyData, 0, len(f.Bodies))}
	for _, b := range f.Bodies {
		body := BodyData{
			Slot:   b.Slot,
			State:  b.State.String(),
			Joints: make(map[string]Point3, len(b.Joints)),
			Screen: make(map[string]Point2, len(b.Joints)),
		}
		for id, j := range b.Joints {
			body.Joints[string(id)] = Point3{X: j.X, Y: j.Y, Z: j.Z}
			body.Screen[string(id)] = Point2{X: j.ScreenX, Y: j.ScreenY}
		}
		s.Bodies = append(s.Bodies, body)
	}
	return s
}
