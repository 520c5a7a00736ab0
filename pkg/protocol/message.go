// Package protocol defines the WebSocket message types exchanged between a
// depth-sensor bridge and the i4c3d engine.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Sensor → Engine messages
	TypeSkeleton MessageType = "skeleton" // One tracked frame
	TypeToken    MessageType = "token"    // Recognized speech token

	// Engine → Sensor messages
	TypeTilt   MessageType = "tilt"   // Sensor elevation change
	TypeStatus MessageType = "status" // Current mode and tool connection

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Vocabularies a token can belong to.
const (
	VocabularyCamera  = "camera"
	VocabularyGesture = "gesture"
)

// ErrNoData is returned when a message that requires a payload carries none.
var ErrNoData = errors.New("protocol: message has no data")

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if len(m.Data) == 0 {
		return ErrNoData
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("parse %s data: %w", m.Type, err)
	}
	return nil
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Sensor → Engine Message Types
// =============================================================================

// SkeletonData is one sensor frame: every body slot the sensor reports.
type SkeletonData struct {
	Frame  int64      `json:"frame"`
	Bodies []BodyData `json:"bodies"`
}

// BodyData is a single tracked body. Joints holds camera-space positions in
// metres; Screen holds the same joints projected to depth-image pixels.
type BodyData struct {
	Slot   int               `json:"slot"`
	State  string            `json:"state"` // "tracked", "position_only", "not_tracked"
	Joints map[string]Point3 `json:"joints,omitempty"`
	Screen map[string]Point2 `json:"screen,omitempty"`
}

// Point3 is a camera-space position.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Point2 is a projected screen position.
type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TokenData is one recognized utterance.
type TokenData struct {
	Vocabulary string  `json:"vocabulary"` // "camera" or "gesture"
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// =============================================================================
// Engine → Sensor Message Types
// =============================================================================

// TiltData asks the sensor to set its elevation angle.
type TiltData struct {
	Elevation int `json:"elevation"` // degrees
}

// StatusData reports engine state to connected sensors.
type StatusData struct {
	Mode      string `json:"mode"`
	Armed     bool   `json:"armed"`
	Connected bool   `json:"connected"` // reliable link to the 3D tool
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
