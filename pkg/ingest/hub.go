// Package ingest accepts sensor connections over WebSocket. A sensor bridge
// streams skeleton frames and recognized speech tokens; the hub turns frames
// into gesture.Frame callbacks, routes tokens into per-vocabulary queues read
// by voice listeners, and pushes tilt and status messages back.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-i4c3d/internal/log"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
	"github.com/teslashibe/go-i4c3d/pkg/protocol"
)

// ErrNoSensors is returned by SetElevation when nothing is connected.
var ErrNoSensors = errors.New("ingest: no sensor connected")

// ErrSensorGone is returned by Send once the sensor's session has ended.
var ErrSensorGone = errors.New("ingest: sensor disconnected")

// closeWait bounds the close handshake write.
const closeWait = time.Second

// SensorConnection is one connected sensor bridge.
type SensorConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time

	mu     sync.Mutex
	closed bool
}

// Send writes a message to the sensor.
func (s *SensorConnection) Send(msg *protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSensorGone
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	return s.Conn.WriteMessage(websocket.TextMessage, data)
}

// disconnect sends a close frame and unblocks the session's read loop, which
// then ends the session. The conn itself is released by the handler.
func (s *SensorConnection) disconnect(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	_ = s.Conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(closeWait),
	)
	_ = s.Conn.SetReadDeadline(time.Now())
}

// release marks the session over; later sends fail with ErrSensorGone.
func (s *SensorConnection) release() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Hub manages sensor connections.
type Hub struct {
	mu      sync.RWMutex
	sensors map[string]*SensorConnection
	queues  map[string]*TokenQueue
	logger  *slog.Logger

	onFrame func(sensorID string, frame gesture.Frame)
	onToken func(sensorID string, token *protocol.TokenData)

	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	framesReceived   atomic.Uint64
	tokensReceived   atomic.Uint64
	parseErrors      atomic.Uint64
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{
		sensors: make(map[string]*SensorConnection),
		queues:  make(map[string]*TokenQueue),
		logger:  log.Component("ingest"),
	}
}

// SetLogger replaces the hub logger.
func (h *Hub) SetLogger(l *slog.Logger) {
	h.mu.Lock()
	h.logger = l
	h.mu.Unlock()
}

// OnFrame sets the callback for skeleton frames. It runs on the sensor's
// read goroutine, so a slow callback applies backpressure to that sensor.
func (h *Hub) OnFrame(callback func(sensorID string, frame gesture.Frame)) {
	h.mu.Lock()
	h.onFrame = callback
	h.mu.Unlock()
}

// OnToken sets a callback observing every valid token, queued or not.
func (h *Hub) OnToken(callback func(sensorID string, token *protocol.TokenData)) {
	h.mu.Lock()
	h.onToken = callback
	h.mu.Unlock()
}

// Queue returns the token queue for a vocabulary, creating it on first use.
func (h *Hub) Queue(vocabulary string) *TokenQueue {
	h.mu.Lock()
	defer h.mu.Unlock()
	q, ok := h.queues[vocabulary]
	if !ok {
		q = NewTokenQueue(vocabulary, DefaultQueueSize)
		h.queues[vocabulary] = q
	}
	return q
}

// Inject routes a token as if a sensor had sent it. It reports whether a
// listener took it.
func (h *Hub) Inject(vocabulary, text string) bool {
	h.tokensReceived.Add(1)
	return h.Queue(vocabulary).Push(text)
}

// Close closes every token queue and disconnects every sensor. Listeners
// reading the queues become unavailable.
func (h *Hub) Close() {
	h.mu.RLock()
	for _, q := range h.queues {
		q.Close()
	}
	sensors := make([]*SensorConnection, 0, len(h.sensors))
	for _, s := range h.sensors {
		sensors = append(sensors, s)
	}
	h.mu.RUnlock()

	for _, s := range sensors {
		s.disconnect(websocket.CloseGoingAway, "server shutting down")
	}
}

// RegisterRoutes registers the sensor WebSocket routes.
func (h *Hub) RegisterRoutes(app *fiber.App) {
	app.Use("/ws/sensor", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/sensor", websocket.New(h.handleSensor))
	app.Get("/ws/sensor/:id", websocket.New(h.handleSensor))
}

func (h *Hub) handleSensor(c *websocket.Conn) {
	sensorID := c.Params("id")
	if sensorID == "" {
		sensorID = uuid.NewString()
	}

	sensor := &SensorConnection{
		ID:        sensorID,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	h.mu.Lock()
	stale := h.sensors[sensorID]
	h.sensors[sensorID] = sensor
	count := len(h.sensors)
	logger := h.logger
	h.mu.Unlock()

	// a reconnecting bridge replaces its stale session
	if stale != nil {
		stale.disconnect(websocket.CloseNormalClosure, "replaced by a newer session")
	}

	logger.Info("sensor connected", "sensor", sensorID, "total", count)

	defer func() {
		sensor.release()
		h.mu.Lock()
		if h.sensors[sensorID] == sensor {
			delete(h.sensors, sensorID)
		}
		count := len(h.sensors)
		h.mu.Unlock()
		logger.Info("sensor disconnected", "sensor", sensorID, "total", count)
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			logger.Debug("sensor read ended", "sensor", sensorID, "error", err)
			return
		}

		sensor.mu.Lock()
		sensor.LastSeen = time.Now()
		sensor.mu.Unlock()

		h.messagesReceived.Add(1)
		h.handleMessage(sensorID, data)
	}
}

func (h *Hub) handleMessage(sensorID string, data []byte) {
	h.mu.RLock()
	frameCb := h.onFrame
	tokenCb := h.onToken
	logger := h.logger
	h.mu.RUnlock()

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.parseErrors.Add(1)
		logger.Warn("parse error", "sensor", sensorID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeSkeleton:
		sk, err := msg.GetSkeletonData()
		if err != nil {
			h.parseErrors.Add(1)
			logger.Warn("bad skeleton", "sensor", sensorID, "error", err)
			return
		}
		h.framesReceived.Add(1)
		if frameCb != nil {
			frameCb(sensorID, sk.ToFrame())
		}

	case protocol.TypeToken:
		tok, err := msg.GetTokenData()
		if err != nil {
			h.parseErrors.Add(1)
			logger.Warn("bad token", "sensor", sensorID, "error", err)
			return
		}
		if tokenCb != nil {
			tokenCb(sensorID, tok)
		}
		if !h.Inject(tok.Vocabulary, tok.Text) {
			logger.Debug("token dropped", "sensor", sensorID, "vocabulary", tok.Vocabulary, "text", tok.Text)
		}

	case protocol.TypePing:
		var id string
		ts := msg.Timestamp
		if p, err := msg.GetPingData(); err == nil {
			id, ts = p.ID, p.Timestamp
		}
		if err := h.SendPong(sensorID, id, ts); err != nil {
			logger.Warn("pong failed", "sensor", sensorID, "error", err)
		}

	default:
		logger.Debug("unhandled message", "sensor", sensorID, "type", string(msg.Type))
	}
}

// SendPong answers a ping.
func (h *Hub) SendPong(sensorID, id string, pingTS int64) error {
	msg, err := protocol.NewPongMessage(id, pingTS, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return h.sendToSensor(sensorID, msg)
}

func (h *Hub) sendToSensor(sensorID string, msg *protocol.Message) error {
	h.mu.RLock()
	sensor, ok := h.sensors[sensorID]
	h.mu.RUnlock()

	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "sensor not connected")
	}

	h.messagesSent.Add(1)
	return sensor.Send(msg)
}

// Broadcast sends a message to every connected sensor and returns how many
// writes succeeded.
func (h *Hub) Broadcast(msg *protocol.Message) int {
	sensors := h.GetSensors()

	h.mu.RLock()
	logger := h.logger
	h.mu.RUnlock()

	sent := 0
	for _, s := range sensors {
		h.messagesSent.Add(1)
		if err := s.Send(msg); err != nil {
			logger.Warn("broadcast failed", "sensor", s.ID, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// SetElevation asks every connected sensor to tilt to degrees. It satisfies
// camera.Tilter.
func (h *Hub) SetElevation(ctx context.Context, degrees int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := protocol.NewTiltMessage(degrees)
	if err != nil {
		return err
	}
	if h.Broadcast(msg) == 0 {
		return ErrNoSensors
	}
	return nil
}

// BroadcastStatus pushes the current mode to connected sensors.
func (h *Hub) BroadcastStatus(mode string, armed, connected bool) {
	msg, err := protocol.NewStatusMessage(mode, armed, connected)
	if err != nil {
		return
	}
	h.Broadcast(msg)
}

// GetSensor returns a sensor by ID.
func (h *Hub) GetSensor(sensorID string) *SensorConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sensors[sensorID]
}

// Disconnect ends a sensor's session. It reports whether the sensor was
// connected.
func (h *Hub) Disconnect(sensorID string) bool {
	s := h.GetSensor(sensorID)
	if s == nil {
		return false
	}
	s.disconnect(websocket.CloseNormalClosure, "disconnected by server")
	return true
}

// GetSensors returns all connected sensors.
func (h *Hub) GetSensors() []*SensorConnection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sensors := make([]*SensorConnection, 0, len(h.sensors))
	for _, s := range h.sensors {
		sensors = append(sensors, s)
	}
	return sensors
}

// SensorCount returns the number of connected sensors.
func (h *Hub) SensorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sensors)
}

// QueueStats is the per-vocabulary token count.
type QueueStats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// Stats contains hub statistics.
type Stats struct {
	SensorCount      int                   `json:"sensor_count"`
	MessagesReceived uint64                `json:"messages_received"`
	MessagesSent     uint64                `json:"messages_sent"`
	FramesReceived   uint64                `json:"frames_received"`
	TokensReceived   uint64                `json:"tokens_received"`
	ParseErrors      uint64                `json:"parse_errors"`
	Queues           map[string]QueueStats `json:"queues"`
}

// GetStats returns hub statistics.
func (h *Hub) GetStats() Stats {
	s := Stats{
		SensorCount:      h.SensorCount(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesSent:     h.messagesSent.Load(),
		FramesReceived:   h.framesReceived.Load(),
		TokensReceived:   h.tokensReceived.Load(),
		ParseErrors:      h.parseErrors.Load(),
		Queues:           make(map[string]QueueStats),
	}
	h.mu.RLock()
	for name, q := range h.queues {
		r, d := q.Stats()
		s.Queues[name] = QueueStats{Received: r, Dropped: d}
	}
	h.mu.RUnlock()
	return s
}

// SensorInfo describes a connected sensor.
type SensorInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetSensorInfos returns info about all connected sensors.
func (h *Hub) GetSensorInfos() []SensorInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]SensorInfo, 0, len(h.sensors))
	for _, s := range h.sensors {
		s.mu.Lock()
		infos = append(infos, SensorInfo{
			ID:        s.ID,
			Connected: s.Connected,
			LastSeen:  s.LastSeen,
		})
		s.mu.Unlock()
	}
	return infos
}

// RegisterAPIRoutes registers the sensor management API.
func (h *Hub) RegisterAPIRoutes(api fiber.Router) {
	sensors := api.Group("/sensors")

	sensors.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"sensors": h.GetSensorInfos(),
			"count":   h.SensorCount(),
		})
	})

	sensors.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(h.GetStats())
	})

	sensors.Delete("/:id", func(c *fiber.Ctx) error {
		if !h.Disconnect(c.Params("id")) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sensor not connected"})
		}
		return c.JSON(fiber.Map{"disconnected": c.Params("id")})
	})

	// Inject a token without a sensor, e.g. from the dashboard.
	sensors.Post("/tokens", func(c *fiber.Ctx) error {
		var req protocol.TokenData
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		msg, err := protocol.NewTokenMessage(req.Vocabulary, req.Text)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		tok, err := msg.GetTokenData()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"queued": h.Inject(tok.Vocabulary, tok.Text)})
	})
}
