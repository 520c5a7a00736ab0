package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-i4c3d/internal/log"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
	"github.com/teslashibe/go-i4c3d/pkg/protocol"
	"github.com/teslashibe/go-i4c3d/pkg/voice"
)

func newTestHub() *Hub {
	h := NewHub()
	h.SetLogger(log.Discard())
	return h
}

func startServer(t *testing.T, h *Hub, addr string) {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	h.RegisterRoutes(app)
	go app.Listen(addr)
	t.Cleanup(func() { app.Shutdown() })
	time.Sleep(100 * time.Millisecond)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	time.Sleep(50 * time.Millisecond)
	return ws
}

func write(t *testing.T, ws *websocket.Conn, msg *protocol.Message) {
	t.Helper()
	data, err := msg.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestNewHub(t *testing.T) {
	hub := newTestHub()
	if hub.SensorCount() != 0 {
		t.Error("SensorCount should be 0 initially")
	}
	stats := hub.GetStats()
	if stats.MessagesReceived != 0 || stats.MessagesSent != 0 || len(stats.Queues) != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if hub.GetSensor("nonexistent") != nil {
		t.Error("GetSensor should return nil for unknown sensor")
	}
}

func TestSensorConnectDisconnect(t *testing.T) {
	hub := newTestHub()
	startServer(t, hub, ":18090")

	ws := dial(t, "ws://localhost:18090/ws/sensor/kinect-1")
	if hub.SensorCount() != 1 {
		t.Fatalf("SensorCount = %d, want 1", hub.SensorCount())
	}
	if hub.GetSensor("kinect-1") == nil {
		t.Error("GetSensor should return the connected sensor")
	}

	ws.Close()
	time.Sleep(100 * time.Millisecond)
	if hub.SensorCount() != 0 {
		t.Errorf("SensorCount = %d, want 0 after disconnect", hub.SensorCount())
	}
}

func TestAnonymousSensorGetsID(t *testing.T) {
	hub := newTestHub()
	startServer(t, hub, ":18091")

	dial(t, "ws://localhost:18091/ws/sensor")
	infos := hub.GetSensorInfos()
	if len(infos) != 1 {
		t.Fatalf("infos = %v", infos)
	}
	if len(infos[0].ID) != 36 {
		t.Errorf("ID = %q, want a UUID", infos[0].ID)
	}
}

func TestFrameCallback(t *testing.T) {
	hub := newTestHub()

	var mu sync.Mutex
	var got gesture.Frame
	var from string
	var calls atomic.Int32
	hub.OnFrame(func(sensorID string, f gesture.Frame) {
		mu.Lock()
		got, from = f, sensorID
		mu.Unlock()
		calls.Add(1)
	})
	startServer(t, hub, ":18092")
	ws := dial(t, "ws://localhost:18092/ws/sensor/frame-test")

	frame := gesture.Frame{Number: 42, Bodies: []gesture.Body{{
		Slot:  3,
		State: gesture.Tracked,
		Joints: map[gesture.JointID]gesture.Joint{
			gesture.JointHandRight: {X: 0.1, Y: 0.2, Z: 1.5, ScreenX: 320, ScreenY: 240},
		},
	}}}
	msg, err := protocol.NewSkeletonMessage(frame)
	if err != nil {
		t.Fatal(err)
	}
	write(t, ws, msg)
	time.Sleep(100 * time.Millisecond)

	if calls.Load() != 1 {
		t.Fatalf("frame callback called %d times", calls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if from != "frame-test" {
		t.Errorf("sensor = %s, want frame-test", from)
	}
	if got.Number != 42 || len(got.Bodies) != 1 || got.Bodies[0].Slot != 3 {
		t.Fatalf("frame = %+v", got)
	}
	hand := got.Bodies[0].Joints[gesture.JointHandRight]
	if hand.Z != 1.5 || hand.ScreenX != 320 {
		t.Errorf("hand = %+v", hand)
	}
	if hub.GetStats().FramesReceived != 1 {
		t.Error("FramesReceived should be 1")
	}
}

func TestTokenRouting(t *testing.T) {
	hub := newTestHub()
	startServer(t, hub, ":18093")
	ws := dial(t, "ws://localhost:18093/ws/sensor/voice")

	// no listener yet: dropped
	msg, _ := protocol.NewTokenMessage("gesture", "hidari")
	write(t, ws, msg)
	time.Sleep(50 * time.Millisecond)

	q := hub.Queue(protocol.VocabularyGesture)
	sess, err := q.Open(voice.Vocabulary{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	msg, _ = protocol.NewTokenMessage("Gesture", "migi")
	write(t, ws, msg)

	tok, ok, err := sess.Recognize(context.Background(), time.Second)
	if err != nil || !ok || tok != "migi" {
		t.Fatalf("Recognize = %q, %v, %v", tok, ok, err)
	}

	stats := hub.GetStats()
	if stats.TokensReceived != 2 {
		t.Errorf("TokensReceived = %d, want 2", stats.TokensReceived)
	}
	if qs := stats.Queues["gesture"]; qs.Received != 2 || qs.Dropped != 1 {
		t.Errorf("queue stats = %+v", qs)
	}
}

func TestBadMessagesCounted(t *testing.T) {
	hub := newTestHub()
	startServer(t, hub, ":18094")
	ws := dial(t, "ws://localhost:18094/ws/sensor/bad")

	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"token","data":{"vocabulary":"music","text":"x"}}`))
	ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"skeleton"}`))
	time.Sleep(100 * time.Millisecond)

	if got := hub.GetStats().ParseErrors; got != 3 {
		t.Errorf("ParseErrors = %d, want 3", got)
	}
	if hub.SensorCount() != 1 {
		t.Error("bad messages should not drop the connection")
	}
}

func TestPingPong(t *testing.T) {
	hub := newTestHub()
	startServer(t, hub, ":18095")
	ws := dial(t, "ws://localhost:18095/ws/sensor/ping-test")

	msg, _ := protocol.NewPingMessage("p1", time.Now().UnixMilli())
	write(t, ws, msg)

	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	resp, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != protocol.TypePong {
		t.Fatalf("Type = %s, want pong", resp.Type)
	}
	pong, err := resp.GetPongData()
	if err != nil {
		t.Fatal(err)
	}
	if pong.ID != "p1" {
		t.Errorf("pong ID = %q", pong.ID)
	}
}

func TestSetElevation(t *testing.T) {
	hub := newTestHub()

	if err := hub.SetElevation(context.Background(), 3); !errors.Is(err, ErrNoSensors) {
		t.Errorf("err = %v, want ErrNoSensors", err)
	}

	startServer(t, hub, ":18096")
	ws := dial(t, "ws://localhost:18096/ws/sensor/tilt")

	if err := hub.SetElevation(context.Background(), -9); err != nil {
		t.Fatalf("SetElevation: %v", err)
	}
	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := protocol.ParseMessage(data)
	tilt, err := msg.GetTiltData()
	if err != nil {
		t.Fatal(err)
	}
	if tilt.Elevation != -9 {
		t.Errorf("elevation = %d", tilt.Elevation)
	}
}

func TestBroadcastStatus(t *testing.T) {
	hub := newTestHub()
	hub.BroadcastStatus("left", false, true) // no sensors, no panic

	startServer(t, hub, ":18097")
	ws := dial(t, "ws://localhost:18097/ws/sensor/status")

	hub.BroadcastStatus("zoomin", true, false)
	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := protocol.ParseMessage(data)
	st, err := msg.GetStatusData()
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode != "zoomin" || !st.Armed || st.Connected {
		t.Errorf("status = %+v", st)
	}
}

func TestNonUpgradeRejected(t *testing.T) {
	hub := newTestHub()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("GET", "/ws/sensor", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}

func TestAPIListSensors(t *testing.T) {
	hub := newTestHub()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/sensors/", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "sensors") {
		t.Error("Response should contain 'sensors' field")
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/sensors/stats", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("stats status = %d", resp.StatusCode)
	}
}

func TestAPIInjectToken(t *testing.T) {
	hub := newTestHub()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	sess, err := hub.Queue(protocol.VocabularyCamera).Open(voice.Vocabulary{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	post := func(body string) (int, map[string]any) {
		req := httptest.NewRequest("POST", "/api/sensors/tokens", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]any
		json.NewDecoder(resp.Body).Decode(&out)
		return resp.StatusCode, out
	}

	code, out := post(`{"vocabulary":"camera","text":"camera start"}`)
	if code != 200 || out["queued"] != true {
		t.Fatalf("code = %d, body = %v", code, out)
	}
	tok, ok, _ := sess.Recognize(context.Background(), time.Second)
	if !ok || tok != "camera start" {
		t.Errorf("token = %q", tok)
	}

	if code, _ := post(`{"vocabulary":"music","text":"x"}`); code != 400 {
		t.Errorf("unknown vocabulary status = %d", code)
	}
	if code, _ := post(`{bad`); code != 400 {
		t.Errorf("bad body status = %d", code)
	}
}

func TestCloseMakesListenersUnavailable(t *testing.T) {
	hub := newTestHub()
	sess, err := hub.Queue("gesture").Open(voice.Vocabulary{})
	if err != nil {
		t.Fatal(err)
	}
	hub.Close()
	if _, _, err := sess.Recognize(context.Background(), time.Second); !errors.Is(err, voice.ErrRecognizerUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestCloseDisconnectsSensors(t *testing.T) {
	hub := newTestHub()
	startServer(t, hub, ":18098")
	ws := dial(t, "ws://localhost:18098/ws/sensor/kinect-1")
	sensor := hub.GetSensor("kinect-1")

	hub.Close()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("read err = %v, want going-away close", err)
	}
	time.Sleep(100 * time.Millisecond)
	if hub.SensorCount() != 0 {
		t.Errorf("SensorCount = %d, want 0 after Close", hub.SensorCount())
	}
	pong, err := protocol.NewPongMessage("x", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := sensor.Send(pong); !errors.Is(err, ErrSensorGone) {
		t.Errorf("Send after disconnect err = %v", err)
	}
}

func TestSameIDReplacesStaleSession(t *testing.T) {
	hub := newTestHub()
	var frames atomic.Int32
	hub.OnFrame(func(string, gesture.Frame) { frames.Add(1) })
	startServer(t, hub, ":18099")

	stale := dial(t, "ws://localhost:18099/ws/sensor/kinect-1")
	fresh := dial(t, "ws://localhost:18099/ws/sensor/kinect-1")

	stale.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := stale.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("stale read err = %v, want normal close", err)
	}

	time.Sleep(100 * time.Millisecond)
	if hub.SensorCount() != 1 {
		t.Fatalf("SensorCount = %d, want 1", hub.SensorCount())
	}

	msg, err := protocol.NewSkeletonMessage(gesture.Frame{Number: 1})
	if err != nil {
		t.Fatal(err)
	}
	write(t, fresh, msg)
	time.Sleep(100 * time.Millisecond)
	if frames.Load() != 1 {
		t.Errorf("frames = %d, want 1 from the new session", frames.Load())
	}
}

func TestDisconnectRoute(t *testing.T) {
	hub := newTestHub()
	startServer(t, hub, ":18103")
	ws := dial(t, "ws://localhost:18103/ws/sensor/kick-me")

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("DELETE", "/api/sensors/kick-me", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read err = %v, want normal close", err)
	}

	time.Sleep(100 * time.Millisecond)
	resp, err = app.Test(httptest.NewRequest("DELETE", "/api/sensors/kick-me", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 404 {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}
