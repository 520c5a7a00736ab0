package hub

import (
	"context"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/teslashibe/go-i4c3d/internal/log"
)

func startHub(t *testing.T, name string) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New(name)
	h.SetLogger(log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

func serve(t *testing.T, h *Hub, addr string) {
	t.Helper()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		NewClient(h, c).Run()
	}))
	go app.Listen(addr)
	t.Cleanup(func() { app.Shutdown() })
	time.Sleep(100 * time.Millisecond)
}

func dial(t *testing.T, url string) *gorilla.Conn {
	t.Helper()
	ws, _, err := gorilla.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	time.Sleep(50 * time.Millisecond)
	return ws
}

func TestNew(t *testing.T) {
	h := New("status")
	if h.ClientCount() != 0 {
		t.Error("ClientCount should be 0")
	}
	if h.IsRunning() {
		t.Error("hub should not be running before Run")
	}
}

func TestRunAndStop(t *testing.T) {
	h, cancel := startHub(t, "status")
	time.Sleep(10 * time.Millisecond)
	if !h.IsRunning() {
		t.Error("hub should be running")
	}
	cancel()
	<-h.Done()
	if h.IsRunning() {
		t.Error("hub should have stopped")
	}
}

func TestBroadcastReachesClients(t *testing.T) {
	h, _ := startHub(t, "status")
	serve(t, h, ":18100")

	a := dial(t, "ws://localhost:18100/ws")
	b := dial(t, "ws://localhost:18100/ws")
	if h.ClientCount() != 2 {
		t.Fatalf("ClientCount = %d, want 2", h.ClientCount())
	}

	if err := h.BroadcastJSON(map[string]string{"mode": "left"}); err != nil {
		t.Fatal(err)
	}
	for _, ws := range []*gorilla.Conn{a, b} {
		ws.SetReadDeadline(time.Now().Add(time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if string(data) != `{"mode":"left"}` {
			t.Errorf("data = %s", data)
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	h, _ := startHub(t, "status")
	serve(t, h, ":18101")

	ws := dial(t, "ws://localhost:18101/ws")
	if h.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d", h.ClientCount())
	}
	ws.Close()
	time.Sleep(100 * time.Millisecond)
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d after close", h.ClientCount())
	}
}

func TestStopClosesClients(t *testing.T) {
	h, cancel := startHub(t, "status")
	serve(t, h, ":18102")

	ws := dial(t, "ws://localhost:18102/ws")
	cancel()
	<-h.Done()

	ws.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected the connection to close")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d", h.ClientCount())
	}
}

func TestBroadcastDoesNotBlockWithoutRun(t *testing.T) {
	h := New("idle")
	h.SetLogger(log.Discard())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Broadcast([]byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked")
	}
}

func TestRunWaitsForWriter(t *testing.T) {
	h, _ := startHub(t, "status")

	finished := make(chan bool, 1)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		client := NewClient(h, c)
		client.Run()
		select {
		case <-client.writerDone:
			finished <- true
		default:
			finished <- false
		}
	}))
	go app.Listen(":18104")
	t.Cleanup(func() { app.Shutdown() })
	time.Sleep(100 * time.Millisecond)

	ws := dial(t, "ws://localhost:18104/ws")
	ws.Close()

	select {
	case ok := <-finished:
		if !ok {
			t.Error("Run returned while the write pump was still running")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the client disconnected")
	}
}
