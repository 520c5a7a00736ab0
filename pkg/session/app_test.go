package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-i4c3d/internal/config"
	"github.com/teslashibe/go-i4c3d/pkg/bridge"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
	"github.com/teslashibe/go-i4c3d/pkg/voice"
	"github.com/teslashibe/go-i4c3d/pkg/web"
)

// fakeTool is a loopback stand-in for the remote 3D tool.
type fakeTool struct {
	tcp      net.Listener
	udp      net.PacketConn
	accepted chan net.Conn
}

func newFakeTool(t *testing.T) *fakeTool {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ft := &fakeTool{tcp: ln, udp: pc, accepted: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			ft.accepted <- c
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		pc.Close()
	})
	return ft
}

func (ft *fakeTool) ports() (int, int) {
	return ft.tcp.Addr().(*net.TCPAddr).Port, ft.udp.LocalAddr().(*net.UDPAddr).Port
}

func (ft *fakeTool) readDatagram(t *testing.T) string {
	t.Helper()
	buf := make([]byte, 256)
	ft.udp.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := ft.udp.ReadFrom(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

// syncBuffer guards the banner output written from the Run goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T, ft *fakeTool, listen string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Target.Host = "127.0.0.1"
	cfg.Target.TCPPort, cfg.Target.UDPPort = ft.ports()
	cfg.Server.Listen = listen
	cfg.Server.Dashboard = false
	cfg.Voice.CameraEnabled = false
	cfg.Voice.GestureSliceMS = 20
	cfg.Logging.Level = "error"
	return &cfg
}

func fetchStatus(base string) (web.Status, error) {
	var st web.Status
	resp, err := http.Get(base + "/api/status")
	if err != nil {
		return st, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&st)
	return st, err
}

func listenerState(st web.Status, name string) voice.State {
	for _, l := range st.Listeners {
		if l.Name == name {
			return l.State
		}
	}
	return ""
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := config.Default()
	cfg.Target.TCPPort = 0
	_, err = New(&cfg)
	assert.Error(t, err)
}

func TestRunBeforeInit(t *testing.T) {
	cfg := config.Default()
	a, err := New(&cfg, WithOutput(io.Discard))
	require.NoError(t, err)
	assert.Error(t, a.Run(context.Background()))
}

func TestSessionLock(t *testing.T) {
	ft := newFakeTool(t)
	lockPath := filepath.Join(t.TempDir(), "i4c3d.lock")

	first, err := New(testConfig(t, ft, ":18135"), WithOutput(io.Discard), WithLockFile(lockPath))
	require.NoError(t, err)
	require.NoError(t, first.Init(context.Background()))
	t.Cleanup(func() {
		first.channel.Close()
		first.releaseLock()
	})

	second, err := New(testConfig(t, ft, ":18136"), WithOutput(io.Discard), WithLockFile(lockPath))
	require.NoError(t, err)
	assert.ErrorIs(t, second.Init(context.Background()), ErrAlreadyRunning)

	first.releaseLock()
	third, err := New(testConfig(t, ft, ":18136"), WithOutput(io.Discard), WithLockFile(lockPath))
	require.NoError(t, err)
	require.NoError(t, third.Init(context.Background()))
	third.channel.Close()
	third.releaseLock()
}

func TestSessionEndToEnd(t *testing.T) {
	ft := newFakeTool(t)
	cfg := testConfig(t, ft, ":18130")
	out := &syncBuffer{}

	a, err := New(cfg, WithOutput(out))
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	assert.Contains(t, out.String(), "✅")

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	base := "http://localhost:18130"
	require.Eventually(t, func() bool {
		st, err := fetchStatus(base)
		return err == nil && listenerState(st, "gesture") == voice.StateListening
	}, 3*time.Second, 20*time.Millisecond)

	client, err := bridge.New(bridge.Config{URL: "ws://localhost:18130", SensorID: "test"})
	require.NoError(t, err)
	defer client.Close()

	// a spoken "in" selects zoom-in and announces it over UDP
	require.NoError(t, client.SendToken(ctx, "gesture", gesture.TokenZoomIn))
	assert.Equal(t, "kinect zoomin", ft.readDatagram(t))

	var conn net.Conn
	select {
	case conn = <-ft.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("tool never saw a TCP connection")
	}
	defer conn.Close()

	// the hand moves 10 cm towards the sensor
	for i, z := range []float64{1.00, 0.98, 0.96, 0.93, 0.90} {
		f := gesture.Frame{Number: int64(i), Bodies: []gesture.Body{{
			Slot:   0,
			State:  gesture.Tracked,
			Joints: map[gesture.JointID]gesture.Joint{gesture.JointHandRight: {Z: z}},
		}}}
		require.NoError(t, client.SendFrame(ctx, f))
	}

	want := "DOLLY 10 10?"
	buf := make([]byte, len(want))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, want, string(buf))

	st, err := fetchStatus(base)
	require.NoError(t, err)
	assert.Equal(t, "zoomin", st.Engine.Mode)
	assert.Equal(t, uint64(1), st.Engine.Commands)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Contains(t, out.String(), "Shutting down")
}

func TestSessionToolUnreachable(t *testing.T) {
	ft := newFakeTool(t)
	cfg := testConfig(t, ft, ":18131")
	ft.tcp.Close() // refuse TCP

	out := &syncBuffer{}
	a, err := New(cfg, WithOutput(out))
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))
	assert.Contains(t, out.String(), "will retry")

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := fetchStatus("http://localhost:18131")
		return err == nil && st.Channel.State.String() == "disconnected"
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSessionListenFailure(t *testing.T) {
	ft := newFakeTool(t)
	busy, err := net.Listen("tcp", ":18132")
	require.NoError(t, err)
	defer busy.Close()

	a, err := New(testConfig(t, ft, ":18132"), WithOutput(io.Discard))
	require.NoError(t, err)
	require.NoError(t, a.Init(context.Background()))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "web server")
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not fail")
	}
}
