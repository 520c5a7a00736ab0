// Package session wires a complete i4c3d session: the command channel to the
// 3D tool, the dispatch queue, the gesture engine, the sensor endpoint, the
// two voice listeners and the web server.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/teslashibe/go-i4c3d/internal/config"
	"github.com/teslashibe/go-i4c3d/internal/log"
	"github.com/teslashibe/go-i4c3d/pkg/camera"
	"github.com/teslashibe/go-i4c3d/pkg/channel"
	"github.com/teslashibe/go-i4c3d/pkg/engine"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
	"github.com/teslashibe/go-i4c3d/pkg/ingest"
	"github.com/teslashibe/go-i4c3d/pkg/protocol"
	"github.com/teslashibe/go-i4c3d/pkg/voice"
	"github.com/teslashibe/go-i4c3d/pkg/web"
)

// ShutdownTimeout bounds each shutdown step that waits on a goroutine.
const ShutdownTimeout = 5 * time.Second

// ErrAlreadyRunning is returned by Init when another session holds the lock.
var ErrAlreadyRunning = errors.New("session: another i4c3d session is already running")

// App is the session orchestrator. It owns every component and their
// lifecycle.
type App struct {
	config *config.Config
	out    io.Writer
	logger *slog.Logger

	channel    *channel.Channel
	dispatcher *channel.Dispatcher
	engine     *engine.Engine
	ingest     *ingest.Hub
	camera     *camera.Controller
	webServer  *web.Server

	cameraListener  *voice.Listener
	gestureListener *voice.Listener

	statusUpdates chan gesture.Transition

	lockPath string
	lock     *flock.Flock
}

// Option configures an App.
type Option func(*App)

// WithOutput redirects the startup banner. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithLockFile makes Init take an exclusive lock on path for the lifetime of
// the session.
func WithLockFile(path string) Option {
	return func(a *App) { a.lockPath = path }
}

// New creates a session from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("session: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{
		config:        cfg,
		out:           os.Stdout,
		logger:        log.Component("session"),
		statusUpdates: make(chan gesture.Transition, 8),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Init builds all components and connects to the tool. A tool that cannot be
// reached is not fatal: the channel keeps the target and redials on the next
// command.
func (a *App) Init(ctx context.Context) error {
	fmt.Fprintln(a.out, "🎮 i4c3d - voice and gesture control for 3D tools")
	fmt.Fprintln(a.out, "=================================================")

	mode, err := a.config.InitialMode()
	if err != nil {
		return err
	}
	if err := a.acquireLock(); err != nil {
		return err
	}

	a.channel = channel.New(channel.WithDialTimeout(a.config.DialTimeout()))
	a.dispatcher = channel.NewDispatcher(a.channel, a.config.Dispatch.QueueSize)

	target := a.config.ChannelTarget()
	fmt.Fprintf(a.out, "🔌 Connecting to tool at %s (udp %d)... ", target.TCPAddr(), target.UDPPort)
	if err := a.channel.Connect(ctx, target.Host, target.TCPPort, target.UDPPort); err != nil {
		fmt.Fprintf(a.out, "⚠️  %v (will retry on next command)\n", err)
		a.logger.Warn("tool unreachable", "error", err)
	} else {
		fmt.Fprintln(a.out, "✅")
	}

	a.engine = engine.New(engine.Config{
		InitialMode:       mode,
		Sampler:           a.config.SamplerConfig(),
		Translator:        a.config.TranslatorConfig(),
		RequireArm:        a.config.Gesture.RequireArm,
		ClearOnModeSwitch: a.config.Gesture.ClearOnModeSwitch,
		EventBuffer:       engine.DefaultEventBuffer,
	}, a.dispatcher, a.channel, engine.OnModeToken(a.modeToken))

	a.ingest = ingest.NewHub()
	a.ingest.OnFrame(a.frameReceived)

	a.camera, err = camera.NewController(a.config.CameraConfig(), a.ingest)
	if err != nil {
		a.channel.Close()
		a.releaseLock()
		return fmt.Errorf("camera: %w", err)
	}

	if a.config.Voice.CameraEnabled {
		a.cameraListener = voice.NewListener("camera",
			a.ingest.Queue(protocol.VocabularyCamera),
			voice.NewVocabulary(protocol.VocabularyCamera, camera.Vocabulary()...),
			a.config.CameraSlice(),
			a.camera.Handle)
	}
	a.gestureListener = voice.NewListener("gesture",
		a.ingest.Queue(protocol.VocabularyGesture),
		voice.NewVocabulary(protocol.VocabularyGesture, gesture.Vocabulary()...),
		a.config.GestureSlice(),
		a.gestureToken)

	a.webServer = web.NewServer(a.config.Server.Listen, a.engine, a.channel,
		web.WithDispatcher(a.dispatcher),
		web.WithCamera(a.camera),
		web.WithIngest(a.ingest),
		web.WithDashboard(a.config.Server.Dashboard))
	if a.cameraListener != nil {
		a.webServer.SetListeners(a.cameraListener, a.gestureListener)
	} else {
		a.webServer.SetListeners(a.gestureListener)
	}

	fmt.Fprintf(a.out, "✋ Initial mode: %s (joint %s)\n", mode, a.config.Gesture.ControlJoint)
	return nil
}

// Run starts every component and blocks until ctx is cancelled or the web
// server fails, then shuts the session down in order.
func (a *App) Run(ctx context.Context) error {
	if a.engine == nil {
		return errors.New("session: Run called before Init")
	}

	// Workers outlive ctx so shutdown can stop them in order.
	base := context.WithoutCancel(ctx)
	dispatchCtx, cancelDispatch := context.WithCancel(base)
	defer cancelDispatch()
	webCtx, cancelWeb := context.WithCancel(base)
	defer cancelWeb()
	statusCtx, cancelStatus := context.WithCancel(base)
	defer cancelStatus()

	go a.dispatcher.Run(dispatchCtx)
	go a.engine.Run(base)
	go a.publishStatus(statusCtx)

	webErr := make(chan error, 1)
	go func() { webErr <- a.webServer.Start(webCtx) }()

	listenCtx, cancelListeners := context.WithCancel(ctx)
	defer cancelListeners()
	a.startListeners(listenCtx)

	fmt.Fprintf(a.out, "🌐 Listening on %s (sensor: /ws/sensor, status: /api/status)\n", a.config.Server.Listen)
	fmt.Fprintln(a.out, "🎤 Say \"kinekuto\" to start. (Ctrl+C to exit)")

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-webErr:
		if err != nil {
			runErr = fmt.Errorf("web server: %w", err)
		}
	}

	fmt.Fprintln(a.out, "\n👋 Shutting down...")

	cancelListeners()
	a.ingest.Close()
	a.waitListeners()

	a.engine.Stop()
	a.wait("engine", a.engine.Done())

	a.dispatcher.Close()
	if !a.wait("dispatch", a.dispatcher.Done()) {
		cancelDispatch()
		<-a.dispatcher.Done()
	}

	if err := a.channel.Close(); err != nil {
		a.logger.Warn("channel close", "error", err)
	}
	cancelStatus()
	cancelWeb()
	a.webServer.Shutdown()
	a.releaseLock()

	return runErr
}

func (a *App) acquireLock() error {
	if a.lockPath == "" {
		return nil
	}
	lock := flock.New(a.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, a.lockPath)
	}
	a.lock = lock
	a.logger.Debug("lock acquired", "path", a.lockPath)
	return nil
}

func (a *App) releaseLock() {
	if a.lock == nil {
		return
	}
	if err := a.lock.Unlock(); err != nil {
		a.logger.Warn("failed to release session lock", "error", err)
	}
	a.lock = nil
}

func (a *App) startListeners(ctx context.Context) {
	if a.cameraListener == nil {
		go a.gestureListener.Run(ctx)
		return
	}
	go a.cameraListener.Run(ctx)
	if a.config.Voice.WaitForCameraFix {
		fmt.Fprintln(a.out, "📷 Adjust the camera first; say \"camera fix\" to start gesture control")
		go a.gestureListener.RunAfter(ctx, a.cameraListener)
		return
	}
	go a.gestureListener.Run(ctx)
}

func (a *App) waitListeners() {
	if a.cameraListener != nil {
		a.wait("camera listener", a.cameraListener.Done())
	}
	a.wait("gesture listener", a.gestureListener.Done())
}

// wait reports whether done closed within ShutdownTimeout.
func (a *App) wait(name string, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-time.After(ShutdownTimeout):
		a.logger.Warn("shutdown timed out", "component", name)
		return false
	}
}

func (a *App) frameReceived(sensorID string, f gesture.Frame) {
	if err := a.engine.HandleFrame(context.Background(), f); err != nil {
		a.logger.Debug("frame rejected", "sensor", sensorID, "error", err)
	}
}

func (a *App) gestureToken(ctx context.Context, token string) error {
	_, err := a.engine.HandleToken(ctx, token)
	return err
}

// modeToken runs on the engine goroutine and must not block.
func (a *App) modeToken(t gesture.Transition) {
	select {
	case a.statusUpdates <- t:
	default:
		a.logger.Debug("status update dropped", "mode", t.To.String())
	}
	a.webServer.Notify()
}

func (a *App) publishStatus(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.statusUpdates:
			connected := a.channel.State() == channel.Connected
			a.ingest.BroadcastStatus(t.To.String(), t.Armed, connected)
		}
	}
}
