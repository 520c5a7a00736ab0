// Package web serves the status and control API, the live status feed and
// the embedded dashboard.
package web

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-i4c3d/internal/log"
	"github.com/teslashibe/go-i4c3d/pkg/camera"
	"github.com/teslashibe/go-i4c3d/pkg/channel"
	"github.com/teslashibe/go-i4c3d/pkg/engine"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
	"github.com/teslashibe/go-i4c3d/pkg/hub"
	"github.com/teslashibe/go-i4c3d/pkg/ingest"
	"github.com/teslashibe/go-i4c3d/pkg/voice"
)

//go:embed dashboard
var dashboardFS embed.FS

const (
	// how often the status feed is refreshed without a mode change
	publishInterval = time.Second
	requestTimeout  = 2 * time.Second
)

// Engine is the part of engine.Engine the server drives.
type Engine interface {
	Snapshot(ctx context.Context) (engine.Snapshot, error)
	HandleToken(ctx context.Context, token string) (gesture.Transition, error)
}

// Channel is the part of channel.Channel the server drives.
type Channel interface {
	Connect(ctx context.Context, host string, tcpPort, udpPort int) error
	Stats() channel.Stats
}

// Status is the payload of GET /api/status and the /ws/status feed.
type Status struct {
	Engine    engine.Snapshot        `json:"engine"`
	Channel   channel.Stats          `json:"channel"`
	Dispatch  *channel.DispatchStats `json:"dispatch,omitempty"`
	Listeners []voice.Status         `json:"listeners"`
	Camera    *camera.Status         `json:"camera,omitempty"`
	Sensors   *ingest.Stats          `json:"sensors,omitempty"`
}

// Server is the web server
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	engine     Engine
	channel    Channel
	dispatcher *channel.Dispatcher
	camera     *camera.Controller
	ingest     *ingest.Hub
	dashboard  bool

	listenersMu sync.RWMutex
	listeners   []*voice.Listener

	statusHub *hub.Hub
	notify    chan struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithDispatcher adds dispatch counters to the status.
func WithDispatcher(d *channel.Dispatcher) Option {
	return func(s *Server) { s.dispatcher = d }
}

// WithCamera adds the camera controller state to the status.
func WithCamera(c *camera.Controller) Option {
	return func(s *Server) { s.camera = c }
}

// WithIngest mounts the sensor endpoint and API on the server.
func WithIngest(h *ingest.Hub) Option {
	return func(s *Server) { s.ingest = h }
}

// WithDashboard toggles the embedded dashboard page.
func WithDashboard(enabled bool) Option {
	return func(s *Server) { s.dashboard = enabled }
}

// WithLogger overrides the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a server listening on addr.
func NewServer(addr string, eng Engine, ch Channel, opts ...Option) *Server {
	s := &Server{
		addr:      addr,
		logger:    log.Component("web"),
		engine:    eng,
		channel:   ch,
		dashboard: true,
		statusHub: hub.New("status"),
		notify:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.statusHub.SetLogger(s.logger.With("hub", "status"))

	app := fiber.New(fiber.Config{
		AppName:               "i4c3d",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/mode/:name", s.handleMode)
	api.Post("/connect", s.handleConnect)
	if s.ingest != nil {
		s.ingest.RegisterAPIRoutes(api)
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	if s.ingest != nil {
		s.ingest.RegisterRoutes(app)
	}

	if s.dashboard {
		if root, err := fs.Sub(dashboardFS, "dashboard"); err == nil {
			app.Use("/", filesystem.New(filesystem.Config{Root: http.FS(root)}))
		}
	}

	s.app = app
	return s
}

// SetListeners replaces the voice listeners reported in the status.
func (s *Server) SetListeners(ls ...*voice.Listener) {
	s.listenersMu.Lock()
	s.listeners = ls
	s.listenersMu.Unlock()
}

// Notify schedules a status push. It never blocks, so it is safe to call
// from engine callbacks.
func (s *Server) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Start runs the status feed and serves HTTP until Shutdown is called or
// ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.publish(ctx)
	go func() {
		<-ctx.Done()
		s.app.Shutdown()
	}()

	s.logger.Info("listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Status collects the current status.
func (s *Server) Status(ctx context.Context) (Status, error) {
	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Engine:    snap,
		Channel:   s.channel.Stats(),
		Listeners: []voice.Status{},
	}
	if s.dispatcher != nil {
		d := s.dispatcher.Stats()
		st.Dispatch = &d
	}
	if s.camera != nil {
		c := s.camera.Status()
		st.Camera = &c
	}
	if s.ingest != nil {
		i := s.ingest.GetStats()
		st.Sensors = &i
	}
	s.listenersMu.RLock()
	for _, l := range s.listeners {
		st.Listeners = append(st.Listeners, l.Status())
	}
	s.listenersMu.RUnlock()
	return st, nil
}

func (s *Server) publish(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.notify:
		}
		if s.statusHub.ClientCount() == 0 {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, requestTimeout)
		st, err := s.Status(sctx)
		cancel()
		if err != nil {
			s.logger.Debug("status unavailable", "error", err)
			continue
		}
		if err := s.statusHub.BroadcastJSON(st); err != nil {
			s.logger.Warn("status encode failed", "error", err)
		}
	}
}
