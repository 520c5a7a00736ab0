package web

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-i4c3d/pkg/engine"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
	"github.com/teslashibe/go-i4c3d/pkg/hub"
)

// handleStatus returns the current status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	st, err := s.Status(ctx)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(st)
}

// ModeResponse is returned by POST /api/mode/:name.
type ModeResponse struct {
	From    string `json:"from"`
	Mode    string `json:"mode"`
	Changed bool   `json:"changed"`
	Gated   bool   `json:"gated,omitempty"`
}

// handleMode injects the token that selects a mode, as if it had been spoken
func (s *Server) handleMode(c *fiber.Ctx) error {
	mode, err := gesture.ParseMode(c.Params("name"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	tr, err := s.engine.HandleToken(ctx, gesture.TokenFor(mode))
	if err != nil {
		status := fiber.StatusInternalServerError
		if errors.Is(err, engine.ErrStopped) {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	s.Notify()

	return c.JSON(ModeResponse{
		From:    tr.From.String(),
		Mode:    tr.To.String(),
		Changed: tr.Changed(),
		Gated:   tr.Gated,
	})
}

// ConnectRequest is the body of POST /api/connect.
type ConnectRequest struct {
	Host    string `json:"host"`
	TCPPort int    `json:"tcp_port"`
	UDPPort int    `json:"udp_port"`
}

func (r ConnectRequest) validate() error {
	if r.Host == "" {
		return errors.New("host is required")
	}
	if r.TCPPort < 1 || r.TCPPort > 65535 {
		return errors.New("tcp_port must be between 1 and 65535")
	}
	if r.UDPPort < 1 || r.UDPPort > 65535 {
		return errors.New("udp_port must be between 1 and 65535")
	}
	return nil
}

// handleConnect points the command channel at a new host
func (s *Server) handleConnect(c *fiber.Ctx) error {
	var req ConnectRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	err := s.channel.Connect(ctx, req.Host, req.TCPPort, req.UDPPort)
	s.Notify()
	if err != nil {
		s.logger.Warn("connect failed", "host", req.Host, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   err.Error(),
			"channel": s.channel.Stats(),
		})
	}
	return c.JSON(s.channel.Stats())
}

// handleStatusWS sends the current status, then streams updates
func (s *Server) handleStatusWS(c *websocket.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	st, err := s.Status(ctx)
	cancel()
	if err == nil {
		// the write pump has not started yet, so this write is not concurrent
		if err := c.WriteJSON(st); err != nil {
			return
		}
	}
	hub.NewClient(s.statusHub, c).Run()
}
