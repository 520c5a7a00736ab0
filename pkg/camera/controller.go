package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-i4c3d/internal/log"
	"github.com/teslashibe/go-i4c3d/pkg/voice"
)

// Tilter moves the sensor's tilt motor.
type Tilter interface {
	SetElevation(ctx context.Context, degrees int) error
}

// TilterFunc adapts a function to Tilter.
type TilterFunc func(ctx context.Context, degrees int) error

// SetElevation calls f.
func (f TilterFunc) SetElevation(ctx context.Context, degrees int) error {
	return f(ctx, degrees)
}

// Status is a snapshot of the controller.
type Status struct {
	Movable   bool `json:"movable"`
	Fixed     bool `json:"fixed"`
	Elevation int  `json:"elevation"` // counter, may sit outside the motor range
	Applied   int  `json:"applied"`   // last value sent to the motor
}

// Controller is the camera-angle token handler. "camera start" unlocks the
// motor, "up"/"down" step the elevation while unlocked, "default" recentres
// it and "camera fix" locks it and ends listening.
type Controller struct {
	config Config
	tilter Tilter
	logger *slog.Logger

	mu      sync.Mutex
	movable bool
	fixed   bool
	angle   int
	applied int
}

// NewController creates a controller. A nil tilter only tracks the angle.
func NewController(cfg Config, tilter Tilter) (*Controller, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validation failed: %v", errs)
	}
	return &Controller{
		config: cfg,
		tilter: tilter,
		logger: log.Component("camera"),
	}, nil
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Movable: c.movable, Fixed: c.fixed, Elevation: c.angle, Applied: c.applied}
}

// Handle applies one camera token. It returns voice.ErrStop on "camera fix".
//
// Stepping past the motor range still moves the counter; the motor is only
// driven while the counter is within range, so stepping back from beyond a
// limit takes as many tokens as it took to get there.
func (c *Controller) Handle(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token == TokenFix {
		c.movable = false
		c.fixed = true
		c.logger.Info("camera fixed", "elevation", c.applied)
		return voice.ErrStop
	}

	if !c.movable {
		if token == TokenStart {
			c.movable = true
			c.logger.Info("camera movable")
		}
		return nil
	}

	switch token {
	case TokenUp:
		c.angle += c.config.ElevationStep
	case TokenDown:
		c.angle -= c.config.ElevationStep
	case TokenDefault:
		c.angle = 0
		return c.tiltLocked(ctx, 0)
	default:
		return nil
	}
	if c.angle < c.config.ElevationMin || c.angle > c.config.ElevationMax {
		c.logger.Debug("elevation out of range", "elevation", c.angle)
		return nil
	}
	return c.tiltLocked(ctx, c.angle)
}

func (c *Controller) tiltLocked(ctx context.Context, degrees int) error {
	if c.tilter == nil {
		c.applied = degrees
		return nil
	}
	if err := c.tilter.SetElevation(ctx, degrees); err != nil {
		return fmt.Errorf("set elevation %d: %w", degrees, err)
	}
	c.applied = degrees
	c.logger.Info("elevation set", "degrees", degrees)
	return nil
}
