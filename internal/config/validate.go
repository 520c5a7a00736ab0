package config

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-i4c3d/pkg/gesture"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTarget(); err != nil {
		return err
	}
	if err := c.validateGesture(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateVoice(); err != nil {
		return err
	}
	if err := c.validateCamera(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateTarget() error {
	if c.Target.Host == "" {
		return errors.New("target.host must be set")
	}
	if err := validPort("target.tcp_port", c.Target.TCPPort); err != nil {
		return err
	}
	return validPort("target.udp_port", c.Target.UDPPort)
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func (c *Config) validateGesture() error {
	if _, err := gesture.ParseMode(c.Gesture.InitialMode); err != nil {
		return fmt.Errorf("gesture.initial_mode: %w", err)
	}
	if c.Gesture.ControlJoint == "" {
		return errors.New("gesture.control_joint must be set")
	}
	if c.Gesture.DepthThreshold < 0 {
		return errors.New("gesture.depth_threshold must be non-negative")
	}
	if c.Gesture.PlanarThreshold < 0 {
		return errors.New("gesture.planar_threshold must be non-negative")
	}
	if c.Gesture.TumbleRepeat < 1 {
		return errors.New("gesture.tumble_repeat must be at least 1")
	}
	if c.Gesture.TumbleIntervalMS < 0 {
		return errors.New("gesture.tumble_interval_ms must be non-negative")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Listen == "" {
		return errors.New("server.listen must be set")
	}
	return nil
}

func (c *Config) validateVoice() error {
	if c.Voice.CameraSliceMS <= 0 {
		return errors.New("voice.camera_slice_ms must be positive")
	}
	if c.Voice.GestureSliceMS <= 0 {
		return errors.New("voice.gesture_slice_ms must be positive")
	}
	if c.Voice.WaitForCameraFix && !c.Voice.CameraEnabled {
		return errors.New("voice.wait_for_camera_fix requires voice.camera_enabled")
	}
	return nil
}

func (c *Config) validateCamera() error {
	if c.Camera.ElevationMin > 0 || c.Camera.ElevationMax < 0 {
		return fmt.Errorf("camera elevation range [%d, %d] must contain 0", c.Camera.ElevationMin, c.Camera.ElevationMax)
	}
	if c.Camera.ElevationStep <= 0 {
		return errors.New("camera.elevation_step must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}
