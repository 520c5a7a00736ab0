// Package config loads the i4c3d TOML configuration.
//
// Values are resolved in three layers: Default(), then the TOML file, then
// environment overrides. The result is validated before it is returned.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/teslashibe/go-i4c3d/pkg/camera"
	"github.com/teslashibe/go-i4c3d/pkg/channel"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
)

//go:embed sample_config.toml
var sampleConfig string

// Target is the 3D tool the commands are sent to.
type Target struct {
	Host          string `toml:"host"`
	TCPPort       int    `toml:"tcp_port"`
	UDPPort       int    `toml:"udp_port"`
	DialTimeoutMS int    `toml:"dial_timeout_ms"`
}

// Gesture holds sampling and translation tunables.
type Gesture struct {
	InitialMode       string  `toml:"initial_mode"`
	ControlJoint      string  `toml:"control_joint"`
	DepthThreshold    float64 `toml:"depth_threshold"`
	PlanarThreshold   int     `toml:"planar_threshold"`
	TumbleRepeat      int     `toml:"tumble_repeat"`
	TumbleIntervalMS  int     `toml:"tumble_interval_ms"`
	RequireDirection  bool    `toml:"require_direction"`
	RequireArm        bool    `toml:"require_arm"`
	ClearOnModeSwitch bool    `toml:"clear_on_mode_switch"`
}

// Dispatch sizes the send queue between the engine and the tool.
type Dispatch struct {
	QueueSize int `toml:"queue_size"`
}

// Server is the HTTP listener shared by the sensor endpoint and the status API.
type Server struct {
	Listen    string `toml:"listen"`
	Dashboard bool   `toml:"dashboard"`
}

// Voice configures the two token listeners.
type Voice struct {
	CameraSliceMS    int  `toml:"camera_slice_ms"`
	GestureSliceMS   int  `toml:"gesture_slice_ms"`
	CameraEnabled    bool `toml:"camera_enabled"`
	WaitForCameraFix bool `toml:"wait_for_camera_fix"`
}

// Camera bounds the sensor elevation in degrees.
type Camera struct {
	ElevationMin  int `toml:"elevation_min"`
	ElevationMax  int `toml:"elevation_max"`
	ElevationStep int `toml:"elevation_step"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config encapsulates all configuration values for i4c3d.
type Config struct {
	Target   Target   `toml:"target"`
	Gesture  Gesture  `toml:"gesture"`
	Dispatch Dispatch `toml:"dispatch"`
	Server   Server   `toml:"server"`
	Voice    Voice    `toml:"voice"`
	Camera   Camera   `toml:"camera"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path of the per-user config file.
func DefaultConfigPath() (string, error) {
	return ExpandPath(defaultUserConfigPath)
}

// Load locates, parses, and validates a configuration file. A missing file is
// not an error: defaults and environment overrides are used instead.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Parse decodes TOML over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Marshal renders the effective configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// CreateSample writes the commented sample configuration to path.
func CreateSample(path string) error {
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// SampleConfig returns the commented sample configuration.
func SampleConfig() string {
	return sampleConfig
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("I4C3D_HOST")); v != "" {
		c.Target.Host = v
	}
	if err := envInt("I4C3D_TCP_PORT", &c.Target.TCPPort); err != nil {
		return err
	}
	if err := envInt("I4C3D_UDP_PORT", &c.Target.UDPPort); err != nil {
		return err
	}
	if v := strings.TrimSpace(os.Getenv("I4C3D_INITIAL_MODE")); v != "" {
		c.Gesture.InitialMode = v
	}
	if v := strings.TrimSpace(os.Getenv("I4C3D_LISTEN")); v != "" {
		c.Server.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func (c *Config) normalize() {
	c.Target.Host = strings.TrimSpace(c.Target.Host)
	c.Gesture.InitialMode = strings.ToLower(strings.TrimSpace(c.Gesture.InitialMode))
	c.Gesture.ControlJoint = strings.ToLower(strings.TrimSpace(c.Gesture.ControlJoint))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = channel.DefaultQueueSize
	}
	if c.Target.DialTimeoutMS <= 0 {
		c.Target.DialTimeoutMS = defaultDialTimeoutMS
	}
}

// ChannelTarget converts the [target] section.
func (c *Config) ChannelTarget() channel.Target {
	return channel.Target{Host: c.Target.Host, TCPPort: c.Target.TCPPort, UDPPort: c.Target.UDPPort}
}

// DialTimeout returns target.dial_timeout_ms as a duration.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Target.DialTimeoutMS) * time.Millisecond
}

// InitialMode parses gesture.initial_mode. Validate has already rejected
// unknown names, so the error is only reachable on hand-built configs.
func (c *Config) InitialMode() (gesture.Mode, error) {
	return gesture.ParseMode(c.Gesture.InitialMode)
}

// SamplerConfig converts the [gesture] sampling fields.
func (c *Config) SamplerConfig() gesture.SamplerConfig {
	return gesture.SamplerConfig{
		ControlJoint:   gesture.JointID(c.Gesture.ControlJoint),
		DepthThreshold: c.Gesture.DepthThreshold,
	}
}

// TranslatorConfig converts the [gesture] translation fields.
func (c *Config) TranslatorConfig() gesture.TranslatorConfig {
	return gesture.TranslatorConfig{
		PlanarThreshold:  c.Gesture.PlanarThreshold,
		TumbleRepeat:     c.Gesture.TumbleRepeat,
		TumbleInterval:   time.Duration(c.Gesture.TumbleIntervalMS) * time.Millisecond,
		RequireDirection: c.Gesture.RequireDirection,
	}
}

// CameraConfig converts the [camera] section.
func (c *Config) CameraConfig() camera.Config {
	return camera.Config{
		ElevationMin:  c.Camera.ElevationMin,
		ElevationMax:  c.Camera.ElevationMax,
		ElevationStep: c.Camera.ElevationStep,
	}
}

// CameraSlice returns the camera listener's recognition slice.
func (c *Config) CameraSlice() time.Duration {
	return time.Duration(c.Voice.CameraSliceMS) * time.Millisecond
}

// GestureSlice returns the gesture listener's recognition slice.
func (c *Config) GestureSlice() time.Duration {
	return time.Duration(c.Voice.GestureSliceMS) * time.Millisecond
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs(defaultProjectConfigName)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	return defaultPath, false, nil
}

// ExpandPath resolves a leading ~ and returns an absolute, cleaned path.
func ExpandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
