// Package camera handles the camera-angle vocabulary: it lets a user unlock
// the depth sensor's tilt motor by voice, nudge it up or down, and lock it.
package camera

import "fmt"

// Voice tokens for the camera vocabulary.
const (
	TokenStart   = "camera start"
	TokenFix     = "camera fix"
	TokenDefault = "default"
	TokenUp      = "up"
	TokenDown    = "down"
)

// Vocabulary returns the camera tokens.
func Vocabulary() []string {
	return []string{TokenStart, TokenFix, TokenDefault, TokenUp, TokenDown}
}

// Config bounds the sensor elevation, in degrees.
type Config struct {
	ElevationMin  int `json:"elevation_min"`
	ElevationMax  int `json:"elevation_max"`
	ElevationStep int `json:"elevation_step"`
}

// DefaultConfig returns the Kinect v1 motor range.
func DefaultConfig() Config {
	return Config{
		ElevationMin:  -27,
		ElevationMax:  27,
		ElevationStep: 3,
	}
}

// Validate checks the configuration and returns a list of errors.
func (c Config) Validate() []string {
	var errors []string

	if c.ElevationMin > 0 {
		errors = append(errors, fmt.Sprintf("elevation_min must be <= 0, got %d", c.ElevationMin))
	}
	if c.ElevationMax < 0 {
		errors = append(errors, fmt.Sprintf("elevation_max must be >= 0, got %d", c.ElevationMax))
	}
	if c.ElevationStep <= 0 {
		errors = append(errors, fmt.Sprintf("elevation_step must be positive, got %d", c.ElevationStep))
	}

	return errors
}
