package gesture

import (
	"fmt"
	"strconv"
	"time"

	"github.com/teslashibe/go-i4c3d/pkg/channel"
)

// Defaults for directional gestures.
const (
	DefaultPlanarThreshold = 7
	DefaultTumbleRepeat    = 5
	DefaultTumbleInterval  = time.Millisecond
)

// TranslatorConfig holds the translator's tunables.
type TranslatorConfig struct {
	PlanarThreshold int           // pixels
	TumbleRepeat    int           // sends per accepted TUMBLE
	TumbleInterval  time.Duration // pause between repeated sends

	// RequireDirection accepts a directional gesture only when the signed,
	// mode-specific diff exceeds the threshold. When false the magnitude is
	// compared, so motion against the mode direction tumbles the other way.
	RequireDirection bool
}

// DefaultTranslatorConfig returns the stock thresholds.
func DefaultTranslatorConfig() TranslatorConfig {
	return TranslatorConfig{
		PlanarThreshold: DefaultPlanarThreshold,
		TumbleRepeat:    DefaultTumbleRepeat,
		TumbleInterval:  DefaultTumbleInterval,
	}
}

// Translator formats gestures as I4C3D protocol commands. It never fails:
// gestures that do not qualify produce no command.
type Translator struct {
	cfg TranslatorConfig
}

// NewTranslator creates a translator.
func NewTranslator(cfg TranslatorConfig) *Translator {
	if cfg.TumbleRepeat < 1 {
		cfg.TumbleRepeat = 1
	}
	return &Translator{cfg: cfg}
}

// Translate returns the command for g, or false when g is dropped.
func (t *Translator) Translate(g Gesture) (channel.Message, bool) {
	switch g.Kind {
	case Distance:
		return t.dolly(g)
	case Directional:
		return t.tumble(g)
	}
	return channel.Message{}, false
}

// dolly accepts ZoomIn only for motion toward the sensor (diff < 0) and
// ZoomOut only for motion away from it (diff > 0).
func (t *Translator) dolly(g Gesture) (channel.Message, bool) {
	switch {
	case g.Mode == ZoomIn && g.Diff < 0:
	case g.Mode == ZoomOut && g.Diff > 0:
	default:
		return channel.Message{}, false
	}
	amount := formatAmount(-g.Diff * 100)
	return channel.Reliable(fmt.Sprintf("DOLLY %s %s?", amount, amount)), true
}

func (t *Translator) tumble(g Gesture) (channel.Message, bool) {
	var diff int
	var payload string
	switch g.Mode {
	case Left:
		diff = g.H2 - g.H0
		payload = fmt.Sprintf("TUMBLE %d 0.0?", -diff*2)
	case Right:
		diff = g.H0 - g.H2
		payload = fmt.Sprintf("TUMBLE %d 0.0?", diff*2)
	case Up:
		diff = g.V0 - g.V2
		payload = fmt.Sprintf("TUMBLE 0.0 %d?", -diff*2)
	case Down:
		diff = g.V2 - g.V0
		payload = fmt.Sprintf("TUMBLE 0.0 %d?", diff*2)
	default:
		return channel.Message{}, false
	}

	magnitude := diff
	if !t.cfg.RequireDirection && magnitude < 0 {
		magnitude = -magnitude
	}
	if magnitude <= t.cfg.PlanarThreshold {
		return channel.Message{}, false
	}

	msg := channel.Reliable(payload)
	msg.Repeat = t.cfg.TumbleRepeat
	msg.Interval = t.cfg.TumbleInterval
	return msg, true
}

// formatAmount renders a float with at most seven significant digits and no
// trailing zeros (10 -> "10", 12.5 -> "12.5").
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'g', 7, 64)
}
