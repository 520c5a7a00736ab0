package gesture

import (
	"log/slog"

	"github.com/teslashibe/go-i4c3d/internal/log"
)

// Gesture vocabulary tokens, matched by exact string equality.
const (
	TokenInitialize = "kinekuto"
	TokenZoomIn     = "in"
	TokenZoomOut    = "out"
	TokenLeft       = "left"
	TokenRight      = "right"
	TokenUp         = "up"
	TokenDown       = "down"
	TokenStop       = "stop"
)

// tokenModes maps the mode-selecting tokens. TokenStop and TokenInitialize are
// handled separately.
var tokenModes = map[string]Mode{
	TokenZoomIn:  ZoomIn,
	TokenZoomOut: ZoomOut,
	TokenLeft:    Left,
	TokenRight:   Right,
	TokenUp:      Up,
	TokenDown:    Down,
}

// Vocabulary returns the gesture vocabulary in grammar order.
func Vocabulary() []string {
	return []string{
		TokenInitialize,
		TokenZoomIn,
		TokenZoomOut,
		TokenStop,
		TokenLeft,
		TokenRight,
		TokenUp,
		TokenDown,
	}
}

// TokenFor returns the voice token that selects m.
func TokenFor(m Mode) string {
	if m == Stop {
		return TokenStop
	}
	for tok, mode := range tokenModes {
		if mode == m {
			return tok
		}
	}
	return ""
}

// SignSender delivers mode-sync datagrams. Failures are the sender's to report;
// the controller logs and drops them.
type SignSender interface {
	SendBestEffort(payload string) error
}

// Transition describes the effect of one token.
type Transition struct {
	From, To   Mode
	Token      string
	Recognized bool // token is part of the gesture vocabulary
	Gated      bool // mode token ignored because the controller was not armed
	Armed      bool // armed state after the token
}

// Changed reports whether the active mode actually moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// ModeController is the gesture-mode state machine. It is not safe for
// concurrent use; the engine owns it and serializes access.
type ModeController struct {
	mode       Mode
	armed      bool
	requireArm bool

	signs  SignSender
	logger *slog.Logger
}

// ModeOption configures a ModeController.
type ModeOption func(*ModeController)

// WithRequireArm makes mode tokens (other than stop) take effect only after
// TokenInitialize has been heard.
func WithRequireArm(require bool) ModeOption {
	return func(c *ModeController) { c.requireArm = require }
}

// WithModeLogger overrides the controller's logger.
func WithModeLogger(l *slog.Logger) ModeOption {
	return func(c *ModeController) { c.logger = l }
}

// NewModeController starts in the initial mode. signs may be nil, in which
// case no mode-sync datagrams are sent.
func NewModeController(initial Mode, signs SignSender, opts ...ModeOption) *ModeController {
	c := &ModeController{
		mode:   initial,
		signs:  signs,
		logger: log.Component("mode"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the active mode.
func (c *ModeController) Mode() Mode {
	return c.mode
}

// Armed reports whether TokenInitialize was heard since the last mode token.
func (c *ModeController) Armed() bool {
	return c.armed
}

// Apply handles one recognized token. Every vocabulary token, including a
// re-selection of the active mode, sends the sign of the resulting mode.
// Tokens outside the vocabulary are ignored.
func (c *ModeController) Apply(token string) Transition {
	t := Transition{From: c.mode, To: c.mode, Token: token}

	switch mode, ok := tokenModes[token]; {
	case token == TokenStop:
		// stop is honoured from any state, armed or not
		c.mode = Stop
		c.armed = false
		t.Recognized = true
	case token == TokenInitialize:
		c.armed = true
		t.Recognized = true
	case ok:
		t.Recognized = true
		if c.requireArm && !c.armed {
			t.Gated = true
			break
		}
		c.mode = mode
		c.armed = false
	default:
		c.logger.Debug("ignoring token outside gesture vocabulary", "token", token)
		return t
	}

	t.To = c.mode
	t.Armed = c.armed
	if t.Changed() {
		c.logger.Info("mode changed", "from", t.From.String(), "to", t.To.String(), "token", token)
	}
	c.sendSign()
	return t
}

func (c *ModeController) sendSign() {
	if c.signs == nil {
		return
	}
	sign := c.mode.Sign()
	if err := c.signs.SendBestEffort(sign); err != nil {
		c.logger.Warn("mode sign not sent", "sign", sign, "error", err)
		return
	}
	c.logger.Debug("mode sign sent", "sign", sign)
}
