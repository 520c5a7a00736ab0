// Package engine serialises gesture processing. Skeleton frames and voice
// tokens arrive from independent goroutines; the Engine applies them one at a
// time on its own goroutine, which is the only code that touches the active
// mode and the per-body histories.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-i4c3d/internal/log"
	"github.com/teslashibe/go-i4c3d/pkg/channel"
	"github.com/teslashibe/go-i4c3d/pkg/gesture"
)

// DefaultEventBuffer is the inbox capacity.
const DefaultEventBuffer = 32

// ErrStopped is returned once the engine loop has exited.
var ErrStopped = errors.New("engine: stopped")

// Sink accepts translated commands. channel.Dispatcher implements it.
type Sink interface {
	Submit(m channel.Message) bool
}

// Config holds engine settings.
type Config struct {
	InitialMode       gesture.Mode
	Sampler           gesture.SamplerConfig
	Translator        gesture.TranslatorConfig
	RequireArm        bool
	ClearOnModeSwitch bool
	EventBuffer       int
}

// DefaultConfig returns the stock engine settings.
func DefaultConfig() Config {
	return Config{
		InitialMode: gesture.Left,
		Sampler:     gesture.DefaultSamplerConfig(),
		Translator:  gesture.DefaultTranslatorConfig(),
		EventBuffer: DefaultEventBuffer,
	}
}

// SlotFill is the history fill level of one body slot.
type SlotFill struct {
	Slot   int `json:"slot"`
	Depth  int `json:"depth"`
	Planar int `json:"planar"`
}

// Snapshot is a consistent view of engine state.
type Snapshot struct {
	Mode       string     `json:"mode"`
	Armed      bool       `json:"armed"`
	Slots      []SlotFill `json:"slots"`
	Frames     uint64     `json:"frames"`
	Gestures   uint64     `json:"gestures"`
	Commands   uint64     `json:"commands"`
	Dropped    uint64     `json:"dropped"`
	Tokens     uint64     `json:"tokens"`
	ModeSwaps  uint64     `json:"mode_switches"`
	LastFrame  int64      `json:"last_frame"`
	LastChange time.Time  `json:"last_change,omitzero"`
}

type eventKind int

const (
	evFrame eventKind = iota
	evToken
	evSnapshot
)

type event struct {
	kind  eventKind
	frame gesture.Frame
	token string
	reply chan any
}

// Engine is the single owner of mode and history state.
type Engine struct {
	cfg        Config
	sink       Sink
	controller *gesture.ModeController
	sampler    *gesture.Sampler
	translator *gesture.Translator
	logger     *slog.Logger
	modeLogger *slog.Logger

	onChange []func(gesture.Transition)

	events chan event
	stop   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	// owned by the loop goroutine
	frames, gestures, commands, dropped, tokens, swaps uint64
	lastFrame                                          int64
	lastChange                                         time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the engine and mode-transition loggers.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
		e.modeLogger = l
	}
}

// OnModeToken registers a callback run on the engine goroutine after every
// recognized mode token, including re-selections of the current mode and
// tokens gated while unarmed. Callbacks must not block or call back into the
// engine.
func OnModeToken(fn func(gesture.Transition)) Option {
	return func(e *Engine) { e.onChange = append(e.onChange, fn) }
}

// New creates an engine. Commands go to sink; mode signs go to signs, which
// may be nil.
func New(cfg Config, sink Sink, signs gesture.SignSender, opts ...Option) *Engine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	e := &Engine{
		cfg:        cfg,
		sink:       sink,
		sampler:    gesture.NewSampler(cfg.Sampler),
		translator: gesture.NewTranslator(cfg.Translator),
		logger:     log.Component("engine"),
		modeLogger: log.Component("mode"),
		events:     make(chan event, cfg.EventBuffer),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.controller = gesture.NewModeController(cfg.InitialMode, signs,
		gesture.WithRequireArm(cfg.RequireArm),
		gesture.WithModeLogger(e.modeLogger))
	return e
}

// Run processes events until ctx is done or Stop is called. Events still in
// the inbox when the loop exits are discarded.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("engine: already running")
	}
	defer close(e.done)

	e.logger.Info("engine started", "mode", e.controller.Mode().String(), "joint", string(e.cfg.Sampler.ControlJoint))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped", "frames", e.frames, "commands", e.commands)
			return nil
		case <-e.stop:
			e.logger.Info("engine stopped", "frames", e.frames, "commands", e.commands)
			return nil
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

// Stop ends the loop. It is safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} { return e.done }

// HandleFrame queues a frame. It blocks while the inbox is full.
func (e *Engine) HandleFrame(ctx context.Context, f gesture.Frame) error {
	return e.send(ctx, event{kind: evFrame, frame: f})
}

// HandleToken applies a voice token and returns the resulting transition.
func (e *Engine) HandleToken(ctx context.Context, token string) (gesture.Transition, error) {
	reply := make(chan any, 1)
	if err := e.send(ctx, event{kind: evToken, token: token, reply: reply}); err != nil {
		return gesture.Transition{}, err
	}
	v, err := e.await(ctx, reply)
	if err != nil {
		return gesture.Transition{}, err
	}
	return v.(gesture.Transition), nil
}

// Snapshot returns the current state.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan any, 1)
	if err := e.send(ctx, event{kind: evSnapshot, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	v, err := e.await(ctx, reply)
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (e *Engine) send(ctx context.Context, ev event) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	select {
	case e.events <- ev:
		return nil
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) await(ctx context.Context, reply chan any) (any, error) {
	select {
	case v := <-reply:
		return v, nil
	case <-e.done:
		// the loop may have answered just before exiting
		select {
		case v := <-reply:
			return v, nil
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) handle(ev event) {
	switch ev.kind {
	case evFrame:
		e.processFrame(ev.frame)
	case evToken:
		ev.reply <- e.applyToken(ev.token)
	case evSnapshot:
		ev.reply <- e.snapshot()
	}
}

func (e *Engine) processFrame(f gesture.Frame) {
	e.frames++
	e.lastFrame = f.Number
	mode := e.controller.Mode()

	for _, g := range e.sampler.Sample(mode, f) {
		e.gestures++
		if g.Kind == gesture.Distance {
			e.logger.Debug("depth gesture", "slot", g.Slot, "mode", g.Mode.String(), "diff", g.Diff)
		} else {
			e.logger.Debug("planar gesture", "slot", g.Slot, "mode", g.Mode.String(),
				"horizontal", g.H0-g.H2, "vertical", g.V0-g.V2)
		}

		msg, ok := e.translator.Translate(g)
		if !ok {
			continue
		}
		if e.sink == nil || !e.sink.Submit(msg) {
			e.dropped++
			e.logger.Warn("command dropped", "payload", msg.Payload)
			continue
		}
		e.commands++
		e.logger.Debug("command queued", "payload", msg.Payload, "repeat", msg.Times())
	}
}

func (e *Engine) applyToken(token string) gesture.Transition {
	e.tokens++
	t := e.controller.Apply(token)
	if !t.Recognized {
		return t
	}

	if t.Changed() {
		e.swaps++
		e.lastChange = time.Now()
		if e.cfg.ClearOnModeSwitch {
			e.sampler.Reset()
		}
	}
	for _, fn := range e.onChange {
		fn(t)
	}
	return t
}

func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		Mode:       e.controller.Mode().String(),
		Armed:      e.controller.Armed(),
		Slots:      make([]SlotFill, 0, gesture.MaxBodies),
		Frames:     e.frames,
		Gestures:   e.gestures,
		Commands:   e.commands,
		Dropped:    e.dropped,
		Tokens:     e.tokens,
		ModeSwaps:  e.swaps,
		LastFrame:  e.lastFrame,
		LastChange: e.lastChange,
	}
	for slot := 0; slot < gesture.MaxBodies; slot++ {
		d, p := e.sampler.Fill(slot)
		s.Slots = append(s.Slots, SlotFill{Slot: slot, Depth: d, Planar: p})
	}
	return s
}
