package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-i4c3d/internal/log"
)

// State is a listener's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateListening   State = "listening"
	StateStopped     State = "stopped"
	StateUnavailable State = "unavailable"
)

// Handler receives every in-vocabulary token. Returning ErrStop ends the
// listener; any other error is logged and listening continues.
type Handler func(ctx context.Context, token string) error

// Status is a point-in-time view of a listener.
type Status struct {
	Name       string    `json:"name"`
	Vocabulary string    `json:"vocabulary"`
	State      State     `json:"state"`
	Error      string    `json:"error,omitempty"`
	Slices     uint64    `json:"slices"`
	Heard      uint64    `json:"heard"`
	Matched    uint64    `json:"matched"`
	Ignored    uint64    `json:"ignored"`
	LastToken  string    `json:"last_token,omitempty"`
	LastHeard  time.Time `json:"last_heard,omitzero"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Listener polls a recognizer in fixed slices and dispatches exact matches.
type Listener struct {
	name       string
	vocab      Vocabulary
	slice      time.Duration
	handler    Handler
	recognizer Recognizer
	logger     *slog.Logger

	mu     sync.Mutex
	status Status

	runOnce sync.Once
	done    chan struct{}
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithListenerLogger overrides the listener logger.
func WithListenerLogger(l *slog.Logger) ListenerOption {
	return func(ln *Listener) { ln.logger = l }
}

// NewListener creates an idle listener. A non-positive slice defaults to 100ms.
func NewListener(name string, rec Recognizer, vocab Vocabulary, slice time.Duration, h Handler, opts ...ListenerOption) *Listener {
	if slice <= 0 {
		slice = 100 * time.Millisecond
	}
	l := &Listener{
		name:       name,
		vocab:      vocab,
		slice:      slice,
		handler:    h,
		recognizer: rec,
		logger:     log.Component("voice").With("listener", name),
		done:       make(chan struct{}),
		status: Status{
			Name:       name,
			Vocabulary: vocab.Name,
			State:      StateIdle,
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the listener name.
func (l *Listener) Name() string { return l.name }

// Done is closed when Run returns.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Status returns a snapshot of the listener's state and counters.
func (l *Listener) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Run listens until ctx is cancelled or the handler returns ErrStop; both
// return nil. A recognizer that cannot be opened, or fails while listening,
// leaves the listener unavailable and the error wraps ErrRecognizerUnavailable.
// Run may be called once; later calls return an error immediately.
func (l *Listener) Run(ctx context.Context) error {
	err := errors.New("voice: listener already ran")
	l.runOnce.Do(func() {
		defer close(l.done)
		err = l.run(ctx)
	})
	return err
}

// RunAfter waits for prev to finish, then runs l. If ctx ends first, l is
// marked stopped without opening its recognizer.
func (l *Listener) RunAfter(ctx context.Context, prev *Listener) error {
	select {
	case <-prev.Done():
		return l.Run(ctx)
	case <-ctx.Done():
		l.runOnce.Do(func() {
			l.finish(StateStopped, nil)
			close(l.done)
		})
		return nil
	}
}

func (l *Listener) run(ctx context.Context) error {
	if l.recognizer == nil {
		return l.unavailable(errors.New("no recognizer configured"))
	}
	session, err := l.recognizer.Open(l.vocab)
	if err != nil {
		return l.unavailable(err)
	}
	defer session.Close()

	l.mu.Lock()
	l.status.State = StateListening
	l.status.StartedAt = time.Now()
	l.mu.Unlock()
	l.logger.Info("listening", "vocabulary", l.vocab.Name, "tokens", l.vocab.Tokens(), "slice", l.slice)

	for {
		if ctx.Err() != nil {
			l.finish(StateStopped, nil)
			return nil
		}

		token, ok, err := session.Recognize(ctx, l.slice)
		l.mu.Lock()
		l.status.Slices++
		l.mu.Unlock()

		if err != nil {
			if ctx.Err() != nil {
				l.finish(StateStopped, nil)
				return nil
			}
			return l.unavailable(err)
		}
		if !ok {
			continue
		}

		stop, err := l.dispatch(ctx, token)
		if stop {
			l.logger.Info("stop requested", "token", token)
			l.finish(StateStopped, nil)
			return nil
		}
		if err != nil {
			l.logger.Warn("token handler failed", "token", token, "error", err)
		}
	}
}

// dispatch routes one recognized utterance.
func (l *Listener) dispatch(ctx context.Context, raw string) (bool, error) {
	token := strings.TrimSpace(raw)

	l.mu.Lock()
	l.status.Heard++
	l.status.LastHeard = time.Now()
	if !l.vocab.Contains(token) {
		l.status.Ignored++
		l.mu.Unlock()
		l.logger.Debug("ignored token", "token", token)
		return false, nil
	}
	l.status.Matched++
	l.status.LastToken = token
	l.mu.Unlock()

	l.logger.Info("speech recognized", "token", token)
	if l.handler == nil {
		return false, nil
	}
	err := l.handler(ctx, token)
	if errors.Is(err, ErrStop) {
		return true, nil
	}
	return false, err
}

func (l *Listener) unavailable(cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrRecognizerUnavailable, l.name, cause)
	l.logger.Error("recognizer unavailable", "error", cause)
	l.finish(StateUnavailable, cause)
	return err
}

func (l *Listener) finish(state State, cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.State = state
	l.status.FinishedAt = time.Now()
	if cause != nil {
		l.status.Error = cause.Error()
	}
}
