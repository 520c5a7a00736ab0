package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-i4c3d/pkg/voice"
)

// DefaultQueueSize is the per-vocabulary token buffer.
const DefaultQueueSize = 16

// ErrSessionOpen is returned when a second listener opens a busy queue.
var ErrSessionOpen = errors.New("ingest: token queue already has a listener")

// TokenQueue buffers recognized tokens for one vocabulary and serves them to
// a single voice listener. Tokens that arrive while no listener is attached,
// or while the buffer is full, are dropped.
type TokenQueue struct {
	name   string
	tokens chan string

	mu       sync.Mutex
	attached bool
	closed   bool
	done     chan struct{}

	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewTokenQueue creates a queue.
func NewTokenQueue(name string, size int) *TokenQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &TokenQueue{
		name:   name,
		tokens: make(chan string, size),
		done:   make(chan struct{}),
	}
}

// Name returns the vocabulary name.
func (q *TokenQueue) Name() string { return q.name }

// Push offers a token. It reports false when the token was dropped.
func (q *TokenQueue) Push(token string) bool {
	q.received.Add(1)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || !q.attached {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.tokens <- token:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Open attaches a listener. Only one session may be open at a time.
func (q *TokenQueue) Open(voice.Vocabulary) (voice.Session, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, voice.ErrRecognizerUnavailable
	}
	if q.attached {
		return nil, ErrSessionOpen
	}
	q.attached = true
	return &queueSession{q: q}, nil
}

// Close detaches any listener; its next Recognize fails with
// voice.ErrRecognizerUnavailable.
func (q *TokenQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Stats returns received and dropped counts.
func (q *TokenQueue) Stats() (received, dropped uint64) {
	return q.received.Load(), q.dropped.Load()
}

type queueSession struct {
	q    *TokenQueue
	once sync.Once
}

func (s *queueSession) Recognize(ctx context.Context, slice time.Duration) (string, bool, error) {
	timer := time.NewTimer(slice)
	defer timer.Stop()

	select {
	case tok := <-s.q.tokens:
		return tok, true, nil
	case <-timer.C:
		return "", false, nil
	case <-s.q.done:
		return "", false, voice.ErrRecognizerUnavailable
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (s *queueSession) Close() error {
	s.once.Do(func() {
		s.q.mu.Lock()
		s.q.attached = false
		s.q.mu.Unlock()
		// discard tokens nobody will read
		for {
			select {
			case <-s.q.tokens:
			default:
				return
			}
		}
	})
	return nil
}

var _ voice.Recognizer = (*TokenQueue)(nil)
