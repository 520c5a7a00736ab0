package voice

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Common errors.
var (
	// ErrStop is returned by a Handler to end its listener cleanly.
	ErrStop = errors.New("voice: stop listening")

	// ErrRecognizerUnavailable means the recognizer could not be opened or
	// went away while listening.
	ErrRecognizerUnavailable = errors.New("voice: recognizer unavailable")
)

// Recognizer produces recognized utterances for a vocabulary.
type Recognizer interface {
	// Open starts recognition for vocab. The returned session is owned by a
	// single listener.
	Open(vocab Vocabulary) (Session, error)
}

// Session is one open recognition stream.
type Session interface {
	// Recognize waits at most slice for one utterance. ok is false when the
	// slice elapsed without one. It returns ctx.Err() once ctx is done.
	Recognize(ctx context.Context, slice time.Duration) (token string, ok bool, err error)

	Close() error
}

// Vocabulary is a named, fixed set of tokens matched by exact equality.
type Vocabulary struct {
	Name   string
	tokens map[string]struct{}
	order  []string
}

// NewVocabulary builds a vocabulary. Tokens are trimmed; duplicates are kept once.
func NewVocabulary(name string, tokens ...string) Vocabulary {
	v := Vocabulary{Name: name, tokens: make(map[string]struct{}, len(tokens))}
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := v.tokens[t]; dup {
			continue
		}
		v.tokens[t] = struct{}{}
		v.order = append(v.order, t)
	}
	return v
}

// Contains reports whether token is in the vocabulary.
func (v Vocabulary) Contains(token string) bool {
	_, ok := v.tokens[token]
	return ok
}

// Tokens returns the tokens in declaration order.
func (v Vocabulary) Tokens() []string {
	return append([]string(nil), v.order...)
}

// Len returns the number of tokens.
func (v Vocabulary) Len() int { return len(v.order) }
