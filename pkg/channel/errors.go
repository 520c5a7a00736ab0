package channel

import (
	"errors"
	"fmt"
)

// Common errors returned by the channel.
var (
	ErrClosed        = errors.New("channel: closed")
	ErrNotConfigured = errors.New("channel: no target configured")
	ErrSuperseded    = errors.New("channel: connect superseded by a newer target")
)

// ConnectionError reports a socket that could not be created or connected.
// It is fatal to the connect attempt only; the next reliable send retries.
type ConnectionError struct {
	Transport Transport
	Addr      string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("channel: %s connect to %s: %v", e.Transport, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
