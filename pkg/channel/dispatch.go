package channel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-i4c3d/internal/log"
)

// DefaultQueueSize is the dispatcher's default backlog.
const DefaultQueueSize = 64

// DispatchStats are cumulative dispatcher counters.
type DispatchStats struct {
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Dispatcher decouples command producers from the network. Producers Submit
// without blocking; a single worker delivers messages in order. When the
// queue is full the new message is dropped.
type Dispatcher struct {
	sender Sender
	queue  chan Message
	sleep  func(time.Duration)
	logger *slog.Logger

	mu     sync.RWMutex // guards closed against concurrent Submit
	closed bool
	done   chan struct{}

	submitted atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewDispatcher creates a dispatcher with a queue of the given size.
func NewDispatcher(sender Sender, size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Dispatcher{
		sender: sender,
		queue:  make(chan Message, size),
		sleep:  time.Sleep,
		logger: log.Component("dispatch"),
		done:   make(chan struct{}),
	}
}

// Submit queues m. It returns false when the queue is full or the dispatcher
// has been closed.
func (d *Dispatcher) Submit(m Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return false
	}

	select {
	case d.queue <- m:
		d.submitted.Add(1)
		return true
	default:
		n := d.dropped.Add(1)
		d.logger.Warn("dispatch queue full, dropping command", "payload", m.Payload, "dropped", n)
		return false
	}
}

// Run delivers queued messages until Close has been called and the queue is
// drained, or ctx is cancelled. It must be called exactly once.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(m)
		}
	}
}

func (d *Dispatcher) deliver(m Message) {
	if err := deliver(d.sender, m, d.sleep); err != nil {
		d.failed.Add(1)
		d.logger.Warn("best-effort send failed", "payload", m.Payload, "error", err)
		return
	}
	d.delivered.Add(1)
	d.logger.Debug("command delivered", "payload", m.Payload, "transport", m.Transport.String(), "times", m.Times())
}

// Close stops accepting messages. Messages already queued are still delivered
// by Run. Close is idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Queued:    len(d.queue),
		Submitted: d.submitted.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
	}
}
