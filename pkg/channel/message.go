// Package channel owns the network link to the remote 3D tool.
//
// Commands (DOLLY/TUMBLE) travel over a persistent TCP stream that is
// re-established lazily on the next send after a failure. Mode-sync signs
// travel as single UDP datagrams with no delivery guarantee.
package channel

import "time"

// Transport selects how a message is delivered.
type Transport int

const (
	// TCP is the reliable, reconnecting stream.
	TCP Transport = iota
	// UDP is the best-effort datagram sender.
	UDP
)

func (t Transport) String() string {
	if t == UDP {
		return "udp"
	}
	return "tcp"
}

// Message is one outbound payload. Repeat > 1 sends the same payload several
// times, Interval apart.
type Message struct {
	Payload   string
	Transport Transport
	Repeat    int
	Interval  time.Duration
}

// Reliable returns a single-send TCP message.
func Reliable(payload string) Message {
	return Message{Payload: payload, Transport: TCP, Repeat: 1}
}

// BestEffort returns a single-send UDP message.
func BestEffort(payload string) Message {
	return Message{Payload: payload, Transport: UDP, Repeat: 1}
}

// Times returns the number of sends, never less than one.
func (m Message) Times() int {
	if m.Repeat < 1 {
		return 1
	}
	return m.Repeat
}
