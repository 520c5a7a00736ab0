package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/teslashibe/go-i4c3d/pkg/protocol"
)

// maxReplayLine bounds one recorded message; a six-body skeleton frame is a
// few kilobytes.
const maxReplayLine = 1 << 20

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Sent    int
	Skipped int
}

// Replay streams a recording of sensor messages, one JSON message per line.
// Blank lines and lines starting with '#' are ignored, as are message types
// a sensor never sends. With speed > 0 the gaps between message timestamps
// are reproduced, scaled by 1/speed; with speed 0 messages are sent as fast
// as the connection allows.
func (c *Client) Replay(ctx context.Context, r io.Reader, speed float64) (ReplayStats, error) {
	var st ReplayStats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)

	var lastTS int64
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		msg, err := protocol.ParseMessage([]byte(text))
		if err != nil {
			return st, fmt.Errorf("line %d: %w", line, err)
		}
		switch msg.Type {
		case protocol.TypeSkeleton, protocol.TypeToken, protocol.TypePing:
		default:
			st.Skipped++
			continue
		}

		if speed > 0 && lastTS > 0 && msg.Timestamp > lastTS {
			gap := time.Duration(float64(msg.Timestamp-lastTS)/speed) * time.Millisecond
			if err := sleep(ctx, gap); err != nil {
				return st, err
			}
		}
		if msg.Timestamp > 0 {
			lastTS = msg.Timestamp
		}

		if err := c.Send(ctx, msg); err != nil {
			return st, fmt.Errorf("line %d: %w", line, err)
		}
		st.Sent++
	}
	if err := scanner.Err(); err != nil {
		return st, fmt.Errorf("read recording: %w", err)
	}
	return st, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
