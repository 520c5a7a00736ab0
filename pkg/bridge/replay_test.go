package bridge

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-i4c3d/pkg/gesture"
)

const recording = `# two frames and a token
{"type":"skeleton","ts":1000,"data":{"frame":1,"bodies":[{"slot":0,"state":"tracked","joints":{"hand_right":{"x":0,"y":0,"z":1.0}}}]}}

{"type":"token","ts":1050,"data":{"vocabulary":"gesture","text":"in"}}
{"type":"status","ts":1060,"data":{"mode":"left"}}
{"type":"skeleton","ts":1100,"data":{"frame":2,"bodies":[{"slot":0,"state":"tracked","joints":{"hand_right":{"x":0,"y":0,"z":0.9}}}]}}
`

func TestReplay(t *testing.T) {
	h := startIngest(t, ":18128")

	var mu sync.Mutex
	var frames []gesture.Frame
	h.OnFrame(func(_ string, f gesture.Frame) {
		mu.Lock()
		frames = append(frames, f)
		mu.Unlock()
	})

	c := newClient(t, Config{URL: "ws://localhost:18128"})
	st, err := c.Replay(context.Background(), strings.NewReader(recording), 0)
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Sent: 3, Skipped: 1}, st)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	}, time.Second, 10*time.Millisecond)
	assert.InDelta(t, 0.9, frames[1].Bodies[0].Joints[gesture.JointHandRight].Z, 1e-9)
	assert.Equal(t, uint64(1), h.GetStats().TokensReceived)
}

func TestReplayPacing(t *testing.T) {
	startIngest(t, ":18129")
	c := newClient(t, Config{URL: "ws://localhost:18129"})

	start := time.Now()
	_, err := c.Replay(context.Background(), strings.NewReader(recording), 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestReplayBadLine(t *testing.T) {
	c := newClient(t, Config{URL: "ws://localhost:18127"})
	_, err := c.Replay(context.Background(), strings.NewReader("not json\n"), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestReplayCancelled(t *testing.T) {
	startIngest(t, ":18133")
	c := newClient(t, Config{URL: "ws://localhost:18133"})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	slow := `{"type":"token","ts":1000,"data":{"vocabulary":"gesture","text":"in"}}
{"type":"token","ts":61000,"data":{"vocabulary":"gesture","text":"out"}}
`
	st, err := c.Replay(ctx, strings.NewReader(slow), 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, st.Sent)
}
