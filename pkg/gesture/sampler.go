package gesture

import "math"

// History capacities.
const (
	DepthHistoryLen  = 5
	PlanarHistoryLen = 3
)

// DefaultDepthThreshold is the minimum |last-first| depth change (meters)
// forwarded as a distance gesture.
const DefaultDepthThreshold = 0.05

// Kind distinguishes the two gesture families.
type Kind int

const (
	Distance Kind = iota
	Directional
)

func (k Kind) String() string {
	if k == Distance {
		return "distance"
	}
	return "directional"
}

// Gesture is one filled history, ready for translation.
type Gesture struct {
	Kind Kind
	Mode Mode
	Slot int

	// Distance: last minus first depth sample.
	Diff float64

	// Directional: first and last screen samples (pixels).
	H0, H2 int
	V0, V2 int
}

// DepthHistory accumulates control-joint Z samples for one body.
type DepthHistory struct {
	samples [DepthHistoryLen]float64
	fill    int
}

// Fill returns how many samples are held.
func (h *DepthHistory) Fill() int { return h.fill }

// push appends z and reports the last-minus-first diff when the history fills.
// A full history is reset in the same step.
func (h *DepthHistory) push(z float64) (float64, bool) {
	h.samples[h.fill] = z
	h.fill++
	if h.fill < DepthHistoryLen {
		return 0, false
	}
	h.fill = 0
	return h.samples[DepthHistoryLen-1] - h.samples[0], true
}

// PlanarHistory accumulates control-joint screen samples for one body.
type PlanarHistory struct {
	horizontal [PlanarHistoryLen]int
	vertical   [PlanarHistoryLen]int
	fill       int
}

// Fill returns how many samples are held.
func (h *PlanarHistory) Fill() int { return h.fill }

func (h *PlanarHistory) push(x, y int) (h0, h2, v0, v2 int, full bool) {
	h.horizontal[h.fill] = x
	h.vertical[h.fill] = y
	h.fill++
	if h.fill < PlanarHistoryLen {
		return 0, 0, 0, 0, false
	}
	h.fill = 0
	last := PlanarHistoryLen - 1
	return h.horizontal[0], h.horizontal[last], h.vertical[0], h.vertical[last], true
}

// SamplerConfig holds the sampler's tunables.
type SamplerConfig struct {
	ControlJoint   JointID
	DepthThreshold float64
}

// DefaultSamplerConfig samples the right hand.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		ControlJoint:   JointHandRight,
		DepthThreshold: DefaultDepthThreshold,
	}
}

// Sampler keeps one depth and one planar history per body slot for the
// lifetime of the session. It is not safe for concurrent use.
type Sampler struct {
	cfg    SamplerConfig
	depth  [MaxBodies]DepthHistory
	planar [MaxBodies]PlanarHistory
}

// NewSampler creates a sampler with empty histories.
func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.ControlJoint == "" {
		cfg.ControlJoint = JointHandRight
	}
	return &Sampler{cfg: cfg}
}

// Config returns the sampler configuration.
func (s *Sampler) Config() SamplerConfig {
	return s.cfg
}

// Sample feeds every body of a frame and returns the gestures that completed.
func (s *Sampler) Sample(mode Mode, f Frame) []Gesture {
	var out []Gesture
	for _, b := range f.Bodies {
		if g, ok := s.Observe(mode, b); ok {
			out = append(out, g)
		}
	}
	return out
}

// Observe feeds one body. Bodies that are not tracked, lie outside the slot
// range, or lack the control joint leave their histories untouched. In Stop
// mode nothing is sampled.
func (s *Sampler) Observe(mode Mode, b Body) (Gesture, bool) {
	if b.State != Tracked || b.Slot < 0 || b.Slot >= MaxBodies {
		return Gesture{}, false
	}
	joint, ok := b.Joints[s.cfg.ControlJoint]
	if !ok {
		return Gesture{}, false
	}

	switch {
	case mode.IsDistance():
		diff, full := s.depth[b.Slot].push(joint.Z)
		if !full || math.Abs(diff) <= s.cfg.DepthThreshold {
			return Gesture{}, false
		}
		return Gesture{Kind: Distance, Mode: mode, Slot: b.Slot, Diff: diff}, true

	case mode != Stop:
		h0, h2, v0, v2, full := s.planar[b.Slot].push(int(joint.ScreenX), int(joint.ScreenY))
		if !full {
			return Gesture{}, false
		}
		return Gesture{Kind: Directional, Mode: mode, Slot: b.Slot, H0: h0, H2: h2, V0: v0, V2: v2}, true
	}
	return Gesture{}, false
}

// Fill returns the fill counters of a slot's histories.
func (s *Sampler) Fill(slot int) (depth, planar int) {
	if slot < 0 || slot >= MaxBodies {
		return 0, 0
	}
	return s.depth[slot].fill, s.planar[slot].fill
}

// Reset empties every history.
func (s *Sampler) Reset() {
	s.depth = [MaxBodies]DepthHistory{}
	s.planar = [MaxBodies]PlanarHistory{}
}
