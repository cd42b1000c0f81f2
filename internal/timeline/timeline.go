// Package timeline holds the delta-encoded pointer log that becomes a replay's
// frame stream.
package timeline

import (
	"errors"
	"fmt"
)

// Playfield center, returned when there is nothing to interpolate.
const (
	CenterX = 256.0
	CenterY = 192.0
)

var ErrNegativeDelta = errors.New("timeline: negative delta")

// Sample is one frame: DeltaMs since the previous sample, pointer position and
// the buttons held.
type Sample struct {
	DeltaMs int64
	X       float64
	Y       float64
	Buttons int32
}

// Timeline is an ordered list of samples. The absolute time of sample i is the
// sum of DeltaMs over samples 0..i.
type Timeline struct {
	samples []Sample
	total   int64
}

func New() *Timeline {
	return &Timeline{}
}

// FromSamples builds a timeline from existing samples, rejecting negative deltas.
func FromSamples(samples []Sample) (*Timeline, error) {
	tl := &Timeline{samples: make([]Sample, 0, len(samples))}
	for i, s := range samples {
		if err := tl.Append(s.DeltaMs, s.X, s.Y, s.Buttons); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	return tl, nil
}

// Append adds a sample at the end.
func (tl *Timeline) Append(deltaMs int64, x, y float64, buttons int32) error {
	if deltaMs < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeDelta, deltaMs)
	}
	tl.samples = append(tl.samples, Sample{DeltaMs: deltaMs, X: x, Y: y, Buttons: buttons})
	tl.total += deltaMs
	return nil
}

func (tl *Timeline) Len() int { return len(tl.samples) }

// Duration is the absolute time of the last sample.
func (tl *Timeline) Duration() int64 { return tl.total }

// Samples returns a copy of the samples.
func (tl *Timeline) Samples() []Sample {
	out := make([]Sample, len(tl.samples))
	copy(out, tl.samples)
	return out
}

func (tl *Timeline) Clone() *Timeline {
	return &Timeline{samples: tl.Samples(), total: tl.total}
}

// Reset empties the timeline, keeping its capacity.
func (tl *Timeline) Reset() {
	tl.samples = tl.samples[:0]
	tl.total = 0
}

// AbsoluteTimes returns the prefix sums of the deltas.
func (tl *Timeline) AbsoluteTimes() []int64 {
	out := make([]int64, len(tl.samples))
	var acc int64
	for i, s := range tl.samples {
		acc += s.DeltaMs
		out[i] = acc
	}
	return out
}

// Press is a sample with buttons held, located by its absolute time.
type Press struct {
	TimeMs  int64
	Index   int
	Buttons int32
}

// Pressed lists the samples that carry a button mask.
func (tl *Timeline) Pressed() []Press {
	var out []Press
	var acc int64
	for i, s := range tl.samples {
		acc += s.DeltaMs
		if s.Buttons != 0 {
			out = append(out, Press{TimeMs: acc, Index: i, Buttons: s.Buttons})
		}
	}
	return out
}

// InterpolateAt returns the pointer position at absolute time t, linearly
// interpolated between the bracketing samples. Past the last sample it clamps
// to the last position, before the first to the first; an empty timeline
// yields the playfield center.
func (tl *Timeline) InterpolateAt(t float64) (float64, float64) {
	if len(tl.samples) == 0 {
		return CenterX, CenterY
	}

	first := tl.samples[0]
	prevAbs := float64(first.DeltaMs)
	if t <= prevAbs {
		return first.X, first.Y
	}

	prev := first
	for _, curr := range tl.samples[1:] {
		currAbs := prevAbs + float64(curr.DeltaMs)
		if currAbs >= t {
			if currAbs == prevAbs {
				return curr.X, curr.Y
			}
			f := (t - prevAbs) / (currAbs - prevAbs)
			return prev.X + (curr.X-prev.X)*f, prev.Y + (curr.Y-prev.Y)*f
		}
		prev = curr
		prevAbs = currAbs
	}

	return prev.X, prev.Y
}

// InsertAt returns a new timeline with a sample placed at absolute time t.
// The first interval whose end is at or after t is split in two so that every
// other sample keeps its absolute time; past the end the sample is appended.
// Negative times are clamped to zero. The receiver is not modified.
func (tl *Timeline) InsertAt(t int64, x, y float64, buttons int32) *Timeline {
	if t < 0 {
		t = 0
	}
	out := &Timeline{samples: make([]Sample, 0, len(tl.samples)+1)}

	var prevAbs int64
	for i, s := range tl.samples {
		nextAbs := prevAbs + s.DeltaMs
		if t <= nextAbs {
			before := t - prevAbs
			after := nextAbs - t
			out.samples = append(out.samples, tl.samples[:i]...)
			out.samples = append(out.samples,
				Sample{DeltaMs: before, X: x, Y: y, Buttons: buttons},
				Sample{DeltaMs: after, X: s.X, Y: s.Y, Buttons: s.Buttons},
			)
			out.samples = append(out.samples, tl.samples[i+1:]...)
			out.total = tl.total
			return out
		}
		prevAbs = nextAbs
	}

	out.samples = append(out.samples, tl.samples...)
	out.samples = append(out.samples, Sample{DeltaMs: t - tl.total, X: x, Y: y, Buttons: buttons})
	out.total = t
	return out
}

// ExtendPresses returns a copy in which every pressed sample's buttons are
// also held on the unpressed samples that follow it within windowMs. Only
// samples pressed in the receiver extend; extended samples do not cascade.
func (tl *Timeline) ExtendPresses(windowMs int64) *Timeline {
	out := tl.Clone()
	if windowMs <= 0 {
		return out
	}

	abs := tl.AbsoluteTimes()
	for i, s := range tl.samples {
		if s.Buttons == 0 {
			continue
		}
		for j := i + 1; j < len(tl.samples) && abs[j]-abs[i] <= windowMs; j++ {
			if tl.samples[j].Buttons != 0 {
				break
			}
			out.samples[j].Buttons = s.Buttons
		}
	}
	return out
}
