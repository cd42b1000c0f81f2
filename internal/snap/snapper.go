package snap

import (
	"math"
	"sort"

	"github.com/himanishpuri/ReverseMapper/internal/chart"
)

// DefaultSubdivision is the 1/4 grid.
const DefaultSubdivision = 4

// TempoPoint is an uninherited timing point: the beat length that applies
// from TimeMs onwards.
type TempoPoint struct {
	TimeMs       float64
	BeatLengthMs float64
}

// Snapper quantizes timestamps onto the grid induced by a set of tempo points
// and a subdivision factor.
type Snapper struct {
	points      []TempoPoint
	subdivision int
}

// New builds a Snapper. Points are copied and sorted by time; points with a
// non-positive beat length are ignored.
func New(points []TempoPoint, subdivision int) *Snapper {
	if subdivision <= 0 {
		subdivision = 1
	}

	ps := make([]TempoPoint, 0, len(points))
	for _, p := range points {
		if p.BeatLengthMs > 0 && !math.IsNaN(p.TimeMs) && !math.IsInf(p.TimeMs, 0) {
			ps = append(ps, p)
		}
	}
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].TimeMs < ps[j].TimeMs })

	return &Snapper{points: ps, subdivision: subdivision}
}

// FromChart builds a Snapper from the uninherited points of a chart's
// [TimingPoints]. Inherited (velocity) points and malformed lines are skipped.
func FromChart(c *chart.Store, subdivision int) *Snapper {
	var points []TempoPoint
	for _, tp := range c.TimingPoints() {
		if tp.Uninherited {
			points = append(points, TempoPoint{TimeMs: tp.Time, BeatLengthMs: tp.BeatLength})
		}
	}
	return New(points, subdivision)
}

// Points returns a copy of the tempo points in ascending order.
func (s *Snapper) Points() []TempoPoint {
	out := make([]TempoPoint, len(s.points))
	copy(out, s.points)
	return out
}

func (s *Snapper) Subdivision() int { return s.subdivision }

// Snap maps t (ms) to the nearest grid time. With no tempo points it only
// rounds t to an integer millisecond.
func (s *Snapper) Snap(t float64) int64 {
	if len(s.points) == 0 {
		return int64(math.Round(t))
	}

	current := s.pointAt(t)
	step := current.BeatLengthMs / float64(s.subdivision)
	offset := t - current.TimeMs
	snapped := current.TimeMs + math.Round(offset/step)*step

	return int64(math.Round(snapped))
}

// pointAt returns the last point with TimeMs <= t, or the first point when t
// precedes all of them.
func (s *Snapper) pointAt(t float64) TempoPoint {
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].TimeMs > t })
	if i == 0 {
		return s.points[0]
	}
	return s.points[i-1]
}

// GridStep returns the grid spacing in ms in effect at t, or 0 without tempo points.
func (s *Snapper) GridStep(t float64) float64 {
	if len(s.points) == 0 {
		return 0
	}
	return s.pointAt(t).BeatLengthMs / float64(s.subdivision)
}

// StreamBPM describes the first tempo point's grid as a stream BPM: 1/4
// snapping of a 180 BPM song is a 180 BPM stream, 1/8 is 360.
func (s *Snapper) StreamBPM() float64 {
	if len(s.points) == 0 {
		return 0
	}
	base := 60000 / s.points[0].BeatLengthMs
	return base * float64(s.subdivision) / 4
}
