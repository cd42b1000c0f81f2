package snap

import (
	"math"
	"strings"
	"testing"

	"github.com/himanishpuri/ReverseMapper/internal/chart"
)

func TestSnapScenario(t *testing.T) {
	s := New([]TempoPoint{{TimeMs: 0, BeatLengthMs: 500}}, 4)

	if step := s.GridStep(0); step != 125 {
		t.Fatalf("GridStep = %v, expected 125", step)
	}

	tests := []struct {
		in   float64
		want int64
	}{
		{130, 125},
		{300, 250},
		{62.5, 125}, // half rounds away from zero
		{62.4, 0},
		{1000, 1000},
		{1005, 1000},
		{-62.5, -125},
	}

	for _, tt := range tests {
		if got := s.Snap(tt.in); got != tt.want {
			t.Errorf("Snap(%v) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}

func TestSnapEmptyIsIdentity(t *testing.T) {
	s := New(nil, 4)

	for _, in := range []float64{0, 1, 130, 299.6, 12345} {
		if got := s.Snap(in); got != int64(math.Round(in)) {
			t.Errorf("Snap(%v) = %d with no tempo points", in, got)
		}
	}
	if s.StreamBPM() != 0 {
		t.Error("StreamBPM should be 0 with no tempo points")
	}
}

func TestSnapBeforeFirstPointUsesFirst(t *testing.T) {
	s := New([]TempoPoint{
		{TimeMs: 1000, BeatLengthMs: 400},
		{TimeMs: 5000, BeatLengthMs: 300},
	}, 4)

	// step 100 anchored at 1000
	if got := s.Snap(480); got != 500 {
		t.Errorf("Snap(480) = %d, expected 500", got)
	}
	if got := s.Snap(-40); got != 0 {
		t.Errorf("Snap(-40) = %d, expected 0", got)
	}
}

func TestSnapLatestApplicablePoint(t *testing.T) {
	s := New([]TempoPoint{
		{TimeMs: 5000, BeatLengthMs: 300}, // unsorted on purpose
		{TimeMs: 1000, BeatLengthMs: 400},
	}, 4)

	// step 75 anchored at 5000
	if got := s.Snap(5100); got != 5075 {
		t.Errorf("Snap(5100) = %d, expected 5075", got)
	}
	if got := s.Snap(5000); got != 5000 {
		t.Errorf("Snap(5000) = %d, expected 5000", got)
	}
	// still in the first section
	if got := s.Snap(4960); got != 5000 {
		t.Errorf("Snap(4960) = %d, expected 5000", got)
	}
}

func TestSnapIdempotent(t *testing.T) {
	sets := [][]TempoPoint{
		{{TimeMs: 0, BeatLengthMs: 500}},
		{{TimeMs: 17, BeatLengthMs: 333.333333}},
		{{TimeMs: 1234.5, BeatLengthMs: 461.538461538462}, {TimeMs: 60000, BeatLengthMs: 375}},
	}

	for _, points := range sets {
		for _, sub := range []int{1, 2, 3, 4, 6, 8, 12, 16} {
			s := New(points, sub)
			// stay clear of the 60000 boundary: a value snapped under one
			// point may land past the next point's start
			for _, r := range [][2]float64{{-500, 55000}, {60000, 70000}} {
				for t0 := r[0]; t0 < r[1]; t0 += 37.3 {
					once := s.Snap(t0)
					twice := s.Snap(float64(once))
					if once != twice {
						t.Fatalf("points=%v sub=%d: Snap(%v)=%d but Snap(%d)=%d", points, sub, t0, once, once, twice)
					}
				}
			}
		}
	}
}

// A value snapped under one tempo point can land past the next point's start,
// where a second Snap moves it onto the new grid.
func TestSnapAcrossTempoBoundary(t *testing.T) {
	s := New([]TempoPoint{
		{TimeMs: 0, BeatLengthMs: 500},
		{TimeMs: 1070, BeatLengthMs: 400},
	}, 4)

	once := s.Snap(1065)
	if once != 1125 {
		t.Fatalf("Snap(1065) = %d, expected 1125", once)
	}
	if got := s.Snap(float64(once)); got != 1170 {
		t.Errorf("Snap(1125) = %d, expected 1170", got)
	}
	if got := s.Snap(1170); got != 1170 {
		t.Errorf("Snap(1170) = %d, expected 1170", got)
	}
}

func TestSnapMonotonic(t *testing.T) {
	for _, sub := range []int{1, 3, 4, 7} {
		s := New([]TempoPoint{{TimeMs: 250, BeatLengthMs: 352.941176470588}}, sub)
		prev := s.Snap(-1000)
		for t0 := -1000.0; t0 < 20000; t0 += 0.7 {
			cur := s.Snap(t0)
			if cur < prev {
				t.Fatalf("sub=%d: Snap(%v)=%d < previous %d", sub, t0, cur, prev)
			}
			prev = cur
		}
	}
}

func TestFromChart(t *testing.T) {
	lines := []string{
		"2000,400,4,2,1,60,1,0",
		"500,-100,4,2,1,60,0,0", // inherited
		"0,500,4,2,1,60,1,0",
		"garbage",
		"100,300,4", // too few fields
		"",
	}

	s := FromChart(chart.Parse("[TimingPoints]\n"+strings.Join(lines, "\n")), 4)
	points := s.Points()
	if len(points) != 2 {
		t.Fatalf("expected 2 uninherited points, got %d", len(points))
	}
	if points[0].TimeMs != 0 || points[1].TimeMs != 2000 {
		t.Errorf("points not sorted: %+v", points)
	}
	if got := s.Snap(130); got != 125 {
		t.Errorf("Snap(130) = %d, expected 125", got)
	}
}

func TestStreamBPM(t *testing.T) {
	s := New([]TempoPoint{{TimeMs: 0, BeatLengthMs: 500}}, 8)
	if got := s.StreamBPM(); got != 240 {
		t.Errorf("StreamBPM = %v, expected 240", got)
	}
}

func TestNonPositiveSubdivision(t *testing.T) {
	s := New([]TempoPoint{{TimeMs: 0, BeatLengthMs: 500}}, 0)
	if s.Subdivision() != 1 {
		t.Fatalf("Subdivision = %d, expected 1", s.Subdivision())
	}
	if got := s.Snap(300); got != 500 {
		t.Errorf("Snap(300) = %d, expected 500", got)
	}
}
