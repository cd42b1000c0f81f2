package chart

import (
	"fmt"
	"strconv"
	"strings"
)

// TimingPoint is one line of [TimingPoints]. Inherited points carry a
// negative BeatLength (a slider velocity multiplier) and do not change tempo.
type TimingPoint struct {
	Time        float64
	BeatLength  float64
	Uninherited bool
}

// ParseTimingPoint reads "time,beatLength,meter,sampleSet,sampleIndex,volume,uninherited,effects".
// Lines with fewer than 8 fields are rejected.
func ParseTimingPoint(line string) (TimingPoint, bool) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 8 {
		return TimingPoint{}, false
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return TimingPoint{}, false
	}
	beat, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return TimingPoint{}, false
	}
	return TimingPoint{
		Time:        t,
		BeatLength:  beat,
		Uninherited: strings.TrimSpace(fields[6]) == "1",
	}, true
}

// TimingPoints returns the parseable lines of [TimingPoints].
func (s *Store) TimingPoints() []TimingPoint {
	var out []TimingPoint
	for _, line := range s.sections[SectionTimingPoints] {
		if tp, ok := ParseTimingPoint(line); ok {
			out = append(out, tp)
		}
	}
	return out
}

// Hit object type bits.
const (
	TypeCircle   = 1
	TypeNewCombo = 4
)

// HitObject is a hit circle as written to [HitObjects].
type HitObject struct {
	X, Y     int
	TimeMs   int64
	NewCombo bool
}

func (h HitObject) Type() int {
	t := TypeCircle
	if h.NewCombo {
		t |= TypeNewCombo
	}
	return t
}

// String renders "x,y,time,type,hitSound,hitSample" with default sounds.
func (h HitObject) String() string {
	return fmt.Sprintf("%d,%d,%d,%d,0,0:0:0:0:", h.X, h.Y, h.TimeMs, h.Type())
}

// ParseHitObject reads the position, time and combo flag of a hit object line.
func ParseHitObject(line string) (HitObject, bool) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) < 4 {
		return HitObject{}, false
	}
	var vals [4]int64
	for i := range vals {
		n, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 64)
		if err != nil {
			return HitObject{}, false
		}
		vals[i] = int64(n)
	}
	return HitObject{
		X:        int(vals[0]),
		Y:        int(vals[1]),
		TimeMs:   vals[2],
		NewCombo: vals[3]&TypeNewCombo != 0,
	}, true
}

// HitObjects returns the parseable lines of [HitObjects].
func (s *Store) HitObjects() []HitObject {
	var out []HitObject
	for _, line := range s.sections[SectionHitObjects] {
		if h, ok := ParseHitObject(line); ok {
			out = append(out, h)
		}
	}
	return out
}

// Playfield size in osu! pixels.
const (
	PlayfieldWidth  = 512.0
	PlayfieldHeight = 384.0
)

// InPlayfield reports whether (x, y) lies within the playfield, edges included.
func InPlayfield(x, y float64) bool {
	return x >= 0 && x <= PlayfieldWidth && y >= 0 && y <= PlayfieldHeight
}

// CircleRadius is the hit circle radius in osu! pixels for a circle size.
func CircleRadius(cs float64) float64 {
	return 64 * (1 - 0.7*(cs-5)/5)
}
