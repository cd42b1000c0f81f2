// Package session drives one capture: pointer ticks and button presses come
// in while the audio plays, and Finalize turns them into a rewritten chart and
// a replay.
package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/himanishpuri/ReverseMapper/internal/chart"
	"github.com/himanishpuri/ReverseMapper/internal/replay"
	"github.com/himanishpuri/ReverseMapper/internal/snap"
	"github.com/himanishpuri/ReverseMapper/internal/timeline"
	"github.com/himanishpuri/ReverseMapper/pkg/logger"
)

var (
	ErrNoChart   = errors.New("no chart loaded")
	ErrNoCapture = errors.New("nothing captured")
	ErrState     = errors.New("invalid session state")
)

type State int

const (
	StateIdle State = iota
	StateCapturing
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Key is the button that produced a press.
type Key int

const (
	KeyNone Key = iota
	KeyPrimary
	KeySecondary
)

// Button masks written into replay frames.
const (
	MaskPrimary   int32 = 5
	MaskSecondary int32 = 10
)

func (k Key) Mask() int32 {
	switch k {
	case KeyPrimary:
		return MaskPrimary
	case KeySecondary:
		return MaskSecondary
	}
	return 0
}

func (k Key) String() string {
	switch k {
	case KeyPrimary:
		return "primary"
	case KeySecondary:
		return "secondary"
	}
	return "none"
}

// Input is polled by OnTick and OnDiscretePress. ClockMs is the audio
// position in milliseconds; Pointer is in playfield coordinates.
type Input interface {
	ClockMs() float64
	Pointer() (x, y float64)
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// HitEvent is a press snapped to the grid. Presses snapping to the same
// time collapse into the first one.
type HitEvent struct {
	SnappedMs int64
	Key       Key
}

// Session owns the timeline and hit list of one capture.
type Session struct {
	mu sync.Mutex

	chart    *chart.Store
	snapper  *snap.Snapper
	settings Settings
	input    Input
	log      Logger
	now      func() time.Time

	state State
	tl    *timeline.Timeline
	hits  []HitEvent
	seen  map[int64]struct{}
	// lastMs is the absolute time of the last sample; the timeline is
	// anchored at clock zero.
	lastMs  int64
	ignored int
	seed    int32
}

// New creates an idle session over a loaded chart. input may be nil when
// the caller pushes values with Tick and Press; log may be nil.
func New(c *chart.Store, settings Settings, input Input, log Logger) (*Session, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Session{
		chart:    c,
		settings: settings,
		input:    input,
		log:      log,
		now:      time.Now,
		tl:       timeline.New(),
		seen:     make(map[int64]struct{}),
	}
	if c != nil {
		s.snapper = snap.FromChart(c, settings.Subdivision)
	} else {
		s.snapper = snap.New(nil, settings.Subdivision)
	}
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Settings() Settings { return s.settings }

func (s *Session) Snapper() *snap.Snapper { return s.snapper }

// Start begins a capture, clearing anything recorded before.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle && s.state != StateDone {
		return fmt.Errorf("%w: cannot start while %s", ErrState, s.state)
	}

	s.tl.Reset()
	s.hits = s.hits[:0]
	s.seen = make(map[int64]struct{})
	s.lastMs = 0
	s.ignored = 0
	s.seed = s.settings.Seed
	if s.seed == 0 {
		s.seed = rand.Int32N(100_000_000) + 1
	}
	s.state = StateCapturing

	s.log.Debugf("capture started (seed %d, 1/%d grid)", s.seed, s.settings.Subdivision)
	return nil
}

// OnTick samples the injected Input once.
func (s *Session) OnTick() error {
	if s.input == nil {
		return errors.New("session has no input")
	}
	x, y := s.input.Pointer()
	return s.Tick(s.input.ClockMs(), x, y)
}

// OnDiscretePress records a press of key at the injected Input's position.
func (s *Session) OnDiscretePress(key Key) error {
	if s.input == nil {
		return errors.New("session has no input")
	}
	x, y := s.input.Pointer()
	_, _, err := s.Press(key, s.input.ClockMs(), x, y)
	return err
}

// Tick appends one pointer sample at clockMs. Button state is never sampled
// here; presses are written into the timeline at Finalize.
func (s *Session) Tick(clockMs, x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing {
		return fmt.Errorf("%w: tick while %s", ErrState, s.state)
	}

	abs := int64(math.Round(clockMs * s.settings.PlaybackRate))
	delta := abs - s.lastMs
	if delta < 0 {
		// clock stepped back; keep the sample at the last time
		delta = 0
	} else {
		s.lastMs = abs
	}
	return s.tl.Append(delta, x, y, 0)
}

// Press snaps a press at clockMs to the grid and records it unless a press
// at the same snapped time exists. It reports the event and whether it was
// recorded. With bounds enforced, a press made outside the playfield is
// ignored.
func (s *Session) Press(key Key, clockMs, x, y float64) (HitEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCapturing {
		return HitEvent{}, false, fmt.Errorf("%w: press while %s", ErrState, s.state)
	}
	if s.settings.EnforceBounds && !chart.InPlayfield(x, y) {
		s.ignored++
		return HitEvent{}, false, nil
	}

	ev := HitEvent{SnappedMs: s.snapper.Snap(clockMs * s.settings.PlaybackRate), Key: key}
	if _, dup := s.seen[ev.SnappedMs]; dup {
		return ev, false, nil
	}
	s.seen[ev.SnappedMs] = struct{}{}
	s.hits = append(s.hits, ev)
	return ev, true, nil
}

// Hits returns the recorded events in discovery order.
func (s *Session) Hits() []HitEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HitEvent(nil), s.hits...)
}

// Samples returns the captured timeline without synthesized presses.
func (s *Session) Samples() []timeline.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tl.Samples()
}

func (s *Session) Seed() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seed
}

// Stats summarizes the capture so far.
type Stats struct {
	State      State
	Samples    int
	DurationMs int64
	Hits       int
	Ignored    int
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		State:      s.state,
		Samples:    s.tl.Len(),
		DurationMs: s.tl.Duration(),
		Hits:       len(s.hits),
		Ignored:    s.ignored,
	}
}

// Result holds the generated artifacts.
type Result struct {
	ChartText string
	ChartHash string
	Replay    []byte
	Header    replay.Header
	Objects   []chart.HitObject
	Timeline  *timeline.Timeline
	Seed      int32
	Dropped   int
}

// Finalize ends the capture and builds the chart and replay. The compression
// step runs in its own goroutine and ctx may abandon it. On any error the
// session goes back to capturing with its recordings and the loaded chart
// untouched, so Finalize can be retried.
func (s *Session) Finalize(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	switch {
	case s.state == StateIdle:
		s.mu.Unlock()
		return nil, ErrNoCapture
	case s.state != StateCapturing:
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: finalize while %s", ErrState, st)
	case s.chart == nil:
		s.mu.Unlock()
		return nil, ErrNoChart
	case s.tl.Len() == 0 && len(s.hits) == 0:
		s.mu.Unlock()
		return nil, ErrNoCapture
	}

	s.state = StateFinalizing
	in := buildInput{
		chart:    s.chart.Clone(),
		tl:       s.tl.Clone(),
		hits:     append([]HitEvent(nil), s.hits...),
		settings: s.settings,
		seed:     s.seed,
		at:       s.now(),
	}
	s.mu.Unlock()

	res, err := s.build(ctx, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateCapturing
		return nil, err
	}
	s.state = StateDone
	return res, nil
}

type buildInput struct {
	chart    *chart.Store
	tl       *timeline.Timeline
	hits     []HitEvent
	settings Settings
	seed     int32
	at       time.Time
}

func (s *Session) build(ctx context.Context, in buildInput) (*Result, error) {
	set := in.settings
	offset := 0.0
	if set.Displace {
		offset = set.DisplaceFraction * chart.CircleRadius(set.CircleSize)
	}

	out := in.tl
	objects := make([]chart.HitObject, 0, len(in.hits))
	var lastMs int64
	dropped := 0

	for _, h := range in.hits {
		// positions come from the capture, not from earlier insertions
		x, y := in.tl.InterpolateAt(float64(h.SnappedMs))
		nx, ny := x, y
		if set.Displace {
			nx, ny = displace(x, y, offset)
			if set.EnforceBounds && !chart.InPlayfield(nx, ny) {
				s.log.Debugf("dropping note at %dms: displaced to (%.1f, %.1f)", h.SnappedMs, nx, ny)
				dropped++
				continue
			}
		}

		objects = append(objects, chart.HitObject{
			X:        int(math.Round(nx)),
			Y:        int(math.Round(ny)),
			TimeMs:   h.SnappedMs,
			NewCombo: len(objects) == 0 || h.SnappedMs-lastMs > ComboGapMs,
		})
		lastMs = h.SnappedMs

		// the replay keeps the pointer where it was
		out = out.InsertAt(h.SnappedMs, x, y, h.Key.Mask())
	}
	if set.HoldMs > 0 {
		out = out.ExtendPresses(set.HoldMs)
	}

	c := in.chart
	c.Rewrite(chart.SectionMetadata, map[chart.Field]string{
		chart.FieldVersion: DifficultyVersion,
	})
	c.Rewrite(chart.SectionDifficulty, map[chart.Field]string{
		chart.FieldCircleSize:        chart.FormatFloat(set.CircleSize),
		chart.FieldOverallDifficulty: chart.FormatFloat(set.OverallDifficulty),
		chart.FieldApproachRate:      chart.FormatFloat(set.ApproachRate),
		chart.FieldHPDrainRate:       chart.FormatFloat(HPDrainRate),
	})
	lines := make([]string, len(objects))
	for i, o := range objects {
		lines[i] = o.String()
	}
	c.SetSection(chart.SectionHitObjects, lines)

	text := c.String()
	sum := md5.Sum([]byte(text))
	hash := hex.EncodeToString(sum[:])

	performer := strings.TrimSpace(set.Performer)
	if performer == "" {
		performer = DefaultPerformer
	}
	header := replay.NewHeader(hash, performer, len(objects), set.Mods, in.at)

	data, err := encode(ctx, header, out.Samples(), in.seed)
	if err != nil {
		s.log.Errorf("replay encoding failed: %v", err)
		return nil, err
	}

	s.log.Infof("finalized %d notes (%d dropped), %d frames, replay %d bytes", len(objects), dropped, out.Len(), len(data))
	return &Result{
		ChartText: text,
		ChartHash: hash,
		Replay:    data,
		Header:    header,
		Objects:   objects,
		Timeline:  out,
		Seed:      in.seed,
		Dropped:   dropped,
	}, nil
}

func encode(ctx context.Context, h replay.Header, samples []timeline.Sample, seed int32) ([]byte, error) {
	type encoded struct {
		data []byte
		err  error
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("encoding replay: %w", err)
	}
	done := make(chan encoded, 1)
	go func() {
		data, err := replay.Encode(h, samples, seed)
		done <- encoded{data, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("encoding replay: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("encoding replay: %w", r.err)
		}
		return r.data, nil
	}
}

// displace pushes (x, y) away from the playfield center by offset. A point
// at the center stays put.
func displace(x, y, offset float64) (float64, float64) {
	dx := x - timeline.CenterX
	dy := y - timeline.CenterY
	mag := math.Hypot(dx, dy)
	if mag == 0 {
		mag = 1
	}
	return x + dx/mag*offset, y + dy/mag*offset
}
