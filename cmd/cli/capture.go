package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/himanishpuri/ReverseMapper/internal/session"
)

// captureFile is a recorded capture: pointer ticks and key presses with their
// audio clock in milliseconds.
type captureFile struct {
	Ticks   []captureTick  `json:"ticks"`
	Presses []capturePress `json:"presses"`
}

type captureTick struct {
	T float64 `json:"t"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type capturePress struct {
	T   float64 `json:"t"`
	Key string  `json:"key"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

func readCapture(path string) (*captureFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}
	var c captureFile
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing capture %s: %w", path, err)
	}
	return &c, nil
}

// replayCapture feeds a recorded capture into s in clock order. A tick and a
// press at the same time are fed tick first. Presses of unbound keys are
// counted and skipped.
func replayCapture(s *session.Session, c *captureFile) (unbound int, err error) {
	type event struct {
		t     float64
		tick  *captureTick
		press *capturePress
	}
	events := make([]event, 0, len(c.Ticks)+len(c.Presses))
	for i := range c.Ticks {
		events = append(events, event{t: c.Ticks[i].T, tick: &c.Ticks[i]})
	}
	for i := range c.Presses {
		events = append(events, event{t: c.Presses[i].T, press: &c.Presses[i]})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].t != events[j].t {
			return events[i].t < events[j].t
		}
		return events[i].tick != nil && events[j].tick == nil
	})

	set := s.Settings()
	for _, ev := range events {
		if ev.tick != nil {
			if err := s.Tick(ev.tick.T, ev.tick.X, ev.tick.Y); err != nil {
				return unbound, err
			}
			continue
		}
		key := set.KeyFor(ev.press.Key)
		if key == session.KeyNone {
			unbound++
			continue
		}
		if _, _, err := s.Press(key, ev.press.T, ev.press.X, ev.press.Y); err != nil {
			return unbound, err
		}
	}
	return unbound, nil
}
