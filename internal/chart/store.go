// Package chart reads and writes the bracket-sectioned .osu text format.
//
// The store is a pass-through: sections and lines come back out in the order
// they went in, and only the sections a caller replaces are changed.
package chart

import (
	"strings"
)

// Well-known section names.
const (
	SectionGeneral      = "General"
	SectionMetadata     = "Metadata"
	SectionDifficulty   = "Difficulty"
	SectionEvents       = "Events"
	SectionTimingPoints = "TimingPoints"
	SectionHitObjects   = "HitObjects"
)

// Store is an ordered mapping from section name to its raw lines.
type Store struct {
	preamble []string
	order    []string
	sections map[string][]string
}

func New() *Store {
	return &Store{sections: make(map[string][]string)}
}

// Parse splits chart text into sections. A line whose trimmed form is
// "[Name]" opens a section; every other line is kept verbatim. Lines before
// the first header (the "osu file format vN" line) are kept as a preamble.
// Trailing blank lines of each block are dropped so that Parse(s.String())
// reproduces s.
func Parse(text string) *Store {
	s := New()

	var current string
	var inSection bool
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		trimmed := strings.TrimSpace(line)

		if name, ok := sectionHeader(trimmed); ok {
			current = name
			inSection = true
			if _, exists := s.sections[name]; !exists {
				s.order = append(s.order, name)
				s.sections[name] = []string{}
			}
			continue
		}

		if !inSection {
			s.preamble = append(s.preamble, line)
			continue
		}
		s.sections[current] = append(s.sections[current], line)
	}

	s.preamble = trimTrailingBlank(s.preamble)
	for name, lines := range s.sections {
		s.sections[name] = trimTrailingBlank(lines)
	}
	return s
}

func sectionHeader(trimmed string) (string, bool) {
	if len(trimmed) < 2 || trimmed[0] != '[' || trimmed[len(trimmed)-1] != ']' {
		return "", false
	}
	return trimmed[1 : len(trimmed)-1], true
}

func trimTrailingBlank(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}

// String renders the store: the preamble, then each section as "[Name]"
// followed by its lines, blocks separated by a blank line.
func (s *Store) String() string {
	blocks := make([]string, 0, len(s.order)+1)
	if len(s.preamble) > 0 {
		blocks = append(blocks, strings.Join(s.preamble, "\n"))
	}
	for _, name := range s.order {
		var b strings.Builder
		b.WriteString("[")
		b.WriteString(name)
		b.WriteString("]")
		if lines := s.sections[name]; len(lines) > 0 {
			b.WriteString("\n")
			b.WriteString(strings.Join(lines, "\n"))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// Section returns a copy of the named section's lines, or nil.
func (s *Store) Section(name string) []string {
	lines, ok := s.sections[name]
	if !ok {
		return nil
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

func (s *Store) Has(name string) bool {
	_, ok := s.sections[name]
	return ok
}

// Names returns the section names in file order.
func (s *Store) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// SetSection replaces a section's lines. A new section is appended at the end.
func (s *Store) SetSection(name string, lines []string) {
	if _, ok := s.sections[name]; !ok {
		s.order = append(s.order, name)
	}
	cp := make([]string, len(lines))
	copy(cp, lines)
	s.sections[name] = cp
}

func (s *Store) Clone() *Store {
	out := &Store{
		preamble: append([]string(nil), s.preamble...),
		order:    append([]string(nil), s.order...),
		sections: make(map[string][]string, len(s.sections)),
	}
	for name, lines := range s.sections {
		out.sections[name] = append([]string{}, lines...)
	}
	return out
}

// Background returns the background image named in [Events], if any.
func (s *Store) Background() (string, bool) {
	for _, line := range s.sections[SectionEvents] {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "//") {
			continue
		}
		fields := strings.SplitN(trimmed, ",", 4)
		if len(fields) < 3 || (fields[0] != "0" && fields[0] != "Background") {
			continue
		}
		name := strings.Trim(strings.TrimSpace(fields[2]), `"`)
		if name != "" {
			return name, true
		}
	}
	return "", false
}
