package chart

import (
	"fmt"
	"strconv"
	"strings"
)

// Field is a recognized "Key:Value" line inside [General], [Metadata] or
// [Difficulty]. Unrecognized lines pass through untouched.
type Field int

const (
	FieldUnknown Field = iota
	FieldVersion
	FieldTitle
	FieldArtist
	FieldAudioFilename
	FieldCircleSize
	FieldOverallDifficulty
	FieldApproachRate
	FieldHPDrainRate
)

var fieldKeys = map[Field]string{
	FieldVersion:           "Version",
	FieldTitle:             "Title",
	FieldArtist:            "Artist",
	FieldAudioFilename:     "AudioFilename",
	FieldCircleSize:        "CircleSize",
	FieldOverallDifficulty: "OverallDifficulty",
	FieldApproachRate:      "ApproachRate",
	FieldHPDrainRate:       "HPDrainRate",
}

var fieldSections = map[Field]string{
	FieldVersion:           SectionMetadata,
	FieldTitle:             SectionMetadata,
	FieldArtist:            SectionMetadata,
	FieldAudioFilename:     SectionGeneral,
	FieldCircleSize:        SectionDifficulty,
	FieldOverallDifficulty: SectionDifficulty,
	FieldApproachRate:      SectionDifficulty,
	FieldHPDrainRate:       SectionDifficulty,
}

var keyFields = func() map[string]Field {
	m := make(map[string]Field, len(fieldKeys))
	for f, k := range fieldKeys {
		m[k] = f
	}
	return m
}()

func (f Field) String() string {
	if k, ok := fieldKeys[f]; ok {
		return k
	}
	return "Unknown"
}

// Section is the section the field lives in.
func (f Field) Section() string {
	return fieldSections[f]
}

// ParseField recognizes a "Key:Value" line. The value is trimmed.
func ParseField(line string) (Field, string, bool) {
	key, value, found := strings.Cut(line, ":")
	if !found {
		return FieldUnknown, "", false
	}
	f, ok := keyFields[strings.TrimSpace(key)]
	if !ok {
		return FieldUnknown, "", false
	}
	return f, strings.TrimSpace(value), true
}

// FormatField renders a field line. [General] is written "Key: Value" and
// the other sections "Key:Value", except Version, which keeps the space the
// generated difficulty name has always been written with.
func FormatField(f Field, value string) string {
	if f.Section() == SectionGeneral || f == FieldVersion {
		return fieldKeys[f] + ": " + value
	}
	return fieldKeys[f] + ":" + value
}

// FormatFloat renders a difficulty value the way the editor does: no
// trailing zeros, no exponent.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Rewrite replaces the lines of a section that carry one of the given
// fields. Fields not already present are left out; everything else passes
// through. It reports how many lines changed.
func (s *Store) Rewrite(section string, values map[Field]string) int {
	lines, ok := s.sections[section]
	if !ok {
		return 0
	}
	changed := 0
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = line
		f, _, ok := ParseField(line)
		if !ok {
			continue
		}
		if v, ok := values[f]; ok {
			out[i] = FormatField(f, v)
			changed++
		}
	}
	s.sections[section] = out
	return changed
}

// Lookup finds a field's value in its home section.
func (s *Store) Lookup(f Field) (string, bool) {
	for _, line := range s.sections[f.Section()] {
		if got, v, ok := ParseField(line); ok && got == f {
			return v, true
		}
	}
	return "", false
}

// LookupFloat is Lookup parsed as a number.
func (s *Store) LookupFloat(f Field) (float64, error) {
	v, ok := s.Lookup(f)
	if !ok {
		return 0, fmt.Errorf("%s not set", f)
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", f, err)
	}
	return n, nil
}
