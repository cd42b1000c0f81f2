package replay

import (
	"fmt"
	"strings"
)

// Mods is the gameplay modifier bitmask stored in the header.
type Mods int32

const (
	ModNoFail      Mods = 1 << 0
	ModEasy        Mods = 1 << 1
	ModTouchDevice Mods = 1 << 2
	ModHidden      Mods = 1 << 3
	ModHardRock    Mods = 1 << 4
	ModSuddenDeath Mods = 1 << 5
	ModDoubleTime  Mods = 1 << 6
	ModRelax       Mods = 1 << 7
	ModHalfTime    Mods = 1 << 8
	ModNightcore   Mods = 1 << 9 // always set together with DoubleTime
	ModFlashlight  Mods = 1 << 10
	ModSpunOut     Mods = 1 << 12
	ModAutopilot   Mods = 1 << 13
	ModPerfect     Mods = 1 << 14
)

var modAcronyms = []struct {
	acronym string
	mod     Mods
}{
	{"NF", ModNoFail},
	{"EZ", ModEasy},
	{"TD", ModTouchDevice},
	{"HD", ModHidden},
	{"HR", ModHardRock},
	{"SD", ModSuddenDeath},
	{"DT", ModDoubleTime},
	{"RX", ModRelax},
	{"HT", ModHalfTime},
	{"NC", ModNightcore},
	{"FL", ModFlashlight},
	{"SO", ModSpunOut},
	{"AP", ModAutopilot},
	{"PF", ModPerfect},
}

// ParseMods reads acronyms such as "HD,HR" or "HDHR". NC implies DT and PF
// implies SD. An empty string or "NM" is no mods.
func ParseMods(s string) (Mods, error) {
	s = strings.ToUpper(strings.NewReplacer(",", "", " ", "", "+", "").Replace(s))
	if s == "NM" {
		return 0, nil
	}
	if len(s)%2 != 0 {
		return 0, fmt.Errorf("invalid mods %q", s)
	}

	var m Mods
	for i := 0; i < len(s); i += 2 {
		acr := s[i : i+2]
		found := false
		for _, ma := range modAcronyms {
			if ma.acronym == acr {
				m |= ma.mod
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown mod %q", acr)
		}
	}

	if m&ModNightcore != 0 {
		m |= ModDoubleTime
	}
	if m&ModPerfect != 0 {
		m |= ModSuddenDeath
	}
	return m, nil
}

// String lists the acronyms, dropping the ones implied by NC and PF.
func (m Mods) String() string {
	if m == 0 {
		return "NM"
	}
	var b strings.Builder
	for _, ma := range modAcronyms {
		if m&ma.mod == 0 {
			continue
		}
		if ma.mod == ModDoubleTime && m&ModNightcore != 0 {
			continue
		}
		if ma.mod == ModSuddenDeath && m&ModPerfect != 0 {
			continue
		}
		b.WriteString(ma.acronym)
	}
	return b.String()
}

// PlaybackRate is the audio speed the mods imply.
func (m Mods) PlaybackRate() float64 {
	switch {
	case m&ModDoubleTime != 0:
		return 1.5
	case m&ModHalfTime != 0:
		return 0.75
	}
	return 1.0
}
