package models

import "strings"

// ParticipantID is the stable identifier of a conversation participant.
// In practice this is an opaque asset key (the original roster stores
// avatar filenames); display names live on the roster Member.
type ParticipantID string

// Universal is the sentinel participant meaning "every participant is
// considered aware of this message". It is never a roster member; set
// operations and the reconciler treat it specially.
const Universal ParticipantID = "*"

// IsUniversal reports whether the id is the universal sentinel.
func (p ParticipantID) IsUniversal() bool { return p == Universal }

// Base returns the id with a trailing file-extension suffix stripped
// (".png", ".card" and similar asset suffixes). Renamed participants that
// only differ in asset suffix compare equal by Base.
func (p ParticipantID) Base() string {
	s := string(p)
	if i := strings.LastIndexByte(s, '.'); i > 0 {
		ext := s[i+1:]
		if ext != "" && isWordy(ext) {
			return s[:i]
		}
	}
	return s
}

// SameEntity reports whether two ids refer to the same participant once
// asset suffixes are ignored. The universal sentinel only matches itself.
func (p ParticipantID) SameEntity(other ParticipantID) bool {
	if p.IsUniversal() || other.IsUniversal() {
		return p == other
	}
	return p.Base() == other.Base()
}

func isWordy(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' {
			continue
		}
		return false
	}
	return true
}
