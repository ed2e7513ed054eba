package roster

import (
	"errors"
	"fmt"
	"strings"

	"presencedb/pkg/models"
)

// ErrUnknown is returned when a participant name resolves to no roster
// entry; ErrAmbiguous when it resolves to more than one.
var (
	ErrUnknown   = errors.New("unknown participant")
	ErrAmbiguous = errors.New("ambiguous participant name")
)

// Active is the result of resolving a roster against the ignore list and
// the engine settings.
type Active struct {
	// AllMembers is the group's full member list, roster order preserved.
	AllMembers []models.ParticipantID
	// Active is the subset stamped onto new messages.
	Active []models.ParticipantID
}

// ComputeActive derives the effective active set for a conversation.
// Muted members are dropped unless IncludeMuted; ignored participants are
// dropped regardless of mute status; the universal sentinel is appended
// when the tracker setting is on. Pure function, no side effects.
func ComputeActive(g models.Group, ignore []models.ParticipantID, s models.Settings) Active {
	out := Active{AllMembers: g.MemberIDs()}
	ignored := make(map[models.ParticipantID]struct{}, len(ignore))
	for _, id := range ignore {
		ignored[id] = struct{}{}
	}
	for _, m := range g.Members {
		if m.Disabled && !s.IncludeMuted {
			continue
		}
		if _, skip := ignored[m.ID]; skip {
			continue
		}
		out.Active = append(out.Active, m.ID)
	}
	if s.UniversalTracker {
		out.Active = append(out.Active, models.Universal)
	}
	return out
}

// Resolve maps a user-supplied participant name (or raw identifier) to the
// member's stable id. An exact id match wins; otherwise display names are
// compared case-sensitively, then case-insensitively. Zero matches yield
// ErrUnknown, more than one ErrAmbiguous.
func Resolve(g models.Group, name string) (models.ParticipantID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknown)
	}
	for _, m := range g.Members {
		if string(m.ID) == name {
			return m.ID, nil
		}
	}
	var matches []models.ParticipantID
	for _, m := range g.Members {
		if m.Name == name {
			matches = append(matches, m.ID)
		}
	}
	if len(matches) == 0 {
		for _, m := range g.Members {
			if strings.EqualFold(m.Name, name) {
				matches = append(matches, m.ID)
			}
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrUnknown, name)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d members", ErrAmbiguous, name, len(matches))
	}
}

// IsMember reports whether id belongs to the group's member list.
func IsMember(g models.Group, id models.ParticipantID) bool {
	for _, m := range g.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}
