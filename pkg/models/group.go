package models

// Member is one roster entry: a stable identifier plus the display name
// users type into commands. Disabled members are muted in the group UI.
type Member struct {
	ID       ParticipantID `json:"id"`
	Name     string        `json:"name,omitempty"`
	Disabled bool          `json:"disabled,omitempty"`
}

// Group is a conversation's participant roster. Read-only to the engine;
// the roster provider owns membership.
type Group struct {
	ID      string   `json:"id"`
	Title   string   `json:"title,omitempty"`
	Members []Member `json:"members"`
}

// MemberIDs returns the full member id list in roster order.
func (g *Group) MemberIDs() []ParticipantID {
	out := make([]ParticipantID, 0, len(g.Members))
	for _, m := range g.Members {
		out = append(out, m.ID)
	}
	return out
}

// ConvMeta is per-conversation metadata stored alongside the message
// sequence: the group binding, the ignore list and the one-shot legacy
// presence record consumed by migration.
type ConvMeta struct {
	GroupID string `json:"group_id,omitempty"`
	// IgnorePresence lists participants excluded from automatic presence
	// stamping; ignored participants always see the full history.
	IgnorePresence []ParticipantID `json:"ignore_presence,omitempty"`
	// Legacy is the pre-ledger record format keyed by participant display
	// name. Deleted after a successful migration.
	Legacy map[string][]int `json:"legacy,omitempty"`
}

// Ignored reports whether id is on the conversation's ignore list.
func (c *ConvMeta) Ignored(id ParticipantID) bool {
	for _, p := range c.IgnorePresence {
		if p == id {
			return true
		}
	}
	return false
}
