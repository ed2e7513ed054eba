package models

// Message is one finalized turn in a conversation. Index is the position
// in the ordered sequence and is the primary key within a session; it is
// stable only until a deletion compacts the sequence.
type Message struct {
	Index        int           `json:"index"`
	Conversation string        `json:"conversation,omitempty"`
	Speaker      ParticipantID `json:"speaker,omitempty"`
	// FromOperator marks messages authored by the human operator rather
	// than a roster participant.
	FromOperator bool `json:"from_operator,omitempty"`
	// System marks system/narrative notes; these are exempt from
	// automatic visibility hiding.
	System bool        `json:"system,omitempty"`
	TS     int64       `json:"ts"`
	Body   interface{} `json:"body,omitempty"`
	// Present is the set of participants aware of this message. Nil and
	// empty are equivalent; the ledger guarantees no duplicates.
	Present []ParticipantID `json:"present,omitempty"`
	// Locked prevents the reconciler from changing Hidden automatically.
	Locked bool `json:"locked,omitempty"`
	// Hidden is the visibility state maintained by the reconciler's
	// hide/reveal instructions.
	Hidden bool `json:"hidden,omitempty"`
}

// HasPresent reports whether id is recorded in the message's present set.
func (m *Message) HasPresent(id ParticipantID) bool {
	for _, p := range m.Present {
		if p == id {
			return true
		}
	}
	return false
}

// AddPresent records id in the present set if absent. Returns true when
// the set changed.
func (m *Message) AddPresent(id ParticipantID) bool {
	if m.HasPresent(id) {
		return false
	}
	m.Present = append(m.Present, id)
	return true
}

// RemovePresent drops id from the present set. Safe when absent. Returns
// true when the set changed.
func (m *Message) RemovePresent(id ParticipantID) bool {
	out := m.Present[:0]
	changed := false
	for _, p := range m.Present {
		if p == id {
			changed = true
			continue
		}
		out = append(out, p)
	}
	m.Present = out
	return changed
}
