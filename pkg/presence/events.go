package presence

import (
	"presencedb/pkg/models"
	"presencedb/pkg/reconcile"
)

// Wire payloads for engine events. The API layer encodes these as JSON
// into the queue; the worker decodes them.

type turnPayload struct {
	Participant string `json:"participant"`
	Action      string `json:"action,omitempty"`
}

type togglePayload struct {
	Index       int                  `json:"index"`
	Participant models.ParticipantID `json:"participant"`
	Present     bool                 `json:"present"`
}

type ignorePayload struct {
	Participant models.ParticipantID `json:"participant"`
}

type bindPayload struct {
	GroupID string `json:"group_id"`
}

type prunePayload struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// TurnResult is the outcome of a turn-start reconciliation: the plan the
// external renderer applies, plus which path produced it.
type TurnResult struct {
	Plan       reconcile.Plan `json:"plan"`
	FullReveal bool           `json:"full_reveal"`
	// Skipped is true when the engine was disabled or the conversation
	// has no group binding; no instruction was emitted.
	Skipped bool `json:"skipped,omitempty"`
}

// TrackerEntry is the per-message presence view consumed by rendering
// collaborators: the merged tracker membership (roster members plus any
// extra recorded ids, sorted) with a present flag for each.
type TrackerEntry struct {
	Index   int             `json:"index"`
	Hidden  bool            `json:"hidden"`
	Locked  bool            `json:"locked"`
	Members []TrackerMember `json:"members"`
}

// TrackerMember is one icon in a message's tracker row.
type TrackerMember struct {
	ID      models.ParticipantID `json:"id"`
	Present bool                 `json:"present"`
}
