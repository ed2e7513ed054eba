package reconcile

import (
	"errors"
	"fmt"

	"presencedb/pkg/logger"
	"presencedb/pkg/models"
	"presencedb/pkg/roster"
)

// Action is the kind of turn a participant is about to take.
type Action int

const (
	// ActionNormal is a genuine participant turn: history is filtered to
	// what the participant has seen.
	ActionNormal Action = iota
	// ActionImpersonate is the operator speaking as the participant; full
	// context is granted.
	ActionImpersonate
	// ActionContinue extends the current last message.
	ActionContinue
)

// ParseAction maps the wire form of an action to its enum value.
func ParseAction(s string) (Action, error) {
	switch s {
	case "", "normal":
		return ActionNormal, nil
	case "impersonate":
		return ActionImpersonate, nil
	case "continue":
		return ActionContinue, nil
	}
	return ActionNormal, fmt.Errorf("unknown action %q", s)
}

func (a Action) String() string {
	switch a {
	case ActionImpersonate:
		return "impersonate"
	case ActionContinue:
		return "continue"
	default:
		return "normal"
	}
}

// ErrUnknownActor is returned when the acting participant cannot be
// resolved against the conversation's roster. No hide/reveal instruction
// is emitted in that case.
var ErrUnknownActor = errors.New("acting participant not in roster")

// Range is an inclusive [Start,End] run of message indices.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Plan is a set of hide/reveal instructions for the external store. Both
// lists are minimal: ranges are maximal contiguous runs, never adjacent
// or overlapping, and a given index appears in at most one of them.
// Locked messages appear in neither.
type Plan struct {
	Reveal []Range `json:"reveal"`
	Hide   []Range `json:"hide"`
}

// RevealAll is the plan emitted when a turn finishes or aborts: the whole
// sequence becomes visible again, locked messages excepted.
func RevealAll(msgs []*models.Message) Plan {
	var plan Plan
	var run *Range
	for i, m := range msgs {
		if m.Locked {
			run = nil
			continue
		}
		if run != nil && run.End == i-1 {
			run.End = i
			continue
		}
		plan.Reveal = append(plan.Reveal, Range{Start: i, End: i})
		run = &plan.Reveal[len(plan.Reveal)-1]
	}
	return plan
}

// PlanForTurn computes the hide/reveal instructions for a participant
// about to act. Impersonation, continuing the operator's own line, and
// ignored participants get the full history; a genuine participant turn
// keeps only the messages the participant has seen (or that carry the
// universal sentinel), system notes, and the final message when the
// see-last setting is on.
func PlanForTurn(msgs []*models.Message, actor models.ParticipantID, action Action, group models.Group, meta models.ConvMeta, settings models.Settings) (Plan, error) {
	if !roster.IsMember(group, actor) {
		return Plan{}, fmt.Errorf("%w: %s", ErrUnknownActor, actor)
	}
	last := len(msgs) - 1
	fullReveal := action == ActionImpersonate || meta.Ignored(actor)
	if action == ActionContinue && last >= 0 && msgs[last].FromOperator {
		fullReveal = true
	}
	if fullReveal {
		logger.Debug("turn_full_reveal", "actor", actor, "action", action.String())
		return RevealAll(msgs), nil
	}

	keep := func(i int) bool {
		m := msgs[i]
		if m.System {
			return true
		}
		if i == last && settings.SeeLast {
			return true
		}
		return m.HasPresent(actor) || m.HasPresent(models.Universal)
	}

	// single left-to-right scan; locked indices break runs on both sides
	var plan Plan
	var revealRun, hideRun *Range
	for i := range msgs {
		if msgs[i].Locked {
			revealRun, hideRun = nil, nil
			continue
		}
		if keep(i) {
			hideRun = nil
			if revealRun != nil && revealRun.End == i-1 {
				revealRun.End = i
				continue
			}
			plan.Reveal = append(plan.Reveal, Range{Start: i, End: i})
			revealRun = &plan.Reveal[len(plan.Reveal)-1]
		} else {
			revealRun = nil
			if hideRun != nil && hideRun.End == i-1 {
				hideRun.End = i
				continue
			}
			plan.Hide = append(plan.Hide, Range{Start: i, End: i})
			hideRun = &plan.Hide[len(plan.Hide)-1]
		}
	}
	logger.Debug("turn_plan", "actor", actor, "action", action.String(), "reveal", len(plan.Reveal), "hide", len(plan.Hide))
	return plan, nil
}

// Apply writes the plan's visibility decisions onto the sequence. Locked
// messages are never present in a plan, so their state is untouched.
func Apply(plan Plan, msgs []*models.Message) {
	for _, r := range plan.Hide {
		for i := r.Start; i <= r.End && i < len(msgs); i++ {
			msgs[i].Hidden = true
		}
	}
	for _, r := range plan.Reveal {
		for i := r.Start; i <= r.End && i < len(msgs); i++ {
			msgs[i].Hidden = false
		}
	}
}
