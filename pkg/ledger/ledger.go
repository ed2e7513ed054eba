package ledger

import (
	"fmt"

	"presencedb/pkg/logger"
	"presencedb/pkg/models"
)

// Ledger owns the per-message present sets of one conversation's message
// sequence. All mutations are idempotent at the set level: adds
// deduplicate, removes are safe on missing entries, and range operations
// validate their whole scope before touching any message.
type Ledger struct {
	msgs []*models.Message
}

// New wraps a loaded message sequence. The ledger mutates the messages in
// place; callers persist them separately.
func New(msgs []*models.Message) *Ledger {
	return &Ledger{msgs: msgs}
}

// Len returns the sequence length.
func (l *Ledger) Len() int { return len(l.msgs) }

// Messages exposes the underlying sequence.
func (l *Ledger) Messages() []*models.Message { return l.msgs }

// Message returns the message at index or ErrNotFound.
func (l *Ledger) Message(index int) (*models.Message, error) {
	if index < 0 || index >= len(l.msgs) {
		return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
	}
	return l.msgs[index], nil
}

// StampNewMessage sets the message's present set to a copy of the active
// set. When seeLast is on and the message is a participant turn, the
// speaker is additionally backfilled into the previous message's set so a
// responder always remembers sending its own last line. The first message
// of a conversation has no previous line to backfill.
func (l *Ledger) StampNewMessage(index int, active []models.ParticipantID, settings models.Settings) error {
	msg, err := l.Message(index)
	if err != nil {
		return err
	}
	msg.Present = dedup(active)
	if settings.SeeLast && !msg.FromOperator && msg.Speaker != "" && index > 0 {
		prev := l.msgs[index-1]
		if prev.AddPresent(msg.Speaker) {
			logger.Debug("stamp_backfill_previous", "index", index-1, "speaker", msg.Speaker)
		}
	}
	return nil
}

// SetPresence adds or removes one participant on one message.
func (l *Ledger) SetPresence(index int, id models.ParticipantID, present bool) error {
	msg, err := l.Message(index)
	if err != nil {
		return err
	}
	if present {
		msg.AddPresent(id)
	} else {
		msg.RemovePresent(id)
	}
	return nil
}

// ReplaceParticipant substitutes one participant for another across the
// scope. Matching ignores asset-suffix differences, so a renamed
// participant still counts as the original entity. When alsoForget is
// false the original entries are kept alongside the replacement.
func (l *Ledger) ReplaceParticipant(scope Scope, from, to models.ParticipantID, alsoForget bool) error {
	start, end, err := scope.resolve(len(l.msgs))
	if err != nil {
		return err
	}
	for i := start; i <= end; i++ {
		msg := l.msgs[i]
		matched := false
		kept := msg.Present[:0]
		for _, p := range msg.Present {
			if p.SameEntity(from) {
				matched = true
				if alsoForget {
					continue
				}
			}
			kept = append(kept, p)
		}
		msg.Present = kept
		if matched {
			msg.AddPresent(to)
		}
	}
	logger.Info("participant_replaced", "scope", scope.String(), "from", from, "to", to, "forget", alsoForget)
	return nil
}

// CopyPresence unions the source message's present set into the target's.
// Copying a message onto itself is rejected.
func (l *Ledger) CopyPresence(source, target int) error {
	if source == target {
		return fmt.Errorf("%w: source and target are both %d", ErrInvalidRange, source)
	}
	src, err := l.Message(source)
	if err != nil {
		return err
	}
	dst, err := l.Message(target)
	if err != nil {
		return err
	}
	for _, p := range src.Present {
		dst.AddPresent(p)
	}
	logger.Info("presence_copied", "source", source, "target", target)
	return nil
}

// ForceAll replaces every present set in scope with the given member
// list. Destructive and irreversible; callers warn users.
func (l *Ledger) ForceAll(scope Scope, members []models.ParticipantID) error {
	start, end, err := scope.resolve(len(l.msgs))
	if err != nil {
		return err
	}
	for i := start; i <= end; i++ {
		l.msgs[i].Present = dedup(members)
	}
	logger.Info("presence_forced_all", "scope", scope.String(), "members", len(members))
	return nil
}

// ForceNone clears every present set in scope. Destructive and
// irreversible; callers warn users.
func (l *Ledger) ForceNone(scope Scope) error {
	start, end, err := scope.resolve(len(l.msgs))
	if err != nil {
		return err
	}
	for i := start; i <= end; i++ {
		l.msgs[i].Present = nil
	}
	logger.Info("presence_forced_none", "scope", scope.String())
	return nil
}

// ForgetRange removes one participant from every message in scope.
func (l *Ledger) ForgetRange(scope Scope, id models.ParticipantID) error {
	start, end, err := scope.resolve(len(l.msgs))
	if err != nil {
		return err
	}
	for i := start; i <= end; i++ {
		l.msgs[i].RemovePresent(id)
	}
	logger.Info("presence_forgotten", "scope", scope.String(), "participant", id)
	return nil
}

// RememberRange adds one participant to every message in scope.
func (l *Ledger) RememberRange(scope Scope, id models.ParticipantID) error {
	start, end, err := scope.resolve(len(l.msgs))
	if err != nil {
		return err
	}
	for i := start; i <= end; i++ {
		l.msgs[i].AddPresent(id)
	}
	logger.Info("presence_remembered", "scope", scope.String(), "participant", id)
	return nil
}

// LockSystemNotes sets or clears the manual lock on system-note messages
// in scope, optionally restricted to notes from one speaker. Non-system
// messages are left untouched. Returns the number of affected messages.
func (l *Ledger) LockSystemNotes(scope Scope, speaker models.ParticipantID, lock bool) (int, error) {
	start, end, err := scope.resolve(len(l.msgs))
	if err != nil {
		return 0, err
	}
	n := 0
	for i := start; i <= end; i++ {
		msg := l.msgs[i]
		if !msg.System {
			continue
		}
		if speaker != "" && !msg.Speaker.SameEntity(speaker) {
			continue
		}
		if msg.Locked != lock {
			msg.Locked = lock
			n++
		}
	}
	logger.Info("system_notes_locked", "scope", scope.String(), "lock", lock, "affected", n)
	return n, nil
}

func dedup(ids []models.ParticipantID) []models.ParticipantID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[models.ParticipantID]struct{}, len(ids))
	out := make([]models.ParticipantID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
