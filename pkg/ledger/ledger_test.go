package ledger

import (
	"errors"
	"testing"

	"presencedb/pkg/models"
)

func seq(n int) []*models.Message {
	msgs := make([]*models.Message, n)
	for i := 0; i < n; i++ {
		msgs[i] = &models.Message{Index: i}
	}
	return msgs
}

func TestStampNewMessage(t *testing.T) {
	msgs := seq(3)
	msgs[2].Speaker = "alice.png"
	led := New(msgs)

	active := []models.ParticipantID{"alice.png", "bob.png", "alice.png"}
	if err := led.StampNewMessage(2, active, models.Settings{Enabled: true, SeeLast: true}); err != nil {
		t.Fatalf("stamp failed: %v", err)
	}
	if got := len(msgs[2].Present); got != 2 {
		t.Fatalf("expected deduped present of 2, got %d: %v", got, msgs[2].Present)
	}
	if !msgs[1].HasPresent("alice.png") {
		t.Fatalf("expected speaker backfilled into previous message")
	}
	if msgs[0].HasPresent("alice.png") {
		t.Fatalf("backfill must only touch the immediately previous message")
	}
}

func TestStampFirstMessageNoBackfill(t *testing.T) {
	msgs := seq(1)
	msgs[0].Speaker = "alice.png"
	led := New(msgs)
	if err := led.StampNewMessage(0, []models.ParticipantID{"alice.png"}, models.Settings{SeeLast: true}); err != nil {
		t.Fatalf("stamp failed: %v", err)
	}
}

func TestStampOperatorMessageNoBackfill(t *testing.T) {
	msgs := seq(2)
	msgs[1].FromOperator = true
	msgs[1].Speaker = "user"
	led := New(msgs)
	if err := led.StampNewMessage(1, []models.ParticipantID{"alice.png"}, models.Settings{SeeLast: true}); err != nil {
		t.Fatalf("stamp failed: %v", err)
	}
	if msgs[0].HasPresent("user") {
		t.Fatalf("operator turns must not backfill the previous message")
	}
}

func TestStampOutOfRange(t *testing.T) {
	led := New(seq(1))
	if err := led.StampNewMessage(5, nil, models.Settings{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestForgetRememberRange(t *testing.T) {
	msgs := seq(20)
	led := New(msgs)
	if err := led.RememberRange(All(), "alice.png"); err != nil {
		t.Fatalf("remember all failed: %v", err)
	}
	if err := led.ForgetRange(Span(0, 9), "alice.png"); err != nil {
		t.Fatalf("forget range failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if msgs[i].HasPresent("alice.png") {
			t.Fatalf("message %d should be forgotten", i)
		}
	}
	for i := 10; i < 20; i++ {
		if !msgs[i].HasPresent("alice.png") {
			t.Fatalf("message %d should still remember", i)
		}
	}
}

func TestRangeOpsAllOrNothing(t *testing.T) {
	msgs := seq(5)
	led := New(msgs)
	if err := led.RememberRange(Span(3, 9), "alice.png"); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	for i, m := range msgs {
		if len(m.Present) != 0 {
			t.Fatalf("message %d mutated by failed range op", i)
		}
	}
}

func TestReplaceParticipant(t *testing.T) {
	msgs := seq(3)
	msgs[0].Present = []models.ParticipantID{"alice.png", "bob.png"}
	msgs[2].Present = []models.ParticipantID{"alice.webp"}
	led := New(msgs)

	if err := led.ReplaceParticipant(All(), "alice.png", "carol.png", true); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if msgs[0].HasPresent("alice.png") || !msgs[0].HasPresent("carol.png") || !msgs[0].HasPresent("bob.png") {
		t.Fatalf("unexpected present on msg 0: %v", msgs[0].Present)
	}
	// extension-insensitive match catches renamed assets of the same entity
	if msgs[2].HasPresent("alice.webp") || !msgs[2].HasPresent("carol.png") {
		t.Fatalf("unexpected present on msg 2: %v", msgs[2].Present)
	}
	// untouched message gains nothing
	if len(msgs[1].Present) != 0 {
		t.Fatalf("msg 1 should be untouched: %v", msgs[1].Present)
	}
}

func TestReplaceKeepOriginal(t *testing.T) {
	msgs := seq(1)
	msgs[0].Present = []models.ParticipantID{"alice.png"}
	led := New(msgs)
	if err := led.ReplaceParticipant(All(), "alice.png", "bob.png", false); err != nil {
		t.Fatalf("replace failed: %v", err)
	}
	if !msgs[0].HasPresent("alice.png") || !msgs[0].HasPresent("bob.png") {
		t.Fatalf("expected both participants kept: %v", msgs[0].Present)
	}
}

func TestCopyPresence(t *testing.T) {
	msgs := seq(2)
	msgs[0].Present = []models.ParticipantID{"alice.png"}
	msgs[1].Present = []models.ParticipantID{"bob.png"}
	led := New(msgs)

	if err := led.CopyPresence(0, 1); err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if !msgs[1].HasPresent("alice.png") || !msgs[1].HasPresent("bob.png") {
		t.Fatalf("expected union on target: %v", msgs[1].Present)
	}
	// idempotent
	if err := led.CopyPresence(0, 1); err != nil {
		t.Fatalf("second copy failed: %v", err)
	}
	if len(msgs[1].Present) != 2 {
		t.Fatalf("copy must not duplicate: %v", msgs[1].Present)
	}
	if err := led.CopyPresence(1, 1); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected self-copy rejection, got %v", err)
	}
}

func TestForceAllThenNone(t *testing.T) {
	msgs := seq(4)
	led := New(msgs)
	members := []models.ParticipantID{"alice.png", "bob.png"}
	if err := led.ForceAll(All(), members); err != nil {
		t.Fatalf("force all failed: %v", err)
	}
	for i, m := range msgs {
		if len(m.Present) != 2 {
			t.Fatalf("message %d not forced: %v", i, m.Present)
		}
	}
	if err := led.ForceNone(All()); err != nil {
		t.Fatalf("force none failed: %v", err)
	}
	for i, m := range msgs {
		if len(m.Present) != 0 {
			t.Fatalf("message %d not cleared: %v", i, m.Present)
		}
	}
}

func TestLockSystemNotes(t *testing.T) {
	msgs := seq(4)
	msgs[1].System = true
	msgs[1].Speaker = "narrator.png"
	msgs[3].System = true
	msgs[3].Speaker = "other.png"
	led := New(msgs)

	n, err := led.LockSystemNotes(All(), "narrator.png", true)
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 affected, got %d", n)
	}
	if !msgs[1].Locked || msgs[3].Locked {
		t.Fatalf("wrong lock state: %v %v", msgs[1].Locked, msgs[3].Locked)
	}

	n, err = led.LockSystemNotes(All(), "", false)
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unlocked, got %d", n)
	}
	if msgs[1].Locked {
		t.Fatalf("msg 1 should be unlocked")
	}
}

func TestParseScope(t *testing.T) {
	if s, err := ParseScope(""); err != nil || s.String() != "all" {
		t.Fatalf("empty scope: %v %v", s, err)
	}
	if s, err := ParseScope("7"); err != nil || s.String() != "7" {
		t.Fatalf("single scope: %v %v", s, err)
	}
	if s, err := ParseScope("2-5"); err != nil || s.String() != "2-5" {
		t.Fatalf("span scope: %v %v", s, err)
	}
	if _, err := ParseScope("x-3"); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestScopeResolveEmptySequence(t *testing.T) {
	led := New(nil)
	if err := led.RememberRange(All(), "alice.png"); err != nil {
		t.Fatalf("whole-sequence op on empty ledger should be a no-op, got %v", err)
	}
	if err := led.RememberRange(At(0), "alice.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty ledger index, got %v", err)
	}
}
