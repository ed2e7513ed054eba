package commands

import (
	"strings"
	"testing"

	"presencedb/pkg/ledger"
	"presencedb/pkg/models"
	"presencedb/pkg/roster"
)

func testEnv(t *testing.T, n int) (Env, []*models.Message) {
	t.Helper()
	msgs := make([]*models.Message, n)
	for i := 0; i < n; i++ {
		msgs[i] = &models.Message{Index: i}
	}
	g := models.Group{ID: "g1", Members: []models.Member{
		{ID: "alice.png", Name: "Alice"},
		{ID: "bob.png", Name: "Bob"},
	}}
	settings := models.Settings{Enabled: true, SeeLast: true}
	return Env{
		Ledger:   ledger.New(msgs),
		Group:    g,
		Active:   roster.ComputeActive(g, nil, settings),
		Settings: settings,
	}, msgs
}

func TestForgetRange(t *testing.T) {
	env, msgs := testEnv(t, 20)
	for _, m := range msgs {
		m.AddPresent("alice.png")
	}
	res := Execute(env, Request{Name: "forget", Participant: "Alice", Scope: "0-9"})
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	if !res.Mutated {
		t.Fatalf("expected mutation")
	}
	for i := 0; i < 10; i++ {
		if msgs[i].HasPresent("alice.png") {
			t.Fatalf("message %d should be forgotten", i)
		}
	}
	if !msgs[10].HasPresent("alice.png") {
		t.Fatalf("message 10 must be untouched")
	}
}

func TestForgetRequiresScope(t *testing.T) {
	env, _ := testEnv(t, 5)
	res := Execute(env, Request{Name: "forget", Participant: "Alice"})
	if res.Warning == "" || res.Mutated {
		t.Fatalf("scope-less forget must warn without mutating: %+v", res)
	}
}

func TestForgetAllIgnoresScope(t *testing.T) {
	env, msgs := testEnv(t, 5)
	for _, m := range msgs {
		m.AddPresent("bob.png")
	}
	res := Execute(env, Request{Name: "forgetAll", Participant: "Bob", Scope: "0-2"})
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	for i, m := range msgs {
		if m.HasPresent("bob.png") {
			t.Fatalf("forgetAll must cover the whole sequence, message %d kept", i)
		}
	}
}

func TestRememberRange(t *testing.T) {
	env, msgs := testEnv(t, 5)
	res := Execute(env, Request{Name: "remember", Participant: "Bob", Scope: "3"})
	if res.Warning != "" || !res.Mutated {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !msgs[3].HasPresent("bob.png") || msgs[2].HasPresent("bob.png") {
		t.Fatalf("remember must touch only the scoped index")
	}
}

func TestEmptyParticipantIsSilentNoop(t *testing.T) {
	env, _ := testEnv(t, 5)
	res := Execute(env, Request{Name: "forget", Scope: "0-4"})
	if res.Warning != "" || res.Mutated {
		t.Fatalf("empty participant must be a silent no-op: %+v", res)
	}
}

func TestUnknownParticipantWarns(t *testing.T) {
	env, _ := testEnv(t, 5)
	res := Execute(env, Request{Name: "remember", Participant: "Mallory", Scope: "0"})
	if !strings.Contains(res.Warning, "doesn't exist within the roster") {
		t.Fatalf("unexpected warning: %q", res.Warning)
	}
}

func TestBadRangeWarnsWithoutMutation(t *testing.T) {
	env, msgs := testEnv(t, 5)
	res := Execute(env, Request{Name: "remember", Participant: "Alice", Scope: "2-99"})
	if !strings.Contains(res.Warning, "range is invalid") {
		t.Fatalf("unexpected warning: %q", res.Warning)
	}
	for i, m := range msgs {
		if len(m.Present) != 0 {
			t.Fatalf("message %d mutated by rejected command", i)
		}
	}
}

func TestBadIndexWarns(t *testing.T) {
	env, _ := testEnv(t, 5)
	res := Execute(env, Request{Name: "remember", Participant: "Alice", Scope: "99"})
	if !strings.Contains(res.Warning, "doesn't exist within the chat") {
		t.Fatalf("unexpected warning: %q", res.Warning)
	}
}

func TestReplaceRoundTrip(t *testing.T) {
	env, msgs := testEnv(t, 4)
	msgs[1].AddPresent("alice.png")
	msgs[3].AddPresent("alice.png")

	res := Execute(env, Request{Name: "replace", Participant: "Alice", ReplaceWith: "Bob"})
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	if msgs[1].HasPresent("alice.png") || !msgs[1].HasPresent("bob.png") {
		t.Fatalf("replace did not move alice: %v", msgs[1].Present)
	}

	res = Execute(env, Request{Name: "replace", Participant: "Bob", ReplaceWith: "Alice"})
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	if !msgs[1].HasPresent("alice.png") || !msgs[3].HasPresent("alice.png") {
		t.Fatalf("reverse replace did not restore: %v %v", msgs[1].Present, msgs[3].Present)
	}
}

func TestReplaceKeepFlag(t *testing.T) {
	env, msgs := testEnv(t, 2)
	msgs[0].AddPresent("alice.png")
	keep := false
	res := Execute(env, Request{Name: "replace", Participant: "Alice", ReplaceWith: "Bob", Forget: &keep})
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	if !msgs[0].HasPresent("alice.png") || !msgs[0].HasPresent("bob.png") {
		t.Fatalf("forget=false must keep the original: %v", msgs[0].Present)
	}
}

func TestCopy(t *testing.T) {
	env, msgs := testEnv(t, 3)
	msgs[0].AddPresent("alice.png")
	res := Execute(env, Request{Name: "copy", Source: "0", Target: "2"})
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	if !msgs[2].HasPresent("alice.png") {
		t.Fatalf("copy did not union: %v", msgs[2].Present)
	}
	res = Execute(env, Request{Name: "copy", Source: "2", Target: "2"})
	if res.Warning == "" {
		t.Fatalf("self-copy must warn")
	}
	res = Execute(env, Request{Name: "copy", Source: "x", Target: "2"})
	if res.Warning == "" {
		t.Fatalf("non-numeric source must warn")
	}
}

func TestForceAllThenNone(t *testing.T) {
	env, msgs := testEnv(t, 6)
	res := Execute(env, Request{Name: "forceAllPresent", Scope: "0-5"})
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	for i, m := range msgs {
		if !m.HasPresent("alice.png") || !m.HasPresent("bob.png") {
			t.Fatalf("message %d not forced: %v", i, m.Present)
		}
	}
	res = Execute(env, Request{Name: "forceNonePresent"})
	if res.Warning != "" {
		t.Fatalf("unexpected warning: %s", res.Warning)
	}
	for i, m := range msgs {
		if len(m.Present) != 0 {
			t.Fatalf("message %d not cleared: %v", i, m.Present)
		}
	}
}

func TestLockHiddenMessages(t *testing.T) {
	env, msgs := testEnv(t, 3)
	msgs[1].System = true
	res := Execute(env, Request{Name: "lockHiddenMessages"})
	if res.Warning != "" || !msgs[1].Locked {
		t.Fatalf("lock failed: %+v locked=%v", res, msgs[1].Locked)
	}
	res = Execute(env, Request{Name: "lockHiddenMessages", Unlock: true})
	if res.Warning != "" || msgs[1].Locked {
		t.Fatalf("unlock failed: %+v locked=%v", res, msgs[1].Locked)
	}
}

func TestDisabledEngineInert(t *testing.T) {
	env, msgs := testEnv(t, 3)
	env.Settings.Enabled = false
	res := Execute(env, Request{Name: "forceAllPresent"})
	if res.Warning != "" || res.Mutated {
		t.Fatalf("disabled engine must be inert: %+v", res)
	}
	for i, m := range msgs {
		if len(m.Present) != 0 {
			t.Fatalf("message %d mutated while disabled", i)
		}
	}
}

func TestUnknownCommandWarns(t *testing.T) {
	env, _ := testEnv(t, 1)
	res := Execute(env, Request{Name: "presenceWibble"})
	if !strings.Contains(res.Warning, "unknown command") {
		t.Fatalf("unexpected warning: %q", res.Warning)
	}
}
