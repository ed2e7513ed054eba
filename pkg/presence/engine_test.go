package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"presencedb/pkg/commands"
	"presencedb/pkg/models"
	"presencedb/pkg/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	eng := New(Options{
		QueueCapacity:   64,
		PersistDebounce: 10 * time.Millisecond,
		Settings:        models.Settings{Enabled: true, SeeLast: true},
	})
	eng.Start()
	t.Cleanup(eng.Close)
	return eng
}

func bindTestGroup(t *testing.T, eng *Engine, convID string) {
	t.Helper()
	g := models.Group{ID: "g1", Members: []models.Member{
		{ID: "alice.png", Name: "Alice"},
		{ID: "bob.png", Name: "Bob"},
	}}
	if err := store.SaveGroup(g); err != nil {
		t.Fatalf("save group: %v", err)
	}
	if err := eng.BindGroup(context.Background(), convID, "g1"); err != nil {
		t.Fatalf("bind group: %v", err)
	}
}

func finalize(t *testing.T, eng *Engine, convID string, m models.Message) models.Message {
	t.Helper()
	out, err := eng.FinalizeMessage(context.Background(), convID, m)
	if err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	return out
}

func TestFinalizeStampsActiveSet(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")

	out := finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: "hello"})
	if out.Index != 0 {
		t.Fatalf("index wrong: %d", out.Index)
	}
	if !out.HasPresent("alice.png") || !out.HasPresent("bob.png") {
		t.Fatalf("active set not stamped: %v", out.Present)
	}
	if out.TS == 0 {
		t.Fatalf("timestamp not assigned")
	}
}

func TestFinalizeNoGroupLeavesUnstamped(t *testing.T) {
	eng := newTestEngine(t)
	out := finalize(t, eng, "loose", models.Message{Speaker: "alice.png", Body: "hi"})
	if len(out.Present) != 0 {
		t.Fatalf("unbound conversation must not be stamped: %v", out.Present)
	}
}

func TestTurnHidesUnseenMessages(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: i})
	}
	// bob was absent for message 1
	if err := eng.TogglePresence(ctx, "c1", 1, "bob.png", false); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	res, err := eng.StartTurn(ctx, "c1", "Bob", "normal")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if res.Skipped || res.FullReveal {
		t.Fatalf("expected a partial plan: %+v", res)
	}
	if len(res.Plan.Hide) != 1 || res.Plan.Hide[0].Start != 1 || res.Plan.Hide[0].End != 1 {
		t.Fatalf("hide plan wrong: %+v", res.Plan.Hide)
	}
	msgs, err := eng.Messages(ctx, "c1")
	if err != nil {
		t.Fatalf("messages failed: %v", err)
	}
	if !msgs[1].Hidden || msgs[0].Hidden || msgs[2].Hidden {
		t.Fatalf("hidden flags wrong: %v %v %v", msgs[0].Hidden, msgs[1].Hidden, msgs[2].Hidden)
	}
}

func TestAbortTurnRevealsAll(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: i})
	}
	_ = eng.TogglePresence(ctx, "c1", 0, "bob.png", false)
	if _, err := eng.StartTurn(ctx, "c1", "Bob", "normal"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	res, err := eng.AbortTurn(ctx, "c1")
	if err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	if !res.FullReveal {
		t.Fatalf("abort must fully reveal: %+v", res)
	}
	msgs, _ := eng.Messages(ctx, "c1")
	for i, m := range msgs {
		if m.Hidden {
			t.Fatalf("message %d still hidden after abort", i)
		}
	}
}

func TestFinalizeAfterTurnReveals(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: i})
	}
	_ = eng.TogglePresence(ctx, "c1", 0, "bob.png", false)
	if _, err := eng.StartTurn(ctx, "c1", "Bob", "normal"); err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	finalize(t, eng, "c1", models.Message{Speaker: "bob.png", Body: "reply"})
	msgs, _ := eng.Messages(ctx, "c1")
	for i, m := range msgs {
		if m.Hidden {
			t.Fatalf("message %d still hidden after finalize", i)
		}
	}
}

func TestTurnSkippedWithoutGroup(t *testing.T) {
	eng := newTestEngine(t)
	res, err := eng.StartTurn(context.Background(), "loose", "Bob", "normal")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("unbound conversation must skip: %+v", res)
	}
}

func TestTurnUnknownActor(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: "hi"})
	if _, err := eng.StartTurn(context.Background(), "c1", "Mallory", "normal"); err == nil {
		t.Fatalf("unknown actor must error")
	}
}

func TestToggleIgnoreRoundTrip(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	ctx := context.Background()

	on, err := eng.ToggleIgnore(ctx, "c1", "bob.png")
	if err != nil || !on {
		t.Fatalf("first toggle: on=%v err=%v", on, err)
	}
	out := finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: "hi"})
	if out.HasPresent("bob.png") {
		t.Fatalf("ignored participant must not be stamped: %v", out.Present)
	}
	on, err = eng.ToggleIgnore(ctx, "c1", "bob.png")
	if err != nil || on {
		t.Fatalf("second toggle: on=%v err=%v", on, err)
	}
}

func TestRunCommandForget(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: i})
	}
	res, err := eng.RunCommand(ctx, "c1", commands.Request{Name: "forget", Participant: "Bob", Scope: "0-1"})
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if res.Warning != "" || !res.Mutated {
		t.Fatalf("unexpected result: %+v", res)
	}
	msgs, _ := eng.Messages(ctx, "c1")
	if msgs[0].HasPresent("bob.png") || msgs[1].HasPresent("bob.png") || !msgs[2].HasPresent("bob.png") {
		t.Fatalf("forget range wrong: %v %v %v", msgs[0].Present, msgs[1].Present, msgs[2].Present)
	}
}

func TestRunCommandNoGroupInert(t *testing.T) {
	eng := newTestEngine(t)
	finalize(t, eng, "loose", models.Message{Speaker: "a", Body: "x"})
	res, err := eng.RunCommand(context.Background(), "loose", commands.Request{Name: "forget", Participant: "Bob"})
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	if res.Mutated {
		t.Fatalf("commands must be inert without a group: %+v", res)
	}
}

func TestPrune(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: i})
	}
	n, err := eng.Prune(ctx, "c1", 1, 2)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	msgs, _ := eng.Messages(ctx, "c1")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Index != i {
			t.Fatalf("survivor %d has index %d", i, m.Index)
		}
	}
	if _, err := eng.Prune(ctx, "c1", 5, 9); err == nil {
		t.Fatalf("out of range prune must error")
	}
}

func TestTrackerView(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	ctx := context.Background()

	finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: "hi"})
	_ = eng.TogglePresence(ctx, "c1", 0, "bob.png", false)

	entries, err := eng.Tracker(ctx, "c1")
	if err != nil {
		t.Fatalf("tracker failed: %v", err)
	}
	if len(entries) != 1 || len(entries[0].Members) != 2 {
		t.Fatalf("tracker shape wrong: %+v", entries)
	}
	byID := map[models.ParticipantID]bool{}
	for _, m := range entries[0].Members {
		byID[m.ID] = m.Present
	}
	if !byID["alice.png"] || byID["bob.png"] {
		t.Fatalf("tracker flags wrong: %v", byID)
	}
}

func TestSettingsRoundTripAndDisable(t *testing.T) {
	eng := newTestEngine(t)
	bindTestGroup(t, eng, "c1")
	ctx := context.Background()

	s, err := eng.Settings(ctx)
	if err != nil || !s.Enabled {
		t.Fatalf("settings read: %+v err=%v", s, err)
	}
	s.Enabled = false
	if err := eng.UpdateSettings(ctx, s); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	out := finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: "hi"})
	if len(out.Present) != 0 {
		t.Fatalf("disabled engine must not stamp: %v", out.Present)
	}
	res, err := eng.StartTurn(ctx, "c1", "Bob", "normal")
	if err != nil || !res.Skipped {
		t.Fatalf("disabled turn must skip: %+v err=%v", res, err)
	}
	// persisted
	stored, ok, err := store.GetSettings()
	if err != nil || !ok || stored.Enabled {
		t.Fatalf("settings not persisted: %+v ok=%v err=%v", stored, ok, err)
	}
}

func TestCloseFlushesDirtyState(t *testing.T) {
	dir := t.TempDir()
	if err := store.Open(dir); err != nil {
		t.Fatalf("open store: %v", err)
	}
	g := models.Group{ID: "g1", Members: []models.Member{{ID: "alice.png", Name: "Alice"}}}
	if err := store.SaveGroup(g); err != nil {
		t.Fatalf("save group: %v", err)
	}
	eng := New(Options{QueueCapacity: 64, PersistDebounce: time.Hour,
		Settings: models.Settings{Enabled: true, SeeLast: true}})
	eng.Start()
	if err := eng.BindGroup(context.Background(), "c1", "g1"); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	finalize(t, eng, "c1", models.Message{Speaker: "alice.png", Body: "survive me"})
	eng.Close()

	msgs, err := store.ListMessages("c1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 1 || !msgs[0].HasPresent("alice.png") {
		t.Fatalf("dirty state not flushed: %+v", msgs)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}

func TestBindUnknownGroup(t *testing.T) {
	eng := newTestEngine(t)
	err := eng.BindGroup(context.Background(), "c1", "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
