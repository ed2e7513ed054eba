package janitor

import (
	"testing"

	"presencedb/pkg/config"
	"presencedb/pkg/models"
	"presencedb/pkg/store"
)

func openTemp(t *testing.T) {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
}

func TestRunImmediateDedupsPresent(t *testing.T) {
	openTemp(t)
	_ = store.SaveMessage("c1", models.Message{Index: 0, Present: []models.ParticipantID{"a", "b", "a", "b", "a"}})
	_ = store.SaveMessage("c1", models.Message{Index: 1, Present: []models.ParticipantID{"a"}})

	cfg := config.Default()
	cfg.Janitor.Enabled = true
	SetConfig(*cfg)
	if err := RunImmediate(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	msgs, err := store.ListMessages("c1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs[0].Present) != 2 || msgs[0].Present[0] != "a" || msgs[0].Present[1] != "b" {
		t.Fatalf("dedup wrong: %v", msgs[0].Present)
	}
	if len(msgs[1].Present) != 1 {
		t.Fatalf("clean record touched: %v", msgs[1].Present)
	}
}

func TestRunImmediateClearsStaleLegacy(t *testing.T) {
	openTemp(t)
	_ = store.SaveMeta("c1", models.ConvMeta{GroupID: "g1", Legacy: map[string][]int{"Alice": {0}}})
	_ = store.SaveMeta("c2", models.ConvMeta{Legacy: map[string][]int{"Bob": {1}}})

	cfg := config.Default()
	cfg.Janitor.Enabled = true
	SetConfig(*cfg)
	if err := RunImmediate(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	meta, _ := store.GetMeta("c1")
	if len(meta.Legacy) != 0 {
		t.Fatalf("stale legacy not cleared: %v", meta.Legacy)
	}
	meta, _ = store.GetMeta("c2")
	if len(meta.Legacy) != 1 {
		t.Fatalf("pending legacy must survive until a group binds: %v", meta.Legacy)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	openTemp(t)
	_ = store.SaveMessage("c1", models.Message{Index: 0, Present: []models.ParticipantID{"a", "a"}})

	cfg := config.Default()
	cfg.Janitor.Enabled = true
	cfg.Janitor.DryRun = true
	SetConfig(*cfg)
	if err := RunImmediate(); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	msgs, _ := store.ListMessages("c1")
	if len(msgs[0].Present) != 2 {
		t.Fatalf("dry run mutated the store: %v", msgs[0].Present)
	}
}
