package validation

import (
	"strings"
	"testing"

	"presencedb/pkg/models"
)

func TestNoRulesAcceptsAnything(t *testing.T) {
	SetRules(Rules{})
	m := models.Message{Body: strings.Repeat("x", 100000)}
	if err := ValidateMessage(m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMaxBodyBytes(t *testing.T) {
	SetRules(Rules{MaxBodyBytes: 16})
	defer SetRules(Rules{})
	if err := ValidateMessage(models.Message{Body: "short"}); err != nil {
		t.Fatalf("small body rejected: %v", err)
	}
	err := ValidateMessage(models.Message{Body: strings.Repeat("x", 32)})
	if err == nil || !strings.Contains(err.Error(), "body too large") {
		t.Fatalf("expected body too large, got %v", err)
	}
}

func TestRequireSpeaker(t *testing.T) {
	SetRules(Rules{RequireSpeaker: true})
	defer SetRules(Rules{})
	if err := ValidateMessage(models.Message{Body: "hi"}); err == nil {
		t.Fatalf("speakerless participant message accepted")
	}
	if err := ValidateMessage(models.Message{Body: "hi", Speaker: "alice.png"}); err != nil {
		t.Fatalf("spoken message rejected: %v", err)
	}
	if err := ValidateMessage(models.Message{Body: "hi", FromOperator: true}); err != nil {
		t.Fatalf("operator message rejected: %v", err)
	}
	if err := ValidateMessage(models.Message{Body: "hi", System: true}); err != nil {
		t.Fatalf("system note rejected: %v", err)
	}
}

func TestMaxPresent(t *testing.T) {
	SetRules(Rules{MaxPresent: 2})
	defer SetRules(Rules{})
	m := models.Message{Speaker: "a", Present: []models.ParticipantID{"a", "b", "c"}}
	err := ValidateMessage(m)
	if err == nil || !strings.Contains(err.Error(), "present set too large") {
		t.Fatalf("expected present set error, got %v", err)
	}
}

func TestJoinedErrors(t *testing.T) {
	SetRules(Rules{MaxBodyBytes: 4, RequireSpeaker: true})
	defer SetRules(Rules{})
	err := ValidateMessage(models.Message{Body: "long enough"})
	if err == nil || !strings.Contains(err.Error(), "; ") {
		t.Fatalf("expected joined errors, got %v", err)
	}
}
