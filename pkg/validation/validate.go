package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"presencedb/pkg/models"
)

// Rules holds configurable checks applied to incoming messages before
// they reach the engine.
type Rules struct {
	// MaxBodyBytes rejects bodies longer than this; zero disables.
	MaxBodyBytes int
	// RequireSpeaker rejects participant messages without a speaker.
	RequireSpeaker bool
	// MaxPresent caps the recorded presence set size; zero disables.
	MaxPresent int
}

var rules Rules

func SetRules(r Rules) { rules = r }

// ValidateMessage checks an incoming message against the active rules.
func ValidateMessage(m models.Message) error {
	var errs []string
	if rules.MaxBodyBytes > 0 && m.Body != nil {
		if b, err := json.Marshal(m.Body); err == nil && len(b) > rules.MaxBodyBytes {
			errs = append(errs, fmt.Sprintf("body too large: %d > %d", len(b), rules.MaxBodyBytes))
		}
	}
	if rules.RequireSpeaker && !m.FromOperator && !m.System && m.Speaker == "" {
		errs = append(errs, "speaker is required for participant messages")
	}
	if rules.MaxPresent > 0 && len(m.Present) > rules.MaxPresent {
		errs = append(errs, fmt.Sprintf("present set too large: %d > %d", len(m.Present), rules.MaxPresent))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}
