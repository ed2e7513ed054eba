package models

// Settings is the process-wide presence configuration. When Enabled is
// false no automatic stamping or reconciliation occurs and commands are
// inert.
type Settings struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// SeeLast forces the final message visible for every acting
	// participant and backfills a responder's own previous line.
	SeeLast bool `json:"see_last" yaml:"see_last"`
	// IncludeMuted keeps muted/disabled roster members in the active set.
	IncludeMuted bool `json:"include_muted" yaml:"include_muted"`
	// UniversalTracker appends the universal sentinel to every stamp.
	UniversalTracker bool `json:"universal_tracker" yaml:"universal_tracker"`
}

// DefaultSettings mirrors the defaults applied when no stored settings
// exist yet.
func DefaultSettings() Settings {
	return Settings{Enabled: true, SeeLast: true}
}
