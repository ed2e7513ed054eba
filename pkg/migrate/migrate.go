package migrate

import (
	"regexp"
	"sort"

	"presencedb/pkg/ledger"
	"presencedb/pkg/logger"
	"presencedb/pkg/models"
)

// legacySuffix matches the asset suffixes older records carried on
// participant names ("Alice.card3.png", "Bob2.png").
var legacySuffix = regexp.MustCompile(`(\.card)?[0-9]*\.png$`)

// stripLegacy normalizes a display name or identifier for matching
// against legacy record keys.
func stripLegacy(s string) string {
	return legacySuffix.ReplaceAllString(s, "")
}

// Run converts a conversation's legacy per-name presence record into the
// per-message ledger format. Legacy names are resolved against the roster
// by comparing suffix-stripped display names; names that resolve to no
// member are dropped (lossy but safe; there is no identifier to migrate
// to). On success the legacy record is cleared from the metadata and the
// number of migrated (index, participant) pairs is returned. Out-of-range
// indices in the legacy record are skipped.
func Run(meta *models.ConvMeta, led *ledger.Ledger, g models.Group) int {
	if len(meta.Legacy) == 0 {
		return 0
	}

	nameToID := make(map[string]models.ParticipantID, len(g.Members))
	for _, m := range g.Members {
		nameToID[stripLegacy(m.Name)] = m.ID
	}

	// deterministic order keeps logs and resulting sets stable
	names := make([]string, 0, len(meta.Legacy))
	for name := range meta.Legacy {
		names = append(names, name)
	}
	sort.Strings(names)

	migrated := 0
	for _, name := range names {
		id, ok := nameToID[stripLegacy(name)]
		if !ok {
			logger.Warn("legacy_name_unresolved", "name", name)
			continue
		}
		for _, idx := range meta.Legacy[name] {
			if err := led.SetPresence(idx, id, true); err != nil {
				logger.Warn("legacy_index_skipped", "name", name, "index", idx, "error", err)
				continue
			}
			migrated++
		}
	}

	meta.Legacy = nil
	logger.Info("legacy_record_migrated", "pairs", migrated)
	return migrated
}
