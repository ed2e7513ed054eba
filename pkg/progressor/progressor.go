package progressor

import (
	"context"

	"presencedb/pkg/logger"
	"presencedb/pkg/models"
	"presencedb/pkg/store"
)

// Sync performs upgrade work between stored and running versions. Edit
// in-place for migration logic. Every step must be idempotent: a crash
// mid-run leaves the in-progress marker set and the next start re-runs.
func Sync(ctx context.Context, to string) error {
	from, err := store.GetSystemVersion()
	if err != nil {
		return err
	}
	inProgress, err := store.GetMigrationInProgress()
	if err != nil {
		return err
	}
	if from == to && !inProgress {
		return nil
	}
	logger.Info("progressor_sync_start", "from", from, "to", to)
	if err := store.SetMigrationInProgress(true); err != nil {
		return err
	}

	// Normalize stored presence records: collapse duplicate entries left
	// by writers that predate dedup-on-add.
	convs, err := store.ListConversations()
	if err != nil {
		logger.Error("progressor_list_conversations_failed", "error", err)
		return err
	}
	var repaired int
	for _, convID := range convs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msgs, err := store.ListMessages(convID)
		if err != nil {
			logger.Error("progressor_list_messages_failed", "conversation", convID, "error", err)
			continue
		}
		for i := range msgs {
			clean := dedup(msgs[i].Present)
			if len(clean) == len(msgs[i].Present) {
				continue
			}
			msgs[i].Present = clean
			if err := store.SaveMessage(convID, msgs[i]); err != nil {
				logger.Error("progressor_save_failed", "conversation", convID, "index", i, "error", err)
				return err
			}
			repaired++
		}
	}

	if err := store.SetSystemVersion(to); err != nil {
		return err
	}
	if err := store.SetMigrationInProgress(false); err != nil {
		return err
	}
	logger.Info("progressor_sync_done", "from", from, "to", to, "repaired", repaired)
	return nil
}

func dedup(ids []models.ParticipantID) []models.ParticipantID {
	seen := make(map[models.ParticipantID]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
