package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"presencedb/pkg/config"
	"presencedb/pkg/logger"
	"presencedb/pkg/models"
	"presencedb/pkg/store"
	"presencedb/pkg/telemetry"
)

var storedCfg *config.Config

// SetConfig stores the loaded config so tests or admin triggers can
// invoke hygiene runs on-demand.
func SetConfig(cfg config.Config) {
	storedCfg = &cfg
}

// RunImmediate triggers a single hygiene pass using the stored config.
func RunImmediate() error {
	if storedCfg == nil {
		return fmt.Errorf("no config registered for janitor run")
	}
	return runOnce(context.Background(), storedCfg.Janitor)
}

// Start starts the hygiene scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.Config) (context.CancelFunc, error) {
	jan := cfg.Janitor

	if !jan.Enabled {
		logger.Info("janitor_disabled")
		return func() {}, nil
	}

	cronExpr := jan.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("janitor_invalid_cron", "cron", jan.Cron)
		return nil, fmt.Errorf("invalid janitor cron expression: %s", jan.Cron)
	}

	logger.Info("janitor_enabled", "cron", cronExpr, "batch_size", jan.BatchSize, "dry_run", jan.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, jan, cronExpr)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, jan config.JanitorConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("janitor_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := runOnce(ctx, jan); err != nil {
				logger.Error("janitor_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("janitor_scheduler_stopping")
			return
		}
	}
}

// runOnce walks every stored conversation and repairs record hygiene:
// duplicate entries in presence arrays are collapsed, and metadata
// whose legacy import already ran is cleared of its leftover record.
func runOnce(ctx context.Context, jan config.JanitorConfig) error {
	start := time.Now()
	convs, err := store.ListConversations()
	if err != nil {
		telemetry.JanitorRuns.WithLabelValues("error").Inc()
		return err
	}

	batch := jan.BatchSize
	if batch <= 0 {
		batch = 64
	}

	var repaired, scanned int
	for _, convID := range convs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := scrubConversation(convID, batch, jan.DryRun)
		if err != nil {
			logger.Warn("janitor_conversation_failed", "conversation", convID, "error", err)
			continue
		}
		scanned++
		repaired += n
	}

	telemetry.JanitorRuns.WithLabelValues("ok").Inc()
	logger.Info("janitor_run_complete", "conversations", scanned, "repaired", repaired, "dry_run", jan.DryRun, "elapsed", time.Since(start).String())
	return nil
}

// scrubConversation returns the number of records it rewrote (or would
// rewrite, when dryRun).
func scrubConversation(convID string, batch int, dryRun bool) (int, error) {
	msgs, err := store.ListMessages(convID)
	if err != nil {
		return 0, err
	}

	var fixed int
	pending := make([]models.Message, 0, batch)
	flush := func() error {
		if len(pending) == 0 || dryRun {
			pending = pending[:0]
			return nil
		}
		for _, m := range pending {
			if err := store.SaveMessage(convID, m); err != nil {
				return err
			}
		}
		pending = pending[:0]
		return nil
	}

	for i := range msgs {
		clean := dedupPresent(msgs[i].Present)
		if len(clean) == len(msgs[i].Present) {
			continue
		}
		msgs[i].Present = clean
		fixed++
		pending = append(pending, msgs[i])
		if len(pending) >= batch {
			if err := flush(); err != nil {
				return fixed, err
			}
		}
	}
	if err := flush(); err != nil {
		return fixed, err
	}

	meta, err := store.GetMeta(convID)
	if err != nil {
		return fixed, err
	}
	// a meta record with both a group binding and a legacy block means the
	// import ran but the leftover never got cleared
	if meta.GroupID != "" && len(meta.Legacy) > 0 {
		fixed++
		if !dryRun {
			meta.Legacy = nil
			if err := store.SaveMeta(convID, meta); err != nil {
				return fixed, err
			}
		}
	}
	return fixed, nil
}

func dedupPresent(ids []models.ParticipantID) []models.ParticipantID {
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
