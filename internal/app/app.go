package app

import (
	"context"
	"fmt"
	"time"

	"presencedb/internal/janitor"
	"presencedb/pkg/config"
	"presencedb/pkg/models"
	"presencedb/pkg/presence"
	"presencedb/pkg/progressor"
	"presencedb/pkg/sensor"
	"presencedb/pkg/state"
	"presencedb/pkg/store"
	"presencedb/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	source    string
	version   string
	commit    string
	buildDate string

	eng *presence.Engine
	srv *httpServer
}

// New initializes resources that do not require a running context (DB,
// engine). It does not start the HTTP server; call Run to start it and
// block until shutdown.
func New(cfg *config.Config, source, version, commit, buildDate string) (*App, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	validation.SetRules(validation.Rules{
		MaxBodyBytes:   int(cfg.Validation.MaxBodyBytes.Int64()),
		RequireSpeaker: cfg.Validation.RequireSpeaker,
		MaxPresent:     cfg.Validation.MaxPresent,
	})

	if err := state.EnsureStateDirs(cfg.Server.DBPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs under %s: %w", cfg.Server.DBPath, err)
	}
	if err := store.Open(state.PathsVar.Store); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", state.PathsVar.Store, err)
	}
	if err := progressor.Sync(context.Background(), version); err != nil {
		return nil, fmt.Errorf("schema sync failed: %w", err)
	}

	eng := presence.New(presence.Options{
		QueueCapacity:   cfg.Queue.Capacity,
		PersistDebounce: time.Duration(cfg.Queue.PersistDebounce),
		Settings: models.Settings{
			Enabled:          cfg.Presence.Enabled,
			SeeLast:          cfg.Presence.SeeLast,
			IncludeMuted:     cfg.Presence.IncludeMuted,
			UniversalTracker: cfg.Presence.UniversalTracker,
		},
	})
	eng.Start()

	return &App{cfg: cfg, source: source, version: version, commit: commit, buildDate: buildDate, eng: eng}, nil
}

// Run starts the janitor and the HTTP server, and blocks until ctx is
// canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	a.printBanner()

	janitor.SetConfig(*a.cfg)
	janitorCancel, err := janitor.Start(ctx, *a.cfg)
	if err != nil {
		return err
	}
	defer janitorCancel()

	mon := sensor.NewMonitor(a.cfg.Server.DBPath, 0, 0)
	stopMon := mon.Start(ctx)
	defer stopMon()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) shutdown() {
	if a.srv != nil {
		a.srv.stop()
	}
	a.eng.Close()
	_ = store.Close()
}
