// Package app builds the bot from configuration. Both adapters share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/ai"
	"github.com/keshon/persona-bot/internal/backup"
	"github.com/keshon/persona-bot/internal/cache"
	"github.com/keshon/persona-bot/internal/classify"
	"github.com/keshon/persona-bot/internal/config"
	"github.com/keshon/persona-bot/internal/offline"
	"github.com/keshon/persona-bot/internal/permission"
	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/internal/reminder"
	"github.com/keshon/persona-bot/internal/router"
	"github.com/keshon/persona-bot/internal/scene"
	"github.com/keshon/persona-bot/internal/scheduler"
	"github.com/keshon/persona-bot/internal/storage"
	"github.com/keshon/persona-bot/internal/tools"
)

type App struct {
	Config    *config.Config
	Store     storage.Store
	Registry  *persona.Registry
	Router    *router.Router
	Reminders *reminder.Service
	Scheduler *scheduler.Scheduler
	Backups   *backup.Manager

	cache   *cache.Cache
	metrics *http.Server
}

// New wires every component. notifier delivers reminders outside of a
// reply and must not be nil.
func New(ctx context.Context, cfg *config.Config, notifier reminder.Notifier) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	st, err := storage.Open(storage.Options{
		Driver:          cfg.Storage.Driver,
		SQLitePath:      cfg.Storage.SQLitePath,
		DatastorePath:   cfg.Storage.DatastorePath,
		AutoSave:        cfg.Storage.AutoSave,
		DatastoreCopies: cfg.Storage.DatastoreCopies,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a := &App{Config: cfg, Store: st}

	growth, err := growthConfig(cfg.Growth)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Registry = persona.NewRegistry(growth, st)
	a.Backups = backup.New(backup.Options{
		Dir:           cfg.Backup.Dir,
		RetentionDays: cfg.Backup.RetentionDays,
	}, a.Registry, st)

	if err := a.restoreOrLoad(ctx); err != nil {
		a.Close()
		return nil, err
	}

	scenes, err := scene.New(ctx, scene.Options{
		Names:           cfg.Scene.Names,
		Default:         cfg.Scene.Default,
		DefaultPersonas: cfg.Scene.DefaultPersonas,
		Isolation:       cfg.Scene.Isolation,
		SpecificConfig:  cfg.Scene.SpecificConfig,
	}, st)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Cache.Enable {
		window := time.Duration(0)
		if cfg.Cache.Throttle {
			window = cfg.Cache.ThrottleWindow
		}
		a.cache = cache.New(cache.OpenBackend(ctx, cfg.Cache.RedisURL), cache.Options{
			TTL:    cfg.Cache.TTL,
			Window: window,
		})
	}

	roles, err := cfg.Permission.ParseRoles()
	if err != nil {
		a.Close()
		return nil, err
	}
	perm := permission.New(permission.Options{
		Enable:      cfg.Permission.Enable,
		DefaultRole: cfg.Permission.DefaultRole,
		UserRoles:   cfg.Permission.UserRoles,
		Roles:       roles,
	}, st)

	var detector *offline.Detector
	if cfg.Offline.Enable {
		templates, err := offline.LoadTemplates(cfg.Offline.TemplatesPath)
		if err != nil {
			log.Warn().Str("component", "app").Err(err).Msg("using default offline templates")
			templates = offline.DefaultTemplates()
		}
		detector = offline.New(offline.Options{
			Enable:    true,
			CheckURL:  cfg.Offline.CheckURL,
			Timeout:   cfg.Offline.CheckTimeout,
			Templates: templates,
			CacheFor:  30 * time.Second,
		})
	}

	a.Reminders = reminder.New(st, notifier, reminder.Options{
		LookAhead: cfg.Reminder.LookAhead,
		Retention: cfg.Storage.Retention,
		OnFire:    router.RemindersFired.Inc,
	})

	deps := router.Deps{
		Registry:   a.Registry,
		Scenes:     scenes,
		Store:      st,
		AI:         aiClient(cfg.LLM),
		Classifier: classify.Default(),
		Cache:      a.cache,
		Reminders:  a.Reminders,
		Permission: perm,
		Offline:    detector,
	}
	if cfg.Tools.Enable {
		deps.Tools = toolSet(cfg.Tools, st)
	}
	if cfg.Media.ImageURL != "" {
		deps.Images = tools.NewStableDiffusion(cfg.Media.ImageURL, cfg.Media.ImageModel)
	}
	if cfg.Media.TTSURL != "" {
		deps.Voice = tools.NewTTS(cfg.Media.TTSURL, filepath.Join(cfg.App.DataDir, "voice"), cfg.Media.Voices)
	}

	a.Router, err = router.New(ctx, deps, router.Options{
		DefaultPersona: cfg.Persona.Default,
		ImportDir:      cfg.Persona.ImportDir,
		Formats:        cfg.Persona.Formats,
		Admins:         cfg.Persona.Admins,
		ConfirmTimeout: cfg.Persona.ConfirmTimeout,
		HistoryTurns:   cfg.LLM.HistoryTurns,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Backups.OnRestore(a.Router)

	sd := scheduler.Deps{
		Reminders: a.Reminders,
		Purger:    a.Router,
	}
	if cfg.Random.Enable {
		sd.Switcher = a.Router
	}
	if cfg.Backup.Enable {
		sd.Backuper = a.Backups
	}
	a.Scheduler, err = scheduler.New(ctx, scheduler.Options{
		Location:          loc,
		RandomMinInterval: cfg.Random.MinInterval,
		RandomMaxInterval: cfg.Random.MaxInterval,
		BackupInterval:    cfg.Backup.Interval,
		SweepInterval:     cfg.Reminder.SweepInterval,
	}, sd)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Reminders.Attach(a.Scheduler)
	return a, nil
}

// restoreOrLoad restores the newest backup when enabled, otherwise it only
// loads growth state from storage.
func (a *App) restoreOrLoad(ctx context.Context) error {
	if a.Config.Backup.AutoRestore {
		path, err := a.Backups.RestoreLatest(ctx)
		switch {
		case err == nil:
			log.Info().Str("component", "app").Str("path", path).Msg("state restored from backup")
			return nil
		case errors.Is(err, backup.ErrNoBackup):
		default:
			log.Error().Str("component", "app").Err(err).Msg("backup restore failed")
		}
	}
	if err := a.Registry.Load(ctx); err != nil {
		return fmt.Errorf("load persona state: %w", err)
	}
	return nil
}

// Start re-schedules pending reminders, starts the jobs and the metrics
// endpoint.
func (a *App) Start(ctx context.Context) error {
	if err := a.Reminders.Rehydrate(ctx); err != nil {
		log.Error().Str("component", "app").Err(err).Msg("failed to reschedule reminders")
	}
	a.Scheduler.Start()

	if addr := a.Config.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("component", "app").Str("addr", addr).Msg("metrics endpoint listening")
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Str("component", "app").Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}
	return nil
}

// Dispatch routes one message.
func (a *App) Dispatch(ctx context.Context, userID, text string) router.Outbound {
	return a.Router.Dispatch(ctx, router.Inbound{UserID: userID, Text: text})
}

// Close stops the jobs, writes a final backup when enabled and closes
// storage.
func (a *App) Close() error {
	var errs []error
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		errs = append(errs, a.metrics.Shutdown(ctx))
		cancel()
	}
	if a.Scheduler != nil {
		errs = append(errs, a.Scheduler.Shutdown())
	}
	if a.Router != nil && a.Config.Backup.Enable {
		if _, err := a.Backups.Backup(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("final backup: %w", err))
		}
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

func growthConfig(c config.GrowthConfig) (persona.GrowthConfig, error) {
	rules, err := c.ParseUnlocks()
	if err != nil {
		return persona.GrowthConfig{}, err
	}
	out := persona.GrowthConfig{
		Enable:     c.Enable,
		BaseCount:  c.BaseCount,
		LevelCount: c.LevelCount,
		MaxLevel:   c.MaxLevel,
	}
	for _, r := range rules {
		out.Unlocks = append(out.Unlocks, persona.UnlockRule{
			Count:  r.Count,
			Unlock: persona.Unlock{Type: r.Type, Value: r.Value},
		})
	}
	return out, nil
}

func aiClient(c config.LLMConfig) *ai.Client {
	return ai.NewClient(ai.Options{
		Provider:    c.Provider,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		Model:       c.Model,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
		Timeout:     c.Timeout,
	}, c.PersonaModels)
}

func toolSet(c config.ToolsConfig, st storage.Store) *tools.Set {
	list := []tools.Tool{tools.NewWeather(c.WeatherKey, c.WeatherCity)}
	if c.Todo {
		list = append(list, tools.NewTodo(st))
	}
	list = append(list, tools.NewCalendar(c.CalendarURL))
	return tools.NewSet(list...)
}
