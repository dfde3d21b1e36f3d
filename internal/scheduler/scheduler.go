// Package scheduler runs the background jobs: random persona switch,
// backups, the reminder sweep and one-shot reminder delivery.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/storage"
)

type RandomSwitcher interface {
	RandomSwitch(ctx context.Context) error
}

type Backuper interface {
	Backup(ctx context.Context) (string, error)
}

// Reminders is the part of the reminder service the jobs call.
type Reminders interface {
	Fire(ctx context.Context, id string) error
	Sweep(ctx context.Context) (int, error)
}

type ConfirmationPurger interface {
	ExpireConfirmations() int
}

// Deps are the job targets. A nil target disables its job.
type Deps struct {
	Switcher  RandomSwitcher
	Backuper  Backuper
	Reminders Reminders
	Purger    ConfirmationPurger
}

type Options struct {
	Location          *time.Location
	RandomMinInterval time.Duration
	RandomMaxInterval time.Duration
	BackupInterval    time.Duration
	SweepInterval     time.Duration
}

const reminderTag = "reminder"

type Scheduler struct {
	s    gocron.Scheduler
	deps Deps
	ctx  context.Context

	mu        sync.Mutex
	reminders map[string]gocron.Job
	now       func() time.Time
}

// New creates the scheduler and registers the periodic jobs. Jobs run only
// after Start.
func New(ctx context.Context, opts Options, deps Deps) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(opts.Location))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	sc := &Scheduler{
		s:         s,
		deps:      deps,
		ctx:       ctx,
		reminders: make(map[string]gocron.Job),
		now:       time.Now,
	}

	if deps.Switcher != nil && opts.RandomMaxInterval > 0 {
		lo, hi := opts.RandomMinInterval, opts.RandomMaxInterval
		if lo <= 0 || lo > hi {
			lo = hi
		}
		_, err := s.NewJob(
			gocron.DurationRandomJob(lo, hi),
			gocron.NewTask(sc.randomSwitch),
			gocron.WithName("random_persona"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create random switch job: %w", err)
		}
	}

	if deps.Backuper != nil && opts.BackupInterval > 0 {
		_, err := s.NewJob(
			gocron.DurationJob(opts.BackupInterval),
			gocron.NewTask(sc.backup),
			gocron.WithName("auto_backup"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create backup job: %w", err)
		}
	}

	if (deps.Reminders != nil || deps.Purger != nil) && opts.SweepInterval > 0 {
		_, err := s.NewJob(
			gocron.DurationJob(opts.SweepInterval),
			gocron.NewTask(sc.sweep),
			gocron.WithName("reminder_sweep"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create sweep job: %w", err)
		}
	}
	return sc, nil
}

func (sc *Scheduler) Start() {
	sc.s.Start()
	log.Info().Str("component", "scheduler").Int("jobs", len(sc.s.Jobs())).Msg("scheduler started")
}

func (sc *Scheduler) Shutdown() error {
	return sc.s.Shutdown()
}

// JobNames lists the registered jobs, sorted.
func (sc *Scheduler) JobNames() []string {
	var names []string
	for _, j := range sc.s.Jobs() {
		names = append(names, j.Name())
	}
	sort.Strings(names)
	return names
}

// ScheduleReminder arranges a one-shot delivery of r at its trigger time,
// replacing an earlier job for the same reminder. Overdue reminders run
// immediately.
func (sc *Scheduler) ScheduleReminder(r storage.Reminder) error {
	if sc.deps.Reminders == nil {
		return errors.New("scheduler has no reminder target")
	}
	start := gocron.OneTimeJobStartImmediately()
	if r.TriggerAt.After(sc.now().Add(time.Second)) {
		start = gocron.OneTimeJobStartDateTime(r.TriggerAt)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if old, ok := sc.reminders[r.ID]; ok {
		if err := sc.s.RemoveJob(old.ID()); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			log.Warn().Str("component", "scheduler").Str("id", r.ID).Err(err).Msg("failed to remove previous reminder job")
		}
		delete(sc.reminders, r.ID)
	}

	id := r.ID
	job, err := sc.s.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(func() { sc.fireReminder(id) }),
		gocron.WithName("reminder_"+id),
		gocron.WithTags(reminderTag),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule reminder %s: %w", id, err)
	}
	sc.reminders[id] = job
	log.Debug().Str("component", "scheduler").Str("id", id).Time("at", r.TriggerAt).Msg("reminder scheduled")
	return nil
}

// ScheduledReminders returns the IDs with a pending one-shot job.
func (sc *Scheduler) ScheduledReminders() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	ids := make([]string, 0, len(sc.reminders))
	for id := range sc.reminders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (sc *Scheduler) fireReminder(id string) {
	sc.mu.Lock()
	delete(sc.reminders, id)
	sc.mu.Unlock()
	if err := sc.deps.Reminders.Fire(sc.ctx, id); err != nil {
		log.Error().Str("component", "scheduler").Str("id", id).Err(err).Msg("reminder delivery failed")
	}
}

func (sc *Scheduler) randomSwitch() {
	if err := sc.deps.Switcher.RandomSwitch(sc.ctx); err != nil {
		log.Error().Str("component", "scheduler").Err(err).Msg("random switch failed")
	}
}

func (sc *Scheduler) backup() {
	path, err := sc.deps.Backuper.Backup(sc.ctx)
	if err != nil {
		log.Error().Str("component", "scheduler").Err(err).Msg("backup failed")
		return
	}
	log.Info().Str("component", "scheduler").Str("path", path).Msg("backup written")
}

func (sc *Scheduler) sweep() {
	if sc.deps.Reminders != nil {
		n, err := sc.deps.Reminders.Sweep(sc.ctx)
		if err != nil {
			log.Error().Str("component", "scheduler").Err(err).Msg("reminder sweep failed")
		} else if n > 0 {
			log.Info().Str("component", "scheduler").Int("expired", n).Msg("overdue reminders expired")
		}
	}
	if sc.deps.Purger != nil {
		if n := sc.deps.Purger.ExpireConfirmations(); n > 0 {
			log.Debug().Str("component", "scheduler").Int("expired", n).Msg("confirmations expired")
		}
	}
}
