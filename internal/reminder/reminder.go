// Package reminder parses reminder requests and delivers them when due.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/storage"
	"github.com/keshon/persona-bot/pkg/util"
)

// storeWorkers bounds concurrent store writes when expiring reminders at
// startup.
const storeWorkers = 4

// Scheduler arranges for Fire to be called at a reminder's trigger time.
type Scheduler interface {
	ScheduleReminder(r storage.Reminder) error
}

// Notifier delivers a message to a user outside of a reply.
type Notifier interface {
	Notify(ctx context.Context, userID, text string) error
}

type Service struct {
	st        storage.Store
	notifier  Notifier
	sched     Scheduler
	lookAhead time.Duration
	retention time.Duration
	now       func() time.Time
	onFire    func()
}

type Options struct {
	// LookAhead bounds which pending reminders are scheduled at startup.
	LookAhead time.Duration
	// Retention is how long completed reminders and conversation entries
	// are kept; 0 keeps them.
	Retention time.Duration
	Now       func() time.Time
	// OnFire is called after each delivered reminder.
	OnFire func()
}

func New(st storage.Store, notifier Notifier, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LookAhead <= 0 {
		opts.LookAhead = maxAhead
	}
	return &Service{
		st:        st,
		notifier:  notifier,
		lookAhead: opts.LookAhead,
		retention: opts.Retention,
		now:       opts.Now,
		onFire:    opts.OnFire,
	}
}

// Attach sets the scheduler used for one-shot deliveries.
func (s *Service) Attach(sched Scheduler) {
	s.sched = sched
}

// Create parses text and stores a pending reminder from persona. The
// returned string is the reply for the user; err is non-nil only for
// storage failures.
func (s *Service) Create(ctx context.Context, userID, persona, text string) (string, error) {
	now := s.now()
	p, err := Parse(text, now)
	if err != nil {
		return UserMessage(err), nil
	}
	r, err := s.st.AddReminder(ctx, storage.Reminder{
		UserID:    userID,
		Content:   p.Content,
		TriggerAt: p.At,
		Display:   p.Display,
		Persona:   persona,
		Status:    storage.StatusPending,
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("add reminder: %w", err)
	}
	if s.sched != nil {
		if err := s.sched.ScheduleReminder(r); err != nil {
			// the sweep still delivers it
			log.Warn().Str("component", "reminder").Str("id", r.ID).Err(err).Msg("schedule reminder failed")
		}
	}
	log.Info().Str("component", "reminder").Str("user", userID).Str("id", r.ID).Time("at", r.TriggerAt).Msg("reminder created")
	return fmt.Sprintf("✅ 已设置提醒：%s 提醒你【%s】", p.Display, p.Content), nil
}

// List renders the user's pending reminders, earliest first.
func (s *Service) List(ctx context.Context, userID string) (string, error) {
	rs, err := s.st.PendingReminders(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(rs) == 0 {
		return "你当前没有待处理的提醒哦～", nil
	}
	var b strings.Builder
	b.WriteString("📋 你的提醒列表：")
	for i, r := range rs {
		fmt.Fprintf(&b, "\n%d. %s（%s）", i+1, r.Content, r.TriggerAt.Format("2006-01-02 15:04:05"))
	}
	return b.String(), nil
}

// Message is the delivery text for r.
func Message(r storage.Reminder) string {
	return fmt.Sprintf("⏰ 提醒时间到啦！\n%s提醒你：%s\n设置时间：%s", r.Persona, r.Content, r.Display)
}

// Fire delivers reminder id if it is due and still pending. A reminder is
// marked completed before delivery, so it is delivered at most once.
func (s *Service) Fire(ctx context.Context, id string) error {
	r, err := s.st.Reminder(ctx, id)
	if err != nil {
		return err
	}
	return s.fire(ctx, r)
}

func (s *Service) fire(ctx context.Context, r storage.Reminder) error {
	if r.Status != storage.StatusPending || s.now().Before(r.TriggerAt) {
		return nil
	}
	ok, err := s.st.CompleteReminder(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("complete reminder: %w", err)
	}
	if !ok {
		return nil
	}
	if s.onFire != nil {
		s.onFire()
	}
	if s.notifier == nil {
		log.Warn().Str("component", "reminder").Str("id", r.ID).Msg("no notifier, reminder dropped")
		return nil
	}
	if err := s.notifier.Notify(ctx, r.UserID, Message(r)); err != nil {
		return fmt.Errorf("notify %s: %w", r.UserID, err)
	}
	log.Info().Str("component", "reminder").Str("user", r.UserID).Str("id", r.ID).Msg("reminder delivered")
	return nil
}

// expire completes r without delivering it. It reports whether r was
// still pending.
func (s *Service) expire(ctx context.Context, r storage.Reminder) (bool, error) {
	ok, err := s.st.CompleteReminder(ctx, r.ID)
	if err != nil {
		return false, fmt.Errorf("expire reminder %s: %w", r.ID, err)
	}
	if ok {
		log.Info().Str("component", "reminder").Str("user", r.UserID).Str("id", r.ID).
			Time("at", r.TriggerAt).Msg("expired reminder completed without delivery")
	}
	return ok, nil
}

// Sweep completes every pending reminder whose trigger time has passed
// without sending it, then prunes finished reminders and conversation
// entries older than the retention window. It returns the number of
// reminders expired.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	rs, err := s.st.PendingReminders(ctx, "")
	if err != nil {
		return 0, err
	}
	now := s.now()
	expired := 0
	for _, r := range rs {
		if r.TriggerAt.After(now) {
			break
		}
		ok, err := s.expire(ctx, r)
		if err != nil {
			log.Error().Str("component", "reminder").Str("id", r.ID).Err(err).Msg("sweep failed to expire reminder")
			continue
		}
		if ok {
			expired++
		}
	}
	if s.retention > 0 {
		before := now.Add(-s.retention)
		n, err := s.st.PruneReminders(ctx, before)
		if err != nil {
			return expired, err
		}
		if n > 0 {
			log.Info().Str("component", "reminder").Int("count", n).Msg("pruned finished reminders")
		}
		n, err = s.st.PruneConversations(ctx, before)
		if err != nil {
			return expired, fmt.Errorf("prune conversations: %w", err)
		}
		if n > 0 {
			log.Info().Str("component", "reminder").Int("count", n).Msg("pruned old conversation entries")
		}
	}
	return expired, nil
}

// Rehydrate schedules pending reminders due within the look-ahead window.
// Reminders whose time passed while the bot was down are completed without
// delivery; later ones stay pending.
func (s *Service) Rehydrate(ctx context.Context) error {
	rs, err := s.st.PendingReminders(ctx, "")
	if err != nil {
		return err
	}
	now := s.now()
	horizon := now.Add(s.lookAhead)
	var overdue []storage.Reminder
	for _, r := range rs {
		switch {
		case !r.TriggerAt.After(now):
			overdue = append(overdue, r)
		case r.TriggerAt.After(horizon):
			log.Warn().Str("component", "reminder").Str("id", r.ID).Time("at", r.TriggerAt).Msg("reminder beyond look-ahead, left pending")
		case s.sched != nil:
			if err := s.sched.ScheduleReminder(r); err != nil {
				log.Error().Str("component", "reminder").Str("id", r.ID).Err(err).Msg("reschedule failed")
			}
		}
	}
	err = util.Parallel(ctx, overdue, storeWorkers, func(ctx context.Context, r storage.Reminder) error {
		_, err := s.expire(ctx, r)
		return err
	})
	if err != nil {
		log.Error().Str("component", "reminder").Err(err).Int("overdue", len(overdue)).Msg("failed to expire overdue reminders")
	}
	return nil
}
