package router

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/internal/storage"
)

// SystemUser keys the global default persona in storage and in switch
// records written by background jobs.
const SystemUser = "system"

// switcher owns the active persona pointers. Every mutation of the active
// persona, relationship and growth state goes through mu.
type switcher struct {
	mu       sync.Mutex
	reg      *persona.Registry
	st       storage.Store
	fallback string
	global   string
	active   map[string]string
	rnd      *rand.Rand
	now      func() time.Time
}

func newSwitcher(ctx context.Context, reg *persona.Registry, st storage.Store, def string, now func() time.Time) (*switcher, error) {
	if !reg.Has(def) {
		def = persona.DefaultName
	}
	s := &switcher{
		reg:      reg,
		st:       st,
		fallback: def,
		global:   def,
		active:   make(map[string]string),
		rnd:      rand.New(rand.NewSource(now().UnixNano())),
		now:      now,
	}
	saved, err := st.ActivePersonas(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active personas: %w", err)
	}
	for user, name := range saved {
		if !reg.Has(name) {
			continue
		}
		if user == SystemUser {
			s.global = name
			continue
		}
		s.active[user] = name
	}
	return s, nil
}

// Active returns the user's persona, falling back to the global default.
func (s *switcher) Active(userID string) persona.Persona {
	s.mu.Lock()
	name := s.resolveLocked(userID)
	s.mu.Unlock()
	p, _ := s.reg.Get(name)
	return p
}

// Global returns the global default persona name.
func (s *switcher) Global() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.Has(s.global) {
		return s.global
	}
	return s.fallback
}

func (s *switcher) resolveLocked(userID string) string {
	if name, ok := s.active[userID]; ok && s.reg.Has(name) {
		return name
	}
	if s.reg.Has(s.global) {
		return s.global
	}
	return s.fallback
}

// Switch makes next the user's active persona and records the switch:
// relationship and growth counters, switch record and preference, each
// exactly once.
func (s *switcher) Switch(ctx context.Context, userID, next string) (persona.SwitchOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reg.Has(next) {
		return persona.SwitchOutcome{}, fmt.Errorf("%w: %s", persona.ErrNotFound, next)
	}
	old := s.resolveLocked(userID)
	if err := s.st.SetActivePersona(ctx, userID, next); err != nil {
		return persona.SwitchOutcome{}, fmt.Errorf("persist active persona: %w", err)
	}
	s.active[userID] = next

	out, err := s.reg.RecordSwitch(ctx, old, next)
	if err != nil {
		log.Error().Str("component", "router").Str("user", userID).Err(err).Msg("failed to record growth")
	}
	if err := s.st.AddSwitch(ctx, storage.SwitchRecord{UserID: userID, Time: s.now(), Persona: next, TriggerType: storage.TriggerManual}); err != nil {
		log.Error().Str("component", "router").Str("user", userID).Err(err).Msg("failed to store switch record")
	}
	if err := s.st.IncrementPreference(ctx, userID, next); err != nil {
		log.Error().Str("component", "router").Str("user", userID).Err(err).Msg("failed to update preference")
	}
	recordSwitch(storage.TriggerManual)
	return out, nil
}

// Assign sets the user's persona without counting it as a switch, used when
// a scene brings its own default persona.
func (s *switcher) Assign(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reg.Has(name) {
		return fmt.Errorf("%w: %s", persona.ErrNotFound, name)
	}
	if err := s.st.SetActivePersona(ctx, userID, name); err != nil {
		return err
	}
	s.active[userID] = name
	if err := s.st.AddSwitch(ctx, storage.SwitchRecord{UserID: userID, Time: s.now(), Persona: name, TriggerType: storage.TriggerScene}); err != nil {
		log.Error().Str("component", "router").Str("user", userID).Err(err).Msg("failed to store switch record")
	}
	recordSwitch(storage.TriggerScene)
	return nil
}

// SwitchRandom moves the global default to a different persona picked at
// random. Users without an explicit choice follow it.
func (s *switcher) SwitchRandom(ctx context.Context) (from, to string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from = s.global
	if !s.reg.Has(from) {
		from = s.fallback
	}
	var candidates []string
	for _, name := range s.reg.Names() {
		if name != from {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return from, from, false, nil
	}
	to = candidates[s.rnd.Intn(len(candidates))]
	if err := s.st.SetActivePersona(ctx, SystemUser, to); err != nil {
		return from, to, false, fmt.Errorf("persist global persona: %w", err)
	}
	s.global = to
	if err := s.st.AddSwitch(ctx, storage.SwitchRecord{UserID: SystemUser, Time: s.now(), Persona: to, TriggerType: storage.TriggerRandom}); err != nil {
		log.Error().Str("component", "router").Err(err).Msg("failed to store switch record")
	}
	recordSwitch(storage.TriggerRandom)
	return from, to, true, nil
}

// Forget drops pointers to a deleted persona.
func (s *switcher) Forget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, p := range s.active {
		if p == name {
			delete(s.active, user)
		}
	}
	if s.global == name {
		s.global = s.fallback
	}
}

// Reload re-reads the pointers from storage, used after a backup restore.
func (s *switcher) Reload(ctx context.Context) error {
	saved, err := s.st.ActivePersonas(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = make(map[string]string, len(saved))
	s.global = s.fallback
	for user, name := range saved {
		if !s.reg.Has(name) {
			continue
		}
		if user == SystemUser {
			s.global = name
			continue
		}
		s.active[user] = name
	}
	return nil
}
