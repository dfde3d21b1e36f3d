package persona

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds personas in insertion order together with their mood,
// relationship and growth state. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	order         []string
	personas      map[string]*Persona
	builtin       map[string]bool
	moods         map[string]string
	relationships map[PairKey]*Relationship
	growth        map[string]*Growth

	cfg   GrowthConfig
	store GrowthStore
}

// NewRegistry seeds the registry with the built-in personas. store may be nil.
func NewRegistry(cfg GrowthConfig, store GrowthStore) *Registry {
	r := &Registry{
		personas:      make(map[string]*Persona),
		builtin:       make(map[string]bool),
		moods:         make(map[string]string),
		relationships: make(map[PairKey]*Relationship),
		growth:        make(map[string]*Growth),
		cfg:           cfg.normalized(),
		store:         store,
	}
	for _, p := range Builtins() {
		p := p
		r.order = append(r.order, p.Command)
		r.personas[p.Command] = &p
		r.builtin[p.Command] = true
		r.moods[p.Command] = p.DefaultMood
	}
	return r
}

// Load restores relationship and growth counters from the store and
// re-applies persisted unlocks.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	rels, err := r.store.LoadRelationships(ctx)
	if err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}
	growth, err := r.store.LoadGrowth(ctx)
	if err != nil {
		return fmt.Errorf("load growth: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, rel := range rels {
		rel := rel
		r.relationships[k.normalized()] = &rel
	}
	for name, g := range growth {
		g := g
		r.growth[name] = &g
		if p, ok := r.personas[name]; ok {
			for _, u := range g.Unlocked {
				applyTables(p, u)
			}
		}
	}
	return nil
}

func (r *Registry) Get(name string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[name]
	if !ok {
		return Persona{}, false
	}
	return r.snapshotLocked(p), true
}

// List returns every persona in registry order.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Persona, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.snapshotLocked(r.personas[name]))
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.personas[name]
	return ok
}

func (r *Registry) IsBuiltin(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.builtin[name]
}

// Custom returns the imported personas in registry order.
func (r *Registry) Custom() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Persona
	for _, name := range r.order {
		if !r.builtin[name] {
			out = append(out, r.snapshotLocked(r.personas[name]))
		}
	}
	return out
}

// Add inserts p. Custom personas are tagged as imported; adding over an
// existing custom persona replaces it in place, keeping its position.
// Built-in names cannot be replaced.
func (r *Registry) Add(p Persona, custom bool) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p = p.withDefaults().clone()
	if custom {
		p.Source = SourceImported
	} else if p.Source == "" {
		p.Source = SourceBuiltin
	}
	p.Unlocked = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.builtin[p.Command] {
		return fmt.Errorf("%w: %s", ErrBuiltin, p.Command)
	}
	if _, exists := r.personas[p.Command]; !exists {
		r.order = append(r.order, p.Command)
	}
	if g, ok := r.growth[p.Command]; ok {
		for _, u := range g.Unlocked {
			applyTables(&p, u)
		}
	}
	r.personas[p.Command] = &p
	r.moods[p.Command] = p.DefaultMood
	if !custom {
		r.builtin[p.Command] = true
	}
	return nil
}

// Remove deletes a custom persona and every piece of state keyed by it.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	if r.builtin[name] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBuiltin, name)
	}
	if _, ok := r.personas[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.personas, name)
	delete(r.moods, name)
	delete(r.growth, name)
	for k := range r.relationships {
		if k.A == name || k.B == name {
			delete(r.relationships, k)
		}
	}
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeletePersonaState(ctx, name); err != nil {
			return fmt.Errorf("delete persona state: %w", err)
		}
	}
	return nil
}

// Mood returns the current mood, defaulting to the persona's default mood.
func (r *Registry) Mood(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.moods[name]; ok && m != "" {
		return m
	}
	if p, ok := r.personas[name]; ok {
		return p.DefaultMood
	}
	return DefaultMood
}

func (r *Registry) SetMood(name, mood string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.personas[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.moods[name] = mood
	return nil
}

// Moods returns a copy of every persona's current mood.
func (r *Registry) Moods() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneMap(r.moods)
}

// RestoreMoods overwrites moods for known personas.
func (r *Registry) RestoreMoods(moods map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, m := range moods {
		if _, ok := r.personas[name]; ok {
			r.moods[name] = m
		}
	}
}

// MatchTrigger returns the first persona, in registry order, with a trigger
// word contained in text.
func (r *Registry) MatchTrigger(text string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		p := r.personas[name]
		for _, t := range p.TriggerNames {
			if t != "" && strings.Contains(text, t) {
				return r.snapshotLocked(p), true
			}
		}
	}
	return Persona{}, false
}

// MatchMoodTrigger finds a mood trigger keyword of persona name inside text.
// Longer keywords are tried first so that specific triggers win.
func (r *Registry) MatchMoodTrigger(name, text string) (string, bool) {
	r.mu.RLock()
	p, ok := r.personas[name]
	if !ok {
		r.mu.RUnlock()
		return "", false
	}
	keywords := make([]string, 0, len(p.MoodTriggers))
	for k := range p.MoodTriggers {
		keywords = append(keywords, k)
	}
	triggers := cloneMap(p.MoodTriggers)
	r.mu.RUnlock()

	sort.Slice(keywords, func(i, j int) bool {
		if len(keywords[i]) != len(keywords[j]) {
			return len(keywords[i]) > len(keywords[j])
		}
		return keywords[i] < keywords[j]
	})
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return triggers[k], true
		}
	}
	return "", false
}

func (r *Registry) snapshotLocked(p *Persona) Persona {
	c := p.clone()
	if g, ok := r.growth[p.Command]; ok {
		c.Unlocked = append([]Unlock(nil), g.Unlocked...)
	}
	return c
}
