package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/datastore"
	"github.com/keshon/persona-bot/internal/persona"
)

const (
	operationHistoryLimit = 200
	userPrefix            = "user:"
	globalKey             = "global"
)

type userRecord struct {
	Conversation  []Entry        `json:"conversation"`
	Preferences   map[string]int `json:"preferences"`
	Operations    []Operation    `json:"operations"`
	Todos         []Todo         `json:"todos"`
	ActivePersona string         `json:"active_persona,omitempty"`
	Scene         string         `json:"scene,omitempty"`
}

type globalRecord struct {
	Switches      []SwitchRecord               `json:"switches"`
	SceneDefaults map[string]string            `json:"scene_defaults"`
	SceneMemory   map[string]map[string]Memory `json:"scene_memory"`
	Reminders     map[string]Reminder          `json:"reminders"`
	Relationships []persona.RelationshipEntry  `json:"relationships"`
	Growth        map[string]persona.Growth    `json:"growth"`
}

// MemoryStore implements Store on the JSON datastore. It is the fallback when
// sqlite is unavailable.
type MemoryStore struct {
	ds *datastore.DataStore
}

// NewMemory opens the datastore file at path. autoSave 0 writes only on
// Close.
func NewMemory(path string, autoSave time.Duration, copies int) (*MemoryStore, error) {
	cfg := datastore.DefaultConfig(path)
	cfg.AutoSaveInterval = autoSave
	if copies > 0 {
		cfg.BackupCount = copies
	}
	ds, err := datastore.NewWithConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{ds: ds}, nil
}

func (s *MemoryStore) Close() error {
	keys, size := s.ds.Stats()
	log.Info().Str("component", "storage").Int("keys", keys).Int64("bytes", size).Msg("closing datastore")
	return s.ds.Close()
}

func (s *MemoryStore) updateUser(userID string, fn func(r *userRecord) error) error {
	return datastore.Update(s.ds, userPrefix+userID, fn)
}

func (s *MemoryStore) user(userID string) (userRecord, error) {
	var r userRecord
	_, err := s.ds.Get(userPrefix+userID, &r)
	return r, err
}

func (s *MemoryStore) updateGlobal(fn func(g *globalRecord) error) error {
	return datastore.Update(s.ds, globalKey, fn)
}

func (s *MemoryStore) global() (globalRecord, error) {
	var g globalRecord
	_, err := s.ds.Get(globalKey, &g)
	return g, err
}

func (s *MemoryStore) users() []string {
	keys := s.ds.Keys(userPrefix)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, userPrefix))
	}
	return out
}

// --- conversation ---

func (s *MemoryStore) AppendConversation(_ context.Context, e Entry) error {
	return s.updateUser(e.UserID, func(r *userRecord) error {
		r.Conversation = append(r.Conversation, e)
		return nil
	})
}

func (s *MemoryStore) RecentConversation(_ context.Context, userID string, limit int) ([]Entry, error) {
	r, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	conv := r.Conversation
	if limit > 0 && len(conv) > limit {
		conv = conv[len(conv)-limit:]
	}
	return conv, nil
}

func (s *MemoryStore) ReplaceConversation(_ context.Context, userID string, entries []Entry) error {
	return s.updateUser(userID, func(r *userRecord) error {
		r.Conversation = make([]Entry, 0, len(entries))
		for _, e := range entries {
			e.UserID = userID
			r.Conversation = append(r.Conversation, e)
		}
		return nil
	})
}

func (s *MemoryStore) PruneConversations(_ context.Context, before time.Time) (int, error) {
	removed := 0
	for _, u := range s.users() {
		err := s.updateUser(u, func(r *userRecord) error {
			kept := r.Conversation[:0]
			for _, e := range r.Conversation {
				if e.Time.Before(before) {
					removed++
					continue
				}
				kept = append(kept, e)
			}
			r.Conversation = kept
			return nil
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// --- preferences and active persona ---

func (s *MemoryStore) IncrementPreference(_ context.Context, userID, personaName string) error {
	return s.updateUser(userID, func(r *userRecord) error {
		if r.Preferences == nil {
			r.Preferences = map[string]int{}
		}
		r.Preferences[personaName]++
		return nil
	})
}

func (s *MemoryStore) Preferences(_ context.Context, userID string) (map[string]int, error) {
	r, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	if r.Preferences == nil {
		return map[string]int{}, nil
	}
	return r.Preferences, nil
}

func (s *MemoryStore) ReplacePreferences(_ context.Context, userID string, prefs map[string]int) error {
	return s.updateUser(userID, func(r *userRecord) error {
		r.Preferences = make(map[string]int, len(prefs))
		for k, v := range prefs {
			r.Preferences[k] = v
		}
		return nil
	})
}

func (s *MemoryStore) SetActivePersona(_ context.Context, userID, personaName string) error {
	return s.updateUser(userID, func(r *userRecord) error {
		r.ActivePersona = personaName
		return nil
	})
}

func (s *MemoryStore) ActivePersonas(context.Context) (map[string]string, error) {
	out := map[string]string{}
	for _, u := range s.users() {
		r, err := s.user(u)
		if err != nil {
			return nil, err
		}
		if r.ActivePersona != "" {
			out[u] = r.ActivePersona
		}
	}
	return out, nil
}

// --- switches and operations ---

func (s *MemoryStore) AddSwitch(_ context.Context, rec SwitchRecord) error {
	return s.updateGlobal(func(g *globalRecord) error {
		g.Switches = append(g.Switches, rec)
		return nil
	})
}

func (s *MemoryStore) SwitchStats(_ context.Context, limit int) ([]PersonaStat, error) {
	g, err := s.global()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, r := range g.Switches {
		counts[r.Persona]++
	}
	out := make([]PersonaStat, 0, len(counts))
	for p, c := range counts {
		out = append(out, PersonaStat{Persona: p, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Persona < out[j].Persona
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LogOperation(_ context.Context, op Operation) error {
	return s.updateUser(op.UserID, func(r *userRecord) error {
		r.Operations = append(r.Operations, op)
		if len(r.Operations) > operationHistoryLimit {
			r.Operations = r.Operations[len(r.Operations)-operationHistoryLimit:]
		}
		return nil
	})
}

func (s *MemoryStore) Operations(_ context.Context, userID string, limit int) ([]Operation, error) {
	r, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	out := make([]Operation, 0, len(r.Operations))
	for i := len(r.Operations) - 1; i >= 0; i-- {
		out = append(out, r.Operations[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// --- scenes ---

func (s *MemoryStore) UserScene(_ context.Context, userID string) (string, bool, error) {
	r, err := s.user(userID)
	if err != nil {
		return "", false, err
	}
	return r.Scene, r.Scene != "", nil
}

func (s *MemoryStore) SetUserScene(_ context.Context, userID, scene string) error {
	return s.updateUser(userID, func(r *userRecord) error {
		r.Scene = scene
		return nil
	})
}

func (s *MemoryStore) SceneDefaults(context.Context) (map[string]string, error) {
	g, err := s.global()
	if err != nil {
		return nil, err
	}
	if g.SceneDefaults == nil {
		return map[string]string{}, nil
	}
	return g.SceneDefaults, nil
}

func (s *MemoryStore) SetSceneDefault(_ context.Context, scene, personaName string) error {
	return s.updateGlobal(func(g *globalRecord) error {
		if g.SceneDefaults == nil {
			g.SceneDefaults = map[string]string{}
		}
		g.SceneDefaults[scene] = personaName
		return nil
	})
}

func (s *MemoryStore) SceneMemory(_ context.Context, scene, userID string) (Memory, bool, error) {
	g, err := s.global()
	if err != nil {
		return Memory{}, false, err
	}
	m, ok := g.SceneMemory[scene][userID]
	return m, ok, nil
}

func (s *MemoryStore) SaveSceneMemory(_ context.Context, scene, userID string, m Memory) error {
	return s.updateGlobal(func(g *globalRecord) error {
		if g.SceneMemory == nil {
			g.SceneMemory = map[string]map[string]Memory{}
		}
		if g.SceneMemory[scene] == nil {
			g.SceneMemory[scene] = map[string]Memory{}
		}
		g.SceneMemory[scene][userID] = m
		return nil
	})
}

// --- reminders ---

func (s *MemoryStore) AddReminder(_ context.Context, r Reminder) (Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	err := s.updateGlobal(func(g *globalRecord) error {
		if g.Reminders == nil {
			g.Reminders = map[string]Reminder{}
		}
		if _, exists := g.Reminders[r.ID]; exists {
			return fmt.Errorf("reminder %s already exists", r.ID)
		}
		g.Reminders[r.ID] = r
		return nil
	})
	if err != nil {
		return Reminder{}, err
	}
	return r, nil
}

func (s *MemoryStore) Reminder(_ context.Context, id string) (Reminder, error) {
	g, err := s.global()
	if err != nil {
		return Reminder{}, err
	}
	r, ok := g.Reminders[id]
	if !ok {
		return Reminder{}, fmt.Errorf("%w: reminder %s", ErrNotFound, id)
	}
	return r, nil
}

func (s *MemoryStore) PendingReminders(_ context.Context, userID string) ([]Reminder, error) {
	g, err := s.global()
	if err != nil {
		return nil, err
	}
	var out []Reminder
	for _, r := range g.Reminders {
		if r.Status == StatusPending && (userID == "" || r.UserID == userID) {
			out = append(out, r)
		}
	}
	sortPending(out)
	return out, nil
}

func (s *MemoryStore) CompleteReminder(_ context.Context, id string) (bool, error) {
	done := false
	err := s.updateGlobal(func(g *globalRecord) error {
		r, ok := g.Reminders[id]
		if !ok || r.Status != StatusPending {
			return nil
		}
		r.Status = StatusCompleted
		g.Reminders[id] = r
		done = true
		return nil
	})
	return done, err
}

func (s *MemoryStore) PruneReminders(_ context.Context, before time.Time) (int, error) {
	removed := 0
	err := s.updateGlobal(func(g *globalRecord) error {
		for id, r := range g.Reminders {
			if r.Status == StatusCompleted && r.TriggerAt.Before(before) {
				delete(g.Reminders, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// --- todos ---

func (s *MemoryStore) AddTodo(_ context.Context, t Todo) (Todo, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	err := s.updateUser(t.UserID, func(r *userRecord) error {
		r.Todos = append(r.Todos, t)
		return nil
	})
	if err != nil {
		return Todo{}, err
	}
	return t, nil
}

func (s *MemoryStore) Todos(_ context.Context, userID string) ([]Todo, error) {
	r, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	return r.Todos, nil
}

func (s *MemoryStore) CompleteTodo(_ context.Context, id string) error {
	for _, u := range s.users() {
		found := false
		err := s.updateUser(u, func(r *userRecord) error {
			for i := range r.Todos {
				if r.Todos[i].ID == id {
					r.Todos[i].Status = StatusCompleted
					found = true
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if found {
			return nil
		}
	}
	return fmt.Errorf("%w: todo %s", ErrNotFound, id)
}

// --- growth ---

func (s *MemoryStore) SaveRelationship(_ context.Context, key persona.PairKey, rel persona.Relationship) error {
	key = persona.Pair(key.A, key.B)
	return s.updateGlobal(func(g *globalRecord) error {
		for i := range g.Relationships {
			if g.Relationships[i].Key == key {
				g.Relationships[i].Relationship = rel
				return nil
			}
		}
		g.Relationships = append(g.Relationships, persona.RelationshipEntry{Key: key, Relationship: rel})
		return nil
	})
}

func (s *MemoryStore) SaveGrowth(_ context.Context, name string, gr persona.Growth) error {
	return s.updateGlobal(func(g *globalRecord) error {
		if g.Growth == nil {
			g.Growth = map[string]persona.Growth{}
		}
		g.Growth[name] = gr
		return nil
	})
}

func (s *MemoryStore) DeletePersonaState(_ context.Context, name string) error {
	return s.updateGlobal(func(g *globalRecord) error {
		delete(g.Growth, name)
		kept := g.Relationships[:0]
		for _, e := range g.Relationships {
			if e.Key.A != name && e.Key.B != name {
				kept = append(kept, e)
			}
		}
		g.Relationships = kept
		return nil
	})
}

func (s *MemoryStore) LoadRelationships(context.Context) (map[persona.PairKey]persona.Relationship, error) {
	g, err := s.global()
	if err != nil {
		return nil, err
	}
	out := make(map[persona.PairKey]persona.Relationship, len(g.Relationships))
	for _, e := range g.Relationships {
		out[e.Key] = e.Relationship
	}
	return out, nil
}

func (s *MemoryStore) LoadGrowth(context.Context) (map[string]persona.Growth, error) {
	g, err := s.global()
	if err != nil {
		return nil, err
	}
	if g.Growth == nil {
		return map[string]persona.Growth{}, nil
	}
	return g.Growth, nil
}

// --- dump / restore ---

func (s *MemoryStore) Dump(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Preferences:    map[string]map[string]int{},
		ActivePersonas: map[string]string{},
		UserScenes:     map[string]string{},
	}
	for _, u := range s.users() {
		r, err := s.user(u)
		if err != nil {
			return snap, err
		}
		snap.Conversations = append(snap.Conversations, r.Conversation...)
		if len(r.Preferences) > 0 {
			snap.Preferences[u] = r.Preferences
		}
		if r.ActivePersona != "" {
			snap.ActivePersonas[u] = r.ActivePersona
		}
		if r.Scene != "" {
			snap.UserScenes[u] = r.Scene
		}
		snap.Todos = append(snap.Todos, r.Todos...)
	}
	g, err := s.global()
	if err != nil {
		return snap, err
	}
	snap.Switches = g.Switches
	snap.SceneDefaults = g.SceneDefaults
	snap.SceneMemory = g.SceneMemory
	for _, r := range g.Reminders {
		snap.Reminders = append(snap.Reminders, r)
	}
	sortPending(snap.Reminders)
	rels, err := s.LoadRelationships(ctx)
	if err != nil {
		return snap, err
	}
	snap.Relationships = relationshipEntries(rels)
	snap.Growth = g.Growth
	return snap, nil
}

func (s *MemoryStore) Restore(_ context.Context, snap Snapshot) error {
	for _, u := range s.users() {
		s.ds.Delete(userPrefix + u)
	}
	s.ds.Delete(globalKey)

	users := map[string]*userRecord{}
	rec := func(u string) *userRecord {
		if users[u] == nil {
			users[u] = &userRecord{}
		}
		return users[u]
	}
	for _, e := range snap.Conversations {
		r := rec(e.UserID)
		r.Conversation = append(r.Conversation, e)
	}
	for u, prefs := range snap.Preferences {
		rec(u).Preferences = prefs
	}
	for u, p := range snap.ActivePersonas {
		rec(u).ActivePersona = p
	}
	for u, scene := range snap.UserScenes {
		rec(u).Scene = scene
	}
	for _, t := range snap.Todos {
		r := rec(t.UserID)
		r.Todos = append(r.Todos, t)
	}
	for u, r := range users {
		if err := s.ds.Put(userPrefix+u, r); err != nil {
			return err
		}
	}

	g := globalRecord{
		Switches:      snap.Switches,
		SceneDefaults: snap.SceneDefaults,
		SceneMemory:   snap.SceneMemory,
		Reminders:     map[string]Reminder{},
		Growth:        snap.Growth,
	}
	for _, r := range snap.Reminders {
		g.Reminders[r.ID] = r
	}
	for _, e := range snap.Relationships {
		g.Relationships = append(g.Relationships, persona.RelationshipEntry{Key: persona.Pair(e.Key.A, e.Key.B), Relationship: e.Relationship})
	}
	if err := s.ds.Put(globalKey, g); err != nil {
		return err
	}
	// a restore must survive a crash before the next autosave
	return s.ds.Flush()
}
