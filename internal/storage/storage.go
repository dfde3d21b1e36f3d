// Package storage persists conversations, preferences, switch records,
// scene state, reminders and todos.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/persona"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"

	TriggerManual = "manual"
	TriggerRandom = "random"
	TriggerScene  = "scene"
)

var ErrNotFound = errors.New("record not found")

// Entry is one conversation turn.
type Entry struct {
	UserID  string    `json:"user_id"`
	Time    time.Time `json:"time"`
	Persona string    `json:"persona"`
	Content string    `json:"content"`
}

// Memory is what a scene remembers about a user.
type Memory struct {
	Conversation []Entry        `json:"conversation"`
	Preference   map[string]int `json:"preference"`
}

type SwitchRecord struct {
	UserID      string    `json:"user_id"`
	Time        time.Time `json:"time"`
	Persona     string    `json:"persona"`
	TriggerType string    `json:"trigger_type"`
}

type PersonaStat struct {
	Persona string `json:"persona"`
	Count   int    `json:"count"`
}

type Operation struct {
	UserID    string    `json:"user_id"`
	Operation string    `json:"operation"`
	Time      time.Time `json:"time"`
	Result    string    `json:"result"`
}

type Reminder struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	TriggerAt time.Time `json:"trigger_at"`
	Display   string    `json:"display"`
	Persona   string    `json:"persona"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type Todo struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
	Status  string    `json:"status"`
}

// Snapshot is a full dump used by backups.
type Snapshot struct {
	Conversations  []Entry                      `json:"conversations"`
	Preferences    map[string]map[string]int    `json:"preferences"`
	ActivePersonas map[string]string            `json:"active_personas"`
	Switches       []SwitchRecord               `json:"switches"`
	UserScenes     map[string]string            `json:"user_scenes"`
	SceneDefaults  map[string]string            `json:"scene_defaults"`
	SceneMemory    map[string]map[string]Memory `json:"scene_memory"` // scene -> user
	Reminders      []Reminder                   `json:"reminders"`
	Todos          []Todo                       `json:"todos"`
	Relationships  []persona.RelationshipEntry  `json:"relationships"`
	Growth         map[string]persona.Growth    `json:"growth"`
}

// Store is the persistence collaborator. Implementations are safe for
// concurrent use.
type Store interface {
	persona.GrowthStore

	AppendConversation(ctx context.Context, e Entry) error
	// RecentConversation returns the newest limit entries oldest first;
	// limit <= 0 returns everything.
	RecentConversation(ctx context.Context, userID string, limit int) ([]Entry, error)
	ReplaceConversation(ctx context.Context, userID string, entries []Entry) error
	PruneConversations(ctx context.Context, before time.Time) (int, error)

	IncrementPreference(ctx context.Context, userID, personaName string) error
	Preferences(ctx context.Context, userID string) (map[string]int, error)
	ReplacePreferences(ctx context.Context, userID string, prefs map[string]int) error

	SetActivePersona(ctx context.Context, userID, personaName string) error
	ActivePersonas(ctx context.Context) (map[string]string, error)

	AddSwitch(ctx context.Context, r SwitchRecord) error
	// SwitchStats returns switch counts per persona, most active first.
	SwitchStats(ctx context.Context, limit int) ([]PersonaStat, error)

	LogOperation(ctx context.Context, op Operation) error
	Operations(ctx context.Context, userID string, limit int) ([]Operation, error)

	UserScene(ctx context.Context, userID string) (string, bool, error)
	SetUserScene(ctx context.Context, userID, scene string) error
	SceneDefaults(ctx context.Context) (map[string]string, error)
	SetSceneDefault(ctx context.Context, scene, personaName string) error
	SceneMemory(ctx context.Context, scene, userID string) (Memory, bool, error)
	SaveSceneMemory(ctx context.Context, scene, userID string, m Memory) error

	// AddReminder assigns an ID when r.ID is empty.
	AddReminder(ctx context.Context, r Reminder) (Reminder, error)
	Reminder(ctx context.Context, id string) (Reminder, error)
	// PendingReminders lists a user's pending reminders by trigger time;
	// userID "" lists every user's.
	PendingReminders(ctx context.Context, userID string) ([]Reminder, error)
	// CompleteReminder moves a pending reminder to completed. It reports
	// false when the reminder was not pending.
	CompleteReminder(ctx context.Context, id string) (bool, error)
	PruneReminders(ctx context.Context, before time.Time) (int, error)

	AddTodo(ctx context.Context, t Todo) (Todo, error)
	Todos(ctx context.Context, userID string) ([]Todo, error)
	CompleteTodo(ctx context.Context, id string) error

	Dump(ctx context.Context) (Snapshot, error)
	Restore(ctx context.Context, s Snapshot) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver          string
	SQLitePath      string
	DatastorePath   string
	AutoSave        time.Duration
	DatastoreCopies int
}

// Open returns the configured store. An unavailable sqlite database falls
// back to the datastore backend.
func Open(opts Options) (Store, error) {
	switch opts.Driver {
	case "sqlite", "":
		s, err := NewSQLite(opts.SQLitePath)
		if err == nil {
			return s, nil
		}
		log.Warn().Str("component", "storage").Err(err).Msg("sqlite unavailable, using datastore")
		return NewMemory(opts.DatastorePath, opts.AutoSave, opts.DatastoreCopies)
	case "memory", "datastore":
		return NewMemory(opts.DatastorePath, opts.AutoSave, opts.DatastoreCopies)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", opts.Driver)
	}
}

func sortPending(rs []Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].TriggerAt.Equal(rs[j].TriggerAt) {
			return rs[i].TriggerAt.Before(rs[j].TriggerAt)
		}
		return rs[i].ID < rs[j].ID
	})
}

func relationshipEntries(rels map[persona.PairKey]persona.Relationship) []persona.RelationshipEntry {
	out := make([]persona.RelationshipEntry, 0, len(rels))
	for k, rel := range rels {
		out = append(out, persona.RelationshipEntry{Key: k, Relationship: rel})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.A != out[j].Key.A {
			return out[i].Key.A < out[j].Key.A
		}
		return out[i].Key.B < out[j].Key.B
	})
	return out
}
