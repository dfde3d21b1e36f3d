package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/persona-bot/internal/persona"
)

func stores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			s, err := NewMemory(filepath.Join(t.TempDir(), "test.json"), 0, 1)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

var base = time.Unix(1700000000, 0)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func contents(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Content)
	}
	return out
}

func TestConversationOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, c := range []string{"a", "b", "c", "d"} {
			require.NoError(t, s.AppendConversation(ctx, Entry{UserID: "u1", Time: at(i), Persona: "名字", Content: c}))
		}
		require.NoError(t, s.AppendConversation(ctx, Entry{UserID: "u2", Time: at(9), Persona: "名字", Content: "other"}))

		all, err := s.RecentConversation(ctx, "u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, contents(all))

		recent, err := s.RecentConversation(ctx, "u1", 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "d"}, contents(recent))
		assert.True(t, recent[1].Time.Equal(at(3)))

		require.NoError(t, s.ReplaceConversation(ctx, "u1", []Entry{{Time: at(20), Persona: "滴滴喵", Content: "x"}}))
		all, err = s.RecentConversation(ctx, "u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, contents(all))
		assert.Equal(t, "u1", all[0].UserID)

		n, err := s.PruneConversations(ctx, at(10))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		other, err := s.RecentConversation(ctx, "u2", 0)
		require.NoError(t, err)
		assert.Empty(t, other)
	})
}

func TestPreferencesAndActivePersona(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.IncrementPreference(ctx, "u1", "滴滴喵"))
		require.NoError(t, s.IncrementPreference(ctx, "u1", "滴滴喵"))
		require.NoError(t, s.IncrementPreference(ctx, "u1", "名字"))

		prefs, err := s.Preferences(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"滴滴喵": 2, "名字": 1}, prefs)

		require.NoError(t, s.ReplacePreferences(ctx, "u1", map[string]int{"陆尔泠": 5}))
		prefs, err = s.Preferences(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"陆尔泠": 5}, prefs)

		empty, err := s.Preferences(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)

		require.NoError(t, s.SetActivePersona(ctx, "u1", "滴滴喵"))
		require.NoError(t, s.SetActivePersona(ctx, "u1", "陆尔泠"))
		require.NoError(t, s.SetActivePersona(ctx, "u2", "名字"))
		active, err := s.ActivePersonas(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"u1": "陆尔泠", "u2": "名字"}, active)
	})
}

func TestSwitchStatsAndOperations(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, p := range []string{"滴滴喵", "名字", "滴滴喵", "陆尔泠", "滴滴喵", "名字"} {
			require.NoError(t, s.AddSwitch(ctx, SwitchRecord{UserID: "u", Time: at(i), Persona: p, TriggerType: TriggerManual}))
		}
		stats, err := s.SwitchStats(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []PersonaStat{{"滴滴喵", 3}, {"名字", 2}}, stats)

		require.NoError(t, s.LogOperation(ctx, Operation{UserID: "u", Operation: "switch_persona", Time: at(1), Result: "allowed"}))
		require.NoError(t, s.LogOperation(ctx, Operation{UserID: "u", Operation: "delete_persona", Time: at(2), Result: "denied"}))
		ops, err := s.Operations(ctx, "u", 1)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "delete_persona", ops[0].Operation)
	})
}

func TestSceneState(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, ok, err := s.UserScene(ctx, "u")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetUserScene(ctx, "u", "private"))
		scene, ok, err := s.UserScene(ctx, "u")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "private", scene)

		require.NoError(t, s.SetSceneDefault(ctx, "group", "沙雕网友"))
		defaults, err := s.SceneDefaults(ctx)
		require.NoError(t, err)
		assert.Equal(t, "沙雕网友", defaults["group"])

		_, ok, err = s.SceneMemory(ctx, "group", "u")
		require.NoError(t, err)
		assert.False(t, ok)

		mem := Memory{
			Conversation: []Entry{{UserID: "u", Time: at(1), Persona: "名字", Content: "hi"}},
			Preference:   map[string]int{"名字": 1},
		}
		require.NoError(t, s.SaveSceneMemory(ctx, "group", "u", mem))
		got, ok, err := s.SceneMemory(ctx, "group", "u")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"hi"}, contents(got.Conversation))
		assert.Equal(t, mem.Preference, got.Preference)
	})
}

func TestReminderLifecycle(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		late, err := s.AddReminder(ctx, Reminder{UserID: "u", Content: "late", TriggerAt: at(200), CreatedAt: at(0)})
		require.NoError(t, err)
		early, err := s.AddReminder(ctx, Reminder{UserID: "u", Content: "early", TriggerAt: at(100), CreatedAt: at(0)})
		require.NoError(t, err)
		_, err = s.AddReminder(ctx, Reminder{UserID: "v", Content: "other", TriggerAt: at(50), CreatedAt: at(0)})
		require.NoError(t, err)

		assert.NotEmpty(t, late.ID)
		assert.Equal(t, StatusPending, late.Status)

		mine, err := s.PendingReminders(ctx, "u")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, "early", mine[0].Content)
		assert.Equal(t, "late", mine[1].Content)

		all, err := s.PendingReminders(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, "other", all[0].Content)

		done, err := s.CompleteReminder(ctx, early.ID)
		require.NoError(t, err)
		assert.True(t, done)
		done, err = s.CompleteReminder(ctx, early.ID)
		require.NoError(t, err)
		assert.False(t, done, "a reminder completes once")

		got, err := s.Reminder(ctx, early.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		_, err = s.Reminder(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		n, err := s.PruneReminders(ctx, at(1000))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		mine, err = s.PendingReminders(ctx, "u")
		require.NoError(t, err)
		assert.Len(t, mine, 1)
	})
}

func TestTodos(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		first, err := s.AddTodo(ctx, Todo{UserID: "u", Content: "买牛奶", Time: at(1)})
		require.NoError(t, err)
		_, err = s.AddTodo(ctx, Todo{UserID: "u", Content: "写周报", Time: at(2)})
		require.NoError(t, err)

		require.NoError(t, s.CompleteTodo(ctx, first.ID))
		todos, err := s.Todos(ctx, "u")
		require.NoError(t, err)
		require.Len(t, todos, 2)
		assert.Equal(t, StatusCompleted, todos[0].Status)
		assert.Equal(t, StatusPending, todos[1].Status)

		assert.ErrorIs(t, s.CompleteTodo(ctx, "missing"), ErrNotFound)
	})
}

func TestGrowthState(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		k := persona.Pair("滴滴喵", "名字")
		require.NoError(t, s.SaveRelationship(ctx, k, persona.Relationship{Level: 1, InteractCount: 1}))
		require.NoError(t, s.SaveRelationship(ctx, k, persona.Relationship{Level: 2, InteractCount: 5}))
		require.NoError(t, s.SaveGrowth(ctx, "滴滴喵", persona.Growth{InteractCount: 10, Unlocked: []persona.Unlock{{Type: "emotion", Value: "兴奋"}}}))

		rels, err := s.LoadRelationships(ctx)
		require.NoError(t, err)
		assert.Equal(t, persona.Relationship{Level: 2, InteractCount: 5}, rels[k])

		growth, err := s.LoadGrowth(ctx)
		require.NoError(t, err)
		assert.Equal(t, 10, growth["滴滴喵"].InteractCount)
		assert.Len(t, growth["滴滴喵"].Unlocked, 1)

		require.NoError(t, s.DeletePersonaState(ctx, "滴滴喵"))
		rels, err = s.LoadRelationships(ctx)
		require.NoError(t, err)
		assert.Empty(t, rels)
		growth, err = s.LoadGrowth(ctx)
		require.NoError(t, err)
		assert.NotContains(t, growth, "滴滴喵")
	})
}

func TestDumpRestore(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			src := open(t)
			require.NoError(t, src.AppendConversation(ctx, Entry{UserID: "u", Time: at(1), Persona: "名字", Content: "hi"}))
			require.NoError(t, src.IncrementPreference(ctx, "u", "名字"))
			require.NoError(t, src.SetActivePersona(ctx, "u", "名字"))
			require.NoError(t, src.AddSwitch(ctx, SwitchRecord{UserID: "u", Time: at(1), Persona: "名字", TriggerType: TriggerManual}))
			require.NoError(t, src.SetUserScene(ctx, "u", "group"))
			require.NoError(t, src.SaveSceneMemory(ctx, "general", "u", Memory{Preference: map[string]int{"名字": 1}}))
			_, err := src.AddReminder(ctx, Reminder{UserID: "u", Content: "r", TriggerAt: at(100), CreatedAt: at(0)})
			require.NoError(t, err)
			require.NoError(t, src.SaveGrowth(ctx, "名字", persona.Growth{InteractCount: 3}))

			snap, err := src.Dump(ctx)
			require.NoError(t, err)

			// restore into every backend, including a different one
			for dstName, openDst := range stores(t) {
				dst := openDst(t)
				require.NoError(t, dst.AppendConversation(ctx, Entry{UserID: "stale", Time: at(0), Content: "gone"}))
				require.NoError(t, dst.Restore(ctx, snap), dstName)

				conv, err := dst.RecentConversation(ctx, "u", 0)
				require.NoError(t, err)
				assert.Equal(t, []string{"hi"}, contents(conv), dstName)
				stale, err := dst.RecentConversation(ctx, "stale", 0)
				require.NoError(t, err)
				assert.Empty(t, stale, dstName)

				active, err := dst.ActivePersonas(ctx)
				require.NoError(t, err)
				assert.Equal(t, map[string]string{"u": "名字"}, active, dstName)

				stats, err := dst.SwitchStats(ctx, 0)
				require.NoError(t, err)
				assert.Equal(t, []PersonaStat{{"名字", 1}}, stats, dstName)

				scene, _, err := dst.UserScene(ctx, "u")
				require.NoError(t, err)
				assert.Equal(t, "group", scene, dstName)

				pending, err := dst.PendingReminders(ctx, "u")
				require.NoError(t, err)
				assert.Len(t, pending, 1, dstName)

				growth, err := dst.LoadGrowth(ctx)
				require.NoError(t, err)
				assert.Equal(t, 3, growth["名字"].InteractCount, dstName)
			}
		})
	}
}

func TestMemoryStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := NewMemory(path, 0, 1)
	require.NoError(t, err)
	require.NoError(t, s.SetActivePersona(ctx, "u", "滴滴喵"))
	require.NoError(t, s.Close())

	s, err = NewMemory(path, 0, 1)
	require.NoError(t, err)
	defer s.Close()
	active, err := s.ActivePersonas(ctx)
	require.NoError(t, err)
	assert.Equal(t, "滴滴喵", active["u"])
}

func TestMemoryStoreRestoreIsWrittenImmediately(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")
	s, err := NewMemory(path, 0, 1)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Restore(ctx, Snapshot{ActivePersonas: map[string]string{"u": "滴滴喵"}}))

	// no Close and no autosave: only the restore itself wrote the file
	other, err := NewMemory(path, 0, 1)
	require.NoError(t, err)
	defer other.Close()
	active, err := other.ActivePersonas(ctx)
	require.NoError(t, err)
	assert.Equal(t, "滴滴喵", active["u"])
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "mongo"})
	assert.Error(t, err)
}
