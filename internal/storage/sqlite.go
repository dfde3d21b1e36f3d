package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/keshon/persona-bot/internal/persona"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	time INTEGER NOT NULL,
	persona TEXT NOT NULL,
	content TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversation_user ON conversation(user_id, id);

CREATE TABLE IF NOT EXISTS preferences (
	user_id TEXT NOT NULL,
	persona TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, persona)
);

CREATE TABLE IF NOT EXISTS active_persona (
	user_id TEXT PRIMARY KEY,
	persona TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS switch_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	time INTEGER NOT NULL,
	persona TEXT NOT NULL,
	trigger_type TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS operation_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	time INTEGER NOT NULL,
	result TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_scene (
	user_id TEXT PRIMARY KEY,
	scene TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scene_defaults (
	scene TEXT PRIMARY KEY,
	persona TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS scene_memory (
	scene TEXT NOT NULL,
	user_id TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (scene, user_id)
);

CREATE TABLE IF NOT EXISTS reminders (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	trigger_at INTEGER NOT NULL,
	display TEXT NOT NULL,
	persona TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reminders_pending ON reminders(status, trigger_at);

CREATE TABLE IF NOT EXISTS todos (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	time INTEGER NOT NULL,
	status TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS relationships (
	a TEXT NOT NULL,
	b TEXT NOT NULL,
	level INTEGER NOT NULL,
	interact_count INTEGER NOT NULL,
	PRIMARY KEY (a, b)
);

CREATE TABLE IF NOT EXISTS growth (
	persona TEXT PRIMARY KEY,
	interact_count INTEGER NOT NULL,
	unlocked TEXT NOT NULL
);
`

var tables = []string{
	"conversation", "preferences", "active_persona", "switch_records", "operation_log",
	"user_scene", "scene_defaults", "scene_memory", "reminders", "todos", "relationships", "growth",
}

// SQLite implements Store on a single database file.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path in WAL mode.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n) }

// --- conversation ---

func (s *SQLite) AppendConversation(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO conversation (user_id, time, persona, content) VALUES (?,?,?,?)`,
		e.UserID, nanos(e.Time), e.Persona, e.Content)
	return err
}

func (s *SQLite) RecentConversation(ctx context.Context, userID string, limit int) ([]Entry, error) {
	q := `SELECT user_id, time, persona, content FROM conversation WHERE user_id = ? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var t int64
		if err := rows.Scan(&e.UserID, &t, &e.Persona, &e.Content); err != nil {
			return nil, err
		}
		e.Time = fromNanos(t)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLite) ReplaceConversation(ctx context.Context, userID string, entries []Entry) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversation WHERE user_id = ?`, userID); err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `INSERT INTO conversation (user_id, time, persona, content) VALUES (?,?,?,?)`,
				userID, nanos(e.Time), e.Persona, e.Content); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) PruneConversations(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversation WHERE time < ?`, nanos(before))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- preferences and active persona ---

func (s *SQLite) IncrementPreference(ctx context.Context, userID, personaName string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO preferences (user_id, persona, count) VALUES (?,?,1)
		ON CONFLICT(user_id, persona) DO UPDATE SET count = count + 1`, userID, personaName)
	return err
}

func (s *SQLite) Preferences(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT persona, count FROM preferences WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var p string
		var c int
		if err := rows.Scan(&p, &c); err != nil {
			return nil, err
		}
		out[p] = c
	}
	return out, rows.Err()
}

func (s *SQLite) ReplacePreferences(ctx context.Context, userID string, prefs map[string]int) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE user_id = ?`, userID); err != nil {
			return err
		}
		for p, c := range prefs {
			if _, err := tx.ExecContext(ctx, `INSERT INTO preferences (user_id, persona, count) VALUES (?,?,?)`, userID, p, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) SetActivePersona(ctx context.Context, userID, personaName string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO active_persona (user_id, persona) VALUES (?,?)
		ON CONFLICT(user_id) DO UPDATE SET persona = excluded.persona`, userID, personaName)
	return err
}

func (s *SQLite) ActivePersonas(ctx context.Context) (map[string]string, error) {
	return s.stringMap(ctx, `SELECT user_id, persona FROM active_persona`)
}

// --- switches and operations ---

func (s *SQLite) AddSwitch(ctx context.Context, r SwitchRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO switch_records (user_id, time, persona, trigger_type) VALUES (?,?,?,?)`,
		r.UserID, nanos(r.Time), r.Persona, r.TriggerType)
	return err
}

func (s *SQLite) SwitchStats(ctx context.Context, limit int) ([]PersonaStat, error) {
	q := `SELECT persona, COUNT(*) AS c FROM switch_records GROUP BY persona ORDER BY c DESC, persona ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PersonaStat
	for rows.Next() {
		var st PersonaStat
		if err := rows.Scan(&st.Persona, &st.Count); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLite) LogOperation(ctx context.Context, op Operation) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO operation_log (user_id, operation, time, result) VALUES (?,?,?,?)`,
		op.UserID, op.Operation, nanos(op.Time), op.Result)
	return err
}

func (s *SQLite) Operations(ctx context.Context, userID string, limit int) ([]Operation, error) {
	q := `SELECT user_id, operation, time, result FROM operation_log WHERE user_id = ? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Operation
	for rows.Next() {
		var op Operation
		var t int64
		if err := rows.Scan(&op.UserID, &op.Operation, &t, &op.Result); err != nil {
			return nil, err
		}
		op.Time = fromNanos(t)
		out = append(out, op)
	}
	return out, rows.Err()
}

// --- scenes ---

func (s *SQLite) UserScene(ctx context.Context, userID string) (string, bool, error) {
	var scene string
	err := s.db.QueryRowContext(ctx, `SELECT scene FROM user_scene WHERE user_id = ?`, userID).Scan(&scene)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return scene, true, nil
}

func (s *SQLite) SetUserScene(ctx context.Context, userID, scene string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_scene (user_id, scene) VALUES (?,?)
		ON CONFLICT(user_id) DO UPDATE SET scene = excluded.scene`, userID, scene)
	return err
}

func (s *SQLite) SceneDefaults(ctx context.Context) (map[string]string, error) {
	return s.stringMap(ctx, `SELECT scene, persona FROM scene_defaults`)
}

func (s *SQLite) SetSceneDefault(ctx context.Context, scene, personaName string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO scene_defaults (scene, persona) VALUES (?,?)
		ON CONFLICT(scene) DO UPDATE SET persona = excluded.persona`, scene, personaName)
	return err
}

func (s *SQLite) SceneMemory(ctx context.Context, scene, userID string) (Memory, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM scene_memory WHERE scene = ? AND user_id = ?`, scene, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Memory{}, false, nil
	}
	if err != nil {
		return Memory{}, false, err
	}
	var m Memory
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return Memory{}, false, fmt.Errorf("decode scene memory: %w", err)
	}
	return m, true, nil
}

func (s *SQLite) SaveSceneMemory(ctx context.Context, scene, userID string, m Memory) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO scene_memory (scene, user_id, data) VALUES (?,?,?)
		ON CONFLICT(scene, user_id) DO UPDATE SET data = excluded.data`, scene, userID, string(data))
	return err
}

// --- reminders ---

const reminderCols = `id, user_id, content, trigger_at, display, persona, status, created_at`

func (s *SQLite) AddReminder(ctx context.Context, r Reminder) (Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO reminders (`+reminderCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		r.ID, r.UserID, r.Content, nanos(r.TriggerAt), r.Display, r.Persona, r.Status, nanos(r.CreatedAt))
	if err != nil {
		return Reminder{}, err
	}
	return r, nil
}

func (s *SQLite) Reminder(ctx context.Context, id string) (Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderCols+` FROM reminders WHERE id = ?`, id)
	if err != nil {
		return Reminder{}, err
	}
	rs, err := scanReminders(rows)
	if err != nil {
		return Reminder{}, err
	}
	if len(rs) == 0 {
		return Reminder{}, fmt.Errorf("%w: reminder %s", ErrNotFound, id)
	}
	return rs[0], nil
}

func (s *SQLite) PendingReminders(ctx context.Context, userID string) ([]Reminder, error) {
	q := `SELECT ` + reminderCols + ` FROM reminders WHERE status = ?`
	args := []any{StatusPending}
	if userID != "" {
		q += ` AND user_id = ?`
		args = append(args, userID)
	}
	q += ` ORDER BY trigger_at ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanReminders(rows)
}

func (s *SQLite) CompleteReminder(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET status = ? WHERE id = ? AND status = ?`,
		StatusCompleted, id, StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *SQLite) PruneReminders(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE status = ? AND trigger_at < ?`,
		StatusCompleted, nanos(before))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		var r Reminder
		var at, created int64
		if err := rows.Scan(&r.ID, &r.UserID, &r.Content, &at, &r.Display, &r.Persona, &r.Status, &created); err != nil {
			return nil, err
		}
		r.TriggerAt, r.CreatedAt = fromNanos(at), fromNanos(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- todos ---

func (s *SQLite) AddTodo(ctx context.Context, t Todo) (Todo, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO todos (id, user_id, content, time, status) VALUES (?,?,?,?,?)`,
		t.ID, t.UserID, t.Content, nanos(t.Time), t.Status)
	if err != nil {
		return Todo{}, err
	}
	return t, nil
}

func (s *SQLite) Todos(ctx context.Context, userID string) ([]Todo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, content, time, status FROM todos WHERE user_id = ? ORDER BY time ASC, rowid ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Todo
	for rows.Next() {
		var t Todo
		var at int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Content, &at, &t.Status); err != nil {
			return nil, err
		}
		t.Time = fromNanos(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) CompleteTodo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE todos SET status = ? WHERE id = ?`, StatusCompleted, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: todo %s", ErrNotFound, id)
	}
	return nil
}

// --- growth ---

func (s *SQLite) SaveRelationship(ctx context.Context, key persona.PairKey, rel persona.Relationship) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO relationships (a, b, level, interact_count) VALUES (?,?,?,?)
		ON CONFLICT(a, b) DO UPDATE SET level = excluded.level, interact_count = excluded.interact_count`,
		key.A, key.B, rel.Level, rel.InteractCount)
	return err
}

func (s *SQLite) SaveGrowth(ctx context.Context, name string, g persona.Growth) error {
	unlocked, err := json.Marshal(g.Unlocked)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO growth (persona, interact_count, unlocked) VALUES (?,?,?)
		ON CONFLICT(persona) DO UPDATE SET interact_count = excluded.interact_count, unlocked = excluded.unlocked`,
		name, g.InteractCount, string(unlocked))
	return err
}

func (s *SQLite) DeletePersonaState(ctx context.Context, name string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM growth WHERE persona = ?`, name); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE a = ? OR b = ?`, name, name)
		return err
	})
}

func (s *SQLite) LoadRelationships(ctx context.Context) (map[persona.PairKey]persona.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT a, b, level, interact_count FROM relationships`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[persona.PairKey]persona.Relationship{}
	for rows.Next() {
		var k persona.PairKey
		var rel persona.Relationship
		if err := rows.Scan(&k.A, &k.B, &rel.Level, &rel.InteractCount); err != nil {
			return nil, err
		}
		out[k] = rel
	}
	return out, rows.Err()
}

func (s *SQLite) LoadGrowth(ctx context.Context) (map[string]persona.Growth, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT persona, interact_count, unlocked FROM growth`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]persona.Growth{}
	for rows.Next() {
		var name, unlocked string
		var g persona.Growth
		if err := rows.Scan(&name, &g.InteractCount, &unlocked); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(unlocked), &g.Unlocked); err != nil {
			return nil, fmt.Errorf("decode unlocks for %s: %w", name, err)
		}
		out[name] = g
	}
	return out, rows.Err()
}

// --- dump / restore ---

func (s *SQLite) Dump(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Preferences: map[string]map[string]int{},
		SceneMemory: map[string]map[string]Memory{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id, time, persona, content FROM conversation ORDER BY id ASC`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var e Entry
		var t int64
		if err := rows.Scan(&e.UserID, &t, &e.Persona, &e.Content); err != nil {
			rows.Close()
			return snap, err
		}
		e.Time = fromNanos(t)
		snap.Conversations = append(snap.Conversations, e)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT user_id, persona, count FROM preferences`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var u, p string
		var c int
		if err := rows.Scan(&u, &p, &c); err != nil {
			rows.Close()
			return snap, err
		}
		if snap.Preferences[u] == nil {
			snap.Preferences[u] = map[string]int{}
		}
		snap.Preferences[u][p] = c
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT user_id, time, persona, trigger_type FROM switch_records ORDER BY id ASC`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var r SwitchRecord
		var t int64
		if err := rows.Scan(&r.UserID, &t, &r.Persona, &r.TriggerType); err != nil {
			rows.Close()
			return snap, err
		}
		r.Time = fromNanos(t)
		snap.Switches = append(snap.Switches, r)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT scene, user_id, data FROM scene_memory`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var scene, u, data string
		if err := rows.Scan(&scene, &u, &data); err != nil {
			rows.Close()
			return snap, err
		}
		var m Memory
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			rows.Close()
			return snap, err
		}
		if snap.SceneMemory[scene] == nil {
			snap.SceneMemory[scene] = map[string]Memory{}
		}
		snap.SceneMemory[scene][u] = m
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT `+reminderCols+` FROM reminders ORDER BY trigger_at ASC, id ASC`)
	if err != nil {
		return snap, err
	}
	if snap.Reminders, err = scanReminders(rows); err != nil {
		return snap, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT id, user_id, content, time, status FROM todos ORDER BY time ASC, rowid ASC`)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var t Todo
		var at int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Content, &at, &t.Status); err != nil {
			rows.Close()
			return snap, err
		}
		t.Time = fromNanos(at)
		snap.Todos = append(snap.Todos, t)
	}
	rows.Close()

	if snap.ActivePersonas, err = s.ActivePersonas(ctx); err != nil {
		return snap, err
	}
	if snap.UserScenes, err = s.stringMap(ctx, `SELECT user_id, scene FROM user_scene`); err != nil {
		return snap, err
	}
	if snap.SceneDefaults, err = s.SceneDefaults(ctx); err != nil {
		return snap, err
	}
	rels, err := s.LoadRelationships(ctx)
	if err != nil {
		return snap, err
	}
	snap.Relationships = relationshipEntries(rels)
	if snap.Growth, err = s.LoadGrowth(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *SQLite) Restore(ctx context.Context, snap Snapshot) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+t); err != nil {
				return err
			}
		}
		exec := func(q string, args ...any) error {
			_, err := tx.ExecContext(ctx, q, args...)
			return err
		}
		for _, e := range snap.Conversations {
			if err := exec(`INSERT INTO conversation (user_id, time, persona, content) VALUES (?,?,?,?)`,
				e.UserID, nanos(e.Time), e.Persona, e.Content); err != nil {
				return err
			}
		}
		for u, prefs := range snap.Preferences {
			for p, c := range prefs {
				if err := exec(`INSERT INTO preferences (user_id, persona, count) VALUES (?,?,?)`, u, p, c); err != nil {
					return err
				}
			}
		}
		for u, p := range snap.ActivePersonas {
			if err := exec(`INSERT INTO active_persona (user_id, persona) VALUES (?,?)`, u, p); err != nil {
				return err
			}
		}
		for _, r := range snap.Switches {
			if err := exec(`INSERT INTO switch_records (user_id, time, persona, trigger_type) VALUES (?,?,?,?)`,
				r.UserID, nanos(r.Time), r.Persona, r.TriggerType); err != nil {
				return err
			}
		}
		for u, scene := range snap.UserScenes {
			if err := exec(`INSERT INTO user_scene (user_id, scene) VALUES (?,?)`, u, scene); err != nil {
				return err
			}
		}
		for scene, p := range snap.SceneDefaults {
			if err := exec(`INSERT INTO scene_defaults (scene, persona) VALUES (?,?)`, scene, p); err != nil {
				return err
			}
		}
		for scene, users := range snap.SceneMemory {
			for u, m := range users {
				data, err := json.Marshal(m)
				if err != nil {
					return err
				}
				if err := exec(`INSERT INTO scene_memory (scene, user_id, data) VALUES (?,?,?)`, scene, u, string(data)); err != nil {
					return err
				}
			}
		}
		for _, r := range snap.Reminders {
			if err := exec(`INSERT INTO reminders (`+reminderCols+`) VALUES (?,?,?,?,?,?,?,?)`,
				r.ID, r.UserID, r.Content, nanos(r.TriggerAt), r.Display, r.Persona, r.Status, nanos(r.CreatedAt)); err != nil {
				return err
			}
		}
		for _, t := range snap.Todos {
			if err := exec(`INSERT INTO todos (id, user_id, content, time, status) VALUES (?,?,?,?,?)`,
				t.ID, t.UserID, t.Content, nanos(t.Time), t.Status); err != nil {
				return err
			}
		}
		for _, e := range snap.Relationships {
			k := persona.Pair(e.Key.A, e.Key.B)
			if err := exec(`INSERT INTO relationships (a, b, level, interact_count) VALUES (?,?,?,?)`,
				k.A, k.B, e.Relationship.Level, e.Relationship.InteractCount); err != nil {
				return err
			}
		}
		for name, g := range snap.Growth {
			unlocked, err := json.Marshal(g.Unlocked)
			if err != nil {
				return err
			}
			if err := exec(`INSERT INTO growth (persona, interact_count, unlocked) VALUES (?,?,?)`,
				name, g.InteractCount, string(unlocked)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLite) stringMap(ctx context.Context, q string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
