package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/internal/storage"
)

type fixture struct {
	reg   *persona.Registry
	store storage.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st, err := storage.NewMemory(filepath.Join(t.TempDir(), "data.json"), 0, 1)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return fixture{reg: persona.NewRegistry(persona.GrowthConfig{Enable: true}, st), store: st}
}

func custom() persona.Persona {
	return persona.Persona{
		Command:         "猫娘",
		TriggerNames:    []string{"猫娘"},
		PersonalityDesc: "黏人的猫娘",
		ReplyStyle:      "句尾带喵",
	}
}

type reloadCounter struct{ n int }

func (r *reloadCounter) Reload(context.Context) error {
	r.n++
	return nil
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newFixture(t)
	require.NoError(t, src.reg.Add(custom(), true))
	require.NoError(t, src.reg.SetMood("猫娘", "开心"))
	_, err := src.reg.RecordSwitch(ctx, persona.DefaultName, "猫娘")
	require.NoError(t, err)
	require.NoError(t, src.store.IncrementPreference(ctx, "u1", "猫娘"))
	require.NoError(t, src.store.SetActivePersona(ctx, "u1", "猫娘"))

	dir := t.TempDir()
	now := time.Unix(1_700_000_000, 0)
	m := New(Options{Dir: dir, Now: func() time.Time { return now }}, src.reg, src.store)
	path, err := m.Backup(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backup_1700000000.json"), path)

	dst := newFixture(t)
	restorer := New(Options{Dir: dir}, dst.reg, dst.store)
	rc := &reloadCounter{}
	restorer.OnRestore(rc)
	got, err := restorer.RestoreLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, 1, rc.n)

	assert.True(t, dst.reg.Has("猫娘"))
	assert.False(t, dst.reg.IsBuiltin("猫娘"))
	assert.Equal(t, "开心", dst.reg.Mood("猫娘"))
	assert.Equal(t, 1, dst.reg.Growth("猫娘").InteractCount)
	assert.Equal(t, 1, dst.reg.Relationship(persona.DefaultName, "猫娘").InteractCount)

	prefs, err := dst.store.Preferences(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, prefs["猫娘"])
	active, err := dst.store.ActivePersonas(ctx)
	require.NoError(t, err)
	assert.Equal(t, "猫娘", active["u1"])
}

func TestLatestPicksNewestTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dir := t.TempDir()
	now := time.Unix(100, 0)
	m := New(Options{Dir: dir, Now: func() time.Time { return now }}, f.reg, f.store)

	_, err := m.Backup(ctx)
	require.NoError(t, err)
	now = time.Unix(1000, 0)
	newest, err := m.Backup(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backup_notanumber.json"), []byte("{}"), 0o644))

	got, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, newest, got)
}

func TestRestoreWithoutBackups(t *testing.T) {
	f := newFixture(t)
	m := New(Options{Dir: filepath.Join(t.TempDir(), "missing")}, f.reg, f.store)
	_, err := m.RestoreLatest(context.Background())
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestPruneRemovesExpired(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	now := time.Now()
	m := New(Options{Dir: dir, RetentionDays: 7, Now: func() time.Time { return now }}, f.reg, f.store)

	old := filepath.Join(dir, "backup_1.json")
	fresh := filepath.Join(dir, "backup_2.json")
	require.NoError(t, os.WriteFile(old, []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("{}"), 0o644))
	require.NoError(t, os.Chtimes(old, now.AddDate(0, 0, -8), now.AddDate(0, 0, -8)))

	n, err := m.Prune()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup_5.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
