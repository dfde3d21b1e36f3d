// Package backup writes and restores JSON snapshots of the bot state.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/internal/storage"
)

const (
	filePrefix = "backup_"
	fileSuffix = ".json"
)

var ErrNoBackup = errors.New("no backup found")

// Snapshot is the on-disk backup document.
type Snapshot struct {
	Time     time.Time         `json:"time"`
	Personas []persona.Persona `json:"personas"`
	Moods    map[string]string `json:"moods"`
	Storage  storage.Snapshot  `json:"storage"`
}

// Reloader refreshes in-memory state after a restore.
type Reloader interface {
	Reload(ctx context.Context) error
}

type Options struct {
	Dir           string
	RetentionDays int
	Now           func() time.Time
}

type Manager struct {
	dir       string
	retention time.Duration
	registry  *persona.Registry
	store     storage.Store
	reloaders []Reloader
	now       func() time.Time
}

func New(opts Options, reg *persona.Registry, st storage.Store) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Dir == "" {
		opts.Dir = "backups"
	}
	return &Manager{
		dir:       opts.Dir,
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		registry:  reg,
		store:     st,
		now:       opts.Now,
	}
}

// OnRestore registers components reloaded after RestoreLatest.
func (m *Manager) OnRestore(r ...Reloader) {
	m.reloaders = append(m.reloaders, r...)
}

// Backup writes a snapshot and prunes expired ones. It returns the path of
// the new file.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	dump, err := m.store.Dump(ctx)
	if err != nil {
		return "", fmt.Errorf("dump storage: %w", err)
	}
	now := m.now()
	snap := Snapshot{
		Time:     now,
		Personas: m.registry.Custom(),
		Moods:    m.registry.Moods(),
		Storage:  dump,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode backup: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := filepath.Join(m.dir, fmt.Sprintf("%s%d%s", filePrefix, now.Unix(), fileSuffix))
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	log.Info().Str("component", "backup").Str("path", path).
		Int("personas", len(snap.Personas)).Msg("backup written")

	if n, err := m.Prune(); err != nil {
		log.Warn().Str("component", "backup").Err(err).Msg("prune failed")
	} else if n > 0 {
		log.Info().Str("component", "backup").Int("removed", n).Msg("expired backups removed")
	}
	return path, nil
}

// Prune removes backups older than the retention window. A zero window
// keeps everything.
func (m *Manager) Prune() (int, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	files, err := m.files()
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.retention)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f.path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f.path); err != nil {
				return removed, fmt.Errorf("remove %s: %w", f.path, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Latest returns the path of the newest backup.
func (m *Manager) Latest() (string, error) {
	files, err := m.files()
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNoBackup
	}
	return files[len(files)-1].path, nil
}

// Load reads a snapshot file.
func Load(path string) (Snapshot, error) {
	var snap Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, fmt.Errorf("read backup: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode backup %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

// RestoreLatest loads the newest backup into the store and the registry.
func (m *Manager) RestoreLatest(ctx context.Context) (string, error) {
	path, err := m.Latest()
	if err != nil {
		return "", err
	}
	snap, err := Load(path)
	if err != nil {
		return "", err
	}
	if err := m.Restore(ctx, snap); err != nil {
		return "", err
	}
	log.Info().Str("component", "backup").Str("path", path).Msg("backup restored")
	return path, nil
}

func (m *Manager) Restore(ctx context.Context, snap Snapshot) error {
	if err := m.store.Restore(ctx, snap.Storage); err != nil {
		return fmt.Errorf("restore storage: %w", err)
	}
	for _, p := range snap.Personas {
		if err := m.registry.Add(p, true); err != nil {
			log.Warn().Str("component", "backup").Str("persona", p.Command).Err(err).
				Msg("skipping persona from backup")
		}
	}
	if err := m.registry.Load(ctx); err != nil {
		return err
	}
	m.registry.RestoreMoods(snap.Moods)
	for _, r := range m.reloaders {
		if err := r.Reload(ctx); err != nil {
			return fmt.Errorf("reload after restore: %w", err)
		}
	}
	return nil
}

type backupFile struct {
	path string
	ts   int64
}

// files lists backups oldest first by the timestamp in their name.
func (m *Manager) files() ([]backupFile, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var out []backupFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, backupFile{path: filepath.Join(m.dir, name), ts: ts})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts < out[j].ts })
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
