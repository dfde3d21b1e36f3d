// Package scene tracks which scene each user is in and keeps a separate
// conversation memory per scene.
package scene

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/internal/storage"
)

var ErrUnknownScene = errors.New("unknown scene")

type Scene struct {
	Name           string
	DefaultPersona string
	Isolated       bool
}

type Options struct {
	Names           []string
	Default         string
	DefaultPersonas map[string]string
	// Isolation gives each scene its own conversation and preferences.
	Isolation bool
	// SpecificConfig applies a persona's per-scene style overrides.
	SpecificConfig bool
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	opts     Options
	defaults map[string]string
	st       storage.Store
}

// New loads persisted scene defaults on top of the configured ones.
func New(ctx context.Context, opts Options, st storage.Store) (*Store, error) {
	if len(opts.Names) == 0 {
		opts.Names = []string{"general"}
	}
	if opts.Default == "" {
		opts.Default = opts.Names[0]
	}
	s := &Store{opts: opts, defaults: map[string]string{}, st: st}
	for k, v := range opts.DefaultPersonas {
		s.defaults[k] = v
	}
	saved, err := st.SceneDefaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scene defaults: %w", err)
	}
	for k, v := range saved {
		s.defaults[k] = v
	}
	return s, nil
}

func (s *Store) Names() []string {
	return append([]string(nil), s.opts.Names...)
}

func (s *Store) Has(name string) bool {
	for _, n := range s.opts.Names {
		if n == name {
			return true
		}
	}
	return false
}

// Get describes a known scene.
func (s *Store) Get(name string) (Scene, bool) {
	if !s.Has(name) {
		return Scene{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Scene{Name: name, DefaultPersona: s.defaults[name], Isolated: s.opts.Isolation}, true
}

// UnknownMessage is the reply for a switch to a scene that does not exist.
func (s *Store) UnknownMessage(name string) string {
	return fmt.Sprintf("场景「%s」不存在，支持的场景：[%s]", name, strings.Join(s.opts.Names, ", "))
}

// Current returns the user's scene, the default scene when never set.
func (s *Store) Current(ctx context.Context, userID string) (string, error) {
	scene, ok, err := s.st.UserScene(ctx, userID)
	if err != nil {
		return "", err
	}
	if !ok || !s.Has(scene) {
		return s.opts.Default, nil
	}
	return scene, nil
}

// Switch moves the user to target. With isolation the current scene's
// memory is saved first and the target's memory, or an empty one, becomes
// the user's conversation and preferences.
func (s *Store) Switch(ctx context.Context, userID, target string) (Scene, error) {
	sc, ok := s.Get(target)
	if !ok {
		return Scene{}, fmt.Errorf("%w: %s", ErrUnknownScene, target)
	}
	current, err := s.Current(ctx, userID)
	if err != nil {
		return Scene{}, err
	}

	if s.opts.Isolation {
		conv, err := s.st.RecentConversation(ctx, userID, 0)
		if err != nil {
			return Scene{}, fmt.Errorf("read conversation: %w", err)
		}
		prefs, err := s.st.Preferences(ctx, userID)
		if err != nil {
			return Scene{}, fmt.Errorf("read preferences: %w", err)
		}
		if err := s.st.SaveSceneMemory(ctx, current, userID, storage.Memory{Conversation: conv, Preference: prefs}); err != nil {
			return Scene{}, fmt.Errorf("save scene memory: %w", err)
		}
	}

	if err := s.st.SetUserScene(ctx, userID, target); err != nil {
		return Scene{}, fmt.Errorf("set scene: %w", err)
	}

	if s.opts.Isolation {
		mem, _, err := s.st.SceneMemory(ctx, target, userID)
		if err != nil {
			return Scene{}, fmt.Errorf("load scene memory: %w", err)
		}
		if err := s.st.ReplaceConversation(ctx, userID, mem.Conversation); err != nil {
			return Scene{}, fmt.Errorf("restore conversation: %w", err)
		}
		if err := s.st.ReplacePreferences(ctx, userID, mem.Preference); err != nil {
			return Scene{}, fmt.Errorf("restore preferences: %w", err)
		}
	}

	log.Info().Str("component", "scene").Str("user", userID).Str("from", current).Str("to", target).Msg("scene switched")
	return sc, nil
}

// DefaultPersona returns the persona a scene switches to, if any.
func (s *Store) DefaultPersona(scene string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.defaults[scene]
	return p, ok && p != ""
}

func (s *Store) SetDefaultPersona(ctx context.Context, scene, personaName string) error {
	if !s.Has(scene) {
		return fmt.Errorf("%w: %s", ErrUnknownScene, scene)
	}
	if err := s.st.SetSceneDefault(ctx, scene, personaName); err != nil {
		return err
	}
	s.mu.Lock()
	s.defaults[scene] = personaName
	s.mu.Unlock()
	return nil
}

// ClearPersona drops a persona from every scene default.
func (s *Store) ClearPersona(ctx context.Context, personaName string) error {
	s.mu.Lock()
	var scenes []string
	for scene, p := range s.defaults {
		if p == personaName {
			scenes = append(scenes, scene)
			delete(s.defaults, scene)
		}
	}
	s.mu.Unlock()
	for _, scene := range scenes {
		if err := s.st.SetSceneDefault(ctx, scene, ""); err != nil {
			return err
		}
	}
	return nil
}

// Style resolves the persona's styles inside scene.
func (s *Store) Style(p persona.Persona, scene string) persona.SceneStyle {
	style := persona.SceneStyle{
		ReplyStyle:       p.ReplyStyle,
		PlanStyle:        p.PlanStyle,
		PrivatePlanStyle: p.PrivatePlanStyle,
		VisualStyle:      p.VisualStyle,
	}
	if !s.opts.SpecificConfig {
		return style
	}
	o, ok := p.SceneConfig[scene]
	if !ok {
		return style
	}
	if o.ReplyStyle != "" {
		style.ReplyStyle = o.ReplyStyle
	}
	if o.PlanStyle != "" {
		style.PlanStyle = o.PlanStyle
	}
	if o.PrivatePlanStyle != "" {
		style.PrivatePlanStyle = o.PrivatePlanStyle
	}
	if o.VisualStyle != "" {
		style.VisualStyle = o.VisualStyle
	}
	style.SpeakFrequency = o.SpeakFrequency
	return style
}
