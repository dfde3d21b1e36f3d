// Package persona owns the persona set and the per-persona mood,
// relationship and growth state.
package persona

import (
	"errors"
	"fmt"
	"strings"
)

const (
	SourceBuiltin  = "builtin"
	SourceImported = "imported"

	DefaultMood = "平静"
)

var (
	ErrNotFound     = errors.New("persona not found")
	ErrBuiltin      = errors.New("built-in persona is protected")
	ErrMissingField = errors.New("persona is missing required fields")
	ErrFormat       = errors.New("unsupported persona format")
)

// SceneStyle overrides a persona's style inside one scene.
type SceneStyle struct {
	ReplyStyle       string `toml:"reply_style,omitempty" json:"reply_style,omitempty"`
	PlanStyle        string `toml:"plan_style,omitempty" json:"plan_style,omitempty"`
	PrivatePlanStyle string `toml:"private_plan_style,omitempty" json:"private_plan_style,omitempty"`
	SpeakFrequency   string `toml:"speak_frequency,omitempty" json:"speak_frequency,omitempty"`
	VisualStyle      string `toml:"visual_style,omitempty" json:"visual_style,omitempty"`
}

// Skill is an unlocked skill or advanced reply style.
type Skill struct {
	Command     string `toml:"command,omitempty" json:"command,omitempty"`
	Description string `toml:"description" json:"description"`
	Prompt      string `toml:"prompt" json:"prompt"`
}

// Unlock is one growth reward.
type Unlock struct {
	Type  string `toml:"type" json:"type"` // emotion, skill or reply_style
	Value string `toml:"value" json:"value"`
}

type Persona struct {
	Command              string                `toml:"command" json:"command"`
	TriggerNames         []string              `toml:"trigger_names" json:"trigger_names"`
	PersonalityDesc      string                `toml:"personality_desc" json:"personality_desc"`
	Description          string                `toml:"description,omitempty" json:"description,omitempty"`
	ReplyStyle           string                `toml:"reply_style" json:"reply_style"`
	PlanStyle            string                `toml:"plan_style,omitempty" json:"plan_style,omitempty"`
	PrivatePlanStyle     string                `toml:"private_plan_style,omitempty" json:"private_plan_style,omitempty"`
	VisualStyle          string                `toml:"visual_style,omitempty" json:"visual_style,omitempty"`
	DefaultMood          string                `toml:"default_mood" json:"default_mood"`
	MoodTriggers         map[string]string     `toml:"mood_triggers" json:"mood_triggers"` // keyword -> mood
	MoodReplyStyle       map[string]string     `toml:"mood_reply_style" json:"mood_reply_style"`
	SceneWhitelist       []string              `toml:"scene_whitelist" json:"scene_whitelist"`
	SceneConfig          map[string]SceneStyle `toml:"scene_config" json:"scene_config"`
	InteractionRelations map[string]string     `toml:"interaction_relations" json:"interaction_relations"`
	Watermark            string                `toml:"watermark" json:"watermark"`
	PreferenceTag        string                `toml:"preference_tag" json:"preference_tag"`
	ReplyWhenCalled      string                `toml:"reply_when_called" json:"reply_when_called"`
	ReplyWhenRandom      string                `toml:"reply_when_random" json:"reply_when_random"`
	Skills               map[string]Skill      `toml:"skills,omitempty" json:"skills,omitempty"`
	AdvancedReplyStyle   map[string]Skill      `toml:"advanced_reply_style,omitempty" json:"advanced_reply_style,omitempty"`
	Unlocked             []Unlock              `toml:"unlocked,omitempty" json:"unlocked,omitempty"`

	// Backend override for this persona, "provider/model" or "model".
	Model  string `toml:"model,omitempty" json:"model,omitempty"`
	APIKey string `toml:"api_key,omitempty" json:"api_key,omitempty"`
	Secret string `toml:"secret,omitempty" json:"secret,omitempty"`
	Token  string `toml:"token,omitempty" json:"token,omitempty"`

	Creator string `toml:"creator,omitempty" json:"creator,omitempty"`
	Source  string `toml:"source,omitempty" json:"source,omitempty"`
}

// Summary is the listing description, falling back to PersonalityDesc.
func (p Persona) Summary() string {
	if p.Description != "" {
		return p.Description
	}
	if p.PersonalityDesc != "" {
		return p.PersonalityDesc
	}
	return "无描述"
}

// Validate checks the required fields.
func (p Persona) Validate() error {
	var missing []string
	if strings.TrimSpace(p.Command) == "" {
		missing = append(missing, "command")
	}
	if len(p.TriggerNames) == 0 {
		missing = append(missing, "trigger_names")
	}
	if p.PersonalityDesc == "" {
		missing = append(missing, "personality_desc")
	}
	if p.ReplyStyle == "" {
		missing = append(missing, "reply_style")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, "/"))
	}
	return nil
}

// withDefaults fills optional fields the way imported personas expect.
func (p Persona) withDefaults() Persona {
	name := p.Command
	if p.DefaultMood == "" {
		p.DefaultMood = DefaultMood
	}
	if p.MoodTriggers == nil {
		p.MoodTriggers = map[string]string{}
	}
	if p.MoodReplyStyle == nil {
		p.MoodReplyStyle = map[string]string{}
	}
	if p.SceneWhitelist == nil {
		p.SceneWhitelist = []string{"general"}
	}
	if p.SceneConfig == nil {
		p.SceneConfig = map[string]SceneStyle{}
	}
	if p.InteractionRelations == nil {
		p.InteractionRelations = map[string]string{}
	}
	if p.Watermark == "" {
		p.Watermark = "[" + name + "]"
	}
	if p.PreferenceTag == "" {
		p.PreferenceTag = "自定义"
	}
	if p.ReplyWhenCalled == "" {
		p.ReplyWhenCalled = name + "在呢～"
	}
	if p.ReplyWhenRandom == "" {
		p.ReplyWhenRandom = name + "突然出现啦～"
	}
	return p
}

func (p Persona) clone() Persona {
	c := p
	c.TriggerNames = append([]string(nil), p.TriggerNames...)
	c.SceneWhitelist = append([]string(nil), p.SceneWhitelist...)
	c.Unlocked = append([]Unlock(nil), p.Unlocked...)
	c.MoodTriggers = cloneMap(p.MoodTriggers)
	c.MoodReplyStyle = cloneMap(p.MoodReplyStyle)
	c.InteractionRelations = cloneMap(p.InteractionRelations)
	c.SceneConfig = cloneMap(p.SceneConfig)
	c.Skills = cloneMap(p.Skills)
	c.AdvancedReplyStyle = cloneMap(p.AdvancedReplyStyle)
	return c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
