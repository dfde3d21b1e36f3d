package persona

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
)

var moodStyles = map[string]string{
	"兴奋": "语气极度活泼，多带🎉🔥颜文字，句子简短有力",
	"慵懒": "语气缓慢，带拖延感，少用颜文字",
	"傲娇": "表面冷淡，内心关心，带～～语气词",
	"温柔": "语气温柔细腻，多带😘颜文字，用共情表达",
	"坚定": "语气坚定有力，强调信念，少用修饰",
}

// UnlockRule grants Unlock once a persona's growth count reaches Count.
type UnlockRule struct {
	Count  int
	Unlock Unlock
}

type GrowthConfig struct {
	Enable     bool
	BaseCount  int
	LevelCount int
	MaxLevel   int
	Unlocks    []UnlockRule
}

func (c GrowthConfig) normalized() GrowthConfig {
	if c.BaseCount <= 0 {
		c.BaseCount = 5
	}
	if c.LevelCount < 0 {
		c.LevelCount = 0
	}
	if c.MaxLevel < 1 {
		c.MaxLevel = 1
	}
	c.Unlocks = append([]UnlockRule(nil), c.Unlocks...)
	sort.SliceStable(c.Unlocks, func(i, j int) bool { return c.Unlocks[i].Count < c.Unlocks[j].Count })
	return c
}

// PairKey identifies an unordered pair of distinct personas.
type PairKey struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Pair builds the normalized key for a and b.
func Pair(a, b string) PairKey {
	return PairKey{A: a, B: b}.normalized()
}

func (k PairKey) normalized() PairKey {
	if k.B < k.A {
		k.A, k.B = k.B, k.A
	}
	return k
}

type Relationship struct {
	Level         int `json:"level"`
	InteractCount int `json:"interact_count"`
}

type Growth struct {
	InteractCount int      `json:"interact_count"`
	Unlocked      []Unlock `json:"unlocked"`
}

// GrowthStore persists relationship and growth counters.
type GrowthStore interface {
	SaveRelationship(ctx context.Context, key PairKey, rel Relationship) error
	SaveGrowth(ctx context.Context, name string, g Growth) error
	DeletePersonaState(ctx context.Context, name string) error
	LoadRelationships(ctx context.Context) (map[PairKey]Relationship, error)
	LoadGrowth(ctx context.Context) (map[string]Growth, error)
}

// SwitchOutcome reports what RecordSwitch changed.
type SwitchOutcome struct {
	Relationship *Relationship
	LevelUp      bool
	Growth       Growth
	Unlocked     []Unlock
}

// RecordSwitch counts a switch from old to next: the (old, next) relationship
// gains one interaction and next gains one growth interaction, possibly
// levelling the relationship or granting unlocks. old may be empty or equal
// to next, in which case no relationship is touched.
func (r *Registry) RecordSwitch(ctx context.Context, old, next string) (SwitchOutcome, error) {
	var out SwitchOutcome
	if !r.cfg.Enable {
		return out, nil
	}

	r.mu.Lock()
	if _, ok := r.personas[next]; !ok {
		r.mu.Unlock()
		return out, fmt.Errorf("%w: %s", ErrNotFound, next)
	}

	var key PairKey
	var relCopy Relationship
	_, oldKnown := r.personas[old]
	if oldKnown && old != next {
		key = Pair(old, next)
		rel, ok := r.relationships[key]
		if !ok {
			rel = &Relationship{Level: 1}
			r.relationships[key] = rel
		}
		rel.InteractCount++
		if rel.Level < r.cfg.MaxLevel {
			required := r.cfg.BaseCount + (rel.Level-1)*r.cfg.LevelCount
			if rel.InteractCount >= required {
				rel.Level++
				out.LevelUp = true
				log.Info().Str("component", "persona").Str("a", key.A).Str("b", key.B).
					Int("level", rel.Level).Msg("relationship level up")
			}
		}
		relCopy = *rel
		out.Relationship = &relCopy
	}

	g, ok := r.growth[next]
	if !ok {
		g = &Growth{}
		r.growth[next] = g
	}
	g.InteractCount++
	for _, rule := range r.cfg.Unlocks {
		if g.InteractCount >= rule.Count && r.applyUnlockLocked(next, rule.Unlock) {
			out.Unlocked = append(out.Unlocked, rule.Unlock)
		}
	}
	out.Growth = Growth{InteractCount: g.InteractCount, Unlocked: append([]Unlock(nil), g.Unlocked...)}
	r.mu.Unlock()

	if r.store == nil {
		return out, nil
	}
	if out.Relationship != nil {
		if err := r.store.SaveRelationship(ctx, key, relCopy); err != nil {
			return out, fmt.Errorf("save relationship: %w", err)
		}
	}
	if err := r.store.SaveGrowth(ctx, next, out.Growth); err != nil {
		return out, fmt.Errorf("save growth: %w", err)
	}
	return out, nil
}

// ApplyUnlock grants u to persona name. It only ever adds content and is a
// no-op when u was already granted. It reports whether anything changed.
func (r *Registry) ApplyUnlock(ctx context.Context, name string, u Unlock) (bool, error) {
	r.mu.Lock()
	if _, ok := r.personas[name]; !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	applied := r.applyUnlockLocked(name, u)
	var g Growth
	if gp := r.growth[name]; gp != nil {
		g = Growth{InteractCount: gp.InteractCount, Unlocked: append([]Unlock(nil), gp.Unlocked...)}
	}
	r.mu.Unlock()

	if applied && r.store != nil {
		if err := r.store.SaveGrowth(ctx, name, g); err != nil {
			return applied, fmt.Errorf("save growth: %w", err)
		}
	}
	return applied, nil
}

func (r *Registry) applyUnlockLocked(name string, u Unlock) bool {
	g, ok := r.growth[name]
	if !ok {
		g = &Growth{}
		r.growth[name] = g
	}
	for _, have := range g.Unlocked {
		if have == u {
			return false
		}
	}
	g.Unlocked = append(g.Unlocked, u)
	if p, ok := r.personas[name]; ok {
		applyTables(p, u)
	}
	log.Info().Str("component", "persona").Str("persona", name).
		Str("type", u.Type).Str("value", u.Value).Msg("persona unlocked")
	return true
}

// applyTables adds the unlock's content to the persona without replacing
// anything already present.
func applyTables(p *Persona, u Unlock) {
	switch u.Type {
	case "emotion":
		if p.MoodTriggers == nil {
			p.MoodTriggers = map[string]string{}
		}
		if _, ok := p.MoodTriggers["解锁情绪"+u.Value]; !ok {
			p.MoodTriggers["解锁情绪"+u.Value] = u.Value
		}
		if p.MoodReplyStyle == nil {
			p.MoodReplyStyle = map[string]string{}
		}
		if _, ok := p.MoodReplyStyle[u.Value]; !ok {
			style, known := moodStyles[u.Value]
			if !known {
				style = "默认风格"
			}
			p.MoodReplyStyle[u.Value] = style
		}
	case "skill":
		if p.Skills == nil {
			p.Skills = map[string]Skill{}
		}
		if _, ok := p.Skills[u.Value]; !ok {
			p.Skills[u.Value] = Skill{
				Command:     "/" + u.Value,
				Description: "解锁的专属技能：" + u.Value,
				Prompt:      fmt.Sprintf("以%s的人设，使用%s技能回复，贴合人格核心特质，不超过2句话", p.Command, u.Value),
			}
		}
	case "reply_style":
		if p.AdvancedReplyStyle == nil {
			p.AdvancedReplyStyle = map[string]Skill{}
		}
		if _, ok := p.AdvancedReplyStyle[u.Value]; !ok {
			p.AdvancedReplyStyle[u.Value] = Skill{
				Description: "高级回复风格：" + u.Value,
				Prompt:      fmt.Sprintf("以%s风格回复，融合%s的核心人设（%s）", u.Value, p.Command, p.PersonalityDesc),
			}
		}
	}
}

// Relationship returns the counters for the pair, level 1 when untouched.
func (r *Registry) Relationship(a, b string) Relationship {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rel, ok := r.relationships[Pair(a, b)]; ok {
		return *rel
	}
	return Relationship{Level: 1}
}

func (r *Registry) Growth(name string) Growth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.growth[name]
	if !ok {
		return Growth{}
	}
	return Growth{InteractCount: g.InteractCount, Unlocked: append([]Unlock(nil), g.Unlocked...)}
}

// RelationshipEntry is a serializable relationship row.
type RelationshipEntry struct {
	Key          PairKey      `json:"key"`
	Relationship Relationship `json:"relationship"`
}
