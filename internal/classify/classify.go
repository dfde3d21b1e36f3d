// Package classify tags a user message with an intent and an
// (emotion, intensity) pair using ordered keyword tables.
package classify

import "strings"

const (
	DefaultIntent    = "general"
	DefaultEmotion   = "neutral"
	DefaultIntensity = "weak"
)

// Rule maps a label to the keywords that select it.
type Rule struct {
	Label    string
	Keywords []string
}

// EmotionRule is one (emotion, intensity) row.
type EmotionRule struct {
	Emotion   string
	Intensity string
	Keywords  []string
}

type Result struct {
	Intent    string
	Emotion   string
	Intensity string
}

// Classifier evaluates rules in order; the first match wins.
type Classifier struct {
	Intents  []Rule
	Emotions []EmotionRule
}

func New(intents []Rule, emotions []EmotionRule) *Classifier {
	return &Classifier{Intents: intents, Emotions: emotions}
}

// Default returns a classifier over the built-in tables.
func Default() *Classifier {
	return New(DefaultIntents(), DefaultEmotions())
}

func (c *Classifier) Classify(text string) Result {
	emotion, intensity := c.Emotion(text)
	return Result{Intent: c.Intent(text), Emotion: emotion, Intensity: intensity}
}

func (c *Classifier) Intent(text string) string {
	for _, r := range c.Intents {
		if containsAny(text, r.Keywords) {
			return r.Label
		}
	}
	return DefaultIntent
}

func (c *Classifier) Emotion(text string) (string, string) {
	for _, r := range c.Emotions {
		if containsAny(text, r.Keywords) {
			return r.Emotion, r.Intensity
		}
	}
	return DefaultEmotion, DefaultIntensity
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func DefaultIntents() []Rule {
	return []Rule{
		{Label: "comfort", Keywords: []string{"好累", "难过", "崩溃", "不开心", "伤心"}},
		{Label: "question", Keywords: []string{"什么", "怎么", "如何", "为什么", "请教"}},
		{Label: "share", Keywords: []string{"分享", "今天", "我", "遇到", "发现"}},
		{Label: "complain", Keywords: []string{"吐槽", "烦", "讨厌", "垃圾", "生气"}},
		{Label: "praise", Keywords: []string{"好棒", "厉害", "优秀", "好看", "好听"}},
	}
}

// DefaultEmotions is ordered emotion-major, weak to strong, so the weakest
// matching row of the first matching emotion wins.
func DefaultEmotions() []EmotionRule {
	return []EmotionRule{
		{"happy", "weak", []string{"开心", "高兴", "不错", "挺好"}},
		{"happy", "medium", []string{"超开心", "超棒", "太好", "惊喜"}},
		{"happy", "strong", []string{"狂喜", "激动", "疯了", "幸福"}},
		{"sad", "weak", []string{"难过", "失落", "不开心", "遗憾"}},
		{"sad", "medium", []string{"很伤心", "崩溃", "想哭", "委屈"}},
		{"sad", "strong", []string{"绝望", "心碎", "生无可恋", "痛苦"}},
		{"angry", "weak", []string{"生气", "烦躁", "讨厌", "不满"}},
		{"angry", "medium", []string{"很生气", "愤怒", "不爽", "恼火"}},
		{"angry", "strong", []string{"暴怒", "气炸", "恨", "抓狂"}},
		{"neutral", "weak", []string{"普通", "一般", "随便", "都行"}},
		{"neutral", "medium", []string{"平静", "淡然", "无所谓", "还好"}},
		{"neutral", "strong", []string{"冷漠", "无感", "麻木"}},
	}
}
