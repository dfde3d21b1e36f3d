package router

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/ai"
	"github.com/keshon/persona-bot/internal/classify"
	"github.com/keshon/persona-bot/internal/permission"
	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/internal/storage"
	"github.com/keshon/persona-bot/internal/tools"
)

// promptInput is everything the system prompt is built from.
type promptInput struct {
	Persona   persona.Persona
	Scene     string
	Style     persona.SceneStyle
	Mood      string
	Class     classify.Result
	Message   string
	SkillHint string
}

func buildPrompt(in promptInput) string {
	moodStyle := in.Persona.MoodReplyStyle[in.Mood]
	if moodStyle == "" {
		moodStyle = in.Style.ReplyStyle
	}
	var b strings.Builder
	fmt.Fprintf(&b, "你现在的身份是：%s\n", in.Persona.PersonalityDesc)
	fmt.Fprintf(&b, "当前场景：%s，场景专属回复风格：%s\n", in.Scene, in.Style.ReplyStyle)
	fmt.Fprintf(&b, "当前情绪：%s，情绪回复风格：%s\n", in.Mood, moodStyle)
	fmt.Fprintf(&b, "用户意图：%s，用户情绪：%s（强度：%s）\n", in.Class.Intent, in.Class.Emotion, in.Class.Intensity)
	fmt.Fprintf(&b, "用户消息：%s\n", in.Message)
	if in.SkillHint != "" {
		fmt.Fprintf(&b, "技能要求：%s\n", in.SkillHint)
	}
	b.WriteString("回复要求：\n")
	b.WriteString("1. 严格贴合人格设定和当前情绪，不偏离人设\n")
	b.WriteString("2. 适配当前场景，符合场景回复风格\n")
	b.WriteString("3. 回应用户的情绪和意图，有共情力\n")
	b.WriteString("4. 回复简短自然，不超过3句话\n")
	fmt.Fprintf(&b, "5. 保留人格专属水印：%s", in.Persona.Watermark)
	return b.String()
}

// skillHint returns the prompt of the first unlocked skill or advanced
// reply style named in text.
func skillHint(p persona.Persona, text string) string {
	for _, table := range []map[string]persona.Skill{p.Skills, p.AdvancedReplyStyle} {
		names := make([]string, 0, len(table))
		for name := range table {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if name != "" && strings.Contains(text, name) {
				return table[name].Prompt
			}
		}
	}
	return ""
}

func (r *Router) chat(ctx context.Context, userID, text string) Outbound {
	p := r.switcher.Active(userID)
	name := p.Command

	class := r.classifier.Classify(text)
	if mood, ok := r.reg.MatchMoodTrigger(name, text); ok {
		if err := r.reg.SetMood(name, mood); err == nil {
			log.Debug().Str("component", "router").Str("persona", name).Str("mood", mood).Msg("mood changed")
		}
	}

	if r.cache != nil {
		if reply, ok := r.cache.Lookup(ctx, userID, text, name); ok {
			recordCache(true)
			return Outbound{Replies: []string{reply}}
		}
		recordCache(false)
	}

	sceneName, err := r.scenes.Current(ctx, userID)
	if err != nil {
		log.Warn().Str("component", "router").Str("user", userID).Err(err).Msg("failed to read scene")
		sceneName = ""
	}
	prompt := buildPrompt(promptInput{
		Persona:   p,
		Scene:     sceneName,
		Style:     r.scenes.Style(p, sceneName),
		Mood:      r.reg.Mood(name),
		Class:     class,
		Message:   text,
		SkillHint: skillHint(p, text),
	})

	messages := []ai.Message{{Role: "system", Content: prompt}}
	history, err := r.st.RecentConversation(ctx, userID, r.opts.HistoryTurns)
	if err != nil {
		log.Warn().Str("component", "router").Str("user", userID).Err(err).Msg("failed to load history")
	}
	for _, h := range history {
		messages = append(messages, ai.Message{Role: "user", Content: h.Content})
	}

	reply, ok := r.ai.Reply(ctx, ai.Request{Persona: name, Model: p.Model, APIKey: p.APIKey, Messages: messages})
	if !ok {
		recordBackendFailure()
	}
	final := strings.TrimSpace(reply + " " + p.Watermark)

	var out Outbound
	if imgPrompt, want := tools.WantsImage(text); want && r.images != nil {
		url, err := r.images.Generate(ctx, imgPrompt)
		if err != nil {
			log.Warn().Str("component", "router").Str("persona", name).Err(err).Msg("image generation failed")
		} else {
			final += "\n" + url
		}
	}
	if tools.WantsVoice(text) && r.voice != nil {
		path, err := r.voice.Synthesize(ctx, name, final)
		if err != nil {
			log.Warn().Str("component", "router").Str("persona", name).Err(err).Msg("voice synthesis failed")
		} else {
			out.Files = append(out.Files, path)
		}
	}
	out.Replies = append(out.Replies, final)

	if err := r.st.AppendConversation(ctx, storage.Entry{UserID: userID, Time: r.now(), Persona: name, Content: text}); err != nil {
		log.Error().Str("component", "router").Str("user", userID).Err(err).Msg("failed to store conversation")
	}
	if ok && r.cache != nil {
		r.cache.Store(ctx, userID, text, name, final)
	}
	r.perm.Log(ctx, userID, permission.OpReply, "成功：使用"+name+"人格回复")
	return out
}
