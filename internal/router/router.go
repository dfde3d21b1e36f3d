// Package router decides, in a fixed priority order, what an inbound
// message is and produces the replies for it. It is the only writer of the
// active persona and scene pointers.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/ai"
	"github.com/keshon/persona-bot/internal/cache"
	"github.com/keshon/persona-bot/internal/classify"
	"github.com/keshon/persona-bot/internal/offline"
	"github.com/keshon/persona-bot/internal/permission"
	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/internal/reminder"
	"github.com/keshon/persona-bot/internal/scene"
	"github.com/keshon/persona-bot/internal/storage"
	"github.com/keshon/persona-bot/internal/tools"
	"github.com/keshon/persona-bot/pkg/cmd"
)

// FailureReply is sent when handling a message failed unexpectedly.
const FailureReply = "出了点小问题，请稍后再试～"

type Inbound struct {
	UserID string
	Text   string
}

// Outbound holds the replies in send order and any files to attach.
type Outbound struct {
	Replies []string
	Files   []string
}

// Generator produces chat replies and never fails; ok is false when a
// fallback text was returned.
type Generator interface {
	Reply(ctx context.Context, req ai.Request) (reply string, ok bool)
}

// Deps are the collaborators. Cache, Reminders, Tools, Images, Voice,
// Offline and Permission may be nil.
type Deps struct {
	Registry   *persona.Registry
	Scenes     *scene.Store
	Store      storage.Store
	AI         Generator
	Classifier *classify.Classifier
	Cache      *cache.Cache
	Reminders  *reminder.Service
	Tools      *tools.Set
	Images     tools.ImageGenerator
	Voice      tools.VoiceSynth
	Offline    *offline.Detector
	Permission *permission.Checker
}

type Options struct {
	DefaultPersona string
	ImportDir      string
	Formats        []string
	Admins         []string
	ConfirmTimeout time.Duration
	HistoryTurns   int
	Now            func() time.Time
}

type Router struct {
	opts Options

	reg        *persona.Registry
	scenes     *scene.Store
	st         storage.Store
	ai         Generator
	classifier *classify.Classifier
	cache      *cache.Cache
	reminders  *reminder.Service
	tools      *tools.Set
	images     tools.ImageGenerator
	voice      tools.VoiceSynth
	offline    *offline.Detector
	perm       *permission.Checker

	switcher *switcher
	confirms *confirmations
	commands *cmd.Registry
	now      func() time.Time
}

func New(ctx context.Context, deps Deps, opts Options) (*Router, error) {
	if deps.Registry == nil || deps.Scenes == nil || deps.Store == nil || deps.AI == nil {
		return nil, errors.New("router: registry, scenes, store and AI are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 5
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []string{"toml", "json"}
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.Default()
	}

	sw, err := newSwitcher(ctx, deps.Registry, deps.Store, opts.DefaultPersona, opts.Now)
	if err != nil {
		return nil, err
	}
	r := &Router{
		opts:       opts,
		reg:        deps.Registry,
		scenes:     deps.Scenes,
		st:         deps.Store,
		ai:         deps.AI,
		classifier: deps.Classifier,
		cache:      deps.Cache,
		reminders:  deps.Reminders,
		tools:      deps.Tools,
		images:     deps.Images,
		voice:      deps.Voice,
		offline:    deps.Offline,
		perm:       deps.Permission,
		switcher:   sw,
		confirms:   newConfirmations(opts.ConfirmTimeout, opts.Now),
		commands:   cmd.NewRegistry(permissionMiddleware(deps.Permission), auditMiddleware(deps.Permission)),
		now:        opts.Now,
	}
	r.registerHotSwap()
	return r, nil
}

// Dispatch handles one inbound message. It never returns an error; failures
// become the generic failure reply.
func (r *Router) Dispatch(ctx context.Context, in Inbound) (out Outbound) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Outbound{}
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("component", "router").Str("user", in.UserID).
				Interface("panic", rec).Bytes("stack", debug.Stack()).Msg("dispatch panicked")
			out = Outbound{Replies: []string{FailureReply}}
		}
	}()

	log.Debug().Str("component", "router").Str("user", in.UserID).Str("text", text).Msg("inbound message")
	route, out, err := r.route(ctx, in.UserID, text)
	if err != nil {
		log.Error().Str("component", "router").Str("user", in.UserID).Str("route", route).Err(err).Msg("dispatch failed")
		if len(out.Replies) == 0 {
			out.Replies = []string{FailureReply}
		}
	}
	recordRoute(route)
	return out
}

func reply(s ...string) Outbound { return Outbound{Replies: s} }

func (r *Router) route(ctx context.Context, userID, text string) (string, Outbound, error) {
	if replies, op, ok := r.confirms.Answer(ctx, userID, text); ok {
		log.Info().Str("component", "router").Str("user", userID).Str("op", op).Msg("confirmation answered")
		return "confirm", reply(replies...), nil
	}

	if r.offline.IsOffline(ctx) {
		return "offline", reply(r.offline.Reply(text, r.switcher.Active(userID).Command, r.reg.Names())), nil
	}

	if ok, msg := r.perm.Check(userID, permission.OpHandle); !ok {
		r.perm.Log(ctx, userID, permission.OpHandle, "拒绝：无权限")
		return "denied", reply(msg), nil
	}

	if r.tools != nil && !r.reminderPhrase(text) {
		if out, ok := r.tools.Handle(ctx, userID, text); ok {
			return "tool", reply(out), nil
		}
	}

	if r.reminders != nil && reminder.IsRequest(text) {
		if ok, msg := r.perm.Check(userID, permission.OpAddReminder); !ok {
			return "denied", reply(msg), nil
		}
		out, err := r.reminders.Create(ctx, userID, r.switcher.Active(userID).Command, text)
		if err != nil {
			return "reminder", Outbound{}, err
		}
		r.perm.Log(ctx, userID, permission.OpAddReminder, "添加提醒："+text)
		return "reminder", reply(out), nil
	}

	if r.reminders != nil && reminder.IsList(text) {
		out, err := r.reminders.List(ctx, userID)
		if err != nil {
			return "reminder_list", Outbound{}, err
		}
		return "reminder_list", reply(out), nil
	}

	if inv, ok := cmd.Parse(userID, text); ok {
		if c := r.commands.Get(inv.Name); c != nil {
			err := c.Run(ctx, inv)
			return "command", Outbound{Replies: inv.Replies, Files: inv.Files}, err
		}
		if inv.Name == "switch_scene" {
			out, err := r.switchScene(ctx, userID, inv.Arg())
			return "scene", out, err
		}
	}

	if target, ok := r.switchTarget(text); ok {
		out, err := r.switchPersona(ctx, userID, target)
		return "switch", out, err
	}

	if strings.Contains(text, "人格列表") {
		return "listing", r.listing(ctx, userID), nil
	}

	return "chat", r.chat(ctx, userID, text), nil
}

// reminderPhrase reports whether the tool stage must yield to the reminder
// stages. Messages naming 待办 stay with the todo tool.
func (r *Router) reminderPhrase(text string) bool {
	if r.reminders == nil || strings.Contains(text, "待办") {
		return false
	}
	return reminder.IsRequest(text) || reminder.IsList(text)
}

// switchTarget finds the persona a message asks for: "/<command>" exactly,
// otherwise the first persona whose trigger word appears in free text.
func (r *Router) switchTarget(text string) (persona.Persona, bool) {
	if strings.HasPrefix(text, "/") {
		return r.reg.Get(strings.TrimSpace(text[1:]))
	}
	return r.reg.MatchTrigger(text)
}

func (r *Router) switchPersona(ctx context.Context, userID string, target persona.Persona) (Outbound, error) {
	if ok, msg := r.perm.Check(userID, permission.OpSwitchPersona); !ok {
		return reply(msg), nil
	}
	outcome, err := r.switcher.Switch(ctx, userID, target.Command)
	if err != nil {
		return Outbound{}, err
	}
	for _, u := range outcome.Unlocked {
		log.Info().Str("component", "router").Str("persona", target.Command).Str("type", u.Type).Str("value", u.Value).Msg("persona unlocked")
	}
	log.Info().Str("component", "router").Str("user", userID).Str("persona", target.Command).Msg("persona switched")
	r.perm.Log(ctx, userID, permission.OpSwitchPersona, "切换到："+target.Command)

	ack := target.ReplyWhenCalled
	if ack == "" {
		ack = target.Command + "来啦～"
	}
	return reply(ack), nil
}

func (r *Router) switchScene(ctx context.Context, userID, name string) (Outbound, error) {
	if ok, msg := r.perm.Check(userID, permission.OpSwitchScene); !ok {
		return reply(msg), nil
	}
	if !r.scenes.Has(name) {
		return reply(r.scenes.UnknownMessage(name)), nil
	}
	if _, err := r.scenes.Switch(ctx, userID, name); err != nil {
		return Outbound{}, fmt.Errorf("switch scene: %w", err)
	}
	r.perm.Log(ctx, userID, permission.OpSwitchScene, "切换到场景："+name)

	def, ok := r.scenes.DefaultPersona(name)
	if !ok {
		def = r.opts.DefaultPersona
	}
	if !r.reg.Has(def) {
		return reply(fmt.Sprintf("✅ 切换到%s场景（无默认人格）", name)), nil
	}
	if err := r.switcher.Assign(ctx, userID, def); err != nil {
		return Outbound{}, err
	}
	return reply(fmt.Sprintf("✅ 切换到%s场景，已自动切换为场景默认人格：%s", name, def)), nil
}

func (r *Router) listing(ctx context.Context, userID string) Outbound {
	all, err := r.st.SwitchStats(ctx, 0)
	if err != nil {
		log.Warn().Str("component", "router").Err(err).Msg("failed to read switch stats")
	}
	// switch history outlives deleted personas
	stats := make([]storage.PersonaStat, 0, topActiveCount)
	for _, s := range all {
		if r.reg.Has(s.Persona) {
			stats = append(stats, s)
		}
	}
	text := renderListing(r.reg.List(), r.switcher.Active(userID).Command, stats, r.commands.GetAll())
	return Outbound{Replies: splitMessage(text, maxMessageLen)}
}

// Active returns the user's current persona.
func (r *Router) Active(userID string) persona.Persona {
	return r.switcher.Active(userID)
}

// RandomSwitch moves the global default persona; it shares the switch lock
// with user-triggered switches.
func (r *Router) RandomSwitch(ctx context.Context) error {
	from, to, ok, err := r.switcher.SwitchRandom(ctx)
	if err != nil {
		return err
	}
	if ok {
		log.Info().Str("component", "router").Str("from", from).Str("to", to).Msg("random persona switch")
	}
	return nil
}

// ExpireConfirmations drops unanswered questions past their deadline.
func (r *Router) ExpireConfirmations() int {
	return r.confirms.Purge()
}

// Reload re-reads persisted pointers after storage was restored.
func (r *Router) Reload(ctx context.Context) error {
	return r.switcher.Reload(ctx)
}
