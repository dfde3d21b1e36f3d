// Package discord connects the router to a Discord session.
package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/router"
)

const messageLimit = 2000

// Dispatcher handles one user message.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, text string) router.Outbound
}

// Bot relays direct messages and mentions to the dispatcher.
type Bot struct {
	dg      *discordgo.Session
	handler Dispatcher
	timeout time.Duration
}

// New creates the session without connecting it, so the bot can serve as
// the reminder notifier before the rest of the app is built.
func New(token string) (*Bot, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return &Bot{dg: dg, timeout: 2 * time.Minute}, nil
}

// Run opens the session and blocks until ctx is done.
func (b *Bot) Run(ctx context.Context, h Dispatcher) error {
	b.handler = h
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onMessageCreate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	log.Info().Str("component", "discord").Msg("shutdown signal received, closing session")
	return nil
}

// Notify sends text to the user's DM channel.
func (b *Bot) Notify(_ context.Context, userID, text string) error {
	ch, err := b.dg.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open DM channel: %w", err)
	}
	for _, part := range splitMessage(text, messageLimit) {
		if _, err := b.dg.ChannelMessageSend(ch.ID, part); err != nil {
			return fmt.Errorf("send DM: %w", err)
		}
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().Str("component", "discord").Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).Msg("discord bot is running")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}
	text, ok := addressed(m.Message, s.State.User.ID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	if err := s.ChannelTyping(m.ChannelID); err != nil {
		log.Debug().Str("component", "discord").Err(err).Msg("typing indicator failed")
	}
	out := b.handler.Dispatch(ctx, m.Author.ID, text)
	b.send(m.ChannelID, out)
}

func (b *Bot) send(channelID string, out router.Outbound) {
	for _, reply := range out.Replies {
		for _, part := range splitMessage(reply, messageLimit) {
			if _, err := b.dg.ChannelMessageSend(channelID, part); err != nil {
				log.Error().Str("component", "discord").Str("channel", channelID).Err(err).Msg("failed to send reply")
				return
			}
		}
	}
	var files []*discordgo.File
	for _, ref := range out.Files {
		f, err := loadFile(ref)
		if err != nil {
			log.Warn().Str("component", "discord").Err(err).Msg("skipping attachment")
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return
	}
	if _, err := b.dg.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{Files: files}); err != nil {
		log.Error().Str("component", "discord").Str("channel", channelID).Err(err).Msg("failed to send attachments")
	}
}

// addressed reports whether the bot should answer m: direct messages always,
// guild messages only when the bot is mentioned. The mention is stripped.
func addressed(m *discordgo.Message, botID string) (string, bool) {
	if m.GuildID == "" {
		return strings.TrimSpace(m.Content), true
	}
	mentioned := false
	for _, u := range m.Mentions {
		if u.ID == botID {
			mentioned = true
			break
		}
	}
	if !mentioned {
		return "", false
	}
	text := strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(m.Content)
	return strings.TrimSpace(text), true
}
