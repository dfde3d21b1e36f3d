// cmd/discord/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/app"
	"github.com/keshon/persona-bot/internal/config"
	"github.com/keshon/persona-bot/internal/discord"
	"github.com/keshon/persona-bot/internal/logger"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.New(logger.Options{
		Service: cfg.App.Name,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
	})
	if cfg.Discord.Token == "" {
		log.Fatal().Msg("DISCORD_TOKEN is required")
	}
	log.Info().Str("component", "main").Msgf("Starting %s discord bot...", cfg.App.Name)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bot, err := discord.New(cfg.Discord.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create discord session")
	}

	a, err := app.New(ctx, cfg, bot)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Str("component", "main").Err(err).Msg("shutdown error")
		}
	}()
	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start jobs")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := bot.Run(ctx, a); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("component", "main").Str("signal", s.String()).Msg("shutting down")
		cancel()
	case err := <-errCh:
		if err != nil {
			log.Error().Str("component", "main").Err(err).Msg("discord bot error")
		}
		cancel()
	case <-ctx.Done():
	}

	log.Info().Str("component", "main").Msg("discord bot exited cleanly")
}
