// cmd/cli/main.go talks to the bot from a terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/app"
	"github.com/keshon/persona-bot/internal/config"
	"github.com/keshon/persona-bot/internal/logger"
)

// stdoutNotifier prints reminders between prompts.
type stdoutNotifier struct {
	mu *sync.Mutex
}

func (n stdoutNotifier) Notify(_ context.Context, userID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Printf("\n⏰ [%s] %s\n> ", userID, text)
	return nil
}

func main() {
	user := flag.String("user", "cli", "user id to chat as")
	flag.Parse()

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	cfg.Log.Console = cfg.Log.File == ""
	logger.New(logger.Options{
		Service: cfg.App.Name,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: cfg.Log.Console,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mu sync.Mutex
	a, err := app.New(ctx, cfg, stdoutNotifier{mu: &mu})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start jobs")
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	fmt.Printf("%s ready, chatting as %q. Type 人格列表 to list personas, Ctrl+D to quit.\n> ", cfg.App.Name, *user)
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				fmt.Print("> ")
				continue
			}
			out := a.Dispatch(ctx, *user, line)
			mu.Lock()
			for _, r := range out.Replies {
				fmt.Println(r)
			}
			for _, f := range out.Files {
				if strings.HasPrefix(f, "data:") {
					fmt.Println("[image]")
					continue
				}
				fmt.Println("[file]", f)
			}
			fmt.Print("> ")
			mu.Unlock()
		}
	}
}
