// Package cmd is the slash-command core used by the router: a command has a
// name, a description and Run(ctx, invocation). Middleware wraps commands
// for permission checks and operation logging.
package cmd

import (
	"context"
	"fmt"
	"strings"
)

// Invocation carries one command call. Commands answer through Reply and
// Attach; the caller collects Replies and Files after Run returns.
type Invocation struct {
	UserID string
	Name   string
	Args   []string
	// Raw is the argument text after the command name, untrimmed of inner spaces.
	Raw string

	Replies []string
	Files   []string
}

// Arg returns the whole argument string.
func (inv *Invocation) Arg() string {
	return strings.TrimSpace(inv.Raw)
}

func (inv *Invocation) Reply(format string, a ...any) {
	if len(a) == 0 {
		inv.Replies = append(inv.Replies, format)
		return
	}
	inv.Replies = append(inv.Replies, fmt.Sprintf(format, a...))
}

func (inv *Invocation) Attach(path string) {
	inv.Files = append(inv.Files, path)
}

// Parse splits "/name arg..." into an invocation. ok is false when text is
// not a slash command.
func Parse(userID, text string) (*Invocation, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil, false
	}
	name, raw, _ := strings.Cut(text[1:], " ")
	if name == "" {
		return nil, false
	}
	return &Invocation{
		UserID: userID,
		Name:   name,
		Args:   strings.Fields(raw),
		Raw:    raw,
	}, true
}

type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}
