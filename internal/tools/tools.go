// Package tools holds the keyword-triggered helpers (weather, todo,
// calendar) and the image and voice generators used by chat replies.
package tools

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/pkg/retrylimit"
)

// Tool answers messages it recognizes. handled is false when the message
// is not for this tool. On failure a tool still returns a user-facing reply
// together with the error.
type Tool interface {
	Name() string
	Handle(ctx context.Context, userID, text string) (reply string, handled bool, err error)
}

// Set tries tools in order and stops at the first that handles the message.
type Set struct {
	tools []Tool
}

func NewSet(tools ...Tool) *Set {
	return &Set{tools: tools}
}

func (s *Set) Len() int { return len(s.tools) }

// Handle returns the first tool reply. Errors are logged; the tool's reply
// is still returned.
func (s *Set) Handle(ctx context.Context, userID, text string) (string, bool) {
	for _, t := range s.tools {
		reply, handled, err := t.Handle(ctx, userID, text)
		if err != nil {
			log.Error().Str("component", "tools").Str("tool", t.Name()).Str("user", userID).Err(err).Msg("tool failed")
		}
		if handled {
			return reply, true
		}
	}
	return "", false
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// httpGet fetches url through the limiter and retry policy.
func httpGet(ctx context.Context, client *http.Client, lim *retrylimit.AdaptiveLimiter, url string) ([]byte, error) {
	var body []byte
	err := retrylimit.Do(ctx, lim, retrylimit.DefaultConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return retrylimit.Fatal(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &retrylimit.StatusError{Code: resp.StatusCode, Body: string(data)}
		}
		body = data
		return nil
	})
	return body, err
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
