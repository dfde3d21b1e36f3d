package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/keshon/persona-bot/pkg/retrylimit"
)

const pollinationsURL = "https://text.pollinations.ai/openai"

// PollinationsProvider uses the keyless pollinations endpoint.
type PollinationsProvider struct {
	url     string
	model   string
	client  *http.Client
	limiter *retrylimit.AdaptiveLimiter
}

func NewPollinationsProvider(opts Options) *PollinationsProvider {
	url := opts.BaseURL
	if url == "" {
		url = pollinationsURL
	}
	model := opts.Model
	if model == "" {
		model = "openai"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &PollinationsProvider{
		url:     url,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		limiter: retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5),
	}
}

func (p *PollinationsProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	data, err := json.Marshal(map[string]interface{}{
		"model":       p.model,
		"messages":    messages,
		"temperature": 1,
		"private":     true,
	})
	if err != nil {
		return "", err
	}

	var reply string
	err = retrylimit.Do(ctx, p.limiter, retrylimit.DefaultConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
		if err != nil {
			return retrylimit.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &retrylimit.StatusError{Code: resp.StatusCode, Body: truncate(body)}
		}
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			return fmt.Errorf("pollinations returned html")
		}

		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return retrylimit.Fatal(err)
		}
		if len(parsed.Choices) == 0 {
			return retrylimit.Fatal(fmt.Errorf("pollinations empty choices"))
		}

		reply = cleanReply(parsed.Choices[0].Message.Content)
		if isGarbageResponse(reply) {
			return fmt.Errorf("pollinations returned garbage")
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}
