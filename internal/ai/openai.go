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

// OpenAIProvider speaks the OpenAI chat completions protocol, which the
// deepseek, chatglm and g4f endpoints also accept.
type OpenAIProvider struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
	limiter     *retrylimit.AdaptiveLimiter
	retry       retrylimit.Config
}

func NewOpenAIProvider(opts Options) *OpenAIProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		client:      &http.Client{Timeout: timeout},
		limiter:     retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5),
		retry:       retrylimit.DefaultConfig(),
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message) (string, error) {
	payload := map[string]interface{}{
		"model":    p.model,
		"messages": messages,
	}
	if p.temperature > 0 {
		payload["temperature"] = p.temperature
	}
	if p.maxTokens > 0 {
		payload["max_tokens"] = p.maxTokens
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var reply string
	err = retrylimit.Do(ctx, p.limiter, p.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
		if err != nil {
			return retrylimit.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.apiKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &retrylimit.StatusError{Code: resp.StatusCode, Body: truncate(respBody)}
		}

		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return retrylimit.Fatal(fmt.Errorf("unmarshal: %w body=%s", err, truncate(respBody)))
		}
		if len(parsed.Choices) == 0 {
			return retrylimit.Fatal(fmt.Errorf("empty choices"))
		}
		reply = cleanReply(parsed.Choices[0].Message.Content)
		if reply == "" {
			return retrylimit.Fatal(fmt.Errorf("empty reply"))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}
