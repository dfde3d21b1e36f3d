// Package ai talks to the language-model backends that produce persona
// replies.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Provider interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// Options configures a provider.
type Options struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

var baseURLs = map[string]string{
	"openai":   "https://api.openai.com/v1",
	"deepseek": "https://api.deepseek.com/v1",
	"chatglm":  "https://open.bigmodel.cn/api/paas/v4",
	"g4f":      "https://g4f.dev/api/gpt-oss-120b",
}

// NewProvider builds the provider named by opts.Provider.
func NewProvider(opts Options) (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(opts.Provider))
	switch name {
	case "pollinations":
		return NewPollinationsProvider(opts), nil
	case "", "openai", "deepseek", "chatglm", "g4f":
		if name == "" {
			name = "openai"
		}
		if opts.BaseURL == "" {
			opts.BaseURL = baseURLs[name]
		}
		return NewOpenAIProvider(opts), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", opts.Provider)
	}
}

// SplitModel parses "provider/model" or a bare "model".
func SplitModel(spec string) (provider, model string) {
	spec = strings.TrimSpace(spec)
	if i := strings.Index(spec, "/"); i > 0 {
		if _, known := baseURLs[strings.ToLower(spec[:i])]; known || strings.EqualFold(spec[:i], "pollinations") {
			return strings.ToLower(spec[:i]), spec[i+1:]
		}
	}
	return "", spec
}
