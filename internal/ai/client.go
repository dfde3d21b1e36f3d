package ai

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// FallbackReply is sent when every backend attempt failed.
const FallbackReply = "哎呀，我有点卡壳啦～稍后再聊吧～😣"

// Request is one reply generation. Model and APIKey override the defaults
// for the persona when set.
type Request struct {
	Persona  string
	Model    string
	APIKey   string
	Messages []Message
}

// Client selects a provider per persona and never fails: backend errors are
// logged and turned into FallbackReply.
type Client struct {
	base          Options
	personaModels map[string]string
	newProvider   func(Options) (Provider, error)

	mu        sync.Mutex
	providers map[Options]Provider
}

// NewClient builds a client. personaModels maps persona names to
// "provider/model" overrides.
func NewClient(base Options, personaModels map[string]string) *Client {
	return &Client{
		base:          base,
		personaModels: personaModels,
		newProvider:   NewProvider,
		providers:     make(map[Options]Provider),
	}
}

// WithProvider pins the default provider, used by tests and by callers
// that construct the backend themselves.
func (c *Client) WithProvider(p Provider) *Client {
	c.mu.Lock()
	c.providers[c.base] = p
	c.mu.Unlock()
	return c
}

// Reply generates a reply; ok is false when the fallback was used.
func (c *Client) Reply(ctx context.Context, req Request) (reply string, ok bool) {
	opts := c.optionsFor(req)
	p, err := c.provider(opts)
	if err != nil {
		log.Error().Str("component", "ai").Str("persona", req.Persona).Err(err).Msg("provider unavailable")
		return FallbackReply, false
	}

	reply, err = p.Generate(ctx, req.Messages)
	if err != nil || reply == "" {
		log.Error().Str("component", "ai").Str("persona", req.Persona).Str("provider", opts.Provider).
			Str("model", opts.Model).Err(err).Msg("generation failed")
		return FallbackReply, false
	}
	return reply, true
}

func (c *Client) optionsFor(req Request) Options {
	opts := c.base
	spec := req.Model
	if spec == "" {
		spec = c.personaModels[req.Persona]
	}
	if spec != "" {
		provider, model := SplitModel(spec)
		if provider != "" && provider != opts.Provider {
			opts.Provider = provider
			opts.BaseURL = ""
		}
		opts.Model = model
	}
	if req.APIKey != "" {
		opts.APIKey = req.APIKey
	}
	return opts
}

func (c *Client) provider(opts Options) (Provider, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.providers[opts]; ok {
		return p, nil
	}
	p, err := c.newProvider(opts)
	if err != nil {
		return nil, err
	}
	c.providers[opts] = p
	return p, nil
}
