package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keshon/persona-bot/pkg/retrylimit"
)

var (
	imageCues = []string{"生成图片", "画画"}
	voiceCues = []string{"语音回复", "说出来"}
)

// ErrDisabled is returned by generators without a configured endpoint.
var ErrDisabled = errors.New("media backend not configured")

// WantsImage reports whether the message asks for a picture and returns the
// prompt with the cue words removed.
func WantsImage(text string) (string, bool) {
	if !containsAny(text, imageCues...) {
		return "", false
	}
	prompt := text
	for _, c := range imageCues {
		prompt = strings.ReplaceAll(prompt, c, "")
	}
	return strings.TrimSpace(prompt), true
}

// WantsVoice reports whether the message asks for a spoken reply.
func WantsVoice(text string) bool {
	return containsAny(text, voiceCues...)
}

// ImageGenerator turns a prompt into an image data URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VoiceSynth renders text to an audio file and returns its path.
type VoiceSynth interface {
	Synthesize(ctx context.Context, persona, text string) (string, error)
}

// StableDiffusion calls a txt2img endpoint that answers with base64 images.
type StableDiffusion struct {
	URL    string
	Model  string
	Width  int
	Height int
	Steps  int

	client  *http.Client
	limiter *retrylimit.AdaptiveLimiter
}

func NewStableDiffusion(url, model string) *StableDiffusion {
	return &StableDiffusion{
		URL:     url,
		Model:   model,
		Width:   512,
		Height:  512,
		Steps:   20,
		client:  newHTTPClient(60 * time.Second),
		limiter: retrylimit.NewAdaptiveLimiter(1, 0.2, 2, 0.2, 0.5),
	}
}

func (s *StableDiffusion) Generate(ctx context.Context, prompt string) (string, error) {
	if s.URL == "" {
		return "", ErrDisabled
	}
	payload, err := json.Marshal(map[string]any{
		"prompt": prompt,
		"model":  s.Model,
		"width":  s.Width,
		"height": s.Height,
		"steps":  s.Steps,
	})
	if err != nil {
		return "", err
	}
	body, err := httpPost(ctx, s.client, s.limiter, s.URL, payload)
	if err != nil {
		return "", fmt.Errorf("image request: %w", err)
	}
	var resp struct {
		Images []string `json:"images"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("image decode: %w", err)
	}
	if len(resp.Images) == 0 || resp.Images[0] == "" {
		return "", errors.New("image response has no images")
	}
	return "data:image/png;base64," + resp.Images[0], nil
}

// TTS posts text to a speech endpoint and stores the returned audio under Dir.
type TTS struct {
	URL          string
	Dir          string
	Voices       map[string]string
	DefaultVoice string

	client  *http.Client
	limiter *retrylimit.AdaptiveLimiter
	now     func() time.Time
}

func NewTTS(url, dir string, voices map[string]string) *TTS {
	return &TTS{
		URL:          url,
		Dir:          dir,
		Voices:       voices,
		DefaultVoice: "female-neutral",
		client:       newHTTPClient(30 * time.Second),
		limiter:      retrylimit.NewAdaptiveLimiter(1, 0.2, 2, 0.2, 0.5),
		now:          time.Now,
	}
}

func (t *TTS) Synthesize(ctx context.Context, persona, text string) (string, error) {
	if t.URL == "" {
		return "", ErrDisabled
	}
	voice, ok := t.Voices[persona]
	if !ok {
		voice = t.DefaultVoice
	}
	payload, err := json.Marshal(map[string]string{"text": text, "voice": voice})
	if err != nil {
		return "", err
	}
	audio, err := httpPost(ctx, t.client, t.limiter, t.URL, payload)
	if err != nil {
		return "", fmt.Errorf("tts request: %w", err)
	}
	if len(audio) == 0 {
		return "", errors.New("tts returned empty audio")
	}
	if err := os.MkdirAll(t.Dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(t.Dir, fmt.Sprintf("voice_%s_%d.mp3", persona, t.now().Unix()))
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	return path, nil
}

func httpPost(ctx context.Context, client *http.Client, lim *retrylimit.AdaptiveLimiter, url string, payload []byte) ([]byte, error) {
	var body []byte
	err := retrylimit.Do(ctx, lim, retrylimit.DefaultConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return retrylimit.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
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
