package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionServer(t *testing.T, failures int32, content string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		if n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.NotEmpty(t, body.Messages)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOpenAIProviderGenerate(t *testing.T) {
	srv, calls := completionServer(t, 0, "<think>hmm</think> “你好呀～” ")
	p, err := NewProvider(Options{Provider: "deepseek", BaseURL: srv.URL, APIKey: "key", Model: "test-model"})
	require.NoError(t, err)

	reply, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "你好呀～", reply)
	assert.EqualValues(t, 1, calls.Load())
}

func TestOpenAIProviderRetriesServerErrors(t *testing.T) {
	srv, calls := completionServer(t, 1, "好的")
	p := NewOpenAIProvider(Options{BaseURL: srv.URL, APIKey: "key", Model: "test-model"})

	reply, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "好的", reply)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAIProviderDoesNotRetryAuthErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Options{BaseURL: srv.URL, Model: "m"})
	_, err := p.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Options{Provider: "nope"})
	assert.Error(t, err)
}

func TestSplitModel(t *testing.T) {
	p, m := SplitModel("deepseek/deepseek-chat")
	assert.Equal(t, "deepseek", p)
	assert.Equal(t, "deepseek-chat", m)

	p, m = SplitModel("gpt-4o")
	assert.Empty(t, p)
	assert.Equal(t, "gpt-4o", m)

	p, m = SplitModel("meta/llama-3")
	assert.Empty(t, p)
	assert.Equal(t, "meta/llama-3", m)
}

type stubProvider struct {
	reply string
	err   error
	got   []Message
}

func (s *stubProvider) Generate(_ context.Context, msgs []Message) (string, error) {
	s.got = msgs
	return s.reply, s.err
}

func TestClientFallsBackOnError(t *testing.T) {
	stub := &stubProvider{err: errors.New("boom")}
	c := NewClient(Options{Provider: "openai", Model: "m"}, nil).WithProvider(stub)

	reply, ok := c.Reply(context.Background(), Request{Persona: "名字", Messages: []Message{{Role: "user", Content: "hi"}}})
	assert.False(t, ok)
	assert.Equal(t, FallbackReply, reply)
	assert.Len(t, stub.got, 1)
}

func TestClientPerPersonaModel(t *testing.T) {
	c := NewClient(Options{Provider: "openai", Model: "base"}, map[string]string{"滴滴喵": "chatglm/glm-4"})
	var seen []Options
	c.newProvider = func(o Options) (Provider, error) {
		seen = append(seen, o)
		return &stubProvider{reply: "ok"}, nil
	}

	_, ok := c.Reply(context.Background(), Request{Persona: "滴滴喵"})
	require.True(t, ok)
	_, ok = c.Reply(context.Background(), Request{Persona: "名字"})
	require.True(t, ok)
	_, ok = c.Reply(context.Background(), Request{Persona: "滴滴喵"})
	require.True(t, ok)

	require.Len(t, seen, 2)
	assert.Equal(t, "chatglm", seen[0].Provider)
	assert.Equal(t, "glm-4", seen[0].Model)
	assert.Equal(t, "base", seen[1].Model)
}

func TestCleanReplyTruncatesByRune(t *testing.T) {
	long := strings.Repeat("喵", maxReplyRunes+10)
	out := cleanReply(long)
	assert.True(t, strings.HasSuffix(out, "[truncated]"))
	assert.Equal(t, maxReplyRunes, len([]rune(strings.TrimSuffix(out, "\n\n[truncated]"))))
}
