package offline

import (
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	d := New(Options{Enable: true, CheckURL: srv.URL, Timeout: time.Second})
	assert.False(t, d.IsOffline(context.Background()))

	srv.Close()
	assert.True(t, d.IsOffline(context.Background()))

	disabled := New(Options{Enable: false, CheckURL: "http://127.0.0.1:1"})
	assert.False(t, disabled.IsOffline(context.Background()))
}

func TestCheckResultIsCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	d := New(Options{Enable: true, CheckURL: srv.URL, CacheFor: time.Minute})
	now := time.Unix(1700000000, 0)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsOffline(context.Background()))
	srv.Close()
	assert.False(t, d.IsOffline(context.Background()))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.IsOffline(context.Background()))
}

func TestReplyGroups(t *testing.T) {
	d := New(Options{}).WithRand(rand.New(rand.NewSource(1)))
	personas := []string{"滴滴喵", "高冷御姐"}

	assert.Contains(t, DefaultTemplates()[Greeting], trim(d.Reply("你好呀", "名字", personas)))
	assert.Equal(t, Prefix+"已切换到滴滴喵～ 离线模式下也能聊天呀～", d.Reply("滴滴喵在吗", "滴滴喵", personas))
	assert.Contains(t, DefaultTemplates()[Comfort], trim(d.Reply("今天好难过", "名字", personas)))
	assert.Equal(t, Prefix+DefaultTemplates()[Food][0], d.Reply("想吃小笼包", "名字", personas))
	assert.Equal(t, Prefix+DefaultTemplates()[Music][0], d.Reply("来唱歌吧", "名字", personas))
	assert.Contains(t, DefaultTemplates()[General], trim(d.Reply("随便说点", "名字", personas)))
}

func trim(s string) string { return s[len(Prefix):] }

func TestLoadTemplates(t *testing.T) {
	tpl, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultTemplates(), tpl)

	path := filepath.Join(t.TempDir(), "tpl.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"food":["饿了就吃～"],"general":[]}`), 0o644))
	tpl, err = LoadTemplates(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"饿了就吃～"}, tpl[Food])
	assert.Equal(t, DefaultTemplates()[General], tpl[General])

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o644))
	_, err = LoadTemplates(path)
	assert.Error(t, err)
}
