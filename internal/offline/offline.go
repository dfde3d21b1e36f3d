// Package offline detects lost connectivity and answers from local templates
// while the generation backend is unreachable.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const Prefix = "【离线模式】"

// Template groups.
const (
	Greeting      = "greeting"
	SwitchPersona = "switch_persona"
	General       = "general"
	Comfort       = "comfort"
	Food          = "food"
	Music         = "music"
)

// DefaultTemplates are used when no template file exists.
func DefaultTemplates() map[string][]string {
	return map[string][]string{
		Greeting:      {"你好呀～ 我在离线模式等你哦～", "很高兴见到你～ 虽然没网，但我依然在～"},
		SwitchPersona: {"已切换到{persona}～ 离线模式下也能聊天呀～"},
		General:       {"谢谢你的消息～ 我已经收到啦～", "哇～ 很有趣的分享呢～", "一起加油呀～"},
		Comfort:       {"别难过啦～ 一切都会好起来的～", "我在这里陪着你呀～"},
		Food:          {"听起来好好吃呀～ 离线模式也挡不住对美食的向往～"},
		Music:         {"歌声是治愈的力量～ 离线也能感受到呀～"},
	}
}

// LoadTemplates reads a JSON object of group -> replies. A missing file
// yields the defaults; groups absent from the file keep their defaults.
func LoadTemplates(path string) (map[string][]string, error) {
	tpl := DefaultTemplates()
	if path == "" {
		return tpl, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return tpl, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offline templates: %w", err)
	}
	var custom map[string][]string
	if err := json.Unmarshal(data, &custom); err != nil {
		return nil, fmt.Errorf("parse offline templates %s: %w", path, err)
	}
	for k, v := range custom {
		if len(v) > 0 {
			tpl[k] = v
		}
	}
	return tpl, nil
}

type Options struct {
	Enable    bool
	CheckURL  string
	Timeout   time.Duration
	Templates map[string][]string
	// check results are reused for this long
	CacheFor time.Duration
}

type Detector struct {
	enable    bool
	checkURL  string
	client    *http.Client
	templates map[string][]string
	cacheFor  time.Duration

	mu      sync.Mutex
	rnd     *rand.Rand
	checked time.Time
	offline bool
	now     func() time.Time
}

func New(opts Options) *Detector {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Templates == nil {
		opts.Templates = DefaultTemplates()
	}
	return &Detector{
		enable:    opts.Enable,
		checkURL:  opts.CheckURL,
		client:    &http.Client{Timeout: opts.Timeout},
		templates: opts.Templates,
		cacheFor:  opts.CacheFor,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

// WithRand replaces the template picker's source.
func (d *Detector) WithRand(r *rand.Rand) *Detector {
	d.mu.Lock()
	d.rnd = r
	d.mu.Unlock()
	return d
}

// IsOffline checks the configured URL. Always false when disabled.
func (d *Detector) IsOffline(ctx context.Context) bool {
	if d == nil || !d.enable {
		return false
	}
	d.mu.Lock()
	if d.cacheFor > 0 && !d.checked.IsZero() && d.now().Sub(d.checked) < d.cacheFor {
		off := d.offline
		d.mu.Unlock()
		return off
	}
	d.mu.Unlock()

	off := d.ping(ctx) != nil

	d.mu.Lock()
	if off != d.offline {
		log.Warn().Str("component", "offline").Bool("offline", off).Msg("connectivity changed")
	}
	d.offline = off
	d.checked = d.now()
	d.mu.Unlock()
	return off
}

func (d *Detector) ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.checkURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Reply picks a template for the message and prefixes it with the offline
// marker. personas are the names that count as a switch request.
func (d *Detector) Reply(message, personaName string, personas []string) string {
	group := General
	switch {
	case containsAny(message, "你好", "哈喽", "hi"):
		group = Greeting
	case containsAny(message, personas...):
		group = SwitchPersona
	case containsAny(message, "难过", "伤心", "不开心"):
		group = Comfort
	case containsAny(message, "吃", "美食", "小笼包", "糖葫芦"):
		group = Food
	case containsAny(message, "唱歌", "音乐", "歌声"):
		group = Music
	}
	choices := d.templates[group]
	if len(choices) == 0 {
		choices = DefaultTemplates()[group]
	}
	d.mu.Lock()
	reply := choices[d.rnd.Intn(len(choices))]
	d.mu.Unlock()
	return Prefix + strings.ReplaceAll(reply, "{persona}", personaName)
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
