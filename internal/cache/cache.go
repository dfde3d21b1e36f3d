// Package cache remembers generated replies per (user, message, persona).
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// Options controls validity. Window is the throttle cooldown re-armed on
// every hit; zero disables throttling.
type Options struct {
	TTL    time.Duration
	Window time.Duration
}

type entry struct {
	Reply string `json:"reply"`
	Time  int64  `json:"time"`
}

// Cache is safe for concurrent use when its backend is.
type Cache struct {
	backend Backend
	opts    Options
	now     func() time.Time
}

func New(backend Backend, opts Options) *Cache {
	return &Cache{backend: backend, opts: opts, now: time.Now}
}

// WithClock replaces the time source.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Key derives the entry key for the tuple.
func Key(user, message, persona string) string {
	sum := md5.Sum([]byte(user + "_" + message + "_" + persona))
	return hex.EncodeToString(sum[:])
}

func throttleKey(key string) string { return "throttle_" + key }

// Lookup returns the cached reply. An entry is served while it is younger
// than the TTL, or while the throttle armed by the latest hit is running.
// Backend failures are misses.
func (c *Cache) Lookup(ctx context.Context, user, message, persona string) (string, bool) {
	key := Key(user, message, persona)
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		log.Warn().Str("component", "cache").Err(err).Msg("cache get failed")
		return "", false
	}
	if !ok {
		return "", false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Warn().Str("component", "cache").Err(err).Msg("corrupt cache entry")
		return "", false
	}

	now := c.now()
	fresh := now.Sub(time.Unix(0, e.Time)) < c.opts.TTL
	if !fresh {
		if c.opts.Window <= 0 || !c.throttled(ctx, key, now) {
			return "", false
		}
		// keep the entry alive for as long as the throttle runs
		if err := c.backend.Set(ctx, key, raw, c.opts.Window); err != nil {
			log.Warn().Str("component", "cache").Err(err).Msg("cache extend failed")
		}
	}
	if c.opts.Window > 0 {
		c.arm(ctx, key, now)
	}
	return e.Reply, true
}

// Store writes reply under the tuple's key.
func (c *Cache) Store(ctx context.Context, user, message, persona, reply string) {
	data, err := json.Marshal(entry{Reply: reply, Time: c.now().UnixNano()})
	if err != nil {
		return
	}
	if err := c.backend.Set(ctx, Key(user, message, persona), data, c.opts.TTL+c.opts.Window); err != nil {
		log.Warn().Str("component", "cache").Err(err).Msg("cache set failed")
	}
}

func (c *Cache) throttled(ctx context.Context, key string, now time.Time) bool {
	raw, ok, err := c.backend.Get(ctx, throttleKey(key))
	if err != nil || !ok {
		return false
	}
	var armed int64
	if err := json.Unmarshal(raw, &armed); err != nil {
		return false
	}
	return now.Sub(time.Unix(0, armed)) < c.opts.Window
}

func (c *Cache) arm(ctx context.Context, key string, now time.Time) {
	data, _ := json.Marshal(now.UnixNano())
	if err := c.backend.Set(ctx, throttleKey(key), data, c.opts.Window); err != nil {
		log.Warn().Str("component", "cache").Err(err).Msg("throttle set failed")
	}
}

func (c *Cache) Close() error {
	return c.backend.Close()
}
