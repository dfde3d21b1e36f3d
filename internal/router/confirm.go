package router

import (
	"context"
	"strings"
	"sync"
	"time"
)

// confirmation is a pending Y/N question for one user.
type confirmation struct {
	op      string
	expires time.Time
	accept  func(ctx context.Context) []string
	// replies for N and for an answer that arrived too late
	cancelled string
	timedOut  string
}

// confirmations holds at most one pending question per user. Expiry is
// checked when the user answers and by Purge.
type confirmations struct {
	mu      sync.Mutex
	pending map[string]*confirmation
	timeout time.Duration
	now     func() time.Time
}

func newConfirmations(timeout time.Duration, now func() time.Time) *confirmations {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &confirmations{pending: make(map[string]*confirmation), timeout: timeout, now: now}
}

// Ask replaces any pending question of the user.
func (c *confirmations) Ask(userID string, conf confirmation) {
	conf.expires = c.now().Add(c.timeout)
	c.mu.Lock()
	c.pending[userID] = &conf
	c.mu.Unlock()
}

// Answer consumes a pending question when text is Y or N. handled is false
// when nothing is pending or text is not an answer; such messages are
// routed normally and the question stays open.
func (c *confirmations) Answer(ctx context.Context, userID, text string) (replies []string, op string, handled bool) {
	answer := strings.ToUpper(strings.TrimSpace(text))
	if answer != "Y" && answer != "N" {
		return nil, "", false
	}
	c.mu.Lock()
	conf, ok := c.pending[userID]
	if ok {
		delete(c.pending, userID)
	}
	c.mu.Unlock()
	if !ok {
		return nil, "", false
	}

	switch {
	case !c.now().Before(conf.expires):
		return []string{conf.timedOut}, conf.op, true
	case answer == "Y":
		return conf.accept(ctx), conf.op, true
	default:
		return []string{conf.cancelled}, conf.op, true
	}
}

// Pending reports whether the user has an unexpired question.
func (c *confirmations) Pending(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	conf, ok := c.pending[userID]
	return ok && c.now().Before(conf.expires)
}

// Purge drops expired questions and returns how many were dropped.
func (c *confirmations) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for user, conf := range c.pending {
		if !now.Before(conf.expires) {
			delete(c.pending, user)
			n++
		}
	}
	return n
}
