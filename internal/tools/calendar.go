package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/keshon/persona-bot/pkg/retrylimit"
)

const calendarFailed = "查询日程失败啦～ 稍后再试试吧～"

// Event is one calendar entry.
type Event struct {
	Summary string
	Start   time.Time
}

// Calendar lists upcoming events from an iCalendar feed.
type Calendar struct {
	URL    string
	Window time.Duration
	Limit  int

	client  *http.Client
	limiter *retrylimit.AdaptiveLimiter
	now     func() time.Time
}

func NewCalendar(url string) *Calendar {
	return &Calendar{
		URL:     url,
		Window:  7 * 24 * time.Hour,
		Limit:   5,
		client:  newHTTPClient(10 * time.Second),
		limiter: retrylimit.NewAdaptiveLimiter(1, 1, 2, 1, 0.5),
		now:     time.Now,
	}
}

func (c *Calendar) Name() string { return "calendar" }

func (c *Calendar) Handle(ctx context.Context, _ string, text string) (string, bool, error) {
	if !containsAny(text, "日历", "会议", "日程") {
		return "", false, nil
	}
	if c.URL == "" {
		return "日历工具未启用～", true, nil
	}
	body, err := httpGet(ctx, c.client, c.limiter, c.URL)
	if err != nil {
		return calendarFailed, true, fmt.Errorf("calendar request: %w", err)
	}
	events, err := ParseICS(body, c.now().Location())
	if err != nil {
		return calendarFailed, true, err
	}

	now := c.now()
	var upcoming []Event
	for _, e := range events {
		if !e.Start.Before(now) && e.Start.Before(now.Add(c.Window)) {
			upcoming = append(upcoming, e)
		}
	}
	if len(upcoming) == 0 {
		return "近期没有日程哦～ 好好休息吧～", true, nil
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Start.Before(upcoming[j].Start) })
	if c.Limit > 0 && len(upcoming) > c.Limit {
		upcoming = upcoming[:c.Limit]
	}
	var b strings.Builder
	b.WriteString("📅 近期日程：")
	for i, e := range upcoming {
		fmt.Fprintf(&b, "\n%d. %s（%s）", i+1, e.Summary, e.Start.In(now.Location()).Format("01-02 15:04"))
	}
	return b.String(), true, nil
}

// ParseICS extracts VEVENT summaries and start times. Floating and
// date-only times are read in loc.
func ParseICS(data []byte, loc *time.Location) ([]Event, error) {
	var events []Event
	var cur *Event
	for _, line := range unfold(data) {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		prop, params, _ := strings.Cut(name, ";")
		switch strings.ToUpper(prop) {
		case "BEGIN":
			if strings.EqualFold(value, "VEVENT") {
				cur = &Event{}
			}
		case "END":
			if strings.EqualFold(value, "VEVENT") && cur != nil {
				if !cur.Start.IsZero() {
					events = append(events, *cur)
				}
				cur = nil
			}
		case "SUMMARY":
			if cur != nil {
				cur.Summary = unescapeText(value)
			}
		case "DTSTART":
			if cur != nil {
				t, err := parseICSTime(value, params, loc)
				if err != nil {
					return nil, fmt.Errorf("parse DTSTART %q: %w", value, err)
				}
				cur.Start = t
			}
		}
	}
	return events, nil
}

// unfold joins continuation lines (RFC 5545 section 3.1).
func unfold(data []byte) []string {
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func parseICSTime(value, params string, loc *time.Location) (time.Time, error) {
	for _, p := range strings.Split(params, ";") {
		k, v, _ := strings.Cut(p, "=")
		if strings.EqualFold(k, "TZID") {
			if l, err := time.LoadLocation(v); err == nil {
				loc = l
			}
		}
	}
	switch {
	case strings.HasSuffix(value, "Z"):
		return time.Parse("20060102T150405Z", value)
	case len(value) == len("20060102"):
		return time.ParseInLocation("20060102", value, loc)
	default:
		return time.ParseInLocation("20060102T150405", value, loc)
	}
}

func unescapeText(s string) string {
	r := strings.NewReplacer(`\n`, " ", `\N`, " ", `\,`, ",", `\;`, ";", `\\`, `\`)
	return r.Replace(s)
}
