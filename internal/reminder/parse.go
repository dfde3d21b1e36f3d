package reminder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	eveningHour = 20
	maxAhead    = 7 * 24 * time.Hour
	minAhead    = time.Minute
)

var (
	ErrFormat        = errors.New("reminder format not recognized")
	ErrUnknownPhrase = errors.New("unknown time phrase")
	ErrTooFar        = errors.New("reminder more than 7 days ahead")
	ErrTooSoon       = errors.New("reminder less than a minute ahead")
)

const helpText = "提醒格式不正确～请使用类似格式：\n名字提醒我晚上看天气预报\n/名字 提醒我3天后看比赛\n/名字 提醒我明天20:30看电视"

// UserMessage turns a Parse error into the reply shown to the user.
func UserMessage(err error) string {
	var pe *PhraseError
	switch {
	case errors.As(err, &pe):
		return fmt.Sprintf("无法识别的时间格式：%s，请使用：晚上/明天/后天/X天后/X小时后/具体时间(如20:30)", pe.Phrase)
	case errors.Is(err, ErrTooFar):
		return "提醒时间不能超过7天哦～"
	case errors.Is(err, ErrTooSoon):
		return "提醒时间太近啦，请设置至少1分钟后的提醒～"
	default:
		return helpText
	}
}

// PhraseError wraps ErrUnknownPhrase with the offending phrase.
type PhraseError struct{ Phrase string }

func (e *PhraseError) Error() string { return fmt.Sprintf("%v: %s", ErrUnknownPhrase, e.Phrase) }
func (e *PhraseError) Unwrap() error { return ErrUnknownPhrase }

var (
	requestRe = regexp.MustCompile(`提醒(?:我|你)?`)
	phraseRe  = regexp.MustCompile(`(今天|明天|后天|大后天)?(\d{1,2})[:：](\d{1,2})|(今天|明天|后天|大后天)?(晚上|傍晚)|(\d+)天后|(\d+)小时后|(明天|后天|大后天)`)
)

var dayOffsets = map[string]int{"今天": 0, "明天": 1, "后天": 2, "大后天": 3}

var dayNames = []string{"今天", "明天", "后天", "大后天"}

// Parsed is a recognized reminder request.
type Parsed struct {
	Content string
	At      time.Time
	Display string
}

var listPhrases = []string{"我的提醒", "列出提醒", "查看提醒"}

// IsList reports whether text asks for the pending reminder list.
func IsList(text string) bool {
	for _, p := range listPhrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// IsRequest reports whether text asks for a new reminder. List requests
// are not reminder requests.
func IsRequest(text string) bool {
	if IsList(text) {
		return false
	}
	return strings.Contains(text, "提醒") && (strings.Contains(text, "我") || strings.Contains(text, "你"))
}

// Parse extracts the reminder content and trigger time from text. The time
// phrase may appear anywhere after the 提醒 keyword.
func Parse(text string, now time.Time) (Parsed, error) {
	loc := requestRe.FindStringIndex(text)
	if loc == nil {
		return Parsed{}, ErrFormat
	}
	rest := text[loc[1]:]

	m := phraseRe.FindStringSubmatchIndex(rest)
	if m == nil {
		return Parsed{}, ErrFormat
	}
	group := func(i int) string {
		if m[2*i] < 0 {
			return ""
		}
		return rest[m[2*i]:m[2*i+1]]
	}
	phrase := rest[m[0]:m[1]]

	var at time.Time
	var display string
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	evening := func(days int) time.Time {
		return midnight.AddDate(0, 0, days).Add(eveningHour * time.Hour)
	}

	switch {
	case group(2) != "":
		hour, _ := strconv.Atoi(group(2))
		minute, _ := strconv.Atoi(group(3))
		if hour > 23 || minute > 59 {
			return Parsed{}, &PhraseError{Phrase: phrase}
		}
		days := dayOffsets[group(1)]
		at = midnight.AddDate(0, 0, days).Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
		if group(1) == "" && !at.After(now) {
			days = 1
			at = at.AddDate(0, 0, 1)
		}
		display = fmt.Sprintf("%s%d:%02d", dayNames[days], hour, minute)
	case group(5) != "":
		days := dayOffsets[group(4)]
		at = evening(days)
		if group(4) == "" && !at.After(now) {
			days = 1
			at = evening(1)
		}
		display = dayNames[days] + "晚上20:00"
	case group(6) != "":
		n, err := strconv.Atoi(group(6))
		if err != nil {
			return Parsed{}, &PhraseError{Phrase: phrase}
		}
		if n > 7 {
			return Parsed{}, ErrTooFar
		}
		at = evening(n)
		display = fmt.Sprintf("%d天后20:00", n)
	case group(7) != "":
		n, err := strconv.Atoi(group(7))
		if err != nil {
			return Parsed{}, &PhraseError{Phrase: phrase}
		}
		at = now.Add(time.Duration(n) * time.Hour)
		display = fmt.Sprintf("%d小时后(%d:%02d)", n, at.Hour(), at.Minute())
	case group(8) != "":
		days := dayOffsets[group(8)]
		at = evening(days)
		display = group(8) + "晚上20:00"
	default:
		return Parsed{}, &PhraseError{Phrase: phrase}
	}

	if d := at.Sub(now); d > maxAhead {
		return Parsed{}, ErrTooFar
	} else if d < minAhead {
		return Parsed{}, ErrTooSoon
	}

	content := joinContent(rest[:m[0]], rest[m[1]:])
	if content == "" {
		return Parsed{}, ErrFormat
	}
	return Parsed{Content: content, At: at, Display: display}, nil
}

func joinContent(before, after string) string {
	before = strings.TrimSpace(before)
	for _, s := range []string{"在", "到"} {
		before = strings.TrimSuffix(before, s)
	}
	after = strings.TrimSpace(after)
	for _, p := range []string{"的时候", "时候"} {
		if strings.HasPrefix(after, p) {
			after = strings.TrimPrefix(after, p)
			break
		}
	}
	return strings.Trim(strings.TrimSpace(before+after), "，,。.！!～~ ")
}
