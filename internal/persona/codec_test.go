package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
command = "小明"
trigger_names = ["小明", "明明"]
personality_desc = "爱讲冷笑话的程序员"
reply_style = "简短幽默"
default_mood = "开心"
creator = "someone-else"
source = "builtin"

[mood_triggers]
"下班" = "开心"
`

func TestDecodeTOML(t *testing.T) {
	p, err := Decode([]byte(sampleTOML), "toml")
	require.NoError(t, err)

	assert.Equal(t, "小明", p.Command)
	assert.Equal(t, []string{"小明", "明明"}, p.TriggerNames)
	assert.Equal(t, "开心", p.DefaultMood)
	assert.Equal(t, "开心", p.MoodTriggers["下班"])
	assert.Equal(t, "[小明]", p.Watermark)
	assert.Empty(t, p.Creator)
	assert.Empty(t, p.Source)
}

func TestDecodeJSON(t *testing.T) {
	data := `{"command":"小红","trigger_names":["小红"],"personality_desc":"安静","reply_style":"温和"}`
	p, err := Decode([]byte(data), "json")
	require.NoError(t, err)
	assert.Equal(t, "小红", p.Command)
	assert.Equal(t, DefaultMood, p.DefaultMood)
}

func TestDecodeMissingFields(t *testing.T) {
	_, err := Decode([]byte(`command = "小明"`), "toml")
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "trigger_names/personality_desc/reply_style")

	_, err = Decode([]byte(`{"command":"x","trigger_names":[],"personality_desc":"a","reply_style":"b"}`), "json")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestDecodeFileFormats(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "xm.TOML")
	require.NoError(t, os.WriteFile(path, []byte(sampleTOML), 0o644))

	p, err := DecodeFile(path, []string{"toml", "json"})
	require.NoError(t, err)
	assert.Equal(t, "小明", p.Command)

	_, err = DecodeFile(filepath.Join(dir, "xm.yaml"), []string{"toml", "json"})
	assert.ErrorIs(t, err, ErrFormat)

	_, err = DecodeFile(path, []string{"json"})
	assert.ErrorIs(t, err, ErrFormat)
}

func TestExportMasksCredentials(t *testing.T) {
	p, err := Decode([]byte(sampleTOML), "toml")
	require.NoError(t, err)
	p.APIKey = "sk-real"
	p.Token = "tok"

	dir := t.TempDir()
	now := time.Unix(1700000000, 0)
	path, err := ExportFile(dir, p, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "小明_export_1700000000.toml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.NotContains(t, text, "sk-real")
	assert.Equal(t, 2, strings.Count(text, masked))
	assert.NotContains(t, text, "secret")

	back, err := Decode(data, "toml")
	require.NoError(t, err)
	assert.Equal(t, p.TriggerNames, back.TriggerNames)
	assert.Equal(t, p.MoodTriggers, back.MoodTriggers)
}
