package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "名字", cfg.Persona.Default)
	assert.Equal(t, []string{"toml", "json"}, cfg.Persona.Formats)
	assert.Equal(t, 30*time.Second, cfg.Persona.ConfirmTimeout)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 180*time.Second, cfg.Cache.ThrottleWindow)
	assert.Equal(t, 600*time.Second, cfg.Reminder.SweepInterval)
	assert.Equal(t, 0.7, cfg.LLM.Temperature)
	assert.Equal(t, 300, cfg.LLM.MaxTokens)
	assert.Equal(t, "general", cfg.Scene.Default)
}

func TestNewOverrides(t *testing.T) {
	t.Setenv("LLM_PERSONA_MODELS", "滴滴喵:deepseek/deepseek-chat,名字:gpt-4o")
	t.Setenv("SCENE_NAMES", "general,work")
	t.Setenv("SCENE_DEFAULT_PERSONAS", "work:高冷御姐")
	t.Setenv("CACHE_TTL", "10m")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "deepseek/deepseek-chat", cfg.LLM.PersonaModels["滴滴喵"])
	assert.Equal(t, []string{"general", "work"}, cfg.Scene.Names)
	assert.Equal(t, "高冷御姐", cfg.Scene.DefaultPersonas["work"])
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
}

func TestNewRejectsUnknownDefaultScene(t *testing.T) {
	t.Setenv("SCENE_DEFAULT", "nowhere")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCENE_DEFAULT")
}

func TestParseUnlocks(t *testing.T) {
	g := GrowthConfig{Unlocks: []string{"10:emotion:兴奋", "30:skill:讲故事"}}
	rules, err := g.ParseUnlocks()
	require.NoError(t, err)
	assert.Equal(t, []UnlockRule{
		{Count: 10, Type: "emotion", Value: "兴奋"},
		{Count: 30, Type: "skill", Value: "讲故事"},
	}, rules)

	_, err = GrowthConfig{Unlocks: []string{"ten:emotion:x"}}.ParseUnlocks()
	assert.Error(t, err)
	_, err = GrowthConfig{Unlocks: []string{"1:dance:x"}}.ParseUnlocks()
	assert.Error(t, err)
}

func TestParseRoles(t *testing.T) {
	roles, err := PermissionConfig{DefaultRole: "user"}.ParseRoles()
	require.NoError(t, err)
	assert.Equal(t, []string{"all"}, roles["admin"])

	roles, err = PermissionConfig{
		DefaultRole: "guest",
		Roles:       []string{"guest:message.handle", "mod:message.handle|delete_persona"},
	}.ParseRoles()
	require.NoError(t, err)
	assert.Equal(t, []string{"message.handle", "delete_persona"}, roles["mod"])

	_, err = PermissionConfig{DefaultRole: "nobody", Roles: []string{"guest:message.handle"}}.ParseRoles()
	assert.Error(t, err)
}
