package persona

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() GrowthConfig {
	return GrowthConfig{
		Enable:     true,
		BaseCount:  2,
		LevelCount: 2,
		MaxLevel:   3,
		Unlocks: []UnlockRule{
			{Count: 2, Unlock: Unlock{Type: "emotion", Value: "兴奋"}},
			{Count: 3, Unlock: Unlock{Type: "skill", Value: "讲故事"}},
		},
	}
}

func customPersona(name string) Persona {
	return Persona{
		Command:         name,
		TriggerNames:    []string{name, name + "酱"},
		PersonalityDesc: "测试人格",
		ReplyStyle:      "简短",
	}
}

func TestBuiltinsSeeded(t *testing.T) {
	r := NewRegistry(testConfig(), nil)

	names := r.Names()
	require.Len(t, names, 8)
	assert.Equal(t, DefaultName, names[0])
	for _, n := range names {
		assert.True(t, r.IsBuiltin(n), n)
	}
	p, ok := r.Get(DefaultName)
	require.True(t, ok)
	assert.Equal(t, "名字来啦～", p.ReplyWhenCalled)
	assert.Equal(t, DefaultMood, r.Mood(DefaultName))
}

func TestAddCustomAppliesDefaults(t *testing.T) {
	r := NewRegistry(testConfig(), nil)
	require.NoError(t, r.Add(customPersona("小明"), true))

	p, ok := r.Get("小明")
	require.True(t, ok)
	assert.Equal(t, SourceImported, p.Source)
	assert.Equal(t, "[小明]", p.Watermark)
	assert.Equal(t, "小明在呢～", p.ReplyWhenCalled)
	assert.Equal(t, "小明突然出现啦～", p.ReplyWhenRandom)
	assert.Equal(t, []string{"general"}, p.SceneWhitelist)
	assert.Equal(t, "自定义", p.PreferenceTag)
	assert.Equal(t, DefaultMood, r.Mood("小明"))
	assert.Equal(t, "小明", r.Names()[len(r.Names())-1])
}

func TestAddRejectsInvalidAndBuiltin(t *testing.T) {
	r := NewRegistry(testConfig(), nil)

	err := r.Add(Persona{Command: "空"}, true)
	assert.ErrorIs(t, err, ErrMissingField)

	p := customPersona(DefaultName)
	assert.ErrorIs(t, r.Add(p, true), ErrBuiltin)
	got, _ := r.Get(DefaultName)
	assert.Equal(t, SourceBuiltin, got.Source)
}

func TestOverwriteKeepsPosition(t *testing.T) {
	r := NewRegistry(testConfig(), nil)
	require.NoError(t, r.Add(customPersona("甲"), true))
	require.NoError(t, r.Add(customPersona("乙"), true))

	updated := customPersona("甲")
	updated.ReplyStyle = "更长"
	require.NoError(t, r.Add(updated, true))

	names := r.Names()
	assert.Equal(t, []string{"甲", "乙"}, names[len(names)-2:])
	p, _ := r.Get("甲")
	assert.Equal(t, "更长", p.ReplyStyle)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	store := newMemGrowthStore()
	r := NewRegistry(testConfig(), store)
	require.NoError(t, r.Add(customPersona("小明"), true))
	_, err := r.RecordSwitch(ctx, DefaultName, "小明")
	require.NoError(t, err)

	before := r.Len()
	err = r.Remove(ctx, "滴滴喵")
	assert.ErrorIs(t, err, ErrBuiltin)
	assert.Equal(t, before, r.Len())

	assert.ErrorIs(t, r.Remove(ctx, "不存在"), ErrNotFound)

	require.NoError(t, r.Remove(ctx, "小明"))
	assert.False(t, r.Has("小明"))
	assert.Equal(t, Growth{}, r.Growth("小明"))
	assert.Equal(t, Relationship{Level: 1}, r.Relationship(DefaultName, "小明"))
	assert.Empty(t, store.growth["小明"])
	assert.NotContains(t, store.rels, Pair(DefaultName, "小明"))
}

func TestMatchTriggerUsesRegistryOrder(t *testing.T) {
	r := NewRegistry(testConfig(), nil)
	p, ok := r.MatchTrigger("叫滴滴喵和学长出来")
	require.True(t, ok)
	assert.Equal(t, "滴滴喵", p.Command)

	_, ok = r.MatchTrigger("今天天气不错")
	assert.False(t, ok)
}

func TestMatchMoodTrigger(t *testing.T) {
	r := NewRegistry(testConfig(), nil)
	mood, ok := r.MatchMoodTrigger("滴滴喵", "给你小鱼干")
	require.True(t, ok)
	assert.Equal(t, "兴奋", mood)

	require.NoError(t, r.SetMood("滴滴喵", mood))
	assert.Equal(t, "兴奋", r.Mood("滴滴喵"))

	_, ok = r.MatchMoodTrigger("滴滴喵", "你好")
	assert.False(t, ok)
	assert.ErrorIs(t, r.SetMood("不存在", "开心"), ErrNotFound)
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry(testConfig(), nil)
	p, _ := r.Get("滴滴喵")
	p.MoodTriggers["新词"] = "新情绪"
	p.TriggerNames[0] = "改名"

	again, _ := r.Get("滴滴喵")
	assert.NotContains(t, again.MoodTriggers, "新词")
	assert.Equal(t, "滴滴喵", again.TriggerNames[0])
}
