package persona

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memGrowthStore struct {
	mu     sync.Mutex
	rels   map[PairKey]Relationship
	growth map[string]Growth
}

func newMemGrowthStore() *memGrowthStore {
	return &memGrowthStore{rels: map[PairKey]Relationship{}, growth: map[string]Growth{}}
}

func (m *memGrowthStore) SaveRelationship(_ context.Context, k PairKey, rel Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rels[k] = rel
	return nil
}

func (m *memGrowthStore) SaveGrowth(_ context.Context, name string, g Growth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.growth[name] = g
	return nil
}

func (m *memGrowthStore) DeletePersonaState(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.growth, name)
	for k := range m.rels {
		if k.A == name || k.B == name {
			delete(m.rels, k)
		}
	}
	return nil
}

func (m *memGrowthStore) LoadRelationships(context.Context) (map[PairKey]Relationship, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneMap(m.rels), nil
}

func (m *memGrowthStore) LoadGrowth(context.Context) (map[string]Growth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneMap(m.growth), nil
}

func TestRecordSwitchCountsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(testConfig(), nil)

	for _, target := range r.Names()[1:] {
		beforeRel := r.Relationship(DefaultName, target).InteractCount
		beforeGrowth := r.Growth(target).InteractCount

		_, err := r.RecordSwitch(ctx, DefaultName, target)
		require.NoError(t, err)

		assert.Equal(t, beforeRel+1, r.Relationship(DefaultName, target).InteractCount, target)
		assert.Equal(t, beforeRel+1, r.Relationship(target, DefaultName).InteractCount, "symmetric")
		assert.Equal(t, beforeGrowth+1, r.Growth(target).InteractCount, target)
	}
}

func TestRecordSwitchSamePersonaSkipsRelationship(t *testing.T) {
	r := NewRegistry(testConfig(), nil)
	out, err := r.RecordSwitch(context.Background(), "滴滴喵", "滴滴喵")
	require.NoError(t, err)
	assert.Nil(t, out.Relationship)
	assert.Equal(t, 1, r.Growth("滴滴喵").InteractCount)
}

func TestRelationshipLevelsUpAndCaps(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(testConfig(), nil)

	// base 2, step 2, max 3: level 2 at 2 interactions, level 3 at 4
	levels := []int{}
	for i := 0; i < 8; i++ {
		_, err := r.RecordSwitch(ctx, "滴滴喵", "陆尔泠")
		require.NoError(t, err)
		levels = append(levels, r.Relationship("滴滴喵", "陆尔泠").Level)
	}
	assert.Equal(t, []int{1, 2, 2, 3, 3, 3, 3, 3}, levels)
}

func TestGrowthUnlocksOnceAndMutatesTables(t *testing.T) {
	ctx := context.Background()
	store := newMemGrowthStore()
	r := NewRegistry(testConfig(), store)

	out, err := r.RecordSwitch(ctx, "", "陆尔泠")
	require.NoError(t, err)
	assert.Empty(t, out.Unlocked)

	out, err = r.RecordSwitch(ctx, "", "陆尔泠")
	require.NoError(t, err)
	assert.Equal(t, []Unlock{{Type: "emotion", Value: "兴奋"}}, out.Unlocked)

	out, err = r.RecordSwitch(ctx, "", "陆尔泠")
	require.NoError(t, err)
	assert.Equal(t, []Unlock{{Type: "skill", Value: "讲故事"}}, out.Unlocked)

	out, err = r.RecordSwitch(ctx, "", "陆尔泠")
	require.NoError(t, err)
	assert.Empty(t, out.Unlocked)

	p, _ := r.Get("陆尔泠")
	assert.Equal(t, "兴奋", p.MoodTriggers["解锁情绪兴奋"])
	assert.Equal(t, "语气极度活泼，多带🎉🔥颜文字，句子简短有力", p.MoodReplyStyle["兴奋"])
	assert.Equal(t, "/讲故事", p.Skills["讲故事"].Command)
	assert.Len(t, p.Unlocked, 2)
	assert.Equal(t, 4, store.growth["陆尔泠"].InteractCount)
}

func TestApplyUnlockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(testConfig(), nil)
	u := Unlock{Type: "reply_style", Value: "诗意"}

	applied, err := r.ApplyUnlock(ctx, "文艺青年", u)
	require.NoError(t, err)
	assert.True(t, applied)
	once, _ := r.Get("文艺青年")

	applied, err = r.ApplyUnlock(ctx, "文艺青年", u)
	require.NoError(t, err)
	assert.False(t, applied)
	twice, _ := r.Get("文艺青年")

	assert.Equal(t, once.Unlocked, twice.Unlocked)
	assert.Equal(t, once.AdvancedReplyStyle, twice.AdvancedReplyStyle)
}

func TestApplyUnlockNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(testConfig(), nil)
	p := customPersona("小明")
	p.MoodReplyStyle = map[string]string{"温柔": "我自己的风格"}
	require.NoError(t, r.Add(p, true))

	_, err := r.ApplyUnlock(ctx, "小明", Unlock{Type: "emotion", Value: "温柔"})
	require.NoError(t, err)
	got, _ := r.Get("小明")
	assert.Equal(t, "我自己的风格", got.MoodReplyStyle["温柔"])
	assert.Equal(t, "温柔", got.MoodTriggers["解锁情绪温柔"])

	_, err = r.ApplyUnlock(ctx, "小明", Unlock{Type: "emotion", Value: "未知"})
	require.NoError(t, err)
	got, _ = r.Get("小明")
	assert.Equal(t, "默认风格", got.MoodReplyStyle["未知"])
}

func TestLoadRestoresCounters(t *testing.T) {
	ctx := context.Background()
	store := newMemGrowthStore()
	first := NewRegistry(testConfig(), store)
	for i := 0; i < 3; i++ {
		_, err := first.RecordSwitch(ctx, "名字", "沙雕网友")
		require.NoError(t, err)
	}

	second := NewRegistry(testConfig(), store)
	require.NoError(t, second.Load(ctx))
	assert.Equal(t, first.Relationship("名字", "沙雕网友"), second.Relationship("名字", "沙雕网友"))
	assert.Equal(t, 3, second.Growth("沙雕网友").InteractCount)
	p, _ := second.Get("沙雕网友")
	assert.Contains(t, p.Skills, "讲故事")
}

func TestDisabledGrowthIsNoop(t *testing.T) {
	cfg := testConfig()
	cfg.Enable = false
	r := NewRegistry(cfg, nil)
	_, err := r.RecordSwitch(context.Background(), "名字", "滴滴喵")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Growth("滴滴喵").InteractCount)
}
