package reminder

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/persona-bot/internal/storage"
)

type fakeScheduler struct {
	scheduled []storage.Reminder
	err       error
}

func (f *fakeScheduler) ScheduleReminder(r storage.Reminder) error {
	f.scheduled = append(f.scheduled, r)
	return f.err
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[string][]string{}
	}
	f.sent[userID] = append(f.sent[userID], text)
	return nil
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newService(t *testing.T) (*Service, *fakeScheduler, *fakeNotifier, *testClock, storage.Store) {
	t.Helper()
	st, err := storage.NewMemory(filepath.Join(t.TempDir(), "r.json"), 0, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	clk := &testClock{t: now}
	n := &fakeNotifier{}
	sched := &fakeScheduler{}
	svc := New(st, n, Options{Now: clk.now, Retention: 24 * time.Hour})
	svc.Attach(sched)
	return svc, sched, n, clk, st
}

func TestCreateSchedulesAndPersists(t *testing.T) {
	ctx := context.Background()
	svc, sched, _, _, st := newService(t)

	reply, err := svc.Create(ctx, "u", "滴滴喵", "滴滴喵提醒我明天20:30看电视")
	require.NoError(t, err)
	assert.Equal(t, "✅ 已设置提醒：明天20:30 提醒你【看电视】", reply)

	require.Len(t, sched.scheduled, 1)
	pending, err := st.PendingReminders(ctx, "u")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, sched.scheduled[0].ID, pending[0].ID)
	assert.Equal(t, "滴滴喵", pending[0].Persona)
}

func TestCreateRejectsBadPhrase(t *testing.T) {
	ctx := context.Background()
	svc, sched, _, _, st := newService(t)

	reply, err := svc.Create(ctx, "u", "名字", "提醒我8天后看比赛")
	require.NoError(t, err)
	assert.Equal(t, "提醒时间不能超过7天哦～", reply)
	assert.Empty(t, sched.scheduled)
	pending, err := st.PendingReminders(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestScheduleFailureStillPersists(t *testing.T) {
	ctx := context.Background()
	svc, sched, _, _, st := newService(t)
	sched.err = errors.New("scheduler stopped")

	_, err := svc.Create(ctx, "u", "名字", "提醒我2小时后开会")
	require.NoError(t, err)
	pending, err := st.PendingReminders(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, _ := newService(t)

	out, err := svc.List(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "你当前没有待处理的提醒哦～", out)

	_, err = svc.Create(ctx, "u", "名字", "提醒我3天后看比赛")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "u", "名字", "提醒我2小时后开会")
	require.NoError(t, err)

	out, err = svc.List(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "📋 你的提醒列表：\n1. 开会（2026-10-18 12:00:00）\n2. 看比赛（2026-10-21 20:00:00）", out)
}

func TestFireOnceAndNotBeforeDue(t *testing.T) {
	ctx := context.Background()
	svc, sched, n, clk, _ := newService(t)

	_, err := svc.Create(ctx, "u", "陆尔泠", "提醒我2小时后开会")
	require.NoError(t, err)
	id := sched.scheduled[0].ID

	require.NoError(t, svc.Fire(ctx, id))
	assert.Empty(t, n.sent["u"], "not due yet")

	clk.t = clk.t.Add(2 * time.Hour)
	require.NoError(t, svc.Fire(ctx, id))
	require.NoError(t, svc.Fire(ctx, id))
	require.Len(t, n.sent["u"], 1)
	assert.Equal(t, "⏰ 提醒时间到啦！\n陆尔泠提醒你：开会\n设置时间：2小时后(12:00)", n.sent["u"][0])
}

func TestSweepExpiresOverdueWithoutSending(t *testing.T) {
	ctx := context.Background()
	svc, _, n, clk, st := newService(t)

	_, err := svc.Create(ctx, "u", "滴滴喵", "提醒我2小时后喝水")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "v", "名字", "提醒我3天后看比赛")
	require.NoError(t, err)

	clk.t = clk.t.Add(3 * time.Hour)
	expired, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Empty(t, n.sent["u"])
	assert.Empty(t, n.sent["v"])

	pending, err := st.PendingReminders(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	for _, r := range pending {
		assert.True(t, r.TriggerAt.After(clk.t), "no pending reminder left in the past")
	}

	clk.t = clk.t.Add(48 * time.Hour)
	_, err = svc.Sweep(ctx)
	require.NoError(t, err)
	snap, err := st.Dump(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Reminders, 1, "completed reminder pruned after retention")
	assert.Empty(t, n.sent)
}

func TestFireAfterSweepSendsNothing(t *testing.T) {
	ctx := context.Background()
	svc, sched, n, clk, _ := newService(t)

	_, err := svc.Create(ctx, "u", "名字", "提醒我2小时后开会")
	require.NoError(t, err)
	clk.t = clk.t.Add(3 * time.Hour)
	_, err = svc.Sweep(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Fire(ctx, sched.scheduled[0].ID))
	assert.Empty(t, n.sent["u"])
}

func TestSweepPrunesOldConversations(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _, st := newService(t)

	require.NoError(t, st.AppendConversation(ctx, storage.Entry{UserID: "u", Time: now.Add(-48 * time.Hour), Persona: "名字", Content: "old"}))
	require.NoError(t, st.AppendConversation(ctx, storage.Entry{UserID: "u", Time: now.Add(-time.Hour), Persona: "名字", Content: "recent"}))

	_, err := svc.Sweep(ctx)
	require.NoError(t, err)
	entries, err := st.RecentConversation(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "recent", entries[0].Content)
}

func TestRehydrate(t *testing.T) {
	ctx := context.Background()
	svc, sched, n, _, st := newService(t)

	_, err := st.AddReminder(ctx, storage.Reminder{UserID: "u", Content: "overdue", TriggerAt: now.Add(-time.Minute), Persona: "名字"})
	require.NoError(t, err)
	soon, err := st.AddReminder(ctx, storage.Reminder{UserID: "u", Content: "soon", TriggerAt: now.Add(time.Hour), Persona: "名字"})
	require.NoError(t, err)
	_, err = st.AddReminder(ctx, storage.Reminder{UserID: "u", Content: "far", TriggerAt: now.Add(30 * 24 * time.Hour), Persona: "名字"})
	require.NoError(t, err)

	require.NoError(t, svc.Rehydrate(ctx))
	require.Len(t, sched.scheduled, 1)
	assert.Equal(t, soon.ID, sched.scheduled[0].ID)
	assert.Empty(t, n.sent["u"], "overdue reminders are not delivered late")

	pending, err := st.PendingReminders(ctx, "u")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, r := range pending {
		assert.True(t, r.TriggerAt.After(now))
	}
}
