package permission

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/persona-bot/internal/storage"
)

func testOptions() Options {
	return Options{
		Enable:      true,
		DefaultRole: "user",
		UserRoles:   map[string]string{"boss": "admin", "visitor": "guest"},
		Roles: map[string][]string{
			"admin": {"all"},
			"user":  {OpHandle, OpSwitchPersona},
			"guest": {OpHandle},
		},
	}
}

func TestCheck(t *testing.T) {
	c := New(testOptions(), nil)

	ok, _ := c.Check("boss", OpDelete)
	assert.True(t, ok)

	ok, _ = c.Check("someone", OpSwitchPersona)
	assert.True(t, ok, "unknown users get the default role")

	ok, msg := c.Check("visitor", OpSwitchPersona)
	assert.False(t, ok)
	assert.Equal(t, "你没有switch_persona权限（当前角色：guest），请联系管理员升级权限～", msg)
}

func TestDisabledAllowsEverything(t *testing.T) {
	opts := testOptions()
	opts.Enable = false
	ok, msg := New(opts, nil).Check("visitor", OpDelete)
	assert.True(t, ok)
	assert.Empty(t, msg)

	var nilChecker *Checker
	ok, _ = nilChecker.Check("visitor", OpDelete)
	assert.True(t, ok)
}

func TestLogPersists(t *testing.T) {
	st, err := storage.NewMemory(filepath.Join(t.TempDir(), "ops.json"), 0, 1)
	require.NoError(t, err)
	defer st.Close()

	c := New(testOptions(), st)
	c.Log(context.Background(), "u1", OpHandle, "拒绝：无权限")

	ops, err := st.Operations(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpHandle, ops[0].Operation)
	assert.Equal(t, "拒绝：无权限", ops[0].Result)
}
