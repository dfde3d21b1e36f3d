// Package permission maps users to roles and roles to allowed operations.
package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/storage"
)

// Operation names checked by the router.
const (
	OpHandle        = "message.handle"
	OpReply         = "message.reply"
	OpSwitchPersona = "switch_persona"
	OpSwitchScene   = "switch_scene"
	OpAddReminder   = "add_reminder"
	OpImport        = "import_persona"
	OpExport        = "export_persona"
	OpDelete        = "delete_persona"
)

const wildcard = "all"

// OperationLogger is the storage method used for the audit trail.
type OperationLogger interface {
	LogOperation(ctx context.Context, op storage.Operation) error
}

type Options struct {
	Enable      bool
	DefaultRole string
	UserRoles   map[string]string
	Roles       map[string][]string
}

type Checker struct {
	enable      bool
	defaultRole string
	userRoles   map[string]string
	roles       map[string]map[string]struct{}
	ops         OperationLogger
	now         func() time.Time
}

func New(opts Options, ops OperationLogger) *Checker {
	roles := make(map[string]map[string]struct{}, len(opts.Roles))
	for role, list := range opts.Roles {
		set := make(map[string]struct{}, len(list))
		for _, op := range list {
			set[op] = struct{}{}
		}
		roles[role] = set
	}
	return &Checker{
		enable:      opts.Enable,
		defaultRole: opts.DefaultRole,
		userRoles:   opts.UserRoles,
		roles:       roles,
		ops:         ops,
		now:         time.Now,
	}
}

// Role returns the user's role, falling back to the default role.
func (c *Checker) Role(userID string) string {
	if r, ok := c.userRoles[userID]; ok {
		return r
	}
	return c.defaultRole
}

// Check reports whether userID may perform op. When denied, msg is the reply
// to send back.
func (c *Checker) Check(userID, op string) (ok bool, msg string) {
	if c == nil || !c.enable {
		return true, ""
	}
	role := c.Role(userID)
	allowed := c.roles[role]
	if _, ok := allowed[wildcard]; ok {
		return true, ""
	}
	if _, ok := allowed[op]; ok {
		return true, ""
	}
	return false, fmt.Sprintf("你没有%s权限（当前角色：%s），请联系管理员升级权限～", op, role)
}

// Log records an operation result. Storage failures are logged only.
func (c *Checker) Log(ctx context.Context, userID, op, result string) {
	if c == nil {
		return
	}
	log.Info().Str("component", "permission").Str("user", userID).Str("op", op).Str("result", result).Msg("operation")
	if c.ops == nil {
		return
	}
	err := c.ops.LogOperation(ctx, storage.Operation{UserID: userID, Operation: op, Time: c.now(), Result: result})
	if err != nil {
		log.Warn().Str("component", "permission").Err(err).Msg("failed to persist operation log")
	}
}
