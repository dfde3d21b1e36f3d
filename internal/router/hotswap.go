package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/keshon/persona-bot/internal/permission"
	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/pkg/cmd"
)

// permissionMiddleware denies commands whose name is not an allowed
// operation for the caller's role.
func permissionMiddleware(perm *permission.Checker) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			if ok, msg := perm.Check(inv.UserID, c.Name()); !ok {
				inv.Reply(msg)
				perm.Log(ctx, inv.UserID, c.Name(), "拒绝：无权限")
				return nil
			}
			return c.Run(ctx, inv)
		})
	}
}

// auditMiddleware writes one operation log entry per command run.
func auditMiddleware(perm *permission.Checker) cmd.Middleware {
	return func(c cmd.Command) cmd.Command {
		return cmd.Wrap(c, func(ctx context.Context, inv *cmd.Invocation) error {
			err := c.Run(ctx, inv)
			result := c.Description() + "：" + inv.Arg()
			if err != nil {
				result = "失败：" + err.Error()
			}
			perm.Log(ctx, inv.UserID, c.Name(), result)
			return err
		})
	}
}

func (r *Router) registerHotSwap() {
	r.commands.Register(cmd.Func{CmdName: permission.OpImport, Desc: "导入人格", Fn: r.importPersona})
	r.commands.Register(cmd.Func{CmdName: permission.OpExport, Desc: "导出人格", Fn: r.exportPersona})
	r.commands.Register(cmd.Func{CmdName: permission.OpDelete, Desc: "删除人格", Fn: r.deletePersona})
}

func (r *Router) isAdmin(userID string) bool {
	for _, a := range r.opts.Admins {
		if a == userID {
			return true
		}
	}
	return false
}

func (r *Router) importPersona(ctx context.Context, inv *cmd.Invocation) error {
	filename := inv.Arg()
	dir := r.opts.ImportDir
	path := filepath.Join(dir, filename)
	if filename == "" || filepath.Base(filename) != filename {
		inv.Reply("未找到文件：%s（请放入%s目录）", filename, dir)
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		inv.Reply("未找到文件：%s（请放入%s目录）", filename, dir)
		return nil
	}

	p, err := persona.DecodeFile(path, r.opts.Formats)
	switch {
	case errors.Is(err, persona.ErrFormat):
		inv.Reply("不支持的格式：%s，仅支持%s", persona.Format(filename), strings.Join(r.opts.Formats, "/"))
		return nil
	case errors.Is(err, persona.ErrMissingField):
		inv.Reply("人格文件缺少必填字段（command/trigger_names/personality_desc/reply_style）")
		return nil
	case err != nil:
		inv.Reply("导入失败：%v", err)
		return err
	}
	if r.reg.IsBuiltin(p.Command) {
		inv.Reply("内置人格「%s」不允许覆盖～", p.Command)
		return nil
	}
	p.Creator = inv.UserID

	install := func(ctx context.Context) []string {
		if err := r.reg.Add(p, true); err != nil {
			log.Error().Str("component", "router").Str("user", inv.UserID).Err(err).Msg("import failed")
			return []string{"导入失败：" + err.Error()}
		}
		log.Info().Str("component", "router").Str("user", inv.UserID).Str("persona", p.Command).Str("file", filename).Msg("persona imported")
		return []string{"✅ 成功导入人格「" + p.Command + "」，发送名字或/" + p.Command + "即可切换"}
	}

	if r.reg.Has(p.Command) {
		r.confirms.Ask(inv.UserID, confirmation{
			op:        permission.OpImport,
			accept:    install,
			cancelled: "已取消覆盖",
			timedOut:  "确认超时，已取消",
		})
		inv.Reply("人格「%s」已存在，是否覆盖？发送Y确认/N取消", p.Command)
		return nil
	}
	inv.Replies = append(inv.Replies, install(ctx)...)
	return nil
}

func (r *Router) exportPersona(_ context.Context, inv *cmd.Invocation) error {
	name := inv.Arg()
	p, ok := r.reg.Get(name)
	if !ok {
		inv.Reply("人格「%s」不存在", name)
		return nil
	}
	if !r.reg.IsBuiltin(name) && p.Creator != inv.UserID && !r.isAdmin(inv.UserID) {
		inv.Reply("你无权导出该人格（仅创建者或管理员可导出）")
		return nil
	}
	path, err := persona.ExportFile(r.opts.ImportDir, p, r.now())
	if err != nil {
		inv.Reply("导出失败：%v", err)
		return err
	}
	log.Info().Str("component", "router").Str("user", inv.UserID).Str("persona", name).Str("path", path).Msg("persona exported")
	inv.Reply("✅ 成功导出人格「%s」到：%s", name, path)
	return nil
}

func (r *Router) deletePersona(_ context.Context, inv *cmd.Invocation) error {
	name := inv.Arg()
	if r.reg.IsBuiltin(name) {
		inv.Reply("内置人格不允许删除～")
		return nil
	}
	p, ok := r.reg.Get(name)
	if !ok {
		inv.Reply("自定义人格「%s」不存在～", name)
		return nil
	}
	if p.Creator != inv.UserID && !r.isAdmin(inv.UserID) {
		inv.Reply("你无权删除该人格（仅创建者或管理员可删除）")
		return nil
	}

	r.confirms.Ask(inv.UserID, confirmation{
		op: permission.OpDelete,
		accept: func(ctx context.Context) []string {
			if err := r.reg.Remove(ctx, name); err != nil {
				log.Error().Str("component", "router").Str("user", inv.UserID).Err(err).Msg("delete failed")
				return []string{"删除失败：" + err.Error()}
			}
			r.switcher.Forget(name)
			if err := r.scenes.ClearPersona(ctx, name); err != nil {
				log.Warn().Str("component", "router").Err(err).Msg("failed to clear scene defaults")
			}
			log.Info().Str("component", "router").Str("user", inv.UserID).Str("persona", name).Msg("persona deleted")
			return []string{"✅ 成功删除自定义人格「" + name + "」～"}
		},
		cancelled: "已取消删除～",
		timedOut:  "确认超时，已取消删除～",
	})
	inv.Reply("确定要删除人格「%s」吗？发送Y确认/N取消", name)
	return nil
}
