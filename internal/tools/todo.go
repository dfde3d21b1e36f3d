package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/keshon/persona-bot/internal/storage"
)

// TodoStore is the part of storage the todo tool needs.
type TodoStore interface {
	AddTodo(ctx context.Context, t storage.Todo) (storage.Todo, error)
	Todos(ctx context.Context, userID string) ([]storage.Todo, error)
	CompleteTodo(ctx context.Context, id string) error
}

// Todo keeps a per-user todo list. It answers messages mentioning 待办 or
// 提醒 together with 添加, 查询 or 完成.
type Todo struct {
	st  TodoStore
	now func() time.Time
}

func NewTodo(st TodoStore) *Todo {
	return &Todo{st: st, now: time.Now}
}

func (t *Todo) Name() string { return "todo" }

func (t *Todo) Handle(ctx context.Context, userID, text string) (string, bool, error) {
	if !containsAny(text, "待办", "提醒") {
		return "", false, nil
	}
	switch {
	case strings.Contains(text, "添加"):
		content := strings.TrimSpace(lastPart(text, "添加"))
		if content == "" {
			return "请告诉我要添加的待办内容～", true, nil
		}
		if _, err := t.st.AddTodo(ctx, storage.Todo{UserID: userID, Content: content, Time: t.now()}); err != nil {
			return "添加待办失败啦～ 稍后再试试吧～", true, err
		}
		return fmt.Sprintf("✅ 已添加待办：%s，记得按时完成哦～", content), true, nil

	case strings.Contains(text, "查询"):
		todos, err := t.st.Todos(ctx, userID)
		if err != nil {
			return "查询待办失败啦～ 稍后再试试吧～", true, err
		}
		if len(todos) == 0 {
			return "你当前没有待办哦～ 可以添加新的待办呀～", true, nil
		}
		var b strings.Builder
		b.WriteString("📝 你的待办清单：")
		for i, td := range todos {
			status := "已完成"
			if td.Status == storage.StatusPending {
				status = "未完成"
			}
			fmt.Fprintf(&b, "\n%d. %s（%s - %s）", i+1, td.Content, td.Time.Format("2006-01-02 15:04:05"), status)
		}
		return b.String(), true, nil

	case strings.Contains(text, "完成"):
		n, err := strconv.Atoi(strings.TrimSpace(lastPart(text, "完成")))
		if err != nil {
			return "请输入正确的待办序号（如/完成1）～", true, nil
		}
		todos, err := t.st.Todos(ctx, userID)
		if err != nil {
			return "完成待办失败啦～ 稍后再试试吧～", true, err
		}
		if n < 1 || n > len(todos) {
			return "待办序号不存在～", true, nil
		}
		td := todos[n-1]
		if err := t.st.CompleteTodo(ctx, td.ID); err != nil {
			return "完成待办失败啦～ 稍后再试试吧～", true, err
		}
		return fmt.Sprintf("✅ 已标记待办「%s」为已完成～", td.Content), true, nil
	}
	return "", false, nil
}

func lastPart(text, sep string) string {
	i := strings.LastIndex(text, sep)
	return text[i+len(sep):]
}
