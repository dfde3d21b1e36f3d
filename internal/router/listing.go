package router

import (
	"fmt"
	"strings"

	"github.com/keshon/persona-bot/internal/persona"
	"github.com/keshon/persona-bot/internal/storage"
	"github.com/keshon/persona-bot/pkg/cmd"
)

const (
	maxMessageLen  = 2000
	maxDescRunes   = 50
	topActiveCount = 3
)

// renderListing formats the persona list with active marks, totals, the
// most switched personas and usage tips, one per registered command.
func renderListing(personas []persona.Persona, active string, stats []storage.PersonaStat, commands []cmd.Command) string {
	var b strings.Builder
	b.WriteString("🎭 **人格列表**\n\n")
	for i, p := range personas {
		mark := ""
		if p.Command == active {
			mark = "🌟 "
		}
		fmt.Fprintf(&b, "%s%d. **%s**\n", mark, i+1, p.Command)
		fmt.Fprintf(&b, "   描述: %s...\n", truncateRunes(p.Summary(), maxDescRunes))
		fmt.Fprintf(&b, "   触发词: %s\n", strings.Join(p.TriggerNames, ", "))
		fmt.Fprintf(&b, "   指令: /%s\n", p.Command)
		if p.DefaultMood != "" {
			fmt.Fprintf(&b, "   默认情绪: %s\n", p.DefaultMood)
		}
		b.WriteString("\n")
	}

	b.WriteString("📊 **统计信息**\n")
	fmt.Fprintf(&b, "• 总人格数: %d 个\n", len(personas))
	fmt.Fprintf(&b, "• 当前活跃: %s\n", active)
	if len(stats) > 0 {
		if len(stats) > topActiveCount {
			stats = stats[:topActiveCount]
		}
		top := make([]string, 0, len(stats))
		for _, s := range stats {
			top = append(top, fmt.Sprintf("%s(%d)", s.Persona, s.Count))
		}
		fmt.Fprintf(&b, "• 最活跃人格: %s\n", strings.Join(top, ", "))
	}

	b.WriteString("\n💡 **使用提示**\n")
	b.WriteString("• 发送人格名称或使用 /人格名 切换\n")
	b.WriteString("• 使用 /人格列表 查看此列表\n")
	b.WriteString("• 使用 /switch_scene 场景名 切换场景\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "• 使用 /%s %s\n", c.Name(), c.Description())
	}
	return strings.TrimSpace(b.String())
}

// splitMessage cuts msg on line boundaries into parts shorter than limit
// characters. Parts after the first are labelled as continuations.
func splitMessage(msg string, limit int) []string {
	if len([]rune(msg)) <= limit {
		return []string{msg}
	}
	var parts []string
	var cur strings.Builder
	curLen := 0
	for _, line := range strings.Split(msg, "\n") {
		n := len([]rune(line))
		if curLen > 0 && curLen+n+1 >= limit {
			parts = append(parts, cur.String())
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(line)
		cur.WriteString("\n")
		curLen += n + 1
	}
	if curLen > 0 {
		parts = append(parts, cur.String())
	}

	out := make([]string, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i > 0 {
			p = fmt.Sprintf("（续第%d部分）\n%s", i+1, p)
		}
		out = append(out, p)
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
