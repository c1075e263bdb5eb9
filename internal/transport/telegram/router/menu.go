package router

import (
	"sort"
	"strings"
	"unicode"

	kit "opsconsole/internal/transport"
)

// sanitizeTelegramCommand maps a route or alias onto Telegram's command
// alphabet [a-z0-9_]{1,32}, starting with a letter.
func sanitizeTelegramCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	under := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			under = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !under {
				b.WriteByte('_')
				under = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

// telegramCommandNameFromRoute builds a Telegram-safe command for a route:
//
//	["index","start"] -> "index_start"
//	["sched-run"]     -> "sched_run"
func telegramCommandNameFromRoute(route []string) (string, bool) {
	if len(route) == 0 {
		return "", false
	}
	out := sanitizeTelegramCommand(strings.Join(route, "_"))
	return out, out != ""
}

// buildTelegramMenuCommands lists top-level commands first, then
// multi-token shortcuts such as /index_start. The result holds at most 100
// entries.
func buildTelegramMenuCommands(root *cmdNode, leafCmds []Command) []kit.BotCommand {
	type entry struct {
		desc string
		prio int
	}
	byCmd := map[string]entry{}
	add := func(cmd, desc string, prio int, lock bool) {
		cmd = sanitizeTelegramCommand(cmd)
		if cmd == "" {
			return
		}
		desc = strings.ReplaceAll(strings.TrimSpace(desc), "\n", " ")
		if desc == "" {
			desc = cmd
		}
		if lock {
			desc = "🔒 " + desc
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		if cur, ok := byCmd[cmd]; ok && cur.prio <= prio {
			return
		}
		byCmd[cmd] = entry{desc: desc, prio: prio}
	}

	for _, name := range root.childNames() {
		n, _ := root.child(name)
		add(name, summarizeNodeDesc(n), 0, nodeIsOwnerOnly(n))
	}
	for _, c := range leafCmds {
		route := splitRoute(c.Route)
		if len(route) < 2 {
			continue
		}
		desc := c.Description
		if strings.TrimSpace(desc) == "" {
			desc = strings.Join(route, " ")
		}
		add(strings.Join(route, "_"), desc, 1, c.Access == AccessOwnerOnly)
	}

	names := make([]string, 0, len(byCmd))
	for k := range byCmd {
		names = append(names, k)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := byCmd[names[i]], byCmd[names[j]]
		if a.prio != b.prio {
			return a.prio < b.prio
		}
		return names[i] < names[j]
	})
	if len(names) > 100 {
		names = names[:100]
	}
	out := make([]kit.BotCommand, 0, len(names))
	for _, n := range names {
		out = append(out, kit.BotCommand{Command: n, Description: byCmd[n].desc})
	}
	return out
}
