package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help for a command path in Telegram HTML.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.ToLower(strings.TrimPrefix(p, "/"))
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ <b>Unknown command</b>\nSend <code>/help</code> for the list."
		}
		cur = n
		full = append(full, p)
	}

	if len(full) == 0 {
		return helpTop(root)
	}
	return helpNode(cur, full)
}

func helpTop(root *cmdNode) string {
	lines := []string{"📚 <b>Commands</b>", "Send <code>/help &lt;cmd&gt;</code> for details.", ""}
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		lines = append(lines, entryLine("/"+name, summarizeNodeDesc(n), nodeIsOwnerOnly(n)))
	}
	return strings.Join(lines, "\n")
}

func entryLine(cmd, desc string, lock bool) string {
	prefix := "• "
	if lock {
		prefix = "• 🔒 "
	}
	line := prefix + "<code>" + html.EscapeString(cmd) + "</code>"
	if desc != "" {
		line += ": " + html.EscapeString(desc)
	}
	return line
}

func helpNode(cur *cmdNode, full []string) string {
	lines := []string{"📚 <b>Help</b> <code>/" + html.EscapeString(strings.Join(full, " ")) + "</code>"}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>owner only</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>Usage</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>Shortcuts</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	} else if nodeIsOwnerOnly(cur) {
		lines = append(lines, "🔒 <i>owner only</i>")
	}

	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>Subcommands</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			cmd := "/" + strings.Join(append(append([]string(nil), full...), name), " ")
			lines = append(lines, entryLine(cmd, summarizeNodeDesc(n), nodeIsOwnerOnly(n)))
		}
	}
	return strings.Join(lines, "\n")
}

func summarizeNodeDesc(n *cmdNode) string {
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	k := min(3, len(kids))
	s := strings.Join(kids[:k], ", ")
	if len(kids) > k {
		s += ", …"
	}
	return s
}

// nodeIsOwnerOnly is true when every command at or below n is owner-only.
func nodeIsOwnerOnly(n *cmdNode) bool {
	leaves := n.leaves()
	if len(leaves) == 0 {
		return false
	}
	for _, c := range leaves {
		if c.Access != AccessOwnerOnly {
			return false
		}
	}
	return true
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	route := splitRoute(c.Route)
	if menu, ok := telegramCommandNameFromRoute(route); ok && (len(route) > 1 || menu != route[0]) {
		add(menu)
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}
