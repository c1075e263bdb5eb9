package router

import (
	"sort"
	"strings"
)

// cmdNode is one token of a command route. Containers have children and
// no handler; leaves carry the command.
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	return strings.Fields(strings.TrimSpace(route))
}

func (r *cmdNode) add(route []string, c Command) {
	cur := r
	for _, tok := range route {
		n, ok := cur.children[tok]
		if !ok {
			n = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = n
		}
		cur = n
	}
	cur.cmd = &c
}

func (r *cmdNode) find(path []string) *cmdNode {
	cur := r
	for _, tok := range path {
		n, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = n
	}
	return cur
}

func (r *cmdNode) child(name string) (*cmdNode, bool) {
	n, ok := r.children[name]
	return n, ok
}

func (r *cmdNode) childNames() []string {
	out := make([]string, 0, len(r.children))
	for k := range r.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// leaves returns every command at or below n, in route order.
func (r *cmdNode) leaves() []Command {
	var out []Command
	var walk func(n *cmdNode)
	walk = func(n *cmdNode) {
		if n.cmd != nil {
			out = append(out, *n.cmd)
		}
		for _, name := range n.childNames() {
			walk(n.children[name])
		}
	}
	walk(r)
	return out
}
