package adapter

import (
	"strings"
	"testing"

	kit "opsconsole/internal/transport"
)

func TestSplitText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		in    string
		limit int
		mode  string
		want  int
	}{
		{"short", "hello", 10, "", 1},
		{"empty", "", 10, "", 1},
		{"hard cut", strings.Repeat("a", 25), 10, "", 3},
		{"newline cut", strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6), 10, "", 2},
	}
	for _, tt := range tests {
		got := splitText(tt.in, tt.limit, tt.mode)
		if len(got) != tt.want {
			t.Fatalf("%s: %d chunks %q", tt.name, len(got), got)
		}
		for _, c := range got {
			if len([]rune(c)) > tt.limit {
				t.Fatalf("%s: chunk over limit: %q", tt.name, c)
			}
		}
	}

	got := splitText("aaaaaa\nbbbbbb", 10, "")
	if got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("newline split = %q", got)
	}
}

func TestSplitTextKeepsHTMLTagsWhole(t *testing.T) {
	t.Parallel()
	in := "abcdefg<b>bold</b>"
	got := splitText(in, 9, "HTML")
	if !strings.HasPrefix(got[1], "<b>") {
		t.Fatalf("tag was split: %q", got)
	}
	if strings.Join(got, "") != in {
		t.Fatalf("content lost: %q", got)
	}
}

func TestMenuCommandsCapped(t *testing.T) {
	t.Parallel()
	var cmds []kit.BotCommand
	for i := 0; i < 120; i++ {
		cmds = append(cmds, kit.BotCommand{Command: "c", Description: strings.Repeat("x", 300)})
	}
	cmds = append([]kit.BotCommand{{Command: ""}}, cmds...)
	out := toTeleCommands(cmds)
	if len(out) != 100 {
		t.Fatalf("len = %d", len(out))
	}
	if len(out[0].Description) != 256 {
		t.Fatalf("description not truncated: %d", len(out[0].Description))
	}
	if menuHash(cmds) == menuHash(cmds[1:2]) {
		t.Fatal("hash ignores content")
	}
}
