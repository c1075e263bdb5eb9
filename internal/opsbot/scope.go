package opsbot

import (
	"fmt"
	"strconv"
	"strings"

	"opsconsole/internal/console"
	kit "opsconsole/internal/transport"
)

// scope is one request bound to its chat's session.
type scope struct {
	*Bot
	s *console.Session
}

func usageError(usage string) error { return fmt.Errorf("usage: %s", usage) }

func parseOnOff(args []string, usage string) (bool, error) {
	if len(args) != 1 {
		return false, usageError(usage)
	}
	switch strings.ToLower(args[0]) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, usageError(usage)
}

func parseCount(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%q is not a number between %d and %d", s, lo, hi)
	}
	return n, nil
}

func button(text, data string) kit.Button { return kit.Button{Text: text, Data: data} }
