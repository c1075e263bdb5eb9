package storage

import (
	"context"
	"errors"
	"strings"

	logx "opsconsole/pkg/logx"
)

// Store is the persistence API used by the console prefs.
type Store interface {
	GetPref(ctx context.Context, scope, key string) (value string, ok bool, err error)
	PutPref(ctx context.Context, scope, key, value string) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func prefKey(scope, key string) string { return scope + "\x00" + key }
