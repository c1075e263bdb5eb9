package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "opsconsole/pkg/logx"
)

// fileStore keeps every pref in memory and persists it as:
//   - <prefix>.prefs.snapshot.json (compacted state, written via tmp+rename)
//   - <prefix>.prefs.journal.jsonl (append-only since the last snapshot)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	prefs        map[string]Pref

	writes       int
	compactEvery int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".prefs.snapshot.json"
	journalPath := prefix + ".prefs.journal.jsonl"

	prefs := map[string]Pref{}
	if err := loadSnapshot(snapPath, prefs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("prefs snapshot unreadable; starting empty", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, prefs); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("prefs journal replay incomplete", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		prefs:        prefs,
		compactEvery: 200,
	}
	// Fold whatever the journal held into a fresh snapshot.
	s.mu.Lock()
	if err := s.compactLocked(); err != nil {
		log.Debug("prefs compact failed", logx.Err(err))
	}
	s.mu.Unlock()
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	cerr := s.compactLocked()
	err := s.journal.Close()
	s.journal = nil
	if err != nil {
		return err
	}
	return cerr
}

func (s *fileStore) GetPref(ctx context.Context, scope, key string) (string, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prefs[prefKey(scope, key)]
	return p.Value, ok, nil
}

func (s *fileStore) PutPref(ctx context.Context, scope, key, value string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("pref key is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("prefs journal closed")
	}
	p := Pref{Scope: scope, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	if err := json.NewEncoder(s.journal).Encode(p); err != nil {
		return err
	}
	s.prefs[prefKey(scope, key)] = p
	s.writes++
	if s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("prefs compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	list := make([]Pref, 0, len(s.prefs))
	for _, p := range s.prefs {
		list = append(list, p)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]Pref) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Pref
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, p := range list {
		out[prefKey(p.Scope, p.Key)] = p
	}
	return nil
}

func replayJournal(path string, out map[string]Pref) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var p Pref
		if err := json.Unmarshal(sc.Bytes(), &p); err != nil || p.Key == "" {
			continue
		}
		out[prefKey(p.Scope, p.Key)] = p
	}
	return sc.Err()
}
