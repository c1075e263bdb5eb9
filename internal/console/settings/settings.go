// Package settings edits the backend's .env settings: the scrape page range
// and the embedding server address.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"opsconsole/internal/backend"
	logx "opsconsole/pkg/logx"
)

// Backend keys.
const (
	KeyStartPage = "EMART_START_PAGE"
	KeyEndPage   = "EMART_END_PAGE"
	KeyEmbServer = "EMB_SERVER"
)

var ErrNothingToSave = errors.New("no known settings in file")

type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string { return e.Key + ": " + e.Reason }

type Backend interface {
	Env(ctx context.Context) backend.TextMap
	SaveEnv(ctx context.Context, upd backend.EnvUpdate) (backend.MessageResponse, error)
}

type Settings struct {
	be  Backend
	log logx.Logger
}

func New(be Backend, log logx.Logger) *Settings {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Settings{be: be, log: log}
}

// Get returns the backend settings; it never fails and yields an empty map
// when the backend cannot be read.
func (s *Settings) Get(ctx context.Context) map[string]string {
	m := s.be.Env(ctx)
	if m == nil {
		return map[string]string{}
	}
	return m
}

func ValidatePageRange(start, end int) error {
	if start < 1 {
		return &ValidationError{Key: KeyStartPage, Reason: "must be at least 1"}
	}
	if end < start {
		return &ValidationError{Key: KeyEndPage, Reason: "must not be below the start page"}
	}
	return nil
}

func ValidateEmbeddingServer(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Key: KeyEmbServer, Reason: "must be an http(s) URL"}
	}
	return nil
}

func (s *Settings) SavePageRange(ctx context.Context, start, end int) (string, error) {
	if err := ValidatePageRange(start, end); err != nil {
		return "", err
	}
	return s.save(ctx, backend.EnvUpdate{StartPage: &start, EndPage: &end})
}

func (s *Settings) SaveEmbeddingServer(ctx context.Context, raw string) (string, error) {
	if err := ValidateEmbeddingServer(raw); err != nil {
		return "", err
	}
	return s.save(ctx, backend.EnvUpdate{EmbServer: strings.TrimSpace(raw)})
}

// PushFile reads a local .env file, keeps the known keys, validates them and
// saves them in one request.
func (s *Settings) PushFile(ctx context.Context, path string) (string, error) {
	env, err := godotenv.Read(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	upd, err := UpdateFromEnv(env)
	if err != nil {
		return "", err
	}
	return s.save(ctx, upd)
}

// UpdateFromEnv builds a validated update from dotenv key/value pairs.
// The page range keys must come together.
func UpdateFromEnv(env map[string]string) (backend.EnvUpdate, error) {
	var upd backend.EnvUpdate
	sp, hasStart := env[KeyStartPage]
	ep, hasEnd := env[KeyEndPage]
	if hasStart != hasEnd {
		return upd, &ValidationError{Key: KeyStartPage, Reason: "start and end page must be set together"}
	}
	if hasStart {
		start, err := strconv.Atoi(strings.TrimSpace(sp))
		if err != nil {
			return upd, &ValidationError{Key: KeyStartPage, Reason: "not a number"}
		}
		end, err := strconv.Atoi(strings.TrimSpace(ep))
		if err != nil {
			return upd, &ValidationError{Key: KeyEndPage, Reason: "not a number"}
		}
		if err := ValidatePageRange(start, end); err != nil {
			return upd, err
		}
		upd.StartPage, upd.EndPage = &start, &end
	}
	if emb, ok := env[KeyEmbServer]; ok && strings.TrimSpace(emb) != "" {
		if err := ValidateEmbeddingServer(emb); err != nil {
			return upd, err
		}
		upd.EmbServer = strings.TrimSpace(emb)
	}
	if upd.StartPage == nil && upd.EmbServer == "" {
		return upd, ErrNothingToSave
	}
	return upd, nil
}

func (s *Settings) save(ctx context.Context, upd backend.EnvUpdate) (string, error) {
	resp, err := s.be.SaveEnv(ctx, upd)
	if err != nil {
		return "", fmt.Errorf("save env: %w", err)
	}
	s.log.Info("backend settings saved")
	if resp.Message != "" {
		return resp.Message, nil
	}
	return "saved", nil
}
