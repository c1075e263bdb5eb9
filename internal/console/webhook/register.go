// Package webhook registers the completion webhook with the backend and
// serves the endpoint the backend calls when an indexing run finishes.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"opsconsole/internal/backend"
)

var ErrInvalidURL = errors.New("webhook url must be an absolute http(s) URL")

type Registrar interface {
	RegisterWebhook(ctx context.Context, hookURL string) (backend.MessageResponse, error)
}

// ValidateURL accepts absolute http and https URLs only.
func ValidateURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return s, nil
	default:
		return "", ErrInvalidURL
	}
}

// Register validates hookURL and registers it. It returns the backend's
// message, or a default one when the backend sends none.
func Register(ctx context.Context, r Registrar, hookURL string) (string, error) {
	s, err := ValidateURL(hookURL)
	if err != nil {
		return "", err
	}
	resp, err := r.RegisterWebhook(ctx, s)
	if err != nil {
		return "", fmt.Errorf("register webhook: %w", err)
	}
	if resp.Message != "" {
		return resp.Message, nil
	}
	return "webhook registered", nil
}
