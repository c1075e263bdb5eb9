package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "opsconsole/pkg/logx"
)

// Config configures the backend client.
//
// APIBase serves the indexing/search endpoints (/index/*, /search/*, /metrics/*),
// OpsBase serves the operations endpoints (categories, env, tasks, scheduler).
// An empty base means "same origin": paths are used as-is.
type Config struct {
	APIBase    string
	OpsBase    string
	Timeout    time.Duration
	RatePerSec float64 // 0 disables client-side throttling
	UserAgent  string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client talks to the pipeline backend. It is safe for concurrent use.
type Client struct {
	api string
	ops string
	ua  string

	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

const maxErrorBody = 2048

func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		api:  strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/"),
		ops:  strings.TrimRight(strings.TrimSpace(cfg.OpsBase), "/"),
		ua:   strings.TrimSpace(cfg.UserAgent),
		http: &http.Client{Timeout: timeout},
		log:  logx.Nop(),
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

func (c *Client) apiURL(path string) string { return c.api + path }
func (c *Client) opsURL(path string) string { return c.ops + path }

// acceptFunc reports whether a 2xx content type is acceptable for the call.
type acceptFunc func(mediaType string) bool

func acceptJSON(mt string) bool  { return mt == "application/json" || strings.HasSuffix(mt, "+json") }
func acceptImage(mt string) bool { return strings.HasPrefix(mt, "image/") }

// do performs one request and applies the response contract:
//   - non-2xx: *HTTPError carrying status and (truncated) body text
//   - 204 or empty body: nil body, nil error
//   - unexpected content type: *ContentTypeError
func (c *Client) do(ctx context.Context, method, url string, body io.Reader, contentType string, accept acceptFunc) ([]byte, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("%s %s: %w", method, url, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, "", fmt.Errorf("%s %s: %w", method, url, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("backend request failed", logx.String("method", method), logx.String("url", url), logx.Err(err))
		return nil, "", fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(resp.Body)
	c.log.Debug("backend request",
		logx.String("method", method),
		logx.String("url", url),
		logx.Int("status", resp.StatusCode),
		logx.Duration("dur", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Status:     reasonPhrase(resp),
			Body:       truncate(strings.TrimSpace(string(raw)), maxErrorBody),
		}
	}
	if readErr != nil {
		return nil, "", fmt.Errorf("%s %s: read body: %w", method, url, readErr)
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(raw)) == 0 {
		return nil, "", nil
	}

	ct := resp.Header.Get("Content-Type")
	mt, _, _ := mime.ParseMediaType(ct)
	if accept != nil && !accept(strings.ToLower(mt)) {
		return nil, "", &ContentTypeError{
			Method:      method,
			URL:         url,
			ContentType: ct,
			Body:        truncate(strings.TrimSpace(string(raw)), maxErrorBody),
		}
	}
	return raw, mt, nil
}

// call sends an optional JSON body and decodes a JSON response into out.
// An empty response leaves out untouched.
func (c *Client) call(ctx context.Context, method, url string, in, out any) error {
	var (
		body io.Reader
		ct   string
	)
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s %s: encode: %w", method, url, err)
		}
		body = bytes.NewReader(b)
		ct = "application/json"
	} else if method == http.MethodPost {
		ct = "application/json"
	}

	raw, _, err := c.do(ctx, method, url, body, ct, acceptJSON)
	if err != nil {
		return err
	}
	if out == nil || raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, url, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	return c.call(ctx, http.MethodGet, url, nil, out)
}

func (c *Client) postJSON(ctx context.Context, url string, in, out any) error {
	return c.call(ctx, http.MethodPost, url, in, out)
}

func (c *Client) deleteJSON(ctx context.Context, url string, out any) error {
	return c.call(ctx, http.MethodDelete, url, nil, out)
}

func (c *Client) postForm(ctx context.Context, url string, form *formBody, out any) error {
	body, ct, err := form.finish()
	if err != nil {
		return fmt.Errorf("POST %s: encode form: %w", url, err)
	}
	raw, _, err := c.do(ctx, http.MethodPost, url, body, ct, acceptJSON)
	if err != nil {
		return err
	}
	if out == nil || raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("POST %s: decode: %w", url, err)
	}
	return nil
}

func reasonPhrase(resp *http.Response) string {
	s := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if s == "" {
		s = http.StatusText(resp.StatusCode)
	}
	return s
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	return s[:maxN-3] + "..."
}
