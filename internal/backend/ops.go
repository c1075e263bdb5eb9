package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	logx "opsconsole/pkg/logx"
)

// Manual task trigger paths (ops base, POST, no body).
const (
	PathRunJSON         = "/run_json"
	PathRunPriceJSON    = "/run_price_json"
	PathRunNonPriceJSON = "/run_non_price_json"
	PathRunImage        = "/run_image"
	PathRunFirebaseAll  = "/run_firebase_all"
	PathRunFirebasePx   = "/run_firebase_price"
	PathRunFirebaseEtc  = "/run_firebase_other"
)

// ---- index job ----

func (c *Client) StartIndex(ctx context.Context) (MessageResponse, error) {
	var out MessageResponse
	err := c.postJSON(ctx, c.apiURL("/index/start"), nil, &out)
	return out, err
}

func (c *Client) StopIndex(ctx context.Context) (MessageResponse, error) {
	var out MessageResponse
	err := c.postJSON(ctx, c.apiURL("/index/stop"), nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.getJSON(ctx, c.apiURL("/index/status"), &out)
	return out, err
}

func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var out LogsResponse
	if err := c.getJSON(ctx, c.apiURL("/index/logs"), &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

func (c *Client) ClearLogs(ctx context.Context) error {
	return c.deleteJSON(ctx, c.apiURL("/index/logs"), nil)
}

func (c *Client) RegisterWebhook(ctx context.Context, hookURL string) (MessageResponse, error) {
	var out MessageResponse
	err := c.postForm(ctx, c.apiURL("/index/webhook"), newForm().field("url", hookURL), &out)
	return out, err
}

// ---- categories ----

func (c *Client) Categories(ctx context.Context) (TextMap, error) {
	var out TextMap
	if err := c.getJSON(ctx, c.opsURL("/categories"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SaveCategories(ctx context.Context, cats map[string]string) (SaveCategoriesResponse, error) {
	var out SaveCategoriesResponse
	err := c.postJSON(ctx, c.opsURL("/save_categories"), cats, &out)
	return out, err
}

func (c *Client) DeleteCategories(ctx context.Context) (MessageResponse, error) {
	var out MessageResponse
	err := c.deleteJSON(ctx, c.opsURL("/delete_categories"), &out)
	return out, err
}

// ---- env ----

// Env fetches the backend .env view. It is best-effort: any failure yields
// an empty map and no error.
func (c *Client) Env(ctx context.Context) TextMap {
	var out TextMap
	if err := c.getJSON(ctx, c.opsURL("/env"), &out); err != nil {
		c.log.Debug("env fetch failed; using empty view", logx.Err(err))
		return TextMap{}
	}
	if out == nil {
		return TextMap{}
	}
	return out
}

func (c *Client) SaveEnv(ctx context.Context, upd EnvUpdate) (MessageResponse, error) {
	var out MessageResponse
	err := c.postJSON(ctx, c.opsURL("/save_env"), upd, &out)
	return out, err
}

// ---- manual tasks ----

func (c *Client) RunTask(ctx context.Context, path string) (MessageResponse, error) {
	var out MessageResponse
	err := c.postJSON(ctx, c.opsURL(path), nil, &out)
	return out, err
}

// ---- scheduler ----

func (c *Client) SchedulerOn(ctx context.Context) (SchedulerStatus, error) {
	var out SchedulerStatus
	err := c.postJSON(ctx, c.opsURL("/scheduler/on"), nil, &out)
	return out, err
}

func (c *Client) SchedulerOff(ctx context.Context) (SchedulerStatus, error) {
	var out SchedulerStatus
	err := c.postJSON(ctx, c.opsURL("/scheduler/off"), nil, &out)
	return out, err
}

func (c *Client) SchedulerStatus(ctx context.Context) (SchedulerStatus, error) {
	var out SchedulerStatus
	err := c.getJSON(ctx, c.opsURL("/scheduler/status"), &out)
	return out, err
}

func (c *Client) SchedulerConfig(ctx context.Context) (SchedulerConfigWire, error) {
	var out SchedulerConfigWire
	err := c.getJSON(ctx, c.opsURL("/scheduler/config"), &out)
	return out, err
}

func (c *Client) SetSchedulerConfig(ctx context.Context, upd SchedulerUpdate) (SchedulerConfigWire, error) {
	var out SchedulerConfigWire
	err := c.postJSON(ctx, c.opsURL("/scheduler/config"), upd, &out)
	return out, err
}

func (c *Client) RunJobNow(ctx context.Context, which string) (MessageResponse, error) {
	var out MessageResponse
	err := c.postJSON(ctx, c.opsURL("/scheduler/run-now?which="+url.QueryEscape(which)), nil, &out)
	return out, err
}

// ---- task cancellation flag ----

func (c *Client) TasksStatus(ctx context.Context) (TaskFlag, error) {
	var out TaskFlag
	err := c.getJSON(ctx, c.opsURL("/tasks/status"), &out)
	return out, err
}

func (c *Client) TasksStop(ctx context.Context) (TaskFlag, error) {
	var out TaskFlag
	err := c.postJSON(ctx, c.opsURL("/tasks/stop"), nil, &out)
	return out, err
}

func (c *Client) TasksStart(ctx context.Context) (TaskFlag, error) {
	var out TaskFlag
	err := c.postJSON(ctx, c.opsURL("/tasks/start"), nil, &out)
	return out, err
}

// ---- metrics ----

func metricsQuery(onlyEmbedded string, extra url.Values) string {
	q := url.Values{}
	if onlyEmbedded != "" {
		q.Set("only_embedded", onlyEmbedded)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return q.Encode()
}

func (c *Client) CategoryCounts(ctx context.Context, onlyEmbedded string) (CategoryCounts, error) {
	var out CategoryCounts
	q := metricsQuery(onlyEmbedded, url.Values{"category_field": {"category"}})
	err := c.getJSON(ctx, c.apiURL("/metrics/category-counts?"+q), &out)
	return out, err
}

// CategoryPie returns the backend-rendered PNG as opaque bytes.
func (c *Client) CategoryPie(ctx context.Context, onlyEmbedded string) ([]byte, error) {
	q := metricsQuery(onlyEmbedded, url.Values{"show_counts": {"true"}})
	raw, _, err := c.do(ctx, http.MethodGet, c.apiURL("/metrics/category-pie.png?"+q), nil, "", acceptImage)
	return raw, err
}

// ---- search ----

func (c *Client) TextSearch(ctx context.Context, query string, topK int) (SearchResponse, error) {
	var out SearchResponse
	in := struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}{query, topK}
	err := c.postJSON(ctx, c.apiURL("/search/text"), in, &out)
	return out, err
}

func (c *Client) ImageSearch(ctx context.Context, filename string, img io.Reader, topK int) (SearchResponse, error) {
	var out SearchResponse
	form := newForm().file("file", filename, img).field("top_k", strconv.Itoa(topK))
	err := c.postForm(ctx, c.apiURL("/search/image"), form, &out)
	return out, err
}

func (c *Client) MultimodalSearch(ctx context.Context, query, filename string, img io.Reader, alpha float64, topK int) (SearchResponse, error) {
	var out SearchResponse
	form := newForm().
		field("query", query).
		file("file", filename, img).
		field("alpha", strconv.FormatFloat(alpha, 'f', -1, 64)).
		field("top_k", strconv.Itoa(topK))
	err := c.postForm(ctx, c.apiURL("/search/multimodal"), form, &out)
	return out, err
}
