package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Text is a string that also accepts JSON numbers and booleans.
// Backend ids and labels are not consistently typed.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		return fmt.Errorf("backend: cannot use %s as text", string(b))
	}
	*t = Text(string(b))
	return nil
}

func (t Text) String() string { return string(t) }

// TextMap is a string map that tolerates non-string scalar values.
type TextMap map[string]string

func (m *TextMap) UnmarshalJSON(b []byte) error {
	var raw map[string]Text
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(TextMap, len(raw))
	for k, v := range raw {
		out[k] = string(v)
	}
	*m = out
	return nil
}

// Status is the body of GET /index/status.
type Status struct {
	Status          string `json:"status,omitempty"`
	Progress        int    `json:"progress,omitempty"`
	Total           int    `json:"total,omitempty"`
	Items           []Item `json:"items,omitempty"`
	Running         *bool  `json:"running,omitempty"`
	CancelRequested *bool  `json:"cancel_requested,omitempty"`
}

// Item is one processed entry in a status report.
type Item struct {
	ID          Text `json:"id"`
	ProductName Text `json:"product_name,omitempty"`
	Status      Text `json:"status,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

type LogsResponse struct {
	Logs []string `json:"logs"`
}

type SchedulerStatus struct {
	Status  string `json:"status,omitempty"`
	Running *bool  `json:"running,omitempty"`
	Paused  *bool  `json:"paused,omitempty"`
	Stopped *bool  `json:"stopped,omitempty"`
	State   *int   `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type TaskFlag struct {
	Status    string `json:"status,omitempty"`
	Cancelled *bool  `json:"cancelled,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SaveCategoriesResponse struct {
	Status  string  `json:"status,omitempty"`
	Path    string  `json:"path,omitempty"`
	Data    TextMap `json:"data,omitempty"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// EnvUpdate is the body of POST /save_env. Nil/empty fields are omitted.
type EnvUpdate struct {
	StartPage *int   `json:"EMART_START_PAGE,omitempty"`
	EndPage   *int   `json:"EMART_END_PAGE,omitempty"`
	EmbServer string `json:"EMB_SERVER,omitempty"`
}

// ScheduleJobWire is one job entry of the scheduler config. Hour and minute
// are kept raw: they are either JSON numbers or pattern strings.
type ScheduleJobWire struct {
	Type        string          `json:"type,omitempty"`
	Hour        json.RawMessage `json:"hour,omitempty"`
	Minute      json.RawMessage `json:"minute,omitempty"`
	NextRunTime string          `json:"next_run_time,omitempty"`
}

// SchedulerConfigWire is the body of GET/POST /scheduler/config.
// Every object-valued top-level key other than the known scalars is a job.
type SchedulerConfigWire struct {
	Status   string
	Timezone string
	Jobs     map[string]ScheduleJobWire
}

func (c *SchedulerConfigWire) UnmarshalJSON(b []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return err
	}
	out := SchedulerConfigWire{Jobs: map[string]ScheduleJobWire{}}
	for k, v := range top {
		v = bytes.TrimSpace(v)
		switch strings.ToLower(k) {
		case "status":
			var s Text
			_ = json.Unmarshal(v, &s)
			out.Status = string(s)
			continue
		case "timezone":
			var s Text
			_ = json.Unmarshal(v, &s)
			out.Timezone = string(s)
			continue
		}
		if len(v) == 0 || v[0] != '{' {
			continue
		}
		var job ScheduleJobWire
		if err := json.Unmarshal(v, &job); err != nil {
			return fmt.Errorf("scheduler config %q: %w", k, err)
		}
		out.Jobs[k] = job
	}
	*c = out
	return nil
}

// ScheduleFieldsWire is one job's part of a scheduler config update.
type ScheduleFieldsWire struct {
	Hour   json.RawMessage `json:"hour"`
	Minute json.RawMessage `json:"minute"`
}

// SchedulerUpdate is the body of POST /scheduler/config:
// {"<job>": {"hour": ..., "minute": ...}, "persist": true}.
type SchedulerUpdate struct {
	Jobs    map[string]ScheduleFieldsWire
	Persist bool
}

func (u SchedulerUpdate) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(u.Jobs)+1)
	for k, v := range u.Jobs {
		m[k] = v
	}
	m["persist"] = u.Persist
	return json.Marshal(m)
}

// CategoryCounts is the body of GET /metrics/category-counts.
type CategoryCounts struct {
	Counts map[string]int     `json:"counts"`
	Ratios map[string]float64 `json:"ratios"`
	Total  int                `json:"total"`
}

// Product is one search hit.
type Product struct {
	ID               Text         `json:"id"`
	ProductName      Text         `json:"product_name,omitempty"`
	Category         Text         `json:"category,omitempty"`
	ImageURL         string       `json:"image_url,omitempty"`
	ProductAddress   string       `json:"product_address,omitempty"`
	Quantity         Text         `json:"quantity,omitempty"`
	OutOfStock       Text         `json:"out_of_stock,omitempty"`
	LastUpdated      Text         `json:"last_updated,omitempty"`
	IsEmb            Text         `json:"is_emb,omitempty"`
	SimilarityScore  float64      `json:"similarity_score,omitempty"`
	Price            *float64     `json:"price,omitempty"`
	LastPriceUpdated Text         `json:"last_price_updated,omitempty"`
	PriceHistory     []PricePoint `json:"price_history,omitempty"`
}

type PricePoint struct {
	LastUpdated   Text `json:"last_updated,omitempty"`
	OriginalPrice Text `json:"original_price,omitempty"`
	SellingPrice  Text `json:"selling_price,omitempty"`
}

type SearchResponse struct {
	Results []Product `json:"results"`
}
