// Package metrics reads per-category product counts from the backend.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"opsconsole/internal/backend"
)

// Filter selects products by embedding state.
type Filter string

const (
	FilterAll     Filter = ""
	FilterDone    Filter = "D" // embedded
	FilterPending Filter = "R" // not yet embedded
)

// ParseFilter accepts "", all, D/done, R/pending (case-insensitive).
func ParseFilter(s string) (Filter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return FilterAll, nil
	case "d", "done", "embedded":
		return FilterDone, nil
	case "r", "pending":
		return FilterPending, nil
	default:
		return "", fmt.Errorf("unknown filter %q (want D or R)", s)
	}
}

func (f Filter) Label() string {
	switch f {
	case FilterDone:
		return "embedded"
	case FilterPending:
		return "pending"
	default:
		return "all"
	}
}

type Backend interface {
	CategoryCounts(ctx context.Context, onlyEmbedded string) (backend.CategoryCounts, error)
	CategoryPie(ctx context.Context, onlyEmbedded string) ([]byte, error)
}

type Row struct {
	Category string
	Count    int
	Ratio    float64
}

type Report struct {
	Filter Filter
	Total  int
	Rows   []Row // count desc, then name
}

func Counts(ctx context.Context, be Backend, f Filter) (Report, error) {
	cc, err := be.CategoryCounts(ctx, string(f))
	if err != nil {
		return Report{}, fmt.Errorf("category counts: %w", err)
	}
	rep := Report{Filter: f, Total: cc.Total}
	for name, n := range cc.Counts {
		rep.Rows = append(rep.Rows, Row{Category: name, Count: n, Ratio: cc.Ratios[name]})
	}
	sort.Slice(rep.Rows, func(i, j int) bool {
		if rep.Rows[i].Count != rep.Rows[j].Count {
			return rep.Rows[i].Count > rep.Rows[j].Count
		}
		return rep.Rows[i].Category < rep.Rows[j].Category
	})
	if rep.Total == 0 {
		for _, r := range rep.Rows {
			rep.Total += r.Count
		}
	}
	return rep, nil
}

// Pie returns the backend-rendered chart as PNG bytes.
func Pie(ctx context.Context, be Backend, f Filter) ([]byte, error) {
	b, err := be.CategoryPie(ctx, string(f))
	if err != nil {
		return nil, fmt.Errorf("category pie: %w", err)
	}
	return b, nil
}

// Format renders the report as aligned plain text.
func (r Report) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "categories (%s), total %d\n", r.Filter.Label(), r.Total)
	if len(r.Rows) == 0 {
		sb.WriteString("(no data)\n")
		return sb.String()
	}
	w := 0
	for _, row := range r.Rows {
		w = max(w, len(row.Category))
	}
	for _, row := range r.Rows {
		fmt.Fprintf(&sb, "%-*s %6d %5.1f%%\n", w, row.Category, row.Count, row.Ratio*100)
	}
	return sb.String()
}
