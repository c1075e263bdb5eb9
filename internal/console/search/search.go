// Package search runs product searches against the backend: text, image and
// text+image (multimodal).
package search

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"opsconsole/internal/backend"
)

// TopKChoices are the accepted result counts; the first is the default.
var TopKChoices = []int{30, 20, 10}

const (
	DefaultTopK  = 30
	DefaultAlpha = 0.7
)

var (
	ErrEmptyQuery = errors.New("query is empty")
	ErrNoImage    = errors.New("image is required")
	ErrTopK       = errors.New("top_k must be 10, 20 or 30")
	ErrAlpha      = errors.New("alpha must be between 0 and 1")
)

type Backend interface {
	TextSearch(ctx context.Context, query string, topK int) (backend.SearchResponse, error)
	ImageSearch(ctx context.Context, filename string, img io.Reader, topK int) (backend.SearchResponse, error)
	MultimodalSearch(ctx context.Context, query, filename string, img io.Reader, alpha float64, topK int) (backend.SearchResponse, error)
}

// Image is an uploaded query image.
type Image struct {
	Name string
	Data io.Reader
}

func normTopK(k int) (int, error) {
	if k == 0 {
		return DefaultTopK, nil
	}
	for _, c := range TopKChoices {
		if k == c {
			return k, nil
		}
	}
	return 0, ErrTopK
}

func Text(ctx context.Context, be Backend, query string, topK int) ([]Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	k, err := normTopK(topK)
	if err != nil {
		return nil, err
	}
	resp, err := be.TextSearch(ctx, q, k)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	return fromWire(resp), nil
}

func ImageSearch(ctx context.Context, be Backend, img Image, topK int) ([]Result, error) {
	if img.Data == nil {
		return nil, ErrNoImage
	}
	k, err := normTopK(topK)
	if err != nil {
		return nil, err
	}
	resp, err := be.ImageSearch(ctx, imageName(img), img.Data, k)
	if err != nil {
		return nil, fmt.Errorf("image search: %w", err)
	}
	return fromWire(resp), nil
}

// Multimodal blends text and image similarity; alpha weights the text side.
func Multimodal(ctx context.Context, be Backend, query string, img Image, alpha float64, topK int) ([]Result, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if img.Data == nil {
		return nil, ErrNoImage
	}
	if alpha < 0 || alpha > 1 {
		return nil, ErrAlpha
	}
	k, err := normTopK(topK)
	if err != nil {
		return nil, err
	}
	resp, err := be.MultimodalSearch(ctx, q, imageName(img), img.Data, alpha, k)
	if err != nil {
		return nil, fmt.Errorf("multimodal search: %w", err)
	}
	return fromWire(resp), nil
}

func imageName(img Image) string {
	if n := strings.TrimSpace(img.Name); n != "" {
		return n
	}
	return "query.jpg"
}

// Result is one display row. History is newest first.
type Result struct {
	ID         string
	Name       string
	Category   string
	Price      *float64
	Score      float64
	OutOfStock string
	Address    string
	Updated    string
	History    []backend.PricePoint
}

func fromWire(resp backend.SearchResponse) []Result {
	out := make([]Result, 0, len(resp.Results))
	for _, p := range resp.Results {
		out = append(out, Result{
			ID:         string(p.ID),
			Name:       string(p.ProductName),
			Category:   string(p.Category),
			Price:      p.Price,
			Score:      p.SimilarityScore,
			OutOfStock: string(p.OutOfStock),
			Address:    p.ProductAddress,
			Updated:    string(p.LastUpdated),
			History:    sortHistoryDesc(p.PriceHistory),
		})
	}
	return out
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sortHistoryDesc orders entries newest first; undated entries go last.
func sortHistoryDesc(in []backend.PricePoint) []backend.PricePoint {
	out := append([]backend.PricePoint(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		ti, oki := parseDate(string(out[i].LastUpdated))
		tj, okj := parseDate(string(out[j].LastUpdated))
		if oki != okj {
			return oki
		}
		return ti.After(tj)
	})
	return out
}

// HistoryWindow tracks how many price-history entries are shown per result.
type HistoryWindow struct {
	Default int
	Step    int
	shown   map[string]int
}

func NewHistoryWindow(def, step int) *HistoryWindow {
	if def <= 0 {
		def = 5
	}
	if step <= 0 {
		step = 5
	}
	return &HistoryWindow{Default: def, Step: step, shown: map[string]int{}}
}

// Visible returns the entries currently shown for r.
func (h *HistoryWindow) Visible(r Result) []backend.PricePoint {
	n, ok := h.shown[r.ID]
	if !ok {
		n = h.Default
	}
	if n > len(r.History) {
		n = len(r.History)
	}
	return r.History[:n]
}

// More extends r's window by Step and returns the new visible entries.
func (h *HistoryWindow) More(r Result) []backend.PricePoint {
	n, ok := h.shown[r.ID]
	if !ok {
		n = h.Default
	}
	h.shown[r.ID] = n + h.Step
	return h.Visible(r)
}

// WriteHistoryCSV writes price-history rows with a header line.
func WriteHistoryCSV(w io.Writer, rows []backend.PricePoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"last_updated", "original_price", "selling_price"}); err != nil {
		return err
	}
	for _, p := range rows {
		if err := cw.Write([]string{string(p.LastUpdated), string(p.OriginalPrice), string(p.SellingPrice)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FormatPrice renders a price with thousands separators, or "-" if unknown.
func FormatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	s := strconv.FormatInt(int64(*p), 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String() + " KRW"
	}
	return b.String() + " KRW"
}
