package search

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"opsconsole/internal/backend"
)

type fakeSearch struct {
	calls int
	topK  int
	alpha float64
	resp  backend.SearchResponse
}

func (f *fakeSearch) TextSearch(ctx context.Context, q string, k int) (backend.SearchResponse, error) {
	f.calls++
	f.topK = k
	return f.resp, nil
}

func (f *fakeSearch) ImageSearch(ctx context.Context, name string, img io.Reader, k int) (backend.SearchResponse, error) {
	f.calls++
	f.topK = k
	return f.resp, nil
}

func (f *fakeSearch) MultimodalSearch(ctx context.Context, q, name string, img io.Reader, alpha float64, k int) (backend.SearchResponse, error) {
	f.calls++
	f.topK = k
	f.alpha = alpha
	return f.resp, nil
}

func TestValidationBeforeRequest(t *testing.T) {
	t.Parallel()
	img := Image{Name: "a.png", Data: strings.NewReader("x")}
	tests := []struct {
		name string
		run  func(be Backend) error
		want error
	}{
		{"blank query", func(be Backend) error { _, err := Text(context.Background(), be, "  ", 30); return err }, ErrEmptyQuery},
		{"bad topk", func(be Backend) error { _, err := Text(context.Background(), be, "ramen", 15); return err }, ErrTopK},
		{"no image", func(be Backend) error { _, err := ImageSearch(context.Background(), be, Image{}, 10); return err }, ErrNoImage},
		{"alpha", func(be Backend) error {
			_, err := Multimodal(context.Background(), be, "ramen", img, 1.5, 10)
			return err
		}, ErrAlpha},
	}
	for _, tt := range tests {
		be := &fakeSearch{}
		if err := tt.run(be); !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
		if be.calls != 0 {
			t.Fatalf("%s: invalid input reached the backend", tt.name)
		}
	}
}

func TestDefaultsAndHistoryOrder(t *testing.T) {
	t.Parallel()
	price := 1234567.0
	be := &fakeSearch{resp: backend.SearchResponse{Results: []backend.Product{{
		ID:          "42",
		ProductName: "Ramen",
		Price:       &price,
		PriceHistory: []backend.PricePoint{
			{LastUpdated: "2024-01-01", SellingPrice: "900"},
			{LastUpdated: "", SellingPrice: "?"},
			{LastUpdated: "2024-03-01", SellingPrice: "1000"},
		},
	}}}}

	res, err := Text(context.Background(), be, "ramen", 0)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if be.topK != DefaultTopK {
		t.Fatalf("topK = %d", be.topK)
	}
	h := res[0].History
	if h[0].LastUpdated != "2024-03-01" || h[2].LastUpdated != "" {
		t.Fatalf("history order = %+v", h)
	}
	if got := FormatPrice(res[0].Price); got != "1,234,567 KRW" {
		t.Fatalf("FormatPrice = %q", got)
	}
	if got := FormatPrice(nil); got != "-" {
		t.Fatalf("FormatPrice(nil) = %q", got)
	}

	if _, err := Multimodal(context.Background(), be, "ramen", Image{Data: bytes.NewReader(nil)}, DefaultAlpha, 20); err != nil {
		t.Fatalf("Multimodal: %v", err)
	}
	if be.alpha != 0.7 || be.topK != 20 {
		t.Fatalf("alpha=%v topK=%d", be.alpha, be.topK)
	}
}

func TestHistoryWindow(t *testing.T) {
	t.Parallel()
	r := Result{ID: "1"}
	for i := 0; i < 12; i++ {
		r.History = append(r.History, backend.PricePoint{SellingPrice: "1"})
	}
	w := NewHistoryWindow(5, 4)
	if n := len(w.Visible(r)); n != 5 {
		t.Fatalf("initial = %d", n)
	}
	if n := len(w.More(r)); n != 9 {
		t.Fatalf("after more = %d", n)
	}
	if n := len(w.More(r)); n != 12 {
		t.Fatalf("capped = %d", n)
	}

	var buf bytes.Buffer
	if err := WriteHistoryCSV(&buf, w.Visible(r)[:2]); err != nil {
		t.Fatalf("csv: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(buf.String()), "\n"); len(lines) != 3 || lines[0] != "last_updated,original_price,selling_price" {
		t.Fatalf("csv = %q", buf.String())
	}
}
