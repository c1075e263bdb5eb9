package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"opsconsole/internal/backend"
	logx "opsconsole/pkg/logx"
)

type fakeEnv struct {
	saved []backend.EnvUpdate
}

func (f *fakeEnv) Env(ctx context.Context) backend.TextMap { return nil }

func (f *fakeEnv) SaveEnv(ctx context.Context, upd backend.EnvUpdate) (backend.MessageResponse, error) {
	f.saved = append(f.saved, upd)
	return backend.MessageResponse{Message: "ok"}, nil
}

func TestPageRangeValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		start, end int
		ok         bool
	}{
		{1, 30, true},
		{5, 5, true},
		{0, 3, false},
		{4, 3, false},
	}
	for _, tt := range tests {
		be := &fakeEnv{}
		_, err := New(be, logx.Nop()).SavePageRange(context.Background(), tt.start, tt.end)
		if (err == nil) != tt.ok {
			t.Fatalf("SavePageRange(%d, %d) err = %v", tt.start, tt.end, err)
		}
		if !tt.ok && len(be.saved) != 0 {
			t.Fatal("invalid range reached the backend")
		}
	}
}

func TestEmbeddingServerValidation(t *testing.T) {
	t.Parallel()
	for in, ok := range map[string]bool{
		"http://10.0.0.2:8000": true,
		"https://emb.example":  true,
		"ftp://emb.example":    false,
		"emb.example:8000":     false,
		"":                     false,
		"http://":              false,
	} {
		if err := ValidateEmbeddingServer(in); (err == nil) != ok {
			t.Fatalf("ValidateEmbeddingServer(%q) = %v", in, err)
		}
	}
}

func TestGetNeverNil(t *testing.T) {
	t.Parallel()
	if m := New(&fakeEnv{}, logx.Nop()).Get(context.Background()); m == nil {
		t.Fatal("Get returned nil")
	}
}

func TestPushFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# scraper\nEMART_START_PAGE=2\nEMART_END_PAGE=12\nEMB_SERVER=\"http://gpu:9000\"\nUNRELATED=1\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	be := &fakeEnv{}
	if _, err := New(be, logx.Nop()).PushFile(context.Background(), path); err != nil {
		t.Fatalf("PushFile: %v", err)
	}
	if len(be.saved) != 1 {
		t.Fatalf("saves = %d", len(be.saved))
	}
	got := be.saved[0]
	if *got.StartPage != 2 || *got.EndPage != 12 || got.EmbServer != "http://gpu:9000" {
		t.Fatalf("update = %+v", got)
	}
}

func TestUpdateFromEnvRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		env  map[string]string
		want error
	}{
		{"nothing", map[string]string{"OTHER": "x"}, ErrNothingToSave},
		{"half range", map[string]string{KeyStartPage: "1"}, nil},
		{"bad number", map[string]string{KeyStartPage: "one", KeyEndPage: "2"}, nil},
		{"inverted", map[string]string{KeyStartPage: "9", KeyEndPage: "2"}, nil},
		{"bad url", map[string]string{KeyEmbServer: "gpu:9000"}, nil},
	}
	for _, tt := range tests {
		_, err := UpdateFromEnv(tt.env)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
		var ve *ValidationError
		if tt.want == nil && !errors.As(err, &ve) {
			t.Fatalf("%s: err = %v, want ValidationError", tt.name, err)
		}
	}
}
