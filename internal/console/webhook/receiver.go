package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"opsconsole/internal/console/job"
	"opsconsole/internal/eventbus"
	logx "opsconsole/pkg/logx"
)

const maxHookBody = 64 << 10

// Target receives webhook-triggered refreshes and answers status reads.
type Target interface {
	Tick(ctx context.Context) (job.JobStatus, error)
	Status() job.JobStatus
}

// Hit is one accepted webhook call.
type Hit struct {
	ID      string
	At      time.Time
	Remote  string
	Payload map[string]any
}

type ReceiverConfig struct {
	Path   string // hook path, default /hook
	Token  string
	Bus    eventbus.Bus
	Logger logx.Logger
	// Base bounds the refresh triggered by a hit; it outlives the request.
	Base context.Context
	// Profiling mounts the pprof handlers under /debug.
	Profiling bool
}

// Receiver is the webhook HTTP handler.
type Receiver struct {
	target Target
	cfg    ReceiverConfig
	log    logx.Logger
	router chi.Router
}

func NewReceiver(target Target, cfg ReceiverConfig) *Receiver {
	if cfg.Logger.IsZero() {
		cfg.Logger = logx.Nop()
	}
	if cfg.Base == nil {
		cfg.Base = context.Background()
	}
	cfg.Path = normalizePath(cfg.Path)
	r := &Receiver{target: target, cfg: cfg, log: cfg.Logger}

	mux := chi.NewRouter()
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Group(func(g chi.Router) {
		g.Use(tokenAuth(cfg.Token))
		g.Post(cfg.Path, r.handleHook)
		g.Get("/status", r.handleStatus)
		if cfg.Profiling {
			g.Mount("/debug", middleware.Profiler())
		}
	})
	r.router = mux
	return r
}

func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

func (r *Receiver) handleHook(w http.ResponseWriter, req *http.Request) {
	hit := Hit{ID: uuid.NewString(), At: time.Now(), Remote: req.RemoteAddr}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxHookBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		// The payload is informational; a non-JSON body is still a hit.
		_ = json.Unmarshal(body, &hit.Payload)
	}

	r.log.Info("webhook received", logx.String("hit", hit.ID), logx.String("remote", hit.Remote))
	eventbus.Emit(r.cfg.Bus, eventbus.WebhookReceived, hit)

	go func() {
		if _, err := r.target.Tick(r.cfg.Base); err != nil {
			r.log.Warn("status refresh after webhook failed", logx.String("hit", hit.ID), logx.Err(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "id": hit.ID})
}

type statusView struct {
	State           string   `json:"state"`
	Running         bool     `json:"running"`
	Progress        int      `json:"progress"`
	Total           int      `json:"total"`
	Percent         int      `json:"percent"`
	CancelRequested bool     `json:"cancel_requested"`
	Predicted       bool     `json:"predicted"`
	FetchedAt       string   `json:"fetched_at,omitempty"`
	Recent          []string `json:"recent,omitempty"`
}

func (r *Receiver) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := r.target.Status()
	v := statusView{
		State:           string(st.State),
		Running:         st.Running,
		Progress:        st.Progress,
		Total:           st.Total,
		Percent:         st.Percent(),
		CancelRequested: st.CancelRequested,
		Predicted:       st.Predicted,
	}
	if !st.FetchedAt.IsZero() {
		v.FetchedAt = st.FetchedAt.UTC().Format(time.RFC3339)
	}
	for _, it := range st.Recent(10) {
		v.Recent = append(v.Recent, it.ID+" "+string(it.Outcome))
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// tokenAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func tokenAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if got == tok {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/hook"
	}
	p = "/" + strings.Trim(p, "/")
	if p == "/" {
		return "/hook"
	}
	return p
}
