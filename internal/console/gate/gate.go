// Package gate decides whether manual scrape/upload tasks may run. A task
// family is allowed only when the category selection has been saved on the
// backend and the family-wide cancellation flag is not set.
package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"opsconsole/internal/backend"
	"opsconsole/internal/eventbus"
	logx "opsconsole/pkg/logx"
)

type Family string

const (
	FamilyScrape Family = "scrape"
	FamilyUpload Family = "upload"
)

// Denial reasons shown to the operator.
const (
	ReasonNotSaved  = "save the category selection first"
	ReasonCancelled = "tasks are cancelled; resume them first"
)

var (
	ErrNoCategories = errors.New("select at least one category")
	ErrNotPersisted = errors.New("backend did not confirm the saved categories")
)

// UnknownCategoryError is returned by Save for names outside the catalog.
type UnknownCategoryError struct {
	Names []string
}

func (e *UnknownCategoryError) Error() string {
	return "unknown categories: " + strings.Join(e.Names, ", ")
}

// Decision is the synchronous result of a gate check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Backend is the subset of the backend client the gate needs.
type Backend interface {
	Categories(ctx context.Context) (backend.TextMap, error)
	SaveCategories(ctx context.Context, cats map[string]string) (backend.SaveCategoriesResponse, error)
	DeleteCategories(ctx context.Context) (backend.MessageResponse, error)
	TasksStatus(ctx context.Context) (backend.TaskFlag, error)
	TasksStop(ctx context.Context) (backend.TaskFlag, error)
	TasksStart(ctx context.Context) (backend.TaskFlag, error)
}

// State is a snapshot of the gate, published on every transition.
type State struct {
	Persisted bool
	Cancelled *bool // nil while unknown
	Selected  []string
}

type Gate struct {
	be  Backend
	cat Catalog
	bus eventbus.Bus
	log logx.Logger

	mu        sync.Mutex
	persisted bool
	cancelled *bool
	selected  []string
}

func New(be Backend, cat Catalog, bus eventbus.Bus, log logx.Logger) *Gate {
	if len(cat) == 0 {
		cat = DefaultCatalog()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gate{be: be, cat: cat, bus: bus, log: log}
}

func (g *Gate) Catalog() Catalog { return g.cat }

// Check never touches the network.
func (g *Gate) Check(f Family) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.persisted {
		return Decision{Reason: ReasonNotSaved}
	}
	if g.cancelled != nil && *g.cancelled {
		return Decision{Reason: ReasonCancelled}
	}
	return Decision{Allowed: true}
}

func (g *Gate) CanRun(f Family) bool { return g.Check(f).Allowed }

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Gate) stateLocked() State {
	st := State{Persisted: g.persisted, Selected: append([]string(nil), g.selected...)}
	if g.cancelled != nil {
		c := *g.cancelled
		st.Cancelled = &c
	}
	return st
}

func (g *Gate) Persisted() bool { return g.State().Persisted }

func (g *Gate) Selected() []string { return g.State().Selected }

// Cancelled returns the cancellation flag, or nil while unknown.
func (g *Gate) Cancelled() *bool { return g.State().Cancelled }

// ---- category configuration ----

// Load adopts the backend's saved selection. A failure marks the
// configuration unsaved.
func (g *Gate) Load(ctx context.Context) error {
	saved, err := g.be.Categories(ctx)
	if err != nil {
		g.mutate(func() {
			g.persisted = false
		})
		return fmt.Errorf("load categories: %w", err)
	}
	sel := g.selectionFrom(saved)
	g.mutate(func() {
		g.selected = sel
		g.persisted = len(sel) > 0
	})
	return nil
}

// Save stores the named categories. The flag moves to saved only when the
// backend's copy, read back after the save, is non-empty. Any failure
// leaves the gate unchanged.
func (g *Gate) Save(ctx context.Context, names []string) (State, error) {
	payload, err := g.payload(names)
	if err != nil {
		return g.State(), err
	}
	resp, err := g.be.SaveCategories(ctx, payload)
	if err != nil {
		return g.State(), fmt.Errorf("save categories: %w", err)
	}

	confirmed := map[string]string(resp.Data)
	if saved, lerr := g.be.Categories(ctx); lerr == nil {
		confirmed = saved
	} else {
		g.log.Warn("reading back saved categories failed", logx.Err(lerr))
	}
	sel := g.selectionFrom(confirmed)
	if len(sel) == 0 {
		return g.State(), ErrNotPersisted
	}

	var st State
	g.mutate(func() {
		g.selected = sel
		g.persisted = true
		st = g.stateLocked()
	})
	g.log.Info("categories saved", logx.Int("count", len(sel)))
	return st, nil
}

// SaveAll saves every catalog category.
func (g *Gate) SaveAll(ctx context.Context) (State, error) {
	return g.Save(ctx, g.cat.Names())
}

// Reset deletes the backend selection. Success marks the configuration
// unsaved; failure leaves it unchanged.
func (g *Gate) Reset(ctx context.Context) error {
	if _, err := g.be.DeleteCategories(ctx); err != nil {
		return fmt.Errorf("reset categories: %w", err)
	}
	g.mutate(func() {
		g.selected = nil
		g.persisted = false
	})
	return nil
}

func (g *Gate) payload(names []string) (map[string]string, error) {
	out := make(map[string]string, len(names))
	var unknown []string
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		cat, ok := g.cat.Lookup(n)
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out[cat.Name] = cat.ID
	}
	if len(unknown) > 0 {
		return nil, &UnknownCategoryError{Names: unknown}
	}
	if len(out) == 0 {
		return nil, ErrNoCategories
	}
	return out, nil
}

// selectionFrom returns catalog names present with a non-empty value, in
// catalog order.
func (g *Gate) selectionFrom(m map[string]string) []string {
	var out []string
	for _, cat := range g.cat {
		if strings.TrimSpace(m[cat.Name]) != "" {
			out = append(out, cat.Name)
		}
	}
	return out
}

// ---- cancellation flag ----

// RefreshCancel reads the flag. On failure the flag is left as it was,
// so a failed first refresh leaves it unknown.
func (g *Gate) RefreshCancel(ctx context.Context) (*bool, error) {
	f, err := g.be.TasksStatus(ctx)
	if err != nil {
		return g.Cancelled(), fmt.Errorf("task status: %w", err)
	}
	v := f.Cancelled != nil && *f.Cancelled
	g.setCancelled(v)
	return &v, nil
}

// Cancel asks the backend to stop running tasks and sets the flag.
func (g *Gate) Cancel(ctx context.Context) error {
	if _, err := g.be.TasksStop(ctx); err != nil {
		return fmt.Errorf("cancel tasks: %w", err)
	}
	g.setCancelled(true)
	return nil
}

// Resume clears the flag.
func (g *Gate) Resume(ctx context.Context) error {
	if _, err := g.be.TasksStart(ctx); err != nil {
		return fmt.Errorf("resume tasks: %w", err)
	}
	g.setCancelled(false)
	return nil
}

func (g *Gate) setCancelled(v bool) {
	g.mutate(func() { g.cancelled = &v })
}

func (g *Gate) mutate(fn func()) {
	g.mu.Lock()
	fn()
	st := g.stateLocked()
	g.mu.Unlock()
	eventbus.Emit(g.bus, eventbus.GateChanged, st)
}
