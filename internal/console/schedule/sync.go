// Package schedule mirrors the backend scheduler: its per-job hour/minute
// configuration, the global on/off switch and on-demand runs.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"

	"opsconsole/internal/backend"
	"opsconsole/internal/eventbus"
	logx "opsconsole/pkg/logx"
)

type JobName string

const (
	JobAll   JobName = "all"
	JobPrice JobName = "price"
	JobOld   JobName = "old"
)

type Entry struct {
	Job         JobName
	Kind        string // trigger type reported by the backend
	Hour        Value
	Minute      Value
	NextRunTime *time.Time // server-computed; never derived locally
}

type Config struct {
	Status   string
	Timezone string
	Jobs     map[JobName]Entry
}

func (c Config) Job(name JobName) (Entry, bool) {
	e, ok := c.Jobs[name]
	return e, ok
}

// Names returns job names with all and price first.
func (c Config) Names() []JobName {
	out := make([]JobName, 0, len(c.Jobs))
	for n := range c.Jobs {
		out = append(out, n)
	}
	rank := func(n JobName) int {
		switch n {
		case JobAll:
			return 0
		case JobPrice:
			return 1
		}
		return 2
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := rank(out[i]), rank(out[j]); ri != rj {
			return ri < rj
		}
		return out[i] < out[j]
	})
	return out
}

// Edit is one job's schedule change as typed by the operator. Blank fields
// take the job's default.
type Edit struct {
	Job    JobName
	Hour   string
	Minute string
}

type defaults struct{ hour, minute Value }

var jobDefaults = map[JobName]defaults{
	JobAll:   {Numeric(3), Numeric(0)},
	JobPrice: {Pattern("*"), Numeric(30)},
	JobOld:   {Numeric(4), Numeric(30)},
}

// Resolve parses an edit and fills blank fields with the job defaults.
func Resolve(e Edit) (hour, minute Value, err error) {
	if hour, err = ParseValue(FieldHour, e.Hour); err != nil {
		return Value{}, Value{}, err
	}
	if minute, err = ParseValue(FieldMinute, e.Minute); err != nil {
		return Value{}, Value{}, err
	}
	def, ok := jobDefaults[e.Job]
	if !hour.IsSet() {
		if !ok {
			return Value{}, Value{}, &ValidationError{Field: FieldHour, Input: e.Hour, Reason: "required for job " + string(e.Job)}
		}
		hour = def.hour
	}
	if !minute.IsSet() {
		if !ok {
			return Value{}, Value{}, &ValidationError{Field: FieldMinute, Input: e.Minute, Reason: "required for job " + string(e.Job)}
		}
		minute = def.minute
	}
	return hour, minute, nil
}

// Backend is the subset of the backend client used by Sync and Switch.
type Backend interface {
	SchedulerConfig(ctx context.Context) (backend.SchedulerConfigWire, error)
	SetSchedulerConfig(ctx context.Context, upd backend.SchedulerUpdate) (backend.SchedulerConfigWire, error)
	RunJobNow(ctx context.Context, which string) (backend.MessageResponse, error)
	SchedulerOn(ctx context.Context) (backend.SchedulerStatus, error)
	SchedulerOff(ctx context.Context) (backend.SchedulerStatus, error)
	SchedulerStatus(ctx context.Context) (backend.SchedulerStatus, error)
}

// Sync owns the cached scheduler configuration.
type Sync struct {
	be  Backend
	bus eventbus.Bus
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	loaded  bool
	issued  uint64
	applied uint64
}

func NewSync(be Backend, bus eventbus.Bus, log logx.Logger) *Sync {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sync{be: be, bus: bus, log: log}
}

// Config returns the last loaded configuration and whether one was loaded.
func (s *Sync) Config() (Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.clone(), s.loaded
}

func (s *Sync) Load(ctx context.Context) (Config, error) {
	s.mu.Lock()
	s.issued++
	seq := s.issued
	s.mu.Unlock()

	w, err := s.be.SchedulerConfig(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("load scheduler config: %w", err)
	}
	cfg := fromWire(w)

	s.mu.Lock()
	if seq <= s.applied {
		cur := s.cfg.clone()
		s.mu.Unlock()
		return cur, nil
	}
	s.applied = seq
	s.cfg = cfg
	s.loaded = true
	s.mu.Unlock()

	eventbus.Emit(s.bus, eventbus.ScheduleUpdated, cfg.clone())
	return cfg, nil
}

// Save sends one job's hour and minute with persist set, then reloads so
// the returned config carries the server's next run time.
func (s *Sync) Save(ctx context.Context, e Edit) (Config, error) {
	e.Job = JobName(strings.ToLower(strings.TrimSpace(string(e.Job))))
	if e.Job == "" {
		return Config{}, &ValidationError{Field: "job", Reason: "required"}
	}
	hour, minute, err := Resolve(e)
	if err != nil {
		return Config{}, err
	}
	hb, _ := hour.MarshalJSON()
	mb, _ := minute.MarshalJSON()
	upd := backend.SchedulerUpdate{
		Jobs:    map[string]backend.ScheduleFieldsWire{string(e.Job): {Hour: json.RawMessage(hb), Minute: json.RawMessage(mb)}},
		Persist: true,
	}
	if _, err := s.be.SetSchedulerConfig(ctx, upd); err != nil {
		return Config{}, fmt.Errorf("save schedule %s: %w", e.Job, err)
	}
	s.log.Info("schedule saved",
		logx.String("job", string(e.Job)),
		logx.String("hour", hour.String()),
		logx.String("minute", minute.String()),
	)
	return s.Load(ctx)
}

// RunNow triggers the job immediately, leaving its schedule and the
// scheduler switch alone, then reloads.
func (s *Sync) RunNow(ctx context.Context, job JobName) (string, error) {
	resp, err := s.be.RunJobNow(ctx, string(job))
	if err != nil {
		return "", fmt.Errorf("run %s now: %w", job, err)
	}
	if _, err := s.Load(ctx); err != nil {
		s.log.Warn("reload after run-now failed", logx.Err(err))
	}
	return resp.Message, nil
}

func fromWire(w backend.SchedulerConfigWire) Config {
	cfg := Config{Status: w.Status, Timezone: w.Timezone, Jobs: make(map[JobName]Entry, len(w.Jobs))}
	zone := LoadZone(w.Timezone)
	for name, j := range w.Jobs {
		e := Entry{Job: JobName(name), Kind: j.Type}
		if len(j.Hour) > 0 {
			_ = e.Hour.UnmarshalJSON(j.Hour)
		}
		if len(j.Minute) > 0 {
			_ = e.Minute.UnmarshalJSON(j.Minute)
		}
		e.NextRunTime = parseTime(j.NextRunTime, zone)
		cfg.Jobs[e.Job] = e
	}
	return cfg
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// parseTime reads a server timestamp. Times without an offset are in the
// scheduler's zone.
func parseTime(s string, zone *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, l := range timeLayouts {
		if t, err := time.ParseInLocation(l, s, zone); err == nil {
			return &t
		}
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	out.Jobs = make(map[JobName]Entry, len(c.Jobs))
	for k, v := range c.Jobs {
		out.Jobs[k] = v
	}
	return out
}

// DefaultZone is the display zone for next run times.
const DefaultZone = "Asia/Seoul"

// LoadZone resolves a display zone, falling back to a fixed KST offset.
func LoadZone(name string) *time.Location {
	if name == "" {
		name = DefaultZone
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("KST", 9*60*60)
}

// FormatNextRun renders t in loc regardless of the host zone; nil is "-".
func FormatNextRun(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	if loc == nil {
		loc = LoadZone("")
	}
	return t.In(loc).Format("2006-01-02 15:04 MST")
}
