package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"opsconsole/internal/backend"
	logx "opsconsole/pkg/logx"
)

type fakeScheduler struct {
	body    string // GET /scheduler/config response
	updates []string
	runs    []string
	status  backend.SchedulerStatus
	err     error
}

func (f *fakeScheduler) SchedulerConfig(ctx context.Context) (backend.SchedulerConfigWire, error) {
	var w backend.SchedulerConfigWire
	if f.err != nil {
		return w, f.err
	}
	err := json.Unmarshal([]byte(f.body), &w)
	return w, err
}

func (f *fakeScheduler) SetSchedulerConfig(ctx context.Context, upd backend.SchedulerUpdate) (backend.SchedulerConfigWire, error) {
	if f.err != nil {
		return backend.SchedulerConfigWire{}, f.err
	}
	b, err := json.Marshal(upd)
	if err != nil {
		return backend.SchedulerConfigWire{}, err
	}
	f.updates = append(f.updates, string(b))
	return backend.SchedulerConfigWire{}, nil
}

func (f *fakeScheduler) RunJobNow(ctx context.Context, which string) (backend.MessageResponse, error) {
	if f.err != nil {
		return backend.MessageResponse{}, f.err
	}
	f.runs = append(f.runs, which)
	return backend.MessageResponse{Message: "queued " + which}, nil
}

func (f *fakeScheduler) SchedulerOn(ctx context.Context) (backend.SchedulerStatus, error) {
	return f.status, f.err
}

func (f *fakeScheduler) SchedulerOff(ctx context.Context) (backend.SchedulerStatus, error) {
	return f.status, f.err
}

func (f *fakeScheduler) SchedulerStatus(ctx context.Context) (backend.SchedulerStatus, error) {
	return f.status, f.err
}

func boolPtr(b bool) *bool { return &b }

func TestParseValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		field   Field
		in      string
		want    Value
		wantErr bool
	}{
		{FieldHour, "", Value{}, false},
		{FieldHour, "  ", Value{}, false},
		{FieldHour, "7", Numeric(7), false},
		{FieldHour, " 07 ", Numeric(7), false},
		{FieldHour, "23", Numeric(23), false},
		{FieldHour, "24", Value{}, true},
		{FieldMinute, "59", Numeric(59), false},
		{FieldMinute, "-1", Value{}, true},
		{FieldHour, "*", Pattern("*"), false},
		{FieldHour, "*/2", Pattern("*/2"), false},
		{FieldMinute, "0,30", Pattern("0,30"), false},
		{FieldHour, "1-5", Pattern("1-5"), false},
		{FieldHour, "*/x", Value{}, true},
		{FieldMinute, "every", Value{}, true},
		{FieldMinute, "1 2", Value{}, true},
		{FieldHour, "25-30", Value{}, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.field)+"/"+tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseValue(tt.field, tt.in)
			if tt.wantErr {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("ParseValue(%q) err = %v, want ValidationError", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseValue(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Fatalf("ParseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValueJSONKeepsKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		kind Kind
		str  string
	}{
		{`3`, KindNumeric, "3"},
		{`"*"`, KindPattern, "*"},
		{`"3"`, KindPattern, "3"},
		{`null`, KindUnset, ""},
	}
	for _, tt := range tests {
		var v Value
		if err := json.Unmarshal([]byte(tt.raw), &v); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		if v.Kind() != tt.kind || v.String() != tt.str {
			t.Fatalf("unmarshal %s = kind %d %q", tt.raw, v.Kind(), v.String())
		}
		out, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != tt.raw {
			t.Fatalf("round trip %s -> %s", tt.raw, out)
		}
	}
}

func TestSaveSubstitutesDefaults(t *testing.T) {
	t.Parallel()
	tests := []struct {
		edit Edit
		want string
	}{
		{Edit{Job: JobAll}, `{"all":{"hour":3,"minute":0},"persist":true}`},
		{Edit{Job: JobPrice}, `{"persist":true,"price":{"hour":"*","minute":30}}`},
		{Edit{Job: JobOld, Hour: "5"}, `{"old":{"hour":5,"minute":30},"persist":true}`},
		{Edit{Job: JobAll, Hour: "*/6", Minute: "15"}, `{"all":{"hour":"*/6","minute":15},"persist":true}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.edit.Job), func(t *testing.T) {
			t.Parallel()
			be := &fakeScheduler{body: `{"status":"ok","timezone":"Asia/Seoul"}`}
			s := NewSync(be, nil, logx.Nop())
			if _, err := s.Save(context.Background(), tt.edit); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if len(be.updates) != 1 || be.updates[0] != tt.want {
				t.Fatalf("updates = %v, want %s", be.updates, tt.want)
			}
		})
	}
}

func TestSaveRejectsInvalidInputLocally(t *testing.T) {
	t.Parallel()
	be := &fakeScheduler{}
	s := NewSync(be, nil, logx.Nop())
	for _, e := range []Edit{
		{Job: JobAll, Hour: "99"},
		{Job: JobPrice, Minute: "soon"},
		{Job: "custom"},
		{Job: " "},
	} {
		if _, err := s.Save(context.Background(), e); err == nil {
			t.Fatalf("Save(%+v) accepted invalid input", e)
		}
	}
	if len(be.updates) != 0 {
		t.Fatalf("invalid edits reached the backend: %v", be.updates)
	}
}

func TestSaveReloadsServerNextRun(t *testing.T) {
	t.Parallel()
	be := &fakeScheduler{body: `{
		"status": "ok",
		"timezone": "Asia/Seoul",
		"all":   {"type": "cron", "hour": 3, "minute": 0, "next_run_time": "2025-01-02T03:00:00+09:00"},
		"price": {"type": "cron", "hour": "*", "minute": 30, "next_run_time": null}
	}`}
	s := NewSync(be, nil, logx.Nop())
	cfg, err := s.Save(context.Background(), Edit{Job: JobAll})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	all, ok := cfg.Job(JobAll)
	if !ok || all.NextRunTime == nil || all.Hour != Numeric(3) {
		t.Fatalf("all = %+v", all)
	}
	price, _ := cfg.Job(JobPrice)
	if price.Hour != Pattern("*") || price.NextRunTime != nil {
		t.Fatalf("price = %+v", price)
	}
	if names := cfg.Names(); len(names) != 2 || names[0] != JobAll || names[1] != JobPrice {
		t.Fatalf("Names = %v", names)
	}
	if got, loaded := s.Config(); !loaded || got.Timezone != "Asia/Seoul" {
		t.Fatalf("cached config = %+v", got)
	}
}

func TestNextRunWithoutOffsetUsesSchedulerZone(t *testing.T) {
	t.Parallel()
	be := &fakeScheduler{body: `{
		"timezone": "Asia/Seoul",
		"all":   {"hour": 3, "minute": 0, "next_run_time": "2025-01-02 03:00:00"},
		"price": {"hour": "*", "minute": 30, "next_run_time": "2025-01-02T03:00:00Z"},
		"old":   {"hour": 4, "minute": 0, "next_run_time": "2025-01-02T04:30:00.5"}
	}`}
	cfg, err := NewSync(be, nil, logx.Nop()).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		job  JobName
		want time.Time
	}{
		{JobAll, time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)},
		{JobPrice, time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)},
		{JobOld, time.Date(2025, 1, 1, 19, 30, 0, 500000000, time.UTC)},
	}
	for _, tt := range tests {
		e, ok := cfg.Job(tt.job)
		if !ok || e.NextRunTime == nil || !e.NextRunTime.Equal(tt.want) {
			t.Fatalf("%s next run = %v, want %v", tt.job, e.NextRunTime, tt.want)
		}
	}
	all, _ := cfg.Job(JobAll)
	if got := FormatNextRun(all.NextRunTime, LoadZone("Asia/Seoul")); got != "2025-01-02 03:00 KST" {
		t.Fatalf("FormatNextRun = %q", got)
	}
}

func TestRunNowLeavesScheduleAlone(t *testing.T) {
	t.Parallel()
	be := &fakeScheduler{body: `{"all":{"hour":3,"minute":0}}`}
	s := NewSync(be, nil, logx.Nop())
	msg, err := s.RunNow(context.Background(), JobPrice)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if msg != "queued price" || len(be.runs) != 1 || len(be.updates) != 0 {
		t.Fatalf("msg=%q runs=%v updates=%v", msg, be.runs, be.updates)
	}
}

func TestFormatNextRunUsesDisplayZone(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)
	if got := FormatNextRun(&at, LoadZone("Asia/Seoul")); got != "2025-01-02 03:00 KST" {
		t.Fatalf("FormatNextRun = %q", got)
	}
	if got := FormatNextRun(nil, nil); got != "-" {
		t.Fatalf("FormatNextRun(nil) = %q", got)
	}
}

func TestSwitchDerivesRunning(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		st   backend.SchedulerStatus
		want *bool
	}{
		{"running", backend.SchedulerStatus{Running: boolPtr(true), Paused: boolPtr(true)}, boolPtr(true)},
		{"paused", backend.SchedulerStatus{Paused: boolPtr(true)}, boolPtr(false)},
		{"unpaused", backend.SchedulerStatus{Paused: boolPtr(false)}, boolPtr(true)},
		{"unknown", backend.SchedulerStatus{Status: "ok"}, nil},
	}
	for _, tt := range tests {
		got := RunningFrom(tt.st)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Fatalf("%s: RunningFrom = %v", tt.name, got)
		}
	}

	be := &fakeScheduler{}
	sw := NewSwitch(be, nil, logx.Nop())
	if err := sw.On(context.Background()); err != nil {
		t.Fatalf("On: %v", err)
	}
	if r := sw.Running(); r == nil || !*r {
		t.Fatalf("Running after On = %v", r)
	}
	be.err = errors.New("down")
	if err := sw.Off(context.Background()); err == nil {
		t.Fatal("expected Off error")
	}
	if r := sw.Running(); r == nil || !*r {
		t.Fatal("failed Off changed the state")
	}
}
