// Package console assembles one operator session: every console component
// wired to one backend client and one event bus.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"opsconsole/internal/backend"
	"opsconsole/internal/console/gate"
	"opsconsole/internal/console/job"
	"opsconsole/internal/console/logstream"
	"opsconsole/internal/console/metrics"
	"opsconsole/internal/console/schedule"
	"opsconsole/internal/console/search"
	"opsconsole/internal/console/selector"
	"opsconsole/internal/console/settings"
	"opsconsole/internal/console/webhook"
	"opsconsole/internal/eventbus"
	"opsconsole/internal/storage"
	logx "opsconsole/pkg/logx"
)

// Backend is everything a session calls. *backend.Client implements it.
type Backend interface {
	job.StatusSource
	job.Controller
	logstream.Source
	gate.Backend
	selector.Runner
	schedule.Backend
	settings.Backend
	metrics.Backend
	search.Backend
	webhook.Registrar
}

var _ Backend = (*backend.Client)(nil)

type Options struct {
	PollInterval   time.Duration
	LogThreshold   int
	LogAutoRefresh time.Duration // used when prefs hold no value
	Zone           *time.Location
	Catalog        gate.Catalog
	Prefs          *storage.Prefs
	Logger         logx.Logger
}

// Session is owned by one operator surface. Nothing in it is shared with
// other sessions.
type Session struct {
	ID      string
	Bus     eventbus.Bus
	Backend Backend
	Zone    *time.Location
	Prefs   *storage.Prefs

	Poller    *job.Poller
	Jobs      *job.Reconciler
	Logs      *logstream.Follower
	Gate      *gate.Gate
	Scrape    *selector.Selector
	Upload    *selector.Selector
	Schedule  *schedule.Sync
	Scheduler *schedule.Switch
	Settings  *settings.Settings

	log    logx.Logger
	cancel context.CancelFunc

	closeOnce sync.Once
}

// New builds a session whose timers are bounded by ctx. Nothing is fetched
// until Open.
func New(ctx context.Context, id string, be Backend, opts Options) *Session {
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	if opts.Zone == nil {
		opts.Zone = schedule.LoadZone(schedule.DefaultZone)
	}
	if opts.Catalog == nil {
		opts.Catalog = gate.DefaultCatalog()
	}
	if opts.Prefs == nil {
		opts.Prefs = storage.NewPrefs(nil, id)
	}
	ctx, cancel := context.WithCancel(ctx)
	log := opts.Logger.With(logx.String("session", id))
	bus := eventbus.New()

	s := &Session{
		ID:      id,
		Bus:     bus,
		Backend: be,
		Zone:    opts.Zone,
		Prefs:   opts.Prefs,
		log:     log,
		cancel:  cancel,
	}
	s.Poller = job.NewPoller(ctx, be, job.PollerConfig{
		Interval: opts.PollInterval,
		Bus:      bus,
		Logger:   log.With(logx.Comp("job")),
	})
	s.Jobs = job.NewReconciler(be, s.Poller, bus, log.With(logx.Comp("job")))
	s.Logs = logstream.NewFollower(ctx, be, logstream.Config{
		Bus:       bus,
		Logger:    log.With(logx.Comp("logs")),
		Threshold: opts.LogThreshold,
	})
	s.Gate = gate.New(be, opts.Catalog, bus, log.With(logx.Comp("gate")))
	s.Scrape = selector.New(gate.FamilyScrape, be, s.Gate, bus, log.With(logx.Comp("selector")))
	s.Upload = selector.New(gate.FamilyUpload, be, s.Gate, bus, log.With(logx.Comp("selector")))
	s.Schedule = schedule.NewSync(be, bus, log.With(logx.Comp("schedule")))
	s.Scheduler = schedule.NewSwitch(be, bus, log.With(logx.Comp("schedule")))
	s.Settings = settings.New(be, log.With(logx.Comp("settings")))

	auto := opts.Prefs.LogsAuto(ctx)
	if auto == 0 {
		auto = opts.LogAutoRefresh
	}
	if auto > 0 {
		s.Logs.SetAutoRefresh(auto)
	}
	return s
}

// Open performs the initial load: scheduler state and the cancellation flag
// concurrently, then the schedule config, the categories, the job status
// and the first log page. Each step runs even if an earlier one failed; the
// failures are returned joined.
func (s *Session) Open(ctx context.Context) error {
	var (
		wg                 sync.WaitGroup
		switchErr, flagErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, switchErr = s.Scheduler.Refresh(ctx)
	}()
	go func() {
		defer wg.Done()
		_, flagErr = s.Gate.RefreshCancel(ctx)
	}()
	wg.Wait()

	errs := []error{
		wrap("scheduler status", switchErr),
		wrap("task flag", flagErr),
	}
	_, err := s.Schedule.Load(ctx)
	errs = append(errs, wrap("schedule config", err))
	errs = append(errs, wrap("categories", s.Gate.Load(ctx)))
	_, err = s.Poller.Sync(ctx)
	errs = append(errs, wrap("job status", err))
	_, err = s.Logs.Refresh(ctx)
	errs = append(errs, wrap("logs", err))

	if err := errors.Join(errs...); err != nil {
		s.log.Warn("session opened with errors", logx.Err(err))
		return err
	}
	s.log.Info("session opened")
	return nil
}

func wrap(step string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", step, err)
}

// SetLogAutoRefresh changes the log cadence and remembers it in prefs.
func (s *Session) SetLogAutoRefresh(ctx context.Context, d time.Duration) error {
	if !validAuto(d) {
		return fmt.Errorf("auto refresh must be one of %v", logstream.AutoRefreshChoices)
	}
	s.Logs.SetAutoRefresh(d)
	return s.Prefs.SetLogsAuto(ctx, d)
}

func validAuto(d time.Duration) bool {
	for _, c := range logstream.AutoRefreshChoices {
		if c == d {
			return true
		}
	}
	return false
}

// HistoryWindow returns a price-history window sized from prefs.
func (s *Session) HistoryWindow(ctx context.Context) *search.HistoryWindow {
	return search.NewHistoryWindow(s.Prefs.HistoryDefault(ctx), s.Prefs.HistoryStep(ctx))
}

// Close stops every timer. In-flight requests finish on their own.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Poller.Stop()
		s.Logs.Close()
		s.cancel()
		s.log.Debug("session closed")
	})
}
