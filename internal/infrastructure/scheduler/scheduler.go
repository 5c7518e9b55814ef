// Package scheduler runs the worker's periodic jobs on cron expressions.
// Schedules are parsed and fired by robfig/cron; this package adds job
// naming, run history, manual runs and metrics on top.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrNilJob                  = errors.New("job cannot be nil")
	ErrInvalidSchedule         = errors.New("invalid schedule")
	ErrJobAlreadyExists        = errors.New("job already exists")
	ErrJobNotFound             = errors.New("job not found")
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
)

// Job is one unit of periodic work. Run's context is cancelled when the
// scheduler stops or the run exceeds the job timeout.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// JobResult describes one finished run.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error

	// Manual is set for runs started through RunNow.
	Manual bool
}

// JobInfo is the status of one registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	LastRun     time.Time

	// NextRun is zero until the scheduler has started.
	NextRun time.Time

	RunCount   int64
	FailCount  int64
	LastResult *JobResult
}

// Recorder receives one observation per job run. *metrics.Collector
// satisfies it.
type Recorder interface {
	RecordJob(name string, d time.Duration, success bool)
}

// SchedulerConfig configures NewScheduler. Zero values fall back to UTC,
// slog.Default and a history of 1000 runs.
type SchedulerConfig struct {
	Logger         *slog.Logger
	Timezone       *time.Location
	MaxHistorySize int

	// JobTimeout bounds one scheduled run. Zero means no bound.
	JobTimeout time.Duration

	Recorder Recorder
}

// specParser accepts five fields, an optional leading seconds field, or a
// descriptor such as "@hourly" and "@every 30m".
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// entry is a registered job and its counters, guarded by Scheduler.mu.
type entry struct {
	job  Job
	spec string
	id   cron.EntryID

	lastRun time.Time
	runs    int64
	fails   int64
	last    *JobResult
}

// history keeps the newest results up to a fixed size, oldest first.
type history struct {
	size    int
	results []JobResult
}

func (h *history) add(r JobResult) {
	h.results = append(h.results, r)
	if over := len(h.results) - h.size; over > 0 {
		h.results = slices.Delete(h.results, 0, over)
	}
}

func (h *history) tail(n int) []JobResult {
	if n <= 0 || n > len(h.results) {
		n = len(h.results)
	}
	return slices.Clone(h.results[len(h.results)-n:])
}

// Scheduler fires registered jobs on their schedules. Overlapping runs of
// the same job are skipped and panics are recovered by the cron chain.
type Scheduler struct {
	cron       *cron.Cron
	logger     *slog.Logger
	recorder   Recorder
	jobTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
	history history
	runCtx  context.Context
	stop    context.CancelFunc
	started time.Time
}

// NewScheduler creates a stopped Scheduler.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = 1000
	}

	log := config.Logger.With("component", "scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(config.Timezone),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:     log,
		recorder:   config.Recorder,
		jobTimeout: config.JobTimeout,
		entries:    make(map[string]*entry),
		history:    history{size: config.MaxHistorySize},
	}
}

// Register schedules job under its name. Names are unique.
func (s *Scheduler) Register(job Job, spec string) error {
	if job == nil {
		return ErrNilJob
	}
	schedule, err := specParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidSchedule, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, spec: spec}
	e.id = s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(e) }))
	s.entries[name] = e

	s.logger.Info("job registered", "job", name, "schedule", spec, "description", job.Description())
	return nil
}

// Start begins firing jobs. Runs receive a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.runCtx, s.stop = context.WithCancel(ctx)
	s.started = time.Now()
	n := len(s.entries)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs_count", n)
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.stop()
	s.stop = nil
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped", "uptime", time.Since(s.started).Round(time.Second).String())
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stop != nil
}

// fire is the cron callback.
func (s *Scheduler) fire(e *entry) {
	s.mu.RLock()
	ctx := s.runCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}
	s.run(ctx, e, false)
}

// RunNow runs a job immediately, outside its schedule. The run's error is
// returned alongside its result.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.RLock()
	e, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	res := s.run(ctx, e, true)
	return &res, res.Error
}

func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	s.logger.Info("job started", "job", name, "manual", manual)

	start := time.Now()
	err := e.job.Run(ctx)
	end := time.Now()

	res := JobResult{
		JobName:     name,
		StartedAt:   start,
		CompletedAt: end,
		Duration:    end.Sub(start),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}
	if s.recorder != nil {
		s.recorder.RecordJob(name, res.Duration, res.Success)
	}

	s.mu.Lock()
	e.lastRun = start
	e.runs++
	if err != nil {
		e.fails++
	}
	e.last = &res
	s.history.add(res)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job", name, "duration", res.Duration.String(), "error", err)
	} else {
		s.logger.Info("job completed", "job", name, "duration", res.Duration.String())
	}
	return res
}

// ListJobs returns every registered job ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		infos = append(infos, JobInfo{
			Name:        name,
			Description: e.job.Description(),
			Schedule:    e.spec,
			LastRun:     e.lastRun,
			NextRun:     s.cron.Entry(e.id).Next,
			RunCount:    e.runs,
			FailCount:   e.fails,
			LastResult:  e.last,
		})
	}
	slices.SortFunc(infos, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// GetHistory returns up to limit of the newest results, oldest first. A
// non-positive limit returns everything kept.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.tail(limit)
}

// cronLogger routes robfig/cron's own logging (skips, recovered panics)
// into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
