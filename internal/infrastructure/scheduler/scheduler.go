// Package scheduler runs the periodic maintenance jobs of the worker on top of
// robfig/cron.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alem-hub/learning-progress/pkg/logger"
)

// Scheduler errors.
var (
	ErrNilJob           = errors.New("scheduler: job cannot be nil")
	ErrJobAlreadyExists = errors.New("scheduler: job already registered")
	ErrJobNotFound      = errors.New("scheduler: job not found")
	ErrInvalidSchedule  = errors.New("scheduler: invalid schedule")
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface that all scheduled jobs must implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Description returns a human-readable description of the job.
	Description() string

	// Run executes the job. The context is cancelled when the scheduler
	// stops or the job exceeds its timeout.
	Run(ctx context.Context) error
}

// JobResult contains the result of a job execution.
type JobResult struct {
	JobName   string
	StartedAt time.Time
	Duration  time.Duration
	Manual    bool
	Err       error
}

// Success reports whether the run finished without error.
func (r JobResult) Success() bool { return r.Err == nil }

// JobInfo describes a registered job.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	NextRun     time.Time
	PrevRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the Scheduler.
type Config struct {
	Logger *logger.Logger

	// Location evaluates cron expressions. Default UTC.
	Location *time.Location

	// JobTimeout bounds one run. Zero means no bound.
	JobTimeout time.Duration

	// HistorySize caps the retained results.
	HistorySize int
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		Location:    time.UTC,
		JobTimeout:  5 * time.Minute,
		HistorySize: 200,
	}
}

type registeredJob struct {
	job       Job
	spec      string
	entryID   cron.EntryID
	runCount  int64
	failCount int64
	last      *JobResult
}

// Scheduler runs jobs on cron schedules. Overlapping runs of the same job
// are skipped and panics are recovered.
type Scheduler struct {
	mu      sync.RWMutex
	cron    *cron.Cron
	log     *logger.Logger
	jobs    map[string]*registeredJob
	history []JobResult
	maxHist int
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}

	log := cfg.Logger.With(logger.Component("scheduler"))
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		jobs:    make(map[string]*registeredJob),
		maxHist: cfg.HistorySize,
		timeout: cfg.JobTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds job under a standard five-field cron expression or a
// descriptor such as "@every 10m".
func (s *Scheduler) Register(spec string, job Job) error {
	if job == nil {
		return ErrNilJob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	rj := &registeredJob{job: job, spec: spec}
	id, err := s.cron.AddFunc(spec, func() { s.execute(s.ctx, rj, false) })
	if err != nil {
		return fmt.Errorf("%w %q for %s: %v", ErrInvalidSchedule, spec, name, err)
	}
	rj.entryID = id
	s.jobs[name] = rj

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", spec),
		logger.String("description", job.Description()),
	)
	return nil
}

// Start begins firing jobs. It does not block.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.Jobs())))
}

// Stop stops scheduling new runs and waits for running jobs. If ctx ends
// first, running jobs are cancelled and ctx's error is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	defer s.cancel()

	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warn("scheduler stop timed out, cancelling running jobs")
		return ctx.Err()
	}
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	s.mu.RLock()
	rj, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	result := s.execute(ctx, rj, true)
	return result, result.Err
}

func (s *Scheduler) execute(ctx context.Context, rj *registeredJob, manual bool) JobResult {
	name := rj.job.Name()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	err := rj.job.Run(ctx)
	result := JobResult{
		JobName:   name,
		StartedAt: start,
		Duration:  time.Since(start),
		Manual:    manual,
		Err:       err,
	}

	s.mu.Lock()
	rj.runCount++
	if err != nil {
		rj.failCount++
	}
	rj.last = &result
	s.history = append(s.history, result)
	if len(s.history) > s.maxHist {
		s.history = s.history[len(s.history)-s.maxHist:]
	}
	s.mu.Unlock()

	fields := []logger.Field{
		logger.String("job", name),
		logger.Bool("manual", manual),
		logger.Latency(result.Duration),
	}
	if err != nil {
		s.log.Error("job failed", append(fields, logger.Err(err))...)
	} else {
		s.log.Info("job completed", fields...)
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Jobs lists registered jobs ordered by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, rj := range s.jobs {
		entry := s.cron.Entry(rj.entryID)
		infos = append(infos, JobInfo{
			Name:        name,
			Description: rj.job.Description(),
			Schedule:    rj.spec,
			NextRun:     entry.Next,
			PrevRun:     entry.Prev,
			RunCount:    rj.runCount,
			FailCount:   rj.failCount,
			LastResult:  rj.last,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// History returns up to limit of the most recent results, oldest first.
func (s *Scheduler) History(limit int) []JobResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	out := make([]JobResult, limit)
	copy(out, s.history[len(s.history)-limit:])
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// cron.Logger adapter
// ──────────────────────────────────────────────────────────────────────────────

type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Zap().Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Zap().Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
