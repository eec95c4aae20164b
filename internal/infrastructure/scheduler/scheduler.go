// Package scheduler implements background job scheduling for the
// gamification engine: leaderboard rotation and refresh, period counter
// resets, challenge generation, and archival. Jobs that run on every worker
// instance coordinate through a database lock so each period executes once.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// JOB INTERFACE
// ══════════════════════════════════════════════════════════════════════════════

// Job defines the interface all scheduled jobs implement.
type Job interface {
	// Name returns the unique name of the job.
	Name() string

	// Run executes the job. The context is cancelled when the scheduler is
	// stopping.
	Run(ctx context.Context) error

	// Description returns a human-readable description of the job.
	Description() string
}

// Schedule defines when a job should run.
type Schedule interface {
	// Next returns the next time the job should run after the given time.
	Next(t time.Time) time.Time

	// String returns a human-readable representation of the schedule.
	String() string
}

// Lock coordinates job execution across worker instances. A run that fails to
// acquire the lock is a skip: another instance owns the period.
type Lock interface {
	RunExclusive(ctx context.Context, jobName, periodKey string, fn func(ctx context.Context) error) (acquired bool, err error)
}

// JobResult records one job execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Attempts    int
	Success     bool
	Error       error
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Errors returned by scheduler operations.
var (
	ErrNilJob                  = fmt.Errorf("job cannot be nil")
	ErrNilSchedule             = fmt.Errorf("schedule cannot be nil")
	ErrJobAlreadyExists        = fmt.Errorf("job already exists")
	ErrJobNotFound             = fmt.Errorf("job not found")
	ErrSchedulerAlreadyRunning = fmt.Errorf("scheduler is already running")
	ErrSchedulerNotRunning     = fmt.Errorf("scheduler is not running")
)

// Scheduler manages and executes scheduled jobs. Failed runs are retried a
// fixed number of times with a fixed delay before the run is recorded as
// failed; the next scheduled run happens regardless.
type Scheduler struct {
	mu sync.RWMutex

	logger     *slog.Logger
	tick       time.Duration
	maxRetries int
	retryDelay time.Duration

	jobs     map[string]*scheduledJob
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastRuns map[string]JobResult
}

type scheduledJob struct {
	job       Job
	schedule  Schedule
	nextRun   time.Time
	lastRun   time.Time
	runCount  int64
	failCount int64
}

// Config contains configuration for the Scheduler.
type Config struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// Tick is how often the scheduler checks for due jobs.
	Tick time.Duration

	// MaxRetries is how many times a failed run is retried.
	MaxRetries int

	// RetryDelay is the fixed delay between retries.
	RetryDelay time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tick:       time.Second,
		MaxRetries: 2,
		RetryDelay: 30 * time.Second,
	}
}

// New creates a Scheduler with the given configuration.
func New(config Config) *Scheduler {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Tick <= 0 {
		config.Tick = time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 30 * time.Second
	}

	return &Scheduler{
		logger:     config.Logger,
		tick:       config.Tick,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		jobs:       make(map[string]*scheduledJob),
		lastRuns:   make(map[string]JobResult),
	}
}

// Register adds a job to the scheduler with the given schedule.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	if job == nil {
		return ErrNilJob
	}
	if schedule == nil {
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}

	now := time.Now().UTC()
	sj := &scheduledJob{job: job, schedule: schedule, nextRun: schedule.Next(now)}
	s.jobs[name] = sj

	s.logger.Info("job registered",
		"job", name,
		"description", job.Description(),
		"schedule", schedule.String(),
		"next_run", sj.nextRun.Format(time.RFC3339),
	)
	return nil
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", len(s.jobs))

	s.wg.Add(1)
	go s.runLoop()
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkDueJobs()
		}
	}
}

func (s *Scheduler) checkDueJobs() {
	now := time.Now().UTC()

	s.mu.Lock()
	var due []*scheduledJob
	for _, sj := range s.jobs {
		if !sj.nextRun.IsZero() && now.After(sj.nextRun) {
			sj.lastRun = now
			sj.nextRun = sj.schedule.Next(now)
			sj.runCount++
			due = append(due, sj)
		}
	}
	s.mu.Unlock()

	for _, sj := range due {
		s.wg.Add(1)
		go func(sj *scheduledJob) {
			defer s.wg.Done()
			s.runJob(s.ctx, sj)
		}(sj)
	}
}

func (s *Scheduler) runJob(ctx context.Context, sj *scheduledJob) {
	name := sj.job.Name()
	startedAt := time.Now()
	s.logger.Info("job started", "job", name)

	var err error
	attempts := 0
	for attempts <= s.maxRetries {
		attempts++
		if err = sj.job.Run(ctx); err == nil {
			break
		}
		if attempts > s.maxRetries {
			break
		}
		s.logger.Warn("job attempt failed, retrying",
			"job", name, "attempt", attempts, "error", err)
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempts = s.maxRetries + 1
		case <-time.After(s.retryDelay):
		}
	}

	completedAt := time.Now()
	result := JobResult{
		JobName:     name,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Attempts:    attempts,
		Success:     err == nil,
		Error:       err,
	}

	s.mu.Lock()
	if err != nil {
		sj.failCount++
	}
	s.lastRuns[name] = result
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed",
			"job", name, "attempts", attempts, "duration", result.Duration.String(), "error", err)
	} else {
		s.logger.Info("job completed",
			"job", name, "duration", result.Duration.String())
	}
}

// RunNow immediately executes a registered job, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) (JobResult, error) {
	s.mu.RLock()
	sj, exists := s.jobs[jobName]
	s.mu.RUnlock()
	if !exists {
		return JobResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobName)
	}

	startedAt := time.Now()
	err := sj.job.Run(ctx)
	completedAt := time.Now()

	result := JobResult{
		JobName:     jobName,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		Duration:    completedAt.Sub(startedAt),
		Attempts:    1,
		Success:     err == nil,
		Error:       err,
	}

	s.mu.Lock()
	s.lastRuns[jobName] = result
	s.mu.Unlock()

	return result, err
}

// LastResult returns the most recent execution record for a job.
func (s *Scheduler) LastResult(jobName string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastRuns[jobName]
	return r, ok
}
