package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the daemon's periodic housekeeping jobs.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewScheduler creates a scheduler using the standard five-field cron
// syntax and descriptors such as @hourly.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	return &Scheduler{
		cron:   c,
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Schedule registers fn under name, replacing any job with the same name.
// An empty spec removes the job.
func (s *Scheduler) Schedule(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
	if spec == "" {
		s.logger.Debug("job disabled", "job", name)
		return nil
	}

	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("failed to register %s job: %w", name, err)
	}
	s.jobs[name] = id
	s.logger.Debug("job registered", "job", name, "spec", spec)
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Start starts the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Debug("scheduler started", "jobs", s.Jobs())
}

// Stop stops the scheduler. The returned context is done once running
// jobs have completed.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
