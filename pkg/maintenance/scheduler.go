package maintenance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
)

// JobFunc is one unit of background maintenance
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	schedule string
	fn       JobFunc
}

// Scheduler runs named maintenance jobs on cron schedules. Runs of the same
// job never overlap.
type Scheduler struct {
	cron    *cron.Cron
	logger  *observability.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]job
}

// NewScheduler creates a scheduler evaluating schedules in UTC. Each run is
// bounded by timeout.
func NewScheduler(logger *observability.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger,
		timeout: timeout,
		jobs:    make(map[string]job),
	}
}

// Add registers a job. An empty schedule registers it for RunNow only.
func (s *Scheduler) Add(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}

	if schedule != "" {
		if _, err := s.cron.AddFunc(schedule, func() { s.run(context.Background(), name, fn) }); err != nil {
			return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, name, err)
		}
	}

	s.jobs[name] = job{name: name, schedule: schedule, fn: fn}
	return nil
}

// Jobs returns the registered job names in order
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunNow runs a registered job synchronously
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.run(ctx, name, j.fn)
}

func (s *Scheduler) run(ctx context.Context, name string, fn JobFunc) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logger := s.logger.WithField("job", name)
	defer observability.RecoverPanicWithCallback(logger, "maintenance job "+name, func() {
		err = fmt.Errorf("job %s panicked", name)
	})

	start := time.Now()
	err = fn(ctx)
	logger = logger.WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		logger.WithError(err).Error("Maintenance job failed")
		return err
	}
	logger.Debug("Maintenance job complete")
	return nil
}

// Start begins running scheduled jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, name := range s.Jobs() {
		s.mu.Lock()
		schedule := s.jobs[name].schedule
		s.mu.Unlock()
		if schedule != "" {
			s.logger.WithFields(map[string]interface{}{"job": name, "schedule": schedule}).Info("Maintenance job scheduled")
		}
	}
}

// Stop halts scheduling and waits for running jobs until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
