package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NikhilSetiya/servermon/pkg/errors"
	"github.com/NikhilSetiya/servermon/pkg/logging"
)

// Job is one unit of periodic work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (f JobFunc) Name() string                  { return f.JobName }
func (f JobFunc) Run(ctx context.Context) error { return f.Fn(ctx) }

// SchedulerConfig contains scheduler configuration
type SchedulerConfig struct {
	// RunOnStart runs every job once immediately instead of waiting a full
	// interval.
	RunOnStart      bool          `json:"run_on_start"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		RunOnStart:      true,
		ShutdownTimeout: 30 * time.Second,
	}
}

// JobStats contains per-job statistics
type JobStats struct {
	Runs      int64         `json:"runs"`
	Succeeded int64         `json:"succeeded"`
	Failed    int64         `json:"failed"`
	Running   bool          `json:"running"`
	LastRunAt time.Time     `json:"last_run_at"`
	LastError string        `json:"last_error,omitempty"`
	Duration  time.Duration `json:"last_duration"`
}

type scheduledJob struct {
	job      Job
	interval time.Duration
}

// Scheduler runs registered jobs on fixed intervals. A job never overlaps
// with itself: ticks that arrive while it runs are skipped.
type Scheduler struct {
	config SchedulerConfig
	logger *logging.Logger

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.RWMutex
	jobs    []scheduledJob
	running bool
	stats   map[string]JobStats
}

// NewScheduler creates a new scheduler
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultSchedulerConfig().ShutdownTimeout
	}
	return &Scheduler{
		config: config,
		logger: logging.GetLogger(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		stats:  make(map[string]JobStats),
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(job Job, interval time.Duration) error {
	if interval <= 0 {
		return errors.NewValidationError(fmt.Sprintf("interval for job %s must be positive", job.Name()))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.NewValidationError("scheduler is already running")
	}
	if _, exists := s.stats[job.Name()]; exists {
		return errors.NewConflictError(fmt.Sprintf("job %s is already registered", job.Name()))
	}
	s.jobs = append(s.jobs, scheduledJob{job: job, interval: interval})
	s.stats[job.Name()] = JobStats{}
	return nil
}

// Start launches one loop per job. Loops end when ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.NewValidationError("scheduler is already running")
	}
	s.running = true
	jobs := make([]scheduledJob, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, sj := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, sj)
		}()
	}

	go func() {
		<-s.stopCh
		cancel()
	}()
	go func() {
		wg.Wait()
		cancel()
		close(s.doneCh)
	}()

	s.logger.Info("Scheduler started", "jobs", len(jobs))
	return nil
}

// Stop cancels in-flight runs and waits for them to return
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.NewValidationError("scheduler is not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
	case <-time.After(s.config.ShutdownTimeout):
		return errors.NewTimeoutError("scheduler shutdown")
	}
	s.logger.Info("Scheduler stopped")
	return nil
}

// Done is closed once every job loop has returned
func (s *Scheduler) Done() <-chan struct{} {
	return s.doneCh
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetStats returns a copy of the per-job statistics
func (s *Scheduler) GetStats() map[string]JobStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]JobStats, len(s.stats))
	for k, v := range s.stats {
		out[k] = v
	}
	return out
}

func (s *Scheduler) loop(ctx context.Context, sj scheduledJob) {
	if s.config.RunOnStart {
		s.runOnce(ctx, sj.job)
	}

	ticker := time.NewTicker(sj.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, sj.job)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	name := job.Name()
	s.updateStats(name, func(st *JobStats) {
		st.Running = true
		st.LastRunAt = time.Now()
	})

	start := time.Now()
	err := s.safeRun(ctx, job)
	duration := time.Since(start)

	s.updateStats(name, func(st *JobStats) {
		st.Running = false
		st.Runs++
		st.Duration = duration
		if err != nil {
			st.Failed++
			st.LastError = err.Error()
		} else {
			st.Succeeded++
			st.LastError = ""
		}
	})

	if err != nil && ctx.Err() == nil {
		s.logger.WithContext(ctx).WithError(err).WithField("job", name).Error("Scheduled job failed")
	}
}

func (s *Scheduler) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(fmt.Sprintf("job %s panicked: %v", job.Name(), r))
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) updateStats(name string, fn func(*JobStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[name]
	fn(&st)
	s.stats[name] = st
}
