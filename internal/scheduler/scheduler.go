package scheduler

import (
	"binance-trade-bot-go/internal/bot"
	"binance-trade-bot-go/internal/metrics"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jasonlvhit/gocron"
	"go.uber.org/zap"
)

// job is a registered runner together with its single-slot tick channel.
type job struct {
	runner   bot.Runner
	interval time.Duration
	ticks    chan struct{}
}

// Scheduler runs bots periodically. Every job has its own worker goroutine, so runs of
// the same job never overlap; a tick that arrives while the job is busy is dropped.
type Scheduler struct {
	cron    *gocron.Scheduler
	jobs    map[string]*job
	order   []string
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	stopped chan bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(mt *metrics.Metrics, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    gocron.NewScheduler(),
		jobs:    make(map[string]*job),
		metrics: mt,
		logger:  logger.Named("scheduler"),
	}
}

// Add registers a runner to be triggered every interval (at least one second).
func (s *Scheduler) Add(r bot.Runner, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot add job %s: scheduler already started", r.Name())
	}
	if _, ok := s.jobs[r.Name()]; ok {
		return fmt.Errorf("job %s already registered", r.Name())
	}
	seconds := uint64(interval / time.Second)
	if seconds == 0 {
		seconds = 1
	}

	j := &job{runner: r, interval: time.Duration(seconds) * time.Second, ticks: make(chan struct{}, 1)}
	if err := s.cron.Every(seconds).Seconds().Do(s.Trigger, r.Name()); err != nil {
		return fmt.Errorf("schedule job %s: %w", r.Name(), err)
	}
	s.jobs[r.Name()] = j
	s.order = append(s.order, r.Name())
	s.logger.Sugar().Infof("Job %s scheduled every %s.", r.Name(), j.interval)
	return nil
}

// Jobs returns the names of the registered jobs in registration order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cpy := make([]string, len(s.order))
	copy(cpy, s.order)
	return cpy
}

// Start launches one worker per job and the ticker. Every job also runs once immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, name := range s.order {
		j := s.jobs[name]
		s.wg.Add(1)
		go s.worker(ctx, j)
		select {
		case j.ticks <- struct{}{}:
		default:
		}
	}
	s.stopped = s.cron.Start()
	s.logger.Sugar().Infof("Scheduler started with %d jobs.", len(s.order))
}

// Stop stops the ticker, cancels running jobs and waits for the workers to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopped)
	s.cron.Clear()
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Sugar().Info("Scheduler stopped.")
}

// Trigger requests a run of the named job without blocking. It reports false when the
// job is unknown or a run is already pending.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case j.ticks <- struct{}{}:
		return true
	default:
		s.metrics.RecordJobSkipped(name)
		s.logger.Debug("job busy, tick dropped", zap.String("job", name))
		return false
	}
}

// worker processes the ticks of a single job serially.
func (s *Scheduler) worker(ctx context.Context, j *job) {
	defer s.wg.Done()
	for {
		select {
		case <-j.ticks:
			s.run(ctx, j.runner)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, r bot.Runner) {
	start := time.Now()
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		s.metrics.RecordJobRun(r.Name(), err, time.Since(start))
		if err != nil {
			s.logger.Error("job failed", zap.String("job", r.Name()), zap.Error(err))
		}
	}()
	err = r.Run(ctx)
}
