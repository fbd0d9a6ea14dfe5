// Package schedule runs periodic maintenance jobs on a cron schedule.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/studysync/studysync-go/internal/logging"
)

// Job is a unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron specs. Standard five-field specs and
// descriptors such as "@every 1m" are accepted.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	ctx     context.Context
}

func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

// AddJob registers job under spec. Runs of the same job never overlap.
func (s *Scheduler) AddJob(job Job, spec string) error {
	logger := logging.FromContext(s.ctx).With(zap.String("job", job.Name()), zap.String("spec", spec))

	id, err := s.cron.AddFunc(spec, s.wrap(job, spec))
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}

	s.mu.Lock()
	s.entries[job.Name()] = id
	s.mu.Unlock()

	logger.Info("job scheduled")
	return nil
}

// Start runs the scheduler in the background. ctx is handed to every job
// run.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Scheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		ctx := s.runContext()
		logger := logging.FromContext(ctx).With(zap.String("job", job.Name()), zap.String("spec", spec))

		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		err := job.Run(ctx)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
			return
		}
		logger.Debug("job finished", zap.Duration("duration", elapsed))
	}
}
