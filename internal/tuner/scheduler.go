package tuner

import (
	"context"
	"sync"
	"time"

	"github.com/verdictlabs/negotiator/pkg/logger"
)

// Scheduler runs the tuner at a fixed interval on a single background
// worker. Tune failures are logged and the loop continues; a shutdown
// request preempts the inter-tick sleep.
type Scheduler struct {
	tuner    *Tuner
	interval time.Duration
	log      *logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a scheduler driving the given tuner.
func NewScheduler(t *Tuner, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Scheduler{
		tuner:    t,
		interval: interval,
		log:      log.WithComponent("tune-scheduler"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background worker. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.log.Info("tune scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.tuner.Tune(ctx); err != nil {
				s.log.Error("tuning pass failed, keeping current weights", "error", err)
			}
		case <-s.stop:
			s.log.Info("tune scheduler stopping")
			return
		case <-ctx.Done():
			s.log.Info("tune scheduler context canceled")
			return
		}
	}
}

// Stop signals the worker to exit and waits for any in-flight pass to
// drain.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}
