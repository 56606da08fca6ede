package syncengine

import (
	"context"
	"sync"
	"time"

	"github.com/safemap/safemap_backend/config"
	"github.com/safemap/safemap_backend/models"
	"github.com/sirupsen/logrus"
)

// Scheduler drives periodic reconciliation runs. The first run after startup
// is a full pass with enrichment over the whole table; every tick after that
// is an incremental pass that only enriches recently created rows.
type Scheduler struct {
	engine   *Engine
	guard    *RunGuard
	logger   *logrus.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(engine *Engine, guard *RunGuard) *Scheduler {
	minutes := config.IntFromEnv("SYNC_INTERVAL_MINUTES", 30)
	if minutes < 1 {
		minutes = 1
	}
	return &Scheduler{
		engine:   engine,
		guard:    guard,
		logger:   config.GetLogger(),
		interval: time.Duration(minutes) * time.Minute,
	}
}

// Start launches the scheduler loop. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)
}

// Stop cancels the loop and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsActive reports whether the scheduler loop is running.
func (s *Scheduler) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsRunning reports whether a sync run is executing right now.
func (s *Scheduler) IsRunning() bool {
	return s.guard.IsActive()
}

// TriggerManual executes a run on behalf of an API caller on the calling
// goroutine. It returns ErrRunInProgress when another run holds the guard.
func (s *Scheduler) TriggerManual(ctx context.Context, opts Options) (*RunResult, error) {
	release, err := s.guard.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.engine.Run(ctx, opts), nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.logger.WithFields(logrus.Fields{
		"field":    "Scheduler.loop",
		"interval": s.interval.String(),
	}).Info("sync scheduler started")

	s.execute(ctx, Options{
		TriggeredBy:      models.SyncTriggeredStartup,
		InitialSync:      true,
		GeocodeAddresses: true,
		ScrapePhotos:     true,
	})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.WithFields(logrus.Fields{
				"field": "Scheduler.loop",
			}).Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.execute(ctx, Options{
				TriggeredBy:      models.SyncTriggeredSystem,
				GeocodeAddresses: true,
				ScrapePhotos:     true,
			})
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, opts Options) {
	if ctx.Err() != nil {
		return
	}

	release, err := s.guard.Acquire(ctx)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"field":        "Scheduler.execute",
			"triggered_by": opts.TriggeredBy,
		}).Warn("skipping scheduled sync: " + err.Error())
		return
	}
	defer release()

	result := s.engine.Run(ctx, opts)
	s.logger.WithFields(logrus.Fields{
		"field":        "Scheduler.execute",
		"run_id":       result.RunId,
		"triggered_by": opts.TriggeredBy,
		"success":      result.Success,
		"fetched":      result.TotalFetched,
		"added":        result.NewAdded,
		"updated":      result.Updated,
		"resolved":     result.Resolved,
		"errors":       len(result.Errors),
		"duration":     result.Duration.String(),
	}).Info("scheduled sync finished")
}
