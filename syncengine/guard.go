package syncengine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/safemap/safemap_backend/config"
	"github.com/sirupsen/logrus"
)

// ErrRunInProgress is returned when a sync run is already holding the guard.
var ErrRunInProgress = errors.New("a sync run is already in progress")

const (
	runLockKey = "lock:safedream-sync"
	runLockTTL = 45 * time.Minute
)

// RunGuard serializes sync runs. The redis lock covers multiple replicas;
// the local mutex still guards a single process when redis is unavailable.
type RunGuard struct {
	mu     sync.Mutex
	active bool
	logger *logrus.Logger
}

func NewRunGuard() *RunGuard {
	return &RunGuard{logger: config.GetLogger()}
}

// Acquire returns a release func, or ErrRunInProgress when another run holds
// the guard. Callers must invoke the release func when the run finishes.
func (g *RunGuard) Acquire(ctx context.Context) (func(), error) {
	g.mu.Lock()
	if g.active {
		g.mu.Unlock()
		return nil, ErrRunInProgress
	}
	g.active = true
	g.mu.Unlock()

	localRelease := func() {
		g.mu.Lock()
		g.active = false
		g.mu.Unlock()
	}

	locker := config.GetRedisLock()
	if locker == nil {
		g.logger.WithFields(logrus.Fields{
			"field": "RunGuard.Acquire",
		}).Warn("redis lock not ready; proceeding with local guard only")
		return localRelease, nil
	}

	lock, err := locker.Obtain(ctx, runLockKey, runLockTTL, nil)
	if err == redislock.ErrNotObtained {
		localRelease()
		return nil, ErrRunInProgress
	}
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"field": "RunGuard.Acquire",
		}).Warn("error obtaining redis lock; proceeding with local guard only: " + err.Error())
		return localRelease, nil
	}

	return func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
			g.logger.WithFields(logrus.Fields{
				"field": "RunGuard.Acquire",
			}).Warn("failed to release redis lock: " + releaseErr.Error())
		}
		localRelease()
	}, nil
}

// IsActive reports whether this process currently holds the guard.
func (g *RunGuard) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
