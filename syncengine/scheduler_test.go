package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/safemap/safemap_backend/models"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestGuardSerializesRuns(t *testing.T) {
	guard := NewRunGuard()

	release, err := guard.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if !guard.IsActive() {
		t.Error("guard should be active while held")
	}

	if _, err := guard.Acquire(context.Background()); err != ErrRunInProgress {
		t.Errorf("second acquire = %v, want ErrRunInProgress", err)
	}

	release()
	if guard.IsActive() {
		t.Error("guard still active after release")
	}

	release2, err := guard.Acquire(context.Background())
	if err != nil {
		t.Fatalf("re-acquire after release failed: %v", err)
	}
	release2()
}

func TestSchedulerRunsStartupSync(t *testing.T) {
	source := &fakeSource{records: rawRecords(3)}
	store := newFakeStore()
	engine := newTestEngine(source, store, nil, nil)

	scheduler := NewScheduler(engine, NewRunGuard())
	scheduler.Start()
	defer scheduler.Stop()

	if !scheduler.IsActive() {
		t.Error("scheduler should report active after Start")
	}

	waitFor(t, 5*time.Second, func() bool { return store.runStatus != "" })
	if store.runStatus != models.SyncRunStatusSuccess {
		t.Errorf("startup run status = %q, want success", store.runStatus)
	}
	if len(store.rows) != 3 {
		t.Errorf("rows after startup run = %d, want 3", len(store.rows))
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	source := &fakeSource{records: rawRecords(1)}
	store := newFakeStore()
	engine := newTestEngine(source, store, nil, nil)

	scheduler := NewScheduler(engine, NewRunGuard())
	scheduler.Start()
	waitFor(t, 5*time.Second, func() bool { return store.runStatus != "" })

	scheduler.Stop()
	if scheduler.IsActive() {
		t.Error("scheduler should be inactive after Stop")
	}
	scheduler.Stop()
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	source := &fakeSource{records: rawRecords(1)}
	store := newFakeStore()
	engine := newTestEngine(source, store, nil, nil)

	scheduler := NewScheduler(engine, NewRunGuard())
	scheduler.Start()
	scheduler.Start()
	defer scheduler.Stop()

	waitFor(t, 5*time.Second, func() bool { return store.runStatus != "" })
}

func TestTriggerManualConflictsWithHeldGuard(t *testing.T) {
	source := &fakeSource{records: rawRecords(1)}
	store := newFakeStore()
	engine := newTestEngine(source, store, nil, nil)
	guard := NewRunGuard()
	scheduler := NewScheduler(engine, guard)

	release, err := guard.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	if _, err := scheduler.TriggerManual(context.Background(), Options{}); err != ErrRunInProgress {
		t.Errorf("TriggerManual = %v, want ErrRunInProgress", err)
	}
}

func TestTriggerManualRunsSynchronously(t *testing.T) {
	source := &fakeSource{records: rawRecords(4)}
	store := newFakeStore()
	engine := newTestEngine(source, store, nil, nil)
	scheduler := NewScheduler(engine, NewRunGuard())

	result, err := scheduler.TriggerManual(context.Background(), Options{
		TriggeredBy: models.SyncTriggeredManual,
	})
	if err != nil {
		t.Fatalf("TriggerManual failed: %v", err)
	}
	if result.NewAdded != 4 {
		t.Errorf("added = %d, want 4", result.NewAdded)
	}
	if scheduler.IsRunning() {
		t.Error("guard should be released after the run")
	}
}
