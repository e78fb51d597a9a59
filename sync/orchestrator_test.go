package sync

import (
	"errors"
	"sync"
	"testing"
)

// TestOrchestratorCreation tests orchestrator initialization
func TestOrchestratorCreation(t *testing.T) {
	o := NewOrchestrator()

	if o.runningJobs == nil {
		t.Error("runningJobs map should be initialized")
	}
	if o.lastCompletedStatus == nil {
		t.Error("lastCompletedStatus map should be initialized")
	}
	if o.GetStatus("anyone") != nil {
		t.Error("GetStatus should be nil before any run")
	}
}

func TestOrchestrator_OneRunPerUser(t *testing.T) {
	o := NewOrchestrator()

	release, err := o.begin("alice", "run-1", false)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if !o.IsRunning("alice") {
		t.Error("alice should be running")
	}

	if _, err := o.begin("alice", "run-2", true); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second begin err = %v, want ErrSyncInProgress", err)
	}

	// Other users are independent.
	releaseBob, err := o.begin("bob", "run-3", false)
	if err != nil {
		t.Fatalf("begin(bob) failed: %v", err)
	}
	if got := o.GetRunningJobs(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("GetRunningJobs() = %v", got)
	}

	status := o.GetStatus("alice")
	if status == nil || status.Status != statusRunning || status.RunID != "run-1" {
		t.Fatalf("running status = %+v", status)
	}

	release(&Result{Success: true, Message: "ok"})
	releaseBob(&Result{Success: false, Kind: KindNetwork})

	if o.IsRunning("alice") || o.IsRunning("bob") {
		t.Error("runs should be released")
	}
	if s := o.GetStatus("alice"); s.Status != statusCompleted || s.EndTime == nil || s.Result.Message != "ok" {
		t.Errorf("alice status = %+v", s)
	}
	if s := o.GetStatus("bob"); s.Status != statusFailed {
		t.Errorf("bob status = %q, want failed", s.Status)
	}

	if _, err := o.begin("alice", "run-4", false); err != nil {
		t.Errorf("begin after release failed: %v", err)
	}
}

func TestOrchestrator_ReleaseIsIdempotent(t *testing.T) {
	o := NewOrchestrator()

	release, err := o.begin("alice", "run-1", false)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	release(&Result{Success: true})

	next, err := o.begin("alice", "run-2", false)
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	// A stale release must not free the newer run.
	release(&Result{Success: false})
	if !o.IsRunning("alice") {
		t.Error("stale release freed the active run")
	}
	next(nil)
	if s := o.GetStatus("alice"); s.RunID != "run-2" || s.Status != statusFailed {
		t.Errorf("status = %+v, want run-2 failed", s)
	}
}

func TestOrchestrator_StatusIsACopy(t *testing.T) {
	o := NewOrchestrator()
	result := &Result{Success: true, Message: "before"}

	release, _ := o.begin("alice", "run-1", false)
	release(result)
	result.Message = "after"

	s := o.GetStatus("alice")
	if s.Result.Message != "before" {
		t.Errorf("stored result changed with caller's copy: %q", s.Result.Message)
	}
	s.Status = "tampered"
	if o.GetStatus("alice").Status != statusCompleted {
		t.Error("GetStatus should return a copy")
	}
}

func TestOrchestrator_ConcurrentBegin(t *testing.T) {
	o := NewOrchestrator()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.begin("alice", "run", false); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Errorf("admitted %d concurrent runs, want 1", admitted)
	}
}
