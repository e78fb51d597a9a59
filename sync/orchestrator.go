package sync

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// ErrSyncInProgress is returned when a user already has a run in flight.
var ErrSyncInProgress = errors.New("sync already in progress")

// Status represents the state of a user's latest run
type Status struct {
	User      string     `json:"user"`
	RunID     string     `json:"run_id"`
	Status    string     `json:"status"`
	Full      bool       `json:"full"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Result    *Result    `json:"result,omitempty"`
}

// Orchestrator admits at most one run per user and remembers the last
// finished run for each.
type Orchestrator struct {
	mu                  sync.RWMutex
	runningJobs         map[string]*Status
	lastCompletedStatus map[string]*Status
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		runningJobs:         make(map[string]*Status),
		lastCompletedStatus: make(map[string]*Status),
	}
}

// begin registers a run for user. The returned func must be called exactly
// once with the run's result.
func (o *Orchestrator) begin(user, runID string, full bool) (func(*Result), error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.runningJobs[user]; exists {
		return nil, ErrSyncInProgress
	}

	status := &Status{
		User:      user,
		RunID:     runID,
		Status:    statusRunning,
		Full:      full,
		StartTime: time.Now(),
	}
	o.runningJobs[user] = status

	var once sync.Once
	return func(result *Result) {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()

			now := time.Now()
			status.EndTime = &now
			status.Status = statusFailed
			if result != nil {
				cp := *result
				status.Result = &cp
				if result.Success {
					status.Status = statusCompleted
				}
			}
			o.lastCompletedStatus[user] = status
			delete(o.runningJobs, user)
			slog.Debug("Run released", "user", user, "run", runID, "status", status.Status)
		})
	}, nil
}

// IsRunning checks if a run is in flight for user
func (o *Orchestrator) IsRunning(user string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, exists := o.runningJobs[user]
	return exists
}

// GetRunningJobs returns the users with a run in flight, sorted.
func (o *Orchestrator) GetRunningJobs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	running := make([]string, 0, len(o.runningJobs))
	for user := range o.runningJobs {
		running = append(running, user)
	}
	sort.Strings(running)
	return running
}

// GetStatus returns a copy of the running status for user, else the last
// completed one, else nil.
func (o *Orchestrator) GetStatus(user string) *Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if status, exists := o.runningJobs[user]; exists {
		cp := *status
		return &cp
	}
	if status, exists := o.lastCompletedStatus[user]; exists {
		cp := *status
		return &cp
	}
	return nil
}
