package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/fieldfin/taskfin/credential"
)

const (
	// DefaultRefreshSpec runs the refresh at the top of every hour.
	DefaultRefreshSpec = "0 * * * *"
	// DefaultRefreshWorkers bounds how many users refresh at once.
	DefaultRefreshWorkers = 4
)

// AccountLister lists the accounts eligible for a scheduled refresh.
type AccountLister interface {
	ValidAccounts() ([]credential.Account, error)
}

// SchedulerConfig holds refresh schedule configuration
type SchedulerConfig struct {
	// Spec is a cron expression; empty disables the schedule.
	Spec    string
	Workers int
}

// SchedulerConfigFromEnv reads TASKFIN_REFRESH_CRON and TASKFIN_REFRESH_WORKERS.
func SchedulerConfigFromEnv() (SchedulerConfig, error) {
	cfg := SchedulerConfig{Spec: DefaultRefreshSpec, Workers: DefaultRefreshWorkers}

	if v, ok := os.LookupEnv("TASKFIN_REFRESH_CRON"); ok {
		cfg.Spec = strings.TrimSpace(v)
	}
	if v := strings.TrimSpace(os.Getenv("TASKFIN_REFRESH_WORKERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid TASKFIN_REFRESH_WORKERS %q", v)
		}
		cfg.Workers = n
	}
	return cfg, nil
}

// Scheduler manages cron-based refreshes of every account with a valid token
type Scheduler struct {
	cron     *cron.Cron
	taskSync *TaskSync
	accounts AccountLister
	config   SchedulerConfig
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates a new scheduler
func NewScheduler(taskSync *TaskSync, accounts AccountLister, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultRefreshWorkers
	}
	return &Scheduler{
		cron:     cron.New(),
		taskSync: taskSync,
		accounts: accounts,
		config:   cfg,
	}
}

// Start registers the refresh schedule and starts the cron runner
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if s.config.Spec == "" {
		slog.Info("Scheduled refresh disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.config.Spec, func() {
		slog.Info("Starting scheduled refresh")
		results, err := s.RefreshAll(context.Background())
		if err != nil {
			slog.Error("Scheduled refresh failed", "error", err)
			return
		}
		slog.Info("Scheduled refresh completed", "users", len(results))
	})
	if err != nil {
		return fmt.Errorf("adding refresh schedule %q: %w", s.config.Spec, err)
	}

	s.cron.Start()
	s.running = true

	slog.Info("Refresh scheduler started", "spec", s.config.Spec, "workers", s.config.Workers)
	return nil
}

// Stop gracefully stops the scheduler, waiting for a running refresh
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	slog.Info("Stopping refresh scheduler")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	slog.Info("Refresh scheduler stopped")
}

// RefreshAll syncs yesterday..today for every account whose token is valid.
// Users run concurrently up to the configured worker count; a user that
// already has a run in flight is skipped. Results are in account order.
func (s *Scheduler) RefreshAll(ctx context.Context) ([]*Result, error) {
	accounts, err := s.accounts.ValidAccounts()
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		slog.Info("No accounts with a valid token to refresh")
		return nil, nil
	}

	results := make([]*Result, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)

	for i, acct := range accounts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result := s.taskSync.Run(gctx, Request{UserID: acct.User})
			results[i] = result

			switch {
			case result.Success:
			case result.Kind == KindConflict:
				slog.Info("Skipping refresh, run already in progress", "user", acct.User)
			default:
				slog.Warn("Refresh failed", "user", acct.User, "kind", result.Kind, "message", result.Message)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return results, err
	}
	return results, nil
}
