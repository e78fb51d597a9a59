package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pocketbase/pocketbase/core"
	"golang.org/x/oauth2"

	"github.com/fieldfin/taskfin/auvo"
	"github.com/fieldfin/taskfin/credential"
)

// DateLayout is the calendar date format used for periods.
const DateLayout = "2006-01-02"

// Kind classifies why a run failed.
type Kind string

const (
	KindPrecondition Kind = "precondition"
	KindNetwork      Kind = "network"
	KindProtocol     Kind = "protocol"
	KindPersistence  Kind = "persistence"
	KindConflict     Kind = "conflict"
)

// Fetcher retrieves raw task records from upstream.
type Fetcher interface {
	FetchTasks(ctx context.Context, token *oauth2.Token, q auvo.TaskQuery) ([]json.RawMessage, error)
}

// TokenSource returns a currently valid upstream token for a user.
type TokenSource interface {
	Token(userID string) (*oauth2.Token, error)
}

// Request asks for one user's tasks in an inclusive date range. Empty
// dates default to yesterday and today. Full wipes the user's tasks and
// rollups before writing.
type Request struct {
	UserID string `json:"user_id"`
	Start  string `json:"start_date"`
	End    string `json:"end_date"`
	Full   bool   `json:"full"`
}

// Result is the outcome of one run.
type Result struct {
	RunID      string    `json:"run_id"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	Kind       Kind      `json:"kind,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	UserID     string    `json:"user_id"`
	Start      string    `json:"start_date"`
	End        string    `json:"end_date"`
	Full       bool      `json:"full"`
	Fetched    int       `json:"fetched"`
	Saved      int       `json:"saved"`
	Updated    int       `json:"updated"`
	Unchanged  int       `json:"unchanged"`
	Skipped    int       `json:"skipped"`
	ErrorCount int       `json:"error_count"`
	Errors     []string  `json:"errors"`
	Warnings   []string  `json:"warnings"`
	Totals     *Totals   `json:"totals,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Duration   float64   `json:"duration_seconds"`
}

// Options configures a TaskSync.
type Options struct {
	Policy   TaskTypePolicy
	PageSize int
	// Now overrides the clock; used for default dates and timestamps.
	Now func() time.Time
}

// TaskSync runs the task ingestion pipeline.
type TaskSync struct {
	fetcher Fetcher
	tokens  TokenSource
	store   *Store
	runs    *Orchestrator
	policy  TaskTypePolicy
	page    int
	now     func() time.Time
}

// NewTaskSync wires the pipeline. runs may be shared with other callers so
// that every trigger observes the same per-user lock.
func NewTaskSync(app core.App, fetcher Fetcher, tokens TokenSource, runs *Orchestrator, opts Options) *TaskSync {
	if runs == nil {
		runs = NewOrchestrator()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == "" {
		opts.Policy = PolicyFallback
	}
	return &TaskSync{
		fetcher: fetcher,
		tokens:  tokens,
		store:   NewStore(app),
		runs:    runs,
		policy:  opts.Policy,
		page:    opts.PageSize,
		now:     opts.Now,
	}
}

// Runs returns the run registry.
func (s *TaskSync) Runs() *Orchestrator {
	return s.runs
}

// ResolvePeriod fills default dates and validates the range.
func ResolvePeriod(start, end string, now time.Time) (string, string, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	if start == "" {
		start = now.AddDate(0, 0, -1).Format(DateLayout)
	}
	if end == "" {
		end = now.Format(DateLayout)
	}

	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return "", "", fmt.Errorf("invalid start date %q", start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return "", "", fmt.Errorf("invalid end date %q", end)
	}
	if e.Before(s) {
		return "", "", fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return start, end, nil
}

// Run executes one sync. It always returns a Result; failures are
// described by Success, Kind and Message.
func (s *TaskSync) Run(ctx context.Context, req Request) *Result {
	started := s.now()
	result := &Result{
		RunID:     uuid.NewString(),
		UserID:    strings.TrimSpace(req.UserID),
		Full:      req.Full,
		StartedAt: started,
		Errors:    []string{},
		Warnings:  []string{},
	}
	defer func() { result.Duration = s.now().Sub(started).Seconds() }()

	if result.UserID == "" {
		return result.fail(KindPrecondition, credential.ErrMissingUser.Error())
	}

	start, end, err := ResolvePeriod(req.Start, req.End, started)
	if err != nil {
		return result.fail(KindPrecondition, err.Error())
	}
	result.Start, result.End = start, end

	token, err := s.tokens.Token(result.UserID)
	if err != nil {
		return result.fail(KindPrecondition, err.Error())
	}

	release, err := s.runs.begin(result.UserID, result.RunID, req.Full)
	if err != nil {
		return result.fail(KindConflict, err.Error())
	}
	defer func() {
		result.Duration = s.now().Sub(started).Seconds()
		release(result)
	}()

	logSyncStart(result.RunID, result.UserID, start, end, req.Full)

	raw, err := s.fetcher.FetchTasks(ctx, token, auvo.TaskQuery{Start: start, End: end, PageSize: s.page})
	if err != nil {
		kind, retryable := classifyFetchError(err)
		result.Retryable = retryable
		logSyncComplete(result.RunID, Stats{}, "outcome=fetch_failed")
		return result.fail(kind, fmt.Sprintf("fetching tasks: %v", err))
	}
	result.Fetched = len(raw)

	var (
		stats    Stats
		errs     []string
		warnings []string
		totals   Totals
	)
	stats.Fetched = len(raw)

	txErr := s.store.InTransaction(result.UserID, func(uow *UnitOfWork) error {
		stats = Stats{Fetched: len(raw)}
		errs, warnings = nil, nil

		if req.Full {
			if _, err := uow.WipeUser(); err != nil {
				return err
			}
		}

		records := make([]auvo.TaskRecord, 0, len(raw))
		ids := make([]int64, 0, len(raw))
		for i, item := range raw {
			rec, err := auvo.ParseTaskRecord(item)
			if err != nil {
				errs = append(errs, fmt.Sprintf("record #%d: %v", i+1, err))
				stats.Errors++
				stats.Skipped++
				continue
			}
			records = append(records, rec)
			ids = append(ids, rec.ExternalID)
		}
		if err := uow.PreloadTasks(ids); err != nil {
			return err
		}

		resolver := NewResolver(uow.App(), result.UserID, s.policy)
		periodStart, _ := time.Parse(DateLayout, start)
		var agg Aggregator

		for _, rec := range records {
			res, err := resolver.Resolve(rec)
			if err != nil {
				if !isRecordError(err) {
					return err
				}
				errs = append(errs, fmt.Sprintf("task %d: %v", rec.ExternalID, err))
				stats.Errors++
				stats.Skipped++
				continue
			}
			if res.Warning != "" {
				warnings = append(warnings, res.Warning)
			}

			period := rec.OccurredAt
			if period.IsZero() {
				period = periodStart
				warnings = append(warnings, fmt.Sprintf("task %d: timestamp %q unreadable, using %s",
					rec.ExternalID, rec.RawOccurredAt, start))
			}

			figures, err := Calculate(rec, resolver)
			if err != nil {
				return fmt.Errorf("task %d: %w", rec.ExternalID, err)
			}
			outcome, err := uow.UpsertTask(TaskRow{
				ExternalID:   rec.ExternalID,
				Period:       period,
				Customer:     rec.Customer,
				TaskType:     res.TaskTypeID,
				Collaborator: res.CollaboratorID,
				Figures:      figures,
				Raw:          rec.Raw,
			})
			if err != nil {
				return err
			}
			stats.count(outcome)
			agg.Add(figures)
		}

		totals = agg.Finish()
		if err := uow.UpsertRollups(start, end, totals, s.now()); err != nil {
			return err
		}
		return credential.MarkSynced(uow.App(), result.UserID, result.RunID, s.now())
	})

	if txErr != nil {
		result.Skipped = len(raw)
		result.ErrorCount = len(raw)
		result.Errors = append(result.Errors, fmt.Sprintf("rolled back: %v", txErr))
		logSyncComplete(result.RunID, Stats{Fetched: len(raw), Skipped: len(raw), Errors: len(raw)}, "outcome=rolled_back")
		return result.fail(KindPersistence, fmt.Sprintf("saving tasks failed, nothing was written: %v", txErr))
	}

	result.Success = true
	result.Saved = stats.Created
	result.Updated = stats.Updated
	result.Unchanged = stats.Unchanged
	result.Skipped = stats.Skipped
	result.ErrorCount = stats.Errors
	result.Errors = append(result.Errors, errs...)
	result.Warnings = append(result.Warnings, warnings...)
	result.Totals = &totals
	result.Message = fmt.Sprintf("Synced %d of %d tasks for %s to %s (%d new, %d updated, %d unchanged, %d skipped)",
		stats.Created+stats.Updated+stats.Unchanged, len(raw), start, end,
		stats.Created, stats.Updated, stats.Unchanged, stats.Skipped)

	logSyncComplete(result.RunID, stats, fmt.Sprintf("warnings=%d", len(warnings)))
	return result
}

func (r *Result) fail(kind Kind, msg string) *Result {
	r.Success = false
	r.Kind = kind
	r.Message = msg
	return r
}

func isRecordError(err error) bool {
	return errors.Is(err, ErrUnresolvedCollaborator) ||
		errors.Is(err, ErrUnknownTaskType) ||
		errors.Is(err, auvo.ErrInvalidRecord)
}

func classifyFetchError(err error) (Kind, bool) {
	switch {
	case errors.Is(err, auvo.ErrUnauthorized):
		return KindPrecondition, false
	case errors.Is(err, auvo.ErrNetwork),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return KindNetwork, true
	default:
		return KindProtocol, false
	}
}
