package sync

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/fieldfin/taskfin/auvo"
	"github.com/fieldfin/taskfin/schema"
)

const (
	// SentinelTaskTypeID is the task type used when none can be resolved.
	SentinelTaskTypeID int64 = 0
	// SentinelTaskTypeName is the label of the auto-created sentinel type.
	SentinelTaskTypeName = "General"
)

// TaskTypePolicy decides what happens to tasks whose type is not known locally.
type TaskTypePolicy string

const (
	// PolicyFallback files the task under the sentinel type and warns.
	PolicyFallback TaskTypePolicy = "fallback"
	// PolicyReject skips the task with a per-record error.
	PolicyReject TaskTypePolicy = "reject"
)

// PolicyFromEnv reads TASKFIN_UNKNOWN_TASK_TYPE.
func PolicyFromEnv() (TaskTypePolicy, error) {
	switch v := strings.ToLower(strings.TrimSpace(os.Getenv("TASKFIN_UNKNOWN_TASK_TYPE"))); v {
	case "", string(PolicyFallback):
		return PolicyFallback, nil
	case string(PolicyReject):
		return PolicyReject, nil
	default:
		return PolicyFallback, fmt.Errorf("invalid TASKFIN_UNKNOWN_TASK_TYPE %q", v)
	}
}

var (
	// ErrUnresolvedCollaborator is a per-record error: the task has no known collaborator.
	ErrUnresolvedCollaborator = errors.New("collaborator not resolved")
	// ErrUnknownTaskType is a per-record error raised under PolicyReject.
	ErrUnknownTaskType = errors.New("unknown task type")
)

// Resolution is a task's resolved references.
type Resolution struct {
	CollaboratorID int64
	TaskTypeID     int64
	// Warning is set when the task type fell back to the sentinel.
	Warning string
}

// Resolver maps a task's foreign keys onto the user's reference
// dictionaries. It is built once per run and caches hits and misses.
type Resolver struct {
	app    core.App
	user   string
	policy TaskTypePolicy

	collections   map[string]*core.Collection
	collaborators map[int64]bool
	taskTypes     map[int64]bool
	unitCosts     map[string]unitCost
	sentinelReady bool
}

type unitCost struct {
	value float64
	found bool
}

// NewResolver creates a resolver bound to app, which is usually the run's
// transactional app.
func NewResolver(app core.App, user string, policy TaskTypePolicy) *Resolver {
	if policy == "" {
		policy = PolicyFallback
	}
	return &Resolver{
		app:           app,
		user:          user,
		policy:        policy,
		collections:   make(map[string]*core.Collection),
		collaborators: make(map[int64]bool),
		taskTypes:     make(map[int64]bool),
		unitCosts:     make(map[string]unitCost),
	}
}

// Resolve returns the task's collaborator and task type. Errors wrapping
// ErrUnresolvedCollaborator or ErrUnknownTaskType concern only this record;
// anything else is a storage failure. The sentinel task type is only
// created for a task that passes every check.
func (r *Resolver) Resolve(rec auvo.TaskRecord) (Resolution, error) {
	var res Resolution

	if rec.CollaboratorID == 0 {
		return res, fmt.Errorf("%w: task has no collaborator", ErrUnresolvedCollaborator)
	}
	found, err := r.collaboratorExists(rec.CollaboratorID)
	if err != nil {
		return res, err
	}
	if !found {
		return res, fmt.Errorf("%w: collaborator %d not found", ErrUnresolvedCollaborator, rec.CollaboratorID)
	}
	res.CollaboratorID = rec.CollaboratorID

	typeID := SentinelTaskTypeID
	if rec.HasTaskType {
		typeID = rec.TaskTypeID
	}

	known, err := r.taskTypeExists(typeID)
	if err != nil {
		return res, err
	}
	switch {
	case known:
		res.TaskTypeID = typeID
	case typeID == SentinelTaskTypeID:
		if err := r.ensureSentinel(); err != nil {
			return res, err
		}
		res.TaskTypeID = SentinelTaskTypeID
	case r.policy == PolicyReject:
		return res, fmt.Errorf("%w %d", ErrUnknownTaskType, typeID)
	default:
		if err := r.ensureSentinel(); err != nil {
			return res, err
		}
		res.TaskTypeID = SentinelTaskTypeID
		res.Warning = fmt.Sprintf("task %d: task type %d not found locally, filed under %q",
			rec.ExternalID, typeID, SentinelTaskTypeName)
		slog.Warn("Unknown task type, using sentinel",
			"user", r.user, "task", rec.ExternalID, "taskType", typeID)
	}

	return res, nil
}

// UnitCost implements UnitCostLookup against the user's products. Misses
// are cached; lookup failures are returned and not cached.
func (r *Resolver) UnitCost(productID string) (float64, bool, error) {
	if productID == "" {
		return 0, false, nil
	}
	if c, ok := r.unitCosts[productID]; ok {
		return c.value, c.found, nil
	}

	products, err := r.collection(schema.Products)
	if err != nil {
		return 0, false, err
	}
	record, err := r.app.FindFirstRecordByFilter(products,
		"user = {:user} && external_id = {:id}",
		dbx.Params{"user": r.user, "id": productID})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.unitCosts[productID] = unitCost{}
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("looking up product %s: %w", productID, err)
	}

	c := unitCost{value: record.GetFloat("unit_cost"), found: true}
	r.unitCosts[productID] = c
	return c.value, true, nil
}

func (r *Resolver) taskTypeExists(id int64) (bool, error) {
	if known, ok := r.taskTypes[id]; ok {
		return known, nil
	}
	known, err := r.exists(schema.TaskTypes, id)
	if err != nil {
		return false, err
	}
	r.taskTypes[id] = known
	return known, nil
}

func (r *Resolver) collaboratorExists(id int64) (bool, error) {
	if known, ok := r.collaborators[id]; ok {
		return known, nil
	}
	known, err := r.exists(schema.Collaborators, id)
	if err != nil {
		return false, err
	}
	r.collaborators[id] = known
	return known, nil
}

// collection loads a dictionary collection once per run. A missing
// collection is a storage failure, not an empty dictionary.
func (r *Resolver) collection(name string) (*core.Collection, error) {
	if c, ok := r.collections[name]; ok {
		return c, nil
	}
	c, err := r.app.FindCollectionByNameOrId(name)
	if err != nil {
		return nil, fmt.Errorf("loading %s collection: %w", name, err)
	}
	r.collections[name] = c
	return c, nil
}

func (r *Resolver) exists(collection string, id int64) (bool, error) {
	col, err := r.collection(collection)
	if err != nil {
		return false, err
	}
	_, err = r.app.FindFirstRecordByFilter(col,
		"user = {:user} && external_id = {:id}",
		dbx.Params{"user": r.user, "id": id})
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("looking up %s %d: %w", collection, id, err)
}

// ensureSentinel creates the sentinel task type once per user.
func (r *Resolver) ensureSentinel() error {
	if r.sentinelReady {
		return nil
	}
	known, err := r.taskTypeExists(SentinelTaskTypeID)
	if err != nil {
		return err
	}
	if !known {
		_, _, err := upsertRecord(r.app, schema.TaskTypes, nil, map[string]any{
			"user":        r.user,
			"external_id": float64(SentinelTaskTypeID),
			"name":        SentinelTaskTypeName,
		})
		if err != nil {
			return fmt.Errorf("creating sentinel task type: %w", err)
		}
		slog.Info("Created sentinel task type", "user", r.user)
	}
	r.taskTypes[SentinelTaskTypeID] = true
	r.sentinelReady = true
	return nil
}
