package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"github.com/fieldfin/taskfin/schema"
)

// Store persists tasks and rollups for one user at a time.
type Store struct {
	app core.App
}

// NewStore creates a store backed by app.
func NewStore(app core.App) *Store {
	return &Store{app: app}
}

// InTransaction runs fn inside one database transaction. Returning an
// error from fn rolls back every write made through the unit of work.
func (s *Store) InTransaction(user string, fn func(uow *UnitOfWork) error) error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		return fn(&UnitOfWork{app: txApp, user: user, tasks: make(map[int64]*core.Record)})
	})
}

// UnitOfWork carries a run's transactional app and its write caches.
type UnitOfWork struct {
	app   core.App
	user  string
	tasks map[int64]*core.Record
}

// App returns the transactional app.
func (u *UnitOfWork) App() core.App {
	return u.app
}

// TaskRow is a resolved and computed task ready to persist.
type TaskRow struct {
	ExternalID   int64
	Period       time.Time
	Customer     string
	TaskType     int64
	Collaborator int64
	Figures      Figures
	Raw          json.RawMessage
}

// PreloadTasks loads the user's existing rows for ids in one query.
func (u *UnitOfWork) PreloadTasks(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	records, err := u.app.FindAllRecords(schema.Tasks,
		dbx.HashExp{"user": u.user},
		dbx.In("external_id", values...),
	)
	if err != nil {
		return fmt.Errorf("loading existing tasks: %w", err)
	}
	for _, r := range records {
		u.tasks[int64(r.GetInt("external_id"))] = r
	}
	slog.Debug("Loaded existing tasks", "user", u.user, "count", len(records))
	return nil
}

// UpsertTask writes one task keyed by (user, external id).
func (u *UnitOfWork) UpsertTask(row TaskRow) (Outcome, error) {
	details, err := taskDetails(row)
	if err != nil {
		return Created, err
	}

	period, err := types.ParseDateTime(row.Period)
	if err != nil {
		return Created, fmt.Errorf("task %d: period: %w", row.ExternalID, err)
	}

	existing, ok := u.tasks[row.ExternalID]
	if !ok {
		existing, err = u.findTask(row.ExternalID)
		if err != nil {
			return Created, err
		}
	}

	record, outcome, err := upsertRecord(u.app, schema.Tasks, existing, map[string]any{
		"user":         u.user,
		"external_id":  float64(row.ExternalID),
		"period":       period,
		"customer":     row.Customer,
		"task_type":    float64(row.TaskType),
		"collaborator": float64(row.Collaborator),
		"revenue":      row.Figures.Revenue,
		"cost":         row.Figures.Cost,
		"profit":       row.Figures.Profit,
		"details":      details,
	})
	if err != nil {
		return outcome, fmt.Errorf("task %d: %w", row.ExternalID, err)
	}
	u.tasks[row.ExternalID] = record
	return outcome, nil
}

func (u *UnitOfWork) findTask(id int64) (*core.Record, error) {
	records, err := u.app.FindAllRecords(schema.Tasks, dbx.HashExp{"user": u.user, "external_id": id})
	if err != nil {
		return nil, fmt.Errorf("looking up task %d: %w", id, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// taskDetails builds the audit snapshot stored alongside a task.
func taskDetails(row TaskRow) (types.JSONRaw, error) {
	raw := row.Raw
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	b, err := json.Marshal(map[string]any{
		"task_original": raw,
		"calculations":  row.Figures,
	})
	if err != nil {
		return nil, fmt.Errorf("task %d: encoding details: %w", row.ExternalID, err)
	}
	return types.JSONRaw(b), nil
}

// UpsertRollups replaces the six rollup rows for the period.
func (u *UnitOfWork) UpsertRollups(start, end string, t Totals, refreshedAt time.Time) error {
	refreshed, err := types.ParseDateTime(refreshedAt)
	if err != nil {
		return fmt.Errorf("refreshed_at: %w", err)
	}

	rows := map[string]map[string]any{
		schema.RevenueTotals:   {"value": t.Revenue, "refreshed_at": refreshed},
		schema.RevenueProducts: {"value": t.ProductRevenue, "percent_of_total": t.ProductRevenueShare},
		schema.RevenueServices: {"value": t.ServiceRevenue, "percent_of_total": t.ServiceRevenueShare},
		schema.ProfitTotals:    {"value": t.Profit, "margin": t.Margin},
		schema.ProfitProducts:  {"value": t.ProductProfit, "percent_of_profit": t.ProductProfitShare},
		schema.ProfitServices:  {"value": t.ServiceProfit, "percent_of_profit": t.ServiceProfitShare},
	}

	for _, collection := range schema.RollupCollections {
		data := rows[collection]
		data["user"] = u.user
		data["period_start"] = start
		data["period_end"] = end

		existing, err := u.app.FindAllRecords(collection, dbx.HashExp{
			"user":         u.user,
			"period_start": start,
			"period_end":   end,
		})
		if err != nil {
			return fmt.Errorf("loading %s: %w", collection, err)
		}

		var current *core.Record
		if len(existing) > 0 {
			current = existing[0]
		}
		if _, _, err := upsertRecord(u.app, collection, current, data); err != nil {
			return err
		}
	}
	return nil
}

// WipeUser deletes every task and rollup row owned by the user.
func (u *UnitOfWork) WipeUser() (int, error) {
	deleted := 0
	collections := append([]string{schema.Tasks}, schema.RollupCollections...)
	for _, collection := range collections {
		records, err := u.app.FindAllRecords(collection, dbx.HashExp{"user": u.user})
		if err != nil {
			return deleted, fmt.Errorf("loading %s for wipe: %w", collection, err)
		}
		for _, r := range records {
			if err := u.app.Delete(r); err != nil {
				return deleted, fmt.Errorf("deleting %s %s: %w", collection, r.Id, err)
			}
			deleted++
		}
	}
	clear(u.tasks)
	slog.Info("Wiped user data", "user", u.user, "deleted", deleted)
	return deleted, nil
}
