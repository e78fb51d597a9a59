// Package sync pulls completed tasks from the upstream API into PocketBase
// and keeps per-period financial rollups consistent with them.
package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Outcome is what an upsert did to a row.
type Outcome int

const (
	// Created means a new row was inserted.
	Created Outcome = iota
	// Updated means an existing row changed.
	Updated
	// Unchanged means the row already held these values and was not rewritten.
	Unchanged
)

// Stats holds counters for one run
type Stats struct {
	Fetched   int `json:"fetched"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

func (s *Stats) count(o Outcome) {
	switch o {
	case Created:
		s.Created++
	case Updated:
		s.Updated++
	case Unchanged:
		s.Unchanged++
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("fetched=%d, created=%d, updated=%d, unchanged=%d, skipped=%d, errors=%d",
		s.Fetched, s.Created, s.Updated, s.Unchanged, s.Skipped, s.Errors)
}

// logSyncStart logs the start of a run
func logSyncStart(runID, user, start, end string, full bool) {
	slog.Info("Starting sync", "run", runID, "user", user, "start", start, "end", end, "full", full)
}

// logSyncComplete logs the completion of a run with standardized format
func logSyncComplete(runID string, stats Stats, extraStats ...string) {
	statsStr := stats.String()
	if len(extraStats) > 0 {
		statsStr = strings.Join(extraStats, ", ") + ", " + statsStr
	}
	slog.Info("Sync complete", "run", runID, "stats", statsStr)
}

// upsertRecord writes data onto existing, or onto a new record of collection
// when existing is nil. Existing records whose fields already match are not
// saved again.
func upsertRecord(app core.App, collection string, existing *core.Record, data map[string]any) (*core.Record, Outcome, error) {
	if existing != nil {
		needsUpdate := false
		for field, value := range data {
			if !fieldEquals(existing.Get(field), value) {
				needsUpdate = true
				break
			}
		}
		if !needsUpdate {
			return existing, Unchanged, nil
		}

		for field, value := range data {
			existing.Set(field, value)
		}
		if err := app.Save(existing); err != nil {
			return nil, Updated, fmt.Errorf("updating %s record: %w", collection, err)
		}
		return existing, Updated, nil
	}

	col, err := app.FindCollectionByNameOrId(collection)
	if err != nil {
		return nil, Created, fmt.Errorf("finding collection %s: %w", collection, err)
	}

	record := core.NewRecord(col)
	for field, value := range data {
		record.Set(field, value)
	}
	if err := app.Save(record); err != nil {
		return nil, Created, fmt.Errorf("creating %s record: %w", collection, err)
	}
	return record, Created, nil
}

// fieldEquals compares a stored field value with a value about to be written.
func fieldEquals(existingValue, newValue any) bool {
	if existingValue == nil && (newValue == "" || newValue == nil) {
		return true
	}

	switch nv := newValue.(type) {
	case types.JSONRaw:
		return jsonEquals(toJSONBytes(existingValue), nv)
	case types.DateTime:
		ev, ok := existingValue.(types.DateTime)
		if !ok {
			return false
		}
		// Stored datetimes keep millisecond precision.
		return ev.Time().UnixMilli() == nv.Time().UnixMilli()
	case float64:
		ev, ok := existingValue.(float64)
		return ok && ev == nv
	case int:
		ev, ok := existingValue.(float64)
		return ok && ev == float64(nv)
	case int64:
		ev, ok := existingValue.(float64)
		return ok && ev == float64(nv)
	case string:
		ev, ok := existingValue.(string)
		return ok && ev == nv
	case bool:
		ev, ok := existingValue.(bool)
		return ok && ev == nv
	}

	return existingValue == newValue
}

func toJSONBytes(v any) []byte {
	switch ev := v.(type) {
	case types.JSONRaw:
		return ev
	case []byte:
		return ev
	case string:
		return []byte(ev)
	case fmt.Stringer:
		return []byte(ev.String())
	default:
		return nil
	}
}

// jsonEquals compares two JSON documents semantically.
func jsonEquals(a, b []byte) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return string(ab) == string(bb)
}
