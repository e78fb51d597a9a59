package sync

import (
	"errors"
	"testing"

	"github.com/pocketbase/dbx"

	"github.com/fieldfin/taskfin/auvo"
	"github.com/fieldfin/taskfin/schema"
)

func TestResolver_Resolve(t *testing.T) {
	app := newTestApp(t)
	seedReferences(t, app, testUser)

	cases := []struct {
		name         string
		policy       TaskTypePolicy
		rec          auvo.TaskRecord
		wantType     int64
		wantWarning  bool
		wantErr      error
		wantSentinel bool
	}{
		{
			name:     "known references",
			rec:      auvo.TaskRecord{ExternalID: 1, CollaboratorID: 7, TaskTypeID: 2, HasTaskType: true},
			wantType: 2,
		},
		{
			name:         "no task type uses sentinel",
			rec:          auvo.TaskRecord{ExternalID: 2, CollaboratorID: 7},
			wantType:     SentinelTaskTypeID,
			wantSentinel: true,
		},
		{
			name:         "unknown type falls back with warning",
			rec:          auvo.TaskRecord{ExternalID: 3, CollaboratorID: 7, TaskTypeID: 55, HasTaskType: true},
			wantType:     SentinelTaskTypeID,
			wantWarning:  true,
			wantSentinel: true,
		},
		{
			name:    "unknown type rejected",
			policy:  PolicyReject,
			rec:     auvo.TaskRecord{ExternalID: 4, CollaboratorID: 7, TaskTypeID: 55, HasTaskType: true},
			wantErr: ErrUnknownTaskType,
		},
		{
			name:    "unassigned collaborator",
			rec:     auvo.TaskRecord{ExternalID: 5, TaskTypeID: 2, HasTaskType: true},
			wantErr: ErrUnresolvedCollaborator,
		},
		{
			name:    "unknown collaborator",
			rec:     auvo.TaskRecord{ExternalID: 6, CollaboratorID: 99, TaskTypeID: 2, HasTaskType: true},
			wantErr: ErrUnresolvedCollaborator,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(app, testUser, tt.policy)
			res, err := r.Resolve(tt.rec)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if !isRecordError(err) {
					t.Errorf("%v should be a per-record error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if res.TaskTypeID != tt.wantType || res.CollaboratorID != tt.rec.CollaboratorID {
				t.Errorf("Resolve() = %+v", res)
			}
			if (res.Warning != "") != tt.wantWarning {
				t.Errorf("Warning = %q, wantWarning %v", res.Warning, tt.wantWarning)
			}
			if tt.wantSentinel {
				rows, _ := app.FindAllRecords(schema.TaskTypes, dbx.HashExp{"user": testUser, "external_id": 0})
				if len(rows) != 1 {
					t.Errorf("sentinel rows = %d, want 1", len(rows))
				}
			}
		})
	}
}

func TestResolver_SentinelPerUser(t *testing.T) {
	app := newTestApp(t)
	seedReferences(t, app, testUser)
	seedReferences(t, app, "u2")

	for _, user := range []string{testUser, "u2", testUser} {
		r := NewResolver(app, user, PolicyFallback)
		if _, err := r.Resolve(auvo.TaskRecord{ExternalID: 1, CollaboratorID: 7}); err != nil {
			t.Fatalf("Resolve(%s) error: %v", user, err)
		}
	}

	rows, err := app.FindAllRecords(schema.TaskTypes, dbx.HashExp{"external_id": 0})
	if err != nil {
		t.Fatalf("FindAllRecords failed: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("sentinel rows = %d, want one per user", len(rows))
	}
}

func TestResolver_UnitCostCachesMisses(t *testing.T) {
	app := newTestApp(t)
	seedReferences(t, app, testUser)
	r := NewResolver(app, testUser, PolicyFallback)

	if c, ok, err := r.UnitCost("P"); err != nil || !ok || c != 20 {
		t.Errorf("UnitCost(P) = %v, %v, %v, want 20, true, nil", c, ok, err)
	}
	if _, ok, err := r.UnitCost("Z"); err != nil || ok {
		t.Fatalf("UnitCost(Z) = %v, %v, want a miss", ok, err)
	}
	if _, ok, err := r.UnitCost(""); err != nil || ok {
		t.Error("empty product id should miss")
	}

	// Products added mid-run are not seen by the same resolver.
	seedRecord(t, app, schema.Products, map[string]any{"user": testUser, "external_id": "Z", "unit_cost": 3})
	if _, ok, _ := r.UnitCost("Z"); ok {
		t.Error("cached miss should stick for the resolver's lifetime")
	}
	if c, ok, err := NewResolver(app, testUser, PolicyFallback).UnitCost("Z"); err != nil || !ok || c != 3 {
		t.Errorf("fresh resolver UnitCost(Z) = %v, %v, %v, want 3, true, nil", c, ok, err)
	}
}

func TestResolver_LookupFailuresAreNotMisses(t *testing.T) {
	app := newTestApp(t)
	seedReferences(t, app, testUser)
	r := NewResolver(app, testUser, PolicyFallback)

	col, err := app.FindCollectionByNameOrId(schema.Products)
	if err != nil {
		t.Fatalf("find collection: %v", err)
	}
	if err := app.Delete(col); err != nil {
		t.Fatalf("delete collection: %v", err)
	}

	if _, _, err := r.UnitCost("P"); err == nil {
		t.Fatal("UnitCost should fail when products cannot be read")
	}
	if _, cached := r.unitCosts["P"]; cached {
		t.Error("failed lookup must not be cached")
	}

	col, err = app.FindCollectionByNameOrId(schema.Collaborators)
	if err != nil {
		t.Fatalf("find collection: %v", err)
	}
	if err := app.Delete(col); err != nil {
		t.Fatalf("delete collection: %v", err)
	}
	_, err = r.Resolve(auvo.TaskRecord{ExternalID: 1, CollaboratorID: 7, TaskTypeID: 2, HasTaskType: true})
	if err == nil || isRecordError(err) {
		t.Errorf("err = %v, want a storage failure", err)
	}
}

func TestResolver_RejectedTaskCreatesNoSentinel(t *testing.T) {
	app := newTestApp(t)
	seedReferences(t, app, testUser)
	r := NewResolver(app, testUser, PolicyFallback)

	for _, rec := range []auvo.TaskRecord{
		{ExternalID: 1, CollaboratorID: 99},
		{ExternalID: 2, CollaboratorID: 99, TaskTypeID: 55, HasTaskType: true},
		{ExternalID: 3},
	} {
		if _, err := r.Resolve(rec); !errors.Is(err, ErrUnresolvedCollaborator) {
			t.Fatalf("task %d: err = %v, want ErrUnresolvedCollaborator", rec.ExternalID, err)
		}
	}

	rows, err := app.FindAllRecords(schema.TaskTypes, dbx.HashExp{"user": testUser, "external_id": 0})
	if err != nil {
		t.Fatalf("FindAllRecords failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("sentinel rows = %d, want 0 for tasks that were never stored", len(rows))
	}
}

func TestResolver_ScopedToUser(t *testing.T) {
	app := newTestApp(t)
	seedReferences(t, app, "someone-else")
	r := NewResolver(app, testUser, PolicyFallback)

	if _, ok, _ := r.UnitCost("P"); ok {
		t.Error("another user's product must not resolve")
	}
	_, err := r.Resolve(auvo.TaskRecord{ExternalID: 1, CollaboratorID: 7, TaskTypeID: 2, HasTaskType: true})
	if !errors.Is(err, ErrUnresolvedCollaborator) {
		t.Errorf("err = %v, want ErrUnresolvedCollaborator", err)
	}
}

func TestPolicyFromEnv(t *testing.T) {
	cases := []struct {
		value   string
		want    TaskTypePolicy
		wantErr bool
	}{
		{"", PolicyFallback, false},
		{"fallback", PolicyFallback, false},
		{"REJECT", PolicyReject, false},
		{"drop", PolicyFallback, true},
	}
	for _, tt := range cases {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TASKFIN_UNKNOWN_TASK_TYPE", tt.value)
			got, err := PolicyFromEnv()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PolicyFromEnv() = %q, want %q", got, tt.want)
			}
		})
	}
}
