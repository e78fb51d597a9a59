package schema

import (
	"testing"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
)

func TestEnsureCollections(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("Failed to create test app: %v", err)
	}
	defer app.Cleanup()

	if err := EnsureCollections(app); err != nil {
		t.Fatalf("EnsureCollections failed: %v", err)
	}

	for _, def := range Definitions() {
		c, err := app.FindCollectionByNameOrId(def.Name)
		if err != nil {
			t.Errorf("collection %s not created: %v", def.Name, err)
			continue
		}
		if c.Fields.GetByName("user") == nil {
			t.Errorf("collection %s has no user field", def.Name)
		}
	}
}

func TestEnsureCollections_Idempotent(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("Failed to create test app: %v", err)
	}
	defer app.Cleanup()

	if err := EnsureCollections(app); err != nil {
		t.Fatalf("first EnsureCollections failed: %v", err)
	}
	if err := EnsureCollections(app); err != nil {
		t.Fatalf("second EnsureCollections failed: %v", err)
	}
}

func TestRollupUniqueKey(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("Failed to create test app: %v", err)
	}
	defer app.Cleanup()

	if err := EnsureCollections(app); err != nil {
		t.Fatalf("EnsureCollections failed: %v", err)
	}

	col, err := app.FindCollectionByNameOrId(RevenueTotals)
	if err != nil {
		t.Fatalf("find collection: %v", err)
	}

	save := func() error {
		r := core.NewRecord(col)
		r.Set("user", "u1")
		r.Set("period_start", "2024-01-01")
		r.Set("period_end", "2024-01-31")
		r.Set("value", 10)
		return app.Save(r)
	}

	if err := save(); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := save(); err == nil {
		t.Error("duplicate (user, period_start, period_end) should be rejected")
	}
}

func TestDropCollections(t *testing.T) {
	app, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("Failed to create test app: %v", err)
	}
	defer app.Cleanup()

	if err := EnsureCollections(app); err != nil {
		t.Fatalf("EnsureCollections failed: %v", err)
	}
	if err := DropCollections(app); err != nil {
		t.Fatalf("DropCollections failed: %v", err)
	}
	for _, name := range RollupCollections {
		if _, err := app.FindCollectionByNameOrId(name); err == nil {
			t.Errorf("collection %s still exists", name)
		}
	}
}
