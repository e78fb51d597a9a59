// Package schema defines the PocketBase collections the task sync reads
// and writes. Every collection is scoped by a "user" text field holding
// the owner's auth record id.
package schema

import (
	"fmt"
	"log/slog"

	"github.com/pocketbase/pocketbase/core"
)

// Collection names
const (
	Accounts      = "upstream_accounts"
	Collaborators = "collaborators"
	TaskTypes     = "task_types"
	Products      = "products"
	Services      = "services"
	Tasks         = "tasks"

	RevenueTotals   = "revenue_totals"
	RevenueProducts = "revenue_products"
	RevenueServices = "revenue_services"
	ProfitTotals    = "profit_totals"
	ProfitProducts  = "profit_products"
	ProfitServices  = "profit_services"
)

// RollupCollections lists the six period rollups in write order.
var RollupCollections = []string{
	RevenueTotals,
	RevenueProducts,
	RevenueServices,
	ProfitTotals,
	ProfitProducts,
	ProfitServices,
}

// Definitions builds fresh collection models for every collection.
func Definitions() []*core.Collection {
	defs := []*core.Collection{
		accounts(),
		intReference(Collaborators),
		intReference(TaskTypes),
		pricedReference(Products),
		pricedReference(Services),
		tasks(),
	}

	defs = append(defs,
		rollup(RevenueTotals, &core.DateField{Name: "refreshed_at"}),
		rollup(RevenueProducts, &core.NumberField{Name: "percent_of_total"}),
		rollup(RevenueServices, &core.NumberField{Name: "percent_of_total"}),
		rollup(ProfitTotals, &core.NumberField{Name: "margin"}),
		rollup(ProfitProducts, &core.NumberField{Name: "percent_of_profit"}),
		rollup(ProfitServices, &core.NumberField{Name: "percent_of_profit"}),
	)
	return defs
}

// EnsureCollections creates any missing collection. Existing collections
// are left untouched, so it is safe to call on every start.
func EnsureCollections(app core.App) error {
	created := 0
	for _, c := range Definitions() {
		if _, err := app.FindCollectionByNameOrId(c.Name); err == nil {
			continue
		}
		if err := app.Save(c); err != nil {
			return fmt.Errorf("creating collection %s: %w", c.Name, err)
		}
		created++
	}
	if created > 0 {
		slog.Info("Created collections", "count", created)
	}
	return nil
}

// DropCollections removes every collection defined here, in reverse order.
func DropCollections(app core.App) error {
	defs := Definitions()
	for i := len(defs) - 1; i >= 0; i-- {
		c, err := app.FindCollectionByNameOrId(defs[i].Name)
		if err != nil {
			continue
		}
		if err := app.Delete(c); err != nil {
			return fmt.Errorf("deleting collection %s: %w", c.Name, err)
		}
	}
	return nil
}

func userField() *core.TextField {
	return &core.TextField{Name: "user", Required: true, Max: 64}
}

func accounts() *core.Collection {
	c := core.NewBaseCollection(Accounts)
	c.Fields.Add(
		userField(),
		&core.TextField{Name: "api_key"},
		&core.TextField{Name: "bearer_token"},
		&core.DateField{Name: "token_obtained_at"},
		&core.DateField{Name: "last_sync_at"},
		&core.TextField{Name: "last_run_id"},
	)
	c.AddIndex("idx_upstream_accounts_user", true, "user", "")
	return c
}

// intReference is a dictionary keyed by a numeric upstream id.
func intReference(name string) *core.Collection {
	c := core.NewBaseCollection(name)
	c.Fields.Add(
		userField(),
		&core.NumberField{Name: "external_id", OnlyInt: true},
		&core.TextField{Name: "name"},
	)
	c.AddIndex("idx_"+name+"_user_external_id", true, "user, external_id", "")
	return c
}

// pricedReference is a dictionary keyed by a textual upstream id with a unit cost.
func pricedReference(name string) *core.Collection {
	c := core.NewBaseCollection(name)
	c.Fields.Add(
		userField(),
		&core.TextField{Name: "external_id", Required: true},
		&core.TextField{Name: "name"},
		&core.NumberField{Name: "unit_cost"},
	)
	c.AddIndex("idx_"+name+"_user_external_id", true, "user, external_id", "")
	return c
}

func tasks() *core.Collection {
	c := core.NewBaseCollection(Tasks)
	c.Fields.Add(
		userField(),
		&core.NumberField{Name: "external_id", OnlyInt: true},
		&core.DateField{Name: "period"},
		&core.TextField{Name: "customer"},
		&core.NumberField{Name: "task_type", OnlyInt: true},
		&core.NumberField{Name: "collaborator", OnlyInt: true},
		&core.NumberField{Name: "revenue"},
		&core.NumberField{Name: "cost"},
		&core.NumberField{Name: "profit"},
		&core.JSONField{Name: "details", MaxSize: 5 << 20},
	)
	c.AddIndex("idx_tasks_user_external_id", true, "user, external_id", "")
	c.AddIndex("idx_tasks_user_period", false, "user, period", "")
	return c
}

func rollup(name string, extra core.Field) *core.Collection {
	c := core.NewBaseCollection(name)
	c.Fields.Add(
		userField(),
		&core.TextField{Name: "period_start", Required: true},
		&core.TextField{Name: "period_end", Required: true},
		&core.NumberField{Name: "value"},
		extra,
	)
	c.AddIndex("idx_"+name+"_user_period", true, "user, period_start, period_end", "")
	return c
}
