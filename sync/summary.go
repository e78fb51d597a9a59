package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"

	"github.com/fieldfin/taskfin/schema"
)

// Summary is the financial overview of one period. Missing rollups read as zero.
type Summary struct {
	PeriodStart string     `json:"period_start"`
	PeriodEnd   string     `json:"period_end"`
	Found       bool       `json:"found"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`

	RevenueTotal           float64 `json:"revenue_total"`
	RevenueProducts        float64 `json:"revenue_products"`
	RevenueProductsPercent float64 `json:"revenue_products_percent"`
	RevenueServices        float64 `json:"revenue_services"`
	RevenueServicesPercent float64 `json:"revenue_services_percent"`

	ProfitTotal           float64 `json:"profit_total"`
	ProfitMargin          float64 `json:"profit_margin"`
	ProfitProducts        float64 `json:"profit_products"`
	ProfitProductsPercent float64 `json:"profit_products_percent"`
	ProfitServices        float64 `json:"profit_services"`
	ProfitServicesPercent float64 `json:"profit_services_percent"`
}

// TaskFilter narrows a task listing.
type TaskFilter struct {
	User         string
	Start        string
	End          string
	TaskType     *int64
	Collaborator *int64
	Limit        int
	Offset       int
}

// TaskView is a stored task as the reporting front end reads it.
type TaskView struct {
	ExternalID       int64     `json:"external_id"`
	Period           time.Time `json:"period"`
	Customer         string    `json:"customer"`
	TaskType         int64     `json:"task_type"`
	TaskTypeName     string    `json:"task_type_name"`
	Collaborator     int64     `json:"collaborator"`
	CollaboratorName string    `json:"collaborator_name"`
	Revenue          float64   `json:"revenue"`
	Cost             float64   `json:"cost"`
	Profit           float64   `json:"profit"`
}

// Reports reads persisted tasks and rollups.
type Reports struct {
	app core.App
}

// NewReports creates a reader backed by app.
func NewReports(app core.App) *Reports {
	return &Reports{app: app}
}

// Summary reads the six rollups for (user, start, end).
func (r *Reports) Summary(user, start, end string) (*Summary, error) {
	s := &Summary{PeriodStart: start, PeriodEnd: end}

	for _, collection := range schema.RollupCollections {
		records, err := r.app.FindAllRecords(collection, dbx.HashExp{
			"user":         user,
			"period_start": start,
			"period_end":   end,
		})
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", collection, err)
		}
		if len(records) == 0 {
			continue
		}
		rec := records[0]
		s.Found = true
		value := rec.GetFloat("value")

		switch collection {
		case schema.RevenueTotals:
			s.RevenueTotal = value
			if dt := rec.GetDateTime("refreshed_at"); !dt.IsZero() {
				t := dt.Time()
				s.RefreshedAt = &t
			}
		case schema.RevenueProducts:
			s.RevenueProducts = value
			s.RevenueProductsPercent = rec.GetFloat("percent_of_total")
		case schema.RevenueServices:
			s.RevenueServices = value
			s.RevenueServicesPercent = rec.GetFloat("percent_of_total")
		case schema.ProfitTotals:
			s.ProfitTotal = value
			s.ProfitMargin = rec.GetFloat("margin")
		case schema.ProfitProducts:
			s.ProfitProducts = value
			s.ProfitProductsPercent = rec.GetFloat("percent_of_profit")
		case schema.ProfitServices:
			s.ProfitServices = value
			s.ProfitServicesPercent = rec.GetFloat("percent_of_profit")
		}
	}

	return s, nil
}

// ListTasks returns the user's tasks in the filter's window, newest first.
func (r *Reports) ListTasks(f TaskFilter) ([]TaskView, error) {
	conds := []string{"user = {:user}"}
	params := dbx.Params{"user": f.User}

	if f.Start != "" {
		conds = append(conds, "period >= {:from}")
		params["from"] = f.Start + " 00:00:00.000Z"
	}
	if f.End != "" {
		conds = append(conds, "period <= {:to}")
		params["to"] = f.End + " 23:59:59.999Z"
	}
	if f.TaskType != nil {
		conds = append(conds, "task_type = {:taskType}")
		params["taskType"] = *f.TaskType
	}
	if f.Collaborator != nil {
		conds = append(conds, "collaborator = {:collaborator}")
		params["collaborator"] = *f.Collaborator
	}

	records, err := r.app.FindRecordsByFilter(schema.Tasks, strings.Join(conds, " && "),
		"-period,external_id", f.Limit, f.Offset, params)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	typeNames, err := r.names(schema.TaskTypes, f.User)
	if err != nil {
		return nil, err
	}
	collaboratorNames, err := r.names(schema.Collaborators, f.User)
	if err != nil {
		return nil, err
	}

	views := make([]TaskView, 0, len(records))
	for _, rec := range records {
		typeID := int64(rec.GetInt("task_type"))
		collaboratorID := int64(rec.GetInt("collaborator"))
		views = append(views, TaskView{
			ExternalID:       int64(rec.GetInt("external_id")),
			Period:           rec.GetDateTime("period").Time(),
			Customer:         rec.GetString("customer"),
			TaskType:         typeID,
			TaskTypeName:     typeNames[typeID],
			Collaborator:     collaboratorID,
			CollaboratorName: collaboratorNames[collaboratorID],
			Revenue:          rec.GetFloat("revenue"),
			Cost:             rec.GetFloat("cost"),
			Profit:           rec.GetFloat("profit"),
		})
	}
	return views, nil
}

func (r *Reports) names(collection, user string) (map[int64]string, error) {
	records, err := r.app.FindAllRecords(collection, dbx.HashExp{"user": user})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", collection, err)
	}
	names := make(map[int64]string, len(records))
	for _, rec := range records {
		names[int64(rec.GetInt("external_id"))] = rec.GetString("name")
	}
	return names, nil
}
