package sync

import (
	"fmt"
	"log/slog"

	"github.com/pocketbase/pocketbase/core"

	"github.com/fieldfin/taskfin/auvo"
	"github.com/fieldfin/taskfin/credential"
)

// Services bundles everything the app wires at start-up.
type Services struct {
	TaskSync  *TaskSync
	Reports   *Reports
	Accounts  *credential.Store
	Scheduler *Scheduler
}

// InitializeServices builds the pipeline from environment configuration.
// Every invalid variable is reported at once.
func InitializeServices(app core.App) (*Services, error) {
	var problems []string

	clientCfg, err := auvo.ConfigFromEnv()
	if err != nil {
		problems = append(problems, err.Error())
	}
	policy, err := PolicyFromEnv()
	if err != nil {
		problems = append(problems, err.Error())
	}
	schedCfg, err := SchedulerConfigFromEnv()
	if err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", problems)
	}

	client, err := auvo.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating upstream client: %w", err)
	}

	accounts := credential.NewStore(app)
	taskSync := NewTaskSync(app, client, accounts, NewOrchestrator(), Options{
		Policy:   policy,
		PageSize: clientCfg.PageSize,
	})

	slog.Info("Task sync configured",
		"baseURL", clientCfg.BaseURL,
		"pageSize", clientCfg.PageSize,
		"maxPages", clientCfg.MaxPages,
		"unknownTaskType", policy)

	return &Services{
		TaskSync:  taskSync,
		Reports:   NewReports(app),
		Accounts:  accounts,
		Scheduler: NewScheduler(taskSync, accounts, schedCfg),
	}, nil
}
