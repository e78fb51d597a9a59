package sync

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// maxListLimit caps a single task listing page.
const maxListLimit = 500

// requireAuth wraps a handler function to require authentication
func requireAuth(handler func(*core.RequestEvent) error) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		if e.Auth == nil {
			return apis.NewUnauthorizedError("Authentication required", nil)
		}
		return handler(e)
	}
}

type syncBody struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// RegisterRoutes sets up the task API endpoints
func RegisterRoutes(e *core.ServeEvent, taskSync *TaskSync, reports *Reports) {
	// Sync the caller's tasks for a period (defaults to yesterday..today)
	e.Router.POST("/api/custom/tasks/sync", requireAuth(func(e *core.RequestEvent) error {
		return handleSync(e, taskSync, false)
	}))

	// Wipe the caller's tasks and rollups, then sync the period
	e.Router.POST("/api/custom/tasks/resync", requireAuth(func(e *core.RequestEvent) error {
		return handleSync(e, taskSync, true)
	}))

	// Financial summary for a period
	e.Router.GET("/api/custom/tasks/summary", requireAuth(func(e *core.RequestEvent) error {
		return handleSummary(e, reports)
	}))

	// Latest run for the caller
	e.Router.GET("/api/custom/tasks/status", requireAuth(func(e *core.RequestEvent) error {
		return handleStatus(e, taskSync.Runs())
	}))

	// Stored tasks, filterable by period, task type and collaborator
	e.Router.GET("/api/custom/tasks", requireAuth(func(e *core.RequestEvent) error {
		return handleListTasks(e, reports)
	}))
}

func handleSync(e *core.RequestEvent, taskSync *TaskSync, full bool) error {
	var body syncBody
	if e.Request.ContentLength != 0 {
		if err := e.BindBody(&body); err != nil {
			return e.JSON(http.StatusBadRequest, map[string]interface{}{
				"success": false,
				"message": "Invalid request body",
			})
		}
	}

	result := taskSync.Run(e.Request.Context(), Request{
		UserID: e.Auth.Id,
		Start:  body.StartDate,
		End:    body.EndDate,
		Full:   full,
	})
	return e.JSON(statusForResult(result), result)
}

// statusForResult maps a run outcome onto an HTTP status.
func statusForResult(r *Result) int {
	if r.Success {
		return http.StatusOK
	}
	switch r.Kind {
	case KindPrecondition:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNetwork:
		return http.StatusServiceUnavailable
	case KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func handleSummary(e *core.RequestEvent, reports *Reports) error {
	q := e.Request.URL.Query()
	start, end, err := ResolvePeriod(q.Get("start"), q.Get("end"), time.Now())
	if err != nil {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	summary, err := reports.Summary(e.Auth.Id, start, end)
	if err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to load summary",
		})
	}
	return e.JSON(http.StatusOK, summary)
}

func handleStatus(e *core.RequestEvent, runs *Orchestrator) error {
	user := e.Auth.Id
	resp := map[string]interface{}{
		"running": runs.IsRunning(user),
	}
	if status := runs.GetStatus(user); status != nil {
		resp["last"] = status
	} else {
		resp["last"] = map[string]string{"status": "idle"}
	}
	return e.JSON(http.StatusOK, resp)
}

func handleListTasks(e *core.RequestEvent, reports *Reports) error {
	q := e.Request.URL.Query()
	filter := TaskFilter{
		User:  e.Auth.Id,
		Start: strings.TrimSpace(q.Get("start")),
		End:   strings.TrimSpace(q.Get("end")),
		Limit: 100,
	}

	for _, d := range []string{filter.Start, filter.End} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(DateLayout, d); err != nil {
			return e.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": "Dates must be YYYY-MM-DD",
			})
		}
	}

	var badParam string
	parseID := func(name string) *int64 {
		v := strings.TrimSpace(q.Get(name))
		if v == "" {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badParam = name
			return nil
		}
		return &n
	}
	filter.TaskType = parseID("task_type")
	filter.Collaborator = parseID("collaborator")

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badParam = "limit"
		} else {
			filter.Limit = min(n, maxListLimit)
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badParam = "offset"
		} else {
			filter.Offset = n
		}
	}
	if badParam != "" {
		return e.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid " + badParam + " parameter",
		})
	}

	tasks, err := reports.ListTasks(filter)
	if err != nil {
		return e.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to list tasks",
		})
	}
	return e.JSON(http.StatusOK, map[string]interface{}{
		"items":  tasks,
		"count":  len(tasks),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}
