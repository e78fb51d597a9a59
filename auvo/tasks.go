package auvo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
)

// statusCompleted is the upstream task status for finished work.
const statusCompleted = 3

// TaskQuery selects the tasks to fetch. Dates are inclusive YYYY-MM-DD.
type TaskQuery struct {
	Start    string
	End      string
	PageSize int
}

type taskFilter struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Status    int    `json:"status"`
}

type pagedData struct {
	TotalItems int `json:"totalItems"`
	Page       int `json:"page"`
}

type taskPage struct {
	Result *struct {
		EntityList []json.RawMessage `json:"entityList"`
		Paged      pagedData         `json:"pagedSearchReturnData"`
	} `json:"result"`
}

// FetchTasks retrieves every completed task in the query window, following
// pagination until a short page or the advertised total is reached. Records
// are returned raw; mapping happens per record in ParseTaskRecord.
func (c *Client) FetchTasks(ctx context.Context, token *oauth2.Token, q TaskQuery) ([]json.RawMessage, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	filter, err := json.Marshal(taskFilter{StartDate: q.Start, EndDate: q.End, Status: statusCompleted})
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}

	var all []json.RawMessage
	for page := 1; ; page++ {
		if page > c.maxPages {
			return nil, fmt.Errorf("%w: more than %d pages", ErrPageLimitExceeded, c.maxPages)
		}

		params := url.Values{}
		params.Set("ParamFilter", string(filter))
		params.Set("Page", strconv.Itoa(page))
		params.Set("PageSize", strconv.Itoa(pageSize))

		body, err := c.get(ctx, token, "tasks/", params)
		if err != nil {
			return nil, err
		}

		items, total, err := decodeTaskPage(body)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, items...)

		slog.Debug("Fetched task page",
			"page", page,
			"items", len(items),
			"accumulated", len(all),
			"total", total)

		if len(items) < pageSize {
			break
		}
		if total > 0 && len(all) >= total {
			break
		}
	}

	return all, nil
}

func decodeTaskPage(body []byte) ([]json.RawMessage, int, error) {
	var page taskPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if page.Result == nil {
		return nil, 0, fmt.Errorf("%w: missing result", ErrMalformedResponse)
	}
	if page.Result.EntityList == nil {
		return nil, 0, fmt.Errorf("%w: missing entityList", ErrMalformedResponse)
	}
	return page.Result.EntityList, page.Result.Paged.TotalItems, nil
}
