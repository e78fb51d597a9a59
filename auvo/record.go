package auvo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TaskRecord is one upstream task mapped onto the fields the sync uses.
type TaskRecord struct {
	ExternalID int64
	// CollaboratorID is 0 when the task is unassigned.
	CollaboratorID int64
	Customer       string
	TaskTypeID     int64
	HasTaskType    bool
	// OccurredAt is zero when the timestamp is missing or unparseable;
	// RawOccurredAt keeps whatever upstream sent.
	OccurredAt    time.Time
	RawOccurredAt string
	Products      []ProductLine
	Services      []ServiceLine
	Raw           json.RawMessage
}

// ProductLine is a product consumed by a task.
type ProductLine struct {
	ProductID string
	Quantity  float64
	Value     float64
}

// ServiceLine is a service billed on a task.
type ServiceLine struct {
	Value float64
}

var (
	externalIDKeys   = []string{"taskId", "id", "taskID", "ID"}
	collaboratorKeys = []string{"idUserTo", "userToId", "userId"}
	customerKeys     = []string{"customerDescription", "customer", "customerName"}
	taskTypeKeys     = []string{"taskType", "taskTypeId", "typeId"}
	occurredAtKeys   = []string{"taskDate", "date", "dateTime"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTaskRecord maps one raw upstream record. A record that is not a JSON
// object, carries no usable external id, or has a malformed products or
// services list returns ErrInvalidRecord.
func ParseTaskRecord(raw json.RawMessage) (TaskRecord, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return TaskRecord{}, fmt.Errorf("%w: not a JSON object", ErrInvalidRecord)
	}

	rec := TaskRecord{Raw: raw}

	id, ok := intField(fields, externalIDKeys)
	if !ok {
		return TaskRecord{}, fmt.Errorf("%w: missing task id", ErrInvalidRecord)
	}
	rec.ExternalID = id

	rec.CollaboratorID, _ = intField(fields, collaboratorKeys)
	rec.Customer = stringField(fields, customerKeys)
	rec.TaskTypeID, rec.HasTaskType = intField(fields, taskTypeKeys)

	rec.RawOccurredAt = stringField(fields, occurredAtKeys)
	rec.OccurredAt = parseTime(rec.RawOccurredAt)

	products, err := lineItems(fields, "products")
	if err != nil {
		return TaskRecord{}, err
	}
	for _, line := range products {
		rec.Products = append(rec.Products, ProductLine{
			ProductID: asString(line["productId"]),
			Quantity:  asNumber(line["quantity"]),
			Value:     asNumber(line["totalValue"]),
		})
	}

	services, err := lineItems(fields, "services")
	if err != nil {
		return TaskRecord{}, err
	}
	for _, line := range services {
		rec.Services = append(rec.Services, ServiceLine{Value: asNumber(line["totalValue"])})
	}

	return rec, nil
}

// lineItems returns the objects of an optional line-item array. A value
// that is not an array, or an entry that is not an object, makes the whole
// record invalid; fields inside a line are read leniently.
func lineItems(fields map[string]any, key string) ([]map[string]any, error) {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an array", ErrInvalidRecord, key)
	}
	lines := make([]map[string]any, 0, len(items))
	for i, item := range items {
		line, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not an object", ErrInvalidRecord, key, i)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// intField returns the first non-zero integer among keys. Zero counts as
// absent, so a 0 under one key falls through to the next.
func intField(fields map[string]any, keys []string) (int64, bool) {
	for _, k := range keys {
		v, ok := fields[k]
		if !ok || v == nil {
			continue
		}
		if n, ok := asInt(v); ok && n != 0 {
			return n, true
		}
	}
	return 0, false
}

// stringField returns the first non-empty string among keys.
func stringField(fields map[string]any, keys []string) string {
	for _, k := range keys {
		if s := asString(fields[k]); s != "" {
			return s
		}
	}
	return ""
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		d, err := decimal.NewFromString(n.String())
		if err != nil || !d.IsInteger() {
			return 0, false
		}
		return d.IntPart(), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// asNumber accepts JSON numbers and numeric strings; anything else is 0.
func asNumber(v any) float64 {
	var d decimal.Decimal
	var err error
	switch n := v.(type) {
	case json.Number:
		d, err = decimal.NewFromString(n.String())
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(n))
	default:
		return 0
	}
	if err != nil {
		return 0
	}
	f, _ := d.Float64()
	return f
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
