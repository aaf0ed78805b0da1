// Package cdc models change-data-capture events for the documents table
// and normalizes the wire shapes Debezium produces into a single Event.
package cdc

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Operations carried by a change event.
const (
	OpCreate = "c"
	OpUpdate = "u"
	OpDelete = "d"
)

// Row is the document image carried on one side of a change event. Fields
// the wire did not provide are zero; Version is left 0 here and defaulted
// by the consumer of the event.
type Row struct {
	ID      string
	Title   string
	Content string
	Version int64
	// Extra retains document fields that don't map to a column we model,
	// so a replayed event round-trips losslessly.
	Extra map[string]interface{}
}

// Event is a normalized change event. Exactly one of Before/After is set:
// Before for deletes, After for creates and updates.
type Event struct {
	Op     string
	Before *Row
	After  *Row
	TSMs   int64
}

// DocumentID returns the document identity of the event, from whichever
// side is populated.
func (e *Event) DocumentID() string {
	if e.After != nil {
		return e.After.ID
	} else if e.Before != nil {
		return e.Before.ID
	}
	return ""
}

// Timestamp converts the event's source timestamp to wall time.
func (e *Event) Timestamp() time.Time {
	return time.UnixMilli(e.TSMs)
}

// Normalize maps a decoded event payload into an Event:
//
//   - The operation is `__op`, else `op`, defaulting to "c";
//     `__deleted == "true"` forces a delete regardless of the above.
//   - The source timestamp is `__source_ts_ms`, else `ts_ms`, else now.
//   - All `__`-prefixed keys are stripped; the remainder are document
//     fields and bind to Before for deletes, After otherwise.
//
// An event with no document fields normalizes to nil: it carries nothing
// to project, and the caller drops it with a warning. Unrecognized
// operation values pass through for the processor to reject.
func Normalize(raw map[string]interface{}) *Event {
	if len(raw) == 0 {
		return nil
	}

	var op = stringField(raw, "__op")
	if op == "" {
		op = stringField(raw, "op")
	}
	if op == "" {
		op = OpCreate
	}
	if stringField(raw, "__deleted") == "true" {
		op = OpDelete
	}

	var tsMs = intField(raw, "__source_ts_ms")
	if tsMs == 0 {
		tsMs = intField(raw, "ts_ms")
	}
	if tsMs == 0 {
		tsMs = time.Now().UnixMilli()
	}

	var row = Row{Extra: make(map[string]interface{})}
	var fields int
	for k, v := range raw {
		if strings.HasPrefix(k, "__") {
			continue
		}
		fields++

		switch k {
		case "id":
			row.ID = asString(v)
		case "title":
			row.Title = asString(v)
		case "content":
			row.Content = asString(v)
		case "version":
			row.Version = asInt(v)
		default:
			row.Extra[k] = v
		}
	}
	if fields == 0 {
		return nil
	}

	var event = Event{Op: op, TSMs: tsMs}
	if op == OpDelete {
		event.Before = &row
	} else {
		event.After = &row
	}
	return &event
}

func stringField(raw map[string]interface{}, key string) string {
	if v, ok := raw[key]; ok {
		return asString(v)
	}
	return ""
}

func intField(raw map[string]interface{}, key string) int64 {
	if v, ok := raw[key]; ok {
		return asInt(v)
	}
	return 0
}

// asString renders scalar wire values as strings. JSON objects and arrays
// have no scalar rendering and yield "".
func asString(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	case map[string]interface{}, []interface{}:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// asInt coerces JSON numbers and numeric strings; anything else is 0.
func asInt(v interface{}) int64 {
	switch v := v.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
