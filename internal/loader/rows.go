package loader

import (
	"github.com/loadtrail/loadtrail/internal/runlog"
	"github.com/loadtrail/loadtrail/internal/warehouse"
	"github.com/loadtrail/loadtrail/pkg/types"
)

// rowFor orders values by the table's columns. Columns without a value are
// bound as NULL.
func rowFor(t warehouse.Table, values map[string]any) []any {
	row := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		row[i] = values[c.Name]
	}
	return row
}

func aggregateRow(t warehouse.Table, a *types.AggregateRecord) []any {
	label := runlog.ParseRunLabel(a.RunID)
	return rowFor(t, map[string]any{
		"run_key":           a.RunKey,
		"ts":                a.Timestamp,
		"level":             a.Level,
		"logger":            a.Logger,
		"message_kind":      a.MessageKind,
		"run_id":            a.RunID,
		"test_name":         label.TestName,
		"concurrent_users":  label.ConcurrentUsers,
		"test_run_time":     label.TestRunTime,
		"status":            a.Status,
		"session_id":        a.SessionID,
		"model":             a.Model,
		"cube":              a.Cube,
		"catalog":           a.Catalog,
		"query_name":        a.QueryName,
		"query_id":          a.QueryID,
		"content_hash":      a.ContentHash,
		"payload_base64":    a.PayloadBase64,
		"start_ms":          a.StartMs,
		"end_ms":            a.EndMs,
		"duration_ms":       a.DurationMs,
		"result_count":      a.ResultCount,
		"response_size":     a.ResponseSize,
		"response_hash":     a.ResponseHash,
		"payload":           a.Payload,
		"source_file":       a.SourceFile,
		"source_row_number": a.SourceRowNumber,
		"raw_line":          a.RawLine,
	})
}

func detailRow(t warehouse.Table, d *types.DetailRecord) []any {
	return rowFor(t, map[string]any{
		"run_key":           d.RunKey,
		"ts":                d.Timestamp,
		"run_id":            d.RunID,
		"session_id":        d.SessionID,
		"model":             d.Model,
		"content_hash":      d.ContentHash,
		"row_number":        d.RowNumber,
		"row_map_raw":       d.RowMapRaw,
		"row_hash":          d.RowHash,
		"source_file":       d.SourceFile,
		"source_row_number": d.SourceRowNumber,
		"raw_line":          d.RawLine,
	})
}

func responseRow(t warehouse.Table, r *types.ResponseRecord) []any {
	return rowFor(t, map[string]any{
		"run_key":      r.RunKey,
		"run_id":       r.RunID,
		"session_id":   r.SessionID,
		"model":        r.Model,
		"content_hash": r.ContentHash,
		"soap_header":  r.SoapHeader,
		"soap_body":    r.SoapBody,
		"body_hash":    r.BodyHash,
		"redacted":     r.Redacted,
	})
}
