package warehouse

import (
	"fmt"
	"strings"

	"github.com/loadtrail/loadtrail/pkg/types"
)

// Column is one column of a destination table.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
}

// Table describes a destination table.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	Indexes    [][]string
}

// ColumnNames returns the table's column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// CreateSQL renders CREATE TABLE IF NOT EXISTS for the dialect.
func (t Table) CreateSQL(d Dialect) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for i, c := range t.Columns {
		fmt.Fprintf(&sb, "    %s %s", c.Name, d.ColumnType(c.Type))
		if c.NotNull {
			sb.WriteString(" NOT NULL")
		}
		if i < len(t.Columns)-1 || len(t.PrimaryKey) > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&sb, "    PRIMARY KEY (%s)\n", strings.Join(t.PrimaryKey, ", "))
	}
	sb.WriteString(")")
	return sb.String()
}

// IndexSQL renders CREATE INDEX IF NOT EXISTS statements for the table.
func (t Table) IndexSQL() []string {
	stmts := make([]string, 0, len(t.Indexes))
	for _, cols := range t.Indexes {
		name := fmt.Sprintf("idx_%s_%s", t.Name, strings.Join(cols, "_"))
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			name, t.Name, strings.Join(cols, ", ")))
	}
	return stmts
}

// Layout is the set of destination objects for one flavor.
type Layout struct {
	Flavor types.Flavor

	// Raw holds staged lines verbatim with lineage
	Raw Table

	// Aggregates holds one row per query invocation or protocol call
	Aggregates Table

	// Children holds detail rows (query) or response rows (protocol)
	Children Table

	// View joins Aggregates and Children on the run key
	View       string
	viewSelect string

	// Stage and FileFormat name this flavor's descriptor rows
	Stage      string
	FileFormat string
}

// ViewSQL renders the joined view for the dialect.
func (l Layout) ViewSQL(d Dialect) string {
	return d.CreateView(l.View, l.viewSelect)
}

func text(name string) Column      { return Column{Name: name, Type: TypeText} }
func integer(name string) Column   { return Column{Name: name, Type: TypeInt} }
func timestamp(name string) Column { return Column{Name: name, Type: TypeTime} }
func boolean(name string) Column   { return Column{Name: name, Type: TypeBool} }

func required(c Column) Column {
	c.NotNull = true
	return c
}

func columns(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var rawColumns = []Column{
	required(text("content")),
	required(text("source_file")),
	required(integer("source_row_number")),
}

var prefixColumns = []Column{
	timestamp("ts"),
	text("level"),
	text("logger"),
	text("message_kind"),
}

var runColumns = []Column{
	required(text("run_id")),
	text("test_name"),
	integer("concurrent_users"),
	text("test_run_time"),
	text("status"),
}

var identityColumns = []Column{
	integer("session_id"),
	text("model"),
}

var lineageColumns = []Column{
	text("source_file"),
	integer("source_row_number"),
	text("raw_line"),
}

var timingColumns = []Column{
	integer("start_ms"),
	integer("end_ms"),
	integer("duration_ms"),
}

// QueryLayout is the destination layout for query-execution logs.
var QueryLayout = Layout{
	Flavor: types.FlavorQuery,
	Raw: Table{
		Name:       "query_raw_logs",
		Columns:    rawColumns,
		PrimaryKey: []string{"source_file", "source_row_number"},
	},
	Aggregates: Table{
		Name: "query_aggregates",
		Columns: columns(
			[]Column{required(integer("run_key"))},
			prefixColumns,
			runColumns,
			identityColumns,
			[]Column{text("query_name"), text("query_id"), text("content_hash"), text("payload_base64")},
			timingColumns,
			[]Column{integer("result_count")},
			lineageColumns,
		),
		PrimaryKey: []string{"run_key"},
		Indexes:    [][]string{{"run_id"}},
	},
	Children: Table{
		Name: "query_details",
		Columns: columns(
			[]Column{required(integer("run_key"))},
			[]Column{timestamp("ts"), required(text("run_id"))},
			identityColumns,
			[]Column{text("content_hash"), required(integer("row_number")), text("row_map_raw"), text("row_hash")},
			lineageColumns,
		),
		PrimaryKey: []string{"run_key", "row_number"},
		Indexes:    [][]string{{"run_id"}},
	},
	View: "v_query_joined",
	viewSelect: `SELECT
    a.run_key,
    a.test_name,
    a.concurrent_users,
    a.test_run_time,
    a.ts AS aggregate_ts,
    a.level AS aggregate_level,
    a.logger AS aggregate_logger,
    a.message_kind AS aggregate_message_kind,
    a.run_id,
    a.status,
    a.session_id,
    a.model,
    a.query_name,
    a.query_id,
    a.content_hash,
    a.payload_base64,
    a.start_ms,
    a.end_ms,
    a.duration_ms,
    a.result_count,
    d.ts AS detail_ts,
    d.row_number,
    d.row_map_raw,
    d.row_hash,
    d.source_file,
    d.source_row_number,
    d.raw_line
FROM query_aggregates a
LEFT JOIN query_details d ON d.run_key = a.run_key`,
	Stage:      "loadtrail_query_stage",
	FileFormat: "loadtrail_query_lines",
}

// ProtocolLayout is the destination layout for protocol-call logs.
var ProtocolLayout = Layout{
	Flavor: types.FlavorProtocol,
	Raw: Table{
		Name:       "protocol_raw_logs",
		Columns:    rawColumns,
		PrimaryKey: []string{"source_file", "source_row_number"},
	},
	Aggregates: Table{
		Name: "protocol_aggregates",
		Columns: columns(
			[]Column{required(integer("run_key"))},
			prefixColumns,
			runColumns,
			identityColumns,
			[]Column{text("cube"), text("catalog")},
			[]Column{text("query_name"), text("query_id"), text("content_hash"), text("payload_base64")},
			timingColumns,
			[]Column{integer("response_size"), text("response_hash"), text("payload")},
			lineageColumns,
		),
		PrimaryKey: []string{"run_key"},
		Indexes:    [][]string{{"run_id"}},
	},
	Children: Table{
		Name: "protocol_responses",
		Columns: columns(
			[]Column{required(integer("run_key")), required(text("run_id"))},
			identityColumns,
			[]Column{text("content_hash"), text("soap_header"), text("soap_body"), text("body_hash"), boolean("redacted")},
		),
		PrimaryKey: []string{"run_key"},
		Indexes:    [][]string{{"run_id"}},
	},
	View: "v_protocol_joined",
	viewSelect: `SELECT
    a.run_key,
    a.test_name,
    a.concurrent_users,
    a.test_run_time,
    a.ts,
    a.level,
    a.logger,
    a.message_kind,
    a.run_id,
    a.status,
    a.session_id,
    a.model,
    a.cube,
    a.catalog,
    a.query_name,
    a.query_id,
    a.content_hash,
    a.start_ms,
    a.end_ms,
    a.duration_ms,
    a.response_size,
    a.response_hash,
    r.soap_header,
    r.soap_body,
    r.body_hash,
    r.redacted,
    a.source_file,
    a.source_row_number
FROM protocol_aggregates a
LEFT JOIN protocol_responses r ON r.run_key = a.run_key`,
	Stage:      "loadtrail_protocol_stage",
	FileFormat: "loadtrail_protocol_lines",
}

// LayoutFor returns the layout of a flavor.
func LayoutFor(f types.Flavor) (Layout, error) {
	switch f {
	case types.FlavorQuery:
		return QueryLayout, nil
	case types.FlavorProtocol:
		return ProtocolLayout, nil
	default:
		return Layout{}, types.ErrUnknownFlavor
	}
}

// StagesTable records the staging area of each flavor.
var StagesTable = Table{
	Name: "archive_stages",
	Columns: []Column{
		required(text("name")),
		required(text("storage_type")),
		required(text("location")),
		text("updated_at"),
	},
	PrimaryKey: []string{"name"},
}

// FileFormatsTable records how staged files are encoded.
var FileFormatsTable = Table{
	Name: "archive_file_formats",
	Columns: []Column{
		required(text("name")),
		required(text("codec")),
		required(text("extension")),
		required(text("line_delimiter")),
		text("updated_at"),
	},
	PrimaryKey: []string{"name"},
}
