// Package types provides the record types shared by the run-log archive pipeline.
package types

import "time"

// Flavor selects the log grammar and destination table shape of an archive run.
type Flavor string

const (
	// FlavorQuery archives query-execution lines into aggregate and detail tables.
	FlavorQuery Flavor = "query"

	// FlavorProtocol archives protocol-call lines into aggregate and response tables.
	FlavorProtocol Flavor = "protocol"
)

// ParseFlavor converts a configuration value into a Flavor.
func ParseFlavor(s string) (Flavor, error) {
	switch f := Flavor(s); f {
	case FlavorQuery, FlavorProtocol:
		return f, nil
	default:
		return "", ErrUnknownFlavor
	}
}

// Canonical status values stored on aggregate rows.
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// RedactedSentinel marks a payload that was redacted upstream.
const RedactedSentinel = "REDACTED"

// RawLogLine is one line of a staged log file, loaded verbatim.
type RawLogLine struct {
	// Content is the full line without its line terminator
	Content string `json:"content"`

	// SourceFile is the staged file name the line was loaded from
	SourceFile string `json:"source_file"`

	// SourceRowNumber is the 1-based line number within SourceFile
	SourceRowNumber int64 `json:"source_row_number"`
}

// Lineage ties a derived record back to the raw line it came from.
type Lineage struct {
	SourceFile      string `json:"source_file"`
	SourceRowNumber int64  `json:"source_row_number"`
	RawLine         string `json:"raw_line"`
}

// Identity is the join tuple shared by aggregate, detail and response rows.
type Identity struct {
	RunID       string  `json:"run_id"`
	SessionID   *int64  `json:"session_id"`
	Model       *string `json:"model"`
	ContentHash *string `json:"content_hash"`
}

// AggregateRecord summarizes one query invocation or protocol call.
type AggregateRecord struct {
	RunKey      int64      `json:"run_key"`
	Timestamp   *time.Time `json:"ts"`
	Level       *string    `json:"level"`
	Logger      *string    `json:"logger"`
	MessageKind *string    `json:"message_kind"`
	Identity
	Status        *string `json:"status"`
	QueryName     *string `json:"query_name"`
	QueryID       *string `json:"query_id"`
	PayloadBase64 *string `json:"payload_base64"`
	StartMs       *int64  `json:"start_ms"`
	EndMs         *int64  `json:"end_ms"`
	DurationMs    *int64  `json:"duration_ms"`

	// ResultCount is the number of rows returned (query flavor)
	ResultCount *int64 `json:"result_count"`

	// Cube, Catalog, ResponseSize, ResponseHash and Payload are protocol flavor only
	Cube         *string `json:"cube"`
	Catalog      *string `json:"catalog"`
	ResponseSize *int64  `json:"response_size"`
	ResponseHash *string `json:"response_hash"`
	Payload      *string `json:"payload"`

	Lineage
}

// DetailRecord is one result row of a query invocation.
type DetailRecord struct {
	RunKey    int64      `json:"run_key"`
	Timestamp *time.Time `json:"ts"`
	Identity
	RowNumber int64   `json:"row_number"`
	RowMapRaw *string `json:"row_map_raw"`
	RowHash   *string `json:"row_hash"`
	Lineage
}

// ResponseRecord holds the normalized response of a protocol call.
type ResponseRecord struct {
	RunKey int64 `json:"run_key"`
	Identity
	SoapHeader *string `json:"soap_header"`
	SoapBody   *string `json:"soap_body"`
	BodyHash   *string `json:"body_hash"`
	Redacted   bool    `json:"redacted"`
}
