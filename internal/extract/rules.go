// Package extract turns raw run-log lines into typed aggregate and detail records.
//
// Extraction is table driven: each flavor declares a list of rules, and every
// rule names a destination field, one or more patterns tried in order, and a
// coercion. A rule that matches nothing leaves its field null.
package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/loadtrail/loadtrail/pkg/types"
)

// Field names a destination field of an extracted record.
type Field string

// Prefix fields present on every log line.
const (
	FieldTimestamp   Field = "ts"
	FieldLevel       Field = "level"
	FieldLogger      Field = "logger"
	FieldMessageKind Field = "messageKind"
)

// Identity and outcome fields.
const (
	FieldRunID         Field = "runId"
	FieldStatus        Field = "status"
	FieldSessionID     Field = "sessionId"
	FieldModel         Field = "model"
	FieldQueryName     Field = "queryName"
	FieldQueryID       Field = "queryId"
	FieldContentHash   Field = "contentHash"
	FieldPayloadBase64 Field = "payloadBase64"
	FieldStart         Field = "start"
	FieldEnd           Field = "end"
	FieldDuration      Field = "duration"
	FieldRows          Field = "rows"
)

// Detail fields (query flavor).
const (
	FieldRowNumber Field = "rownumber"
	FieldRow       Field = "row"
	FieldRowHash   Field = "rowhash"
)

// Protocol fields.
const (
	FieldCube         Field = "cube"
	FieldCatalog      Field = "catalog"
	FieldResponseSize Field = "responseSize"
	FieldResponseHash Field = "responseHash"
	FieldPayload      Field = "payload"
)

// Coercion converts a matched substring into the field's stored type.
type Coercion int

const (
	// CoerceText stores the match verbatim.
	CoerceText Coercion = iota

	// CoerceInt parses a base-10 signed integer.
	CoerceInt

	// CoerceStatus maps OK/KO onto the canonical status values.
	CoerceStatus

	// CoerceTimestamp parses a yyyy-MM-dd HH:mm:ss prefix as UTC.
	CoerceTimestamp
)

// Rule extracts one field. Patterns are tried in order and the first
// submatch of the first matching pattern wins.
type Rule struct {
	Field    Field
	Patterns []*regexp.Regexp
	Coerce   Coercion
}

// Find returns the first submatch and the byte span of the whole match.
func (r Rule) Find(line string) (value string, start, end int, ok bool) {
	for _, p := range r.Patterns {
		loc := p.FindStringSubmatchIndex(line)
		if loc == nil || len(loc) < 4 || loc[2] < 0 {
			continue
		}
		return line[loc[2]:loc[3]], loc[0], loc[1], true
	}
	return "", 0, 0, false
}

// RuleSet is the rule table of one flavor.
type RuleSet struct {
	Flavor types.Flavor

	// Payload, when set, is located first and cut from the line so that
	// key=value tokens inside the payload never feed other rules.
	Payload *Rule

	// Common rules apply to every line.
	Common []Rule

	// Aggregate rules apply to lines without a detail discriminator.
	Aggregate []Rule

	// Discriminator, when set and matched, marks a detail line.
	Discriminator *Rule

	// Detail rules apply to detail lines only.
	Detail []Rule
}

const timestampLayout = "2006-01-02 15:04:05"

func coerceInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func coerceStatus(s string) string {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OK", types.StatusSucceeded:
		return types.StatusSucceeded
	case "KO", types.StatusFailed:
		return types.StatusFailed
	default:
		return s
	}
}

func coerceTimestamp(s string) (time.Time, error) {
	// time.Parse accepts a trailing fractional second with '.' or ','.
	return time.Parse(timestampLayout, s)
}

func quoted(key string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + key + `='([^']*)'`)
}

func bare(key string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + key + `=([^\s']+)`)
}

func number(key string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + key + `='?(-?[0-9]+)`)
}

func textRule(f Field) Rule {
	return Rule{Field: f, Patterns: []*regexp.Regexp{quoted(string(f)), bare(string(f))}, Coerce: CoerceText}
}

func intRule(f Field) Rule {
	return Rule{Field: f, Patterns: []*regexp.Regexp{number(string(f))}, Coerce: CoerceInt}
}

var prefixRules = []Rule{
	{
		Field:    FieldTimestamp,
		Patterns: []*regexp.Regexp{regexp.MustCompile(`^([0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2}(?:[.,][0-9]{1,9})?)`)},
		Coerce:   CoerceTimestamp,
	},
	{
		Field:    FieldLevel,
		Patterns: []*regexp.Regexp{regexp.MustCompile(`^\S+ \S+ ([A-Z]+)\b`)},
	},
	{
		Field: FieldLogger,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`^\S+ \S+ [A-Z]+ ([A-Za-z0-9_.$]+):`),
			regexp.MustCompile(`\s([A-Za-z][A-Za-z0-9_.$]*):\s`),
		},
	},
	{
		Field:    FieldMessageKind,
		Patterns: []*regexp.Regexp{regexp.MustCompile(`- ([A-Za-z0-9_]+)`)},
	},
}

var identityRules = []Rule{
	{Field: FieldRunID, Patterns: []*regexp.Regexp{quoted("runId")}},
	{Field: FieldStatus, Patterns: []*regexp.Regexp{quoted("status"), bare("status")}, Coerce: CoerceStatus},
	intRule(FieldSessionID),
	textRule(FieldModel),
	textRule(FieldQueryName),
	textRule(FieldQueryID),
	textRule(FieldContentHash),
	textRule(FieldPayloadBase64),
}

var timingRules = []Rule{
	intRule(FieldStart),
	intRule(FieldEnd),
	intRule(FieldDuration),
}

// QueryRules is the rule table for query-execution lines.
var QueryRules = &RuleSet{
	Flavor:    types.FlavorQuery,
	Common:    concat(prefixRules, identityRules),
	Aggregate: concat(timingRules, []Rule{intRule(FieldRows)}),
	Discriminator: &Rule{
		Field:    FieldRowNumber,
		Patterns: []*regexp.Regexp{number("rownumber")},
		Coerce:   CoerceInt,
	},
	Detail: []Rule{
		{
			Field: FieldRow,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\brow=Map\(([^)]*)\)`),
				regexp.MustCompile(`\brow=\{([^}]*)\}`),
				quoted("row"),
			},
		},
		{
			Field: FieldRowHash,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\browhash='?([a-fA-F0-9]+)`),
			},
		},
	},
}

// ProtocolRules is the rule table for protocol-call lines.
var ProtocolRules = &RuleSet{
	Flavor: types.FlavorProtocol,
	Payload: &Rule{
		Field: FieldPayload,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?s)(<(?:[\w.-]+:)?Envelope\b.*</(?:[\w.-]+:)?Envelope>)`),
			quoted("response"),
		},
	},
	Common: concat(prefixRules, identityRules),
	Aggregate: concat(
		[]Rule{textRule(FieldCube), textRule(FieldCatalog)},
		timingRules,
		[]Rule{intRule(FieldResponseSize), textRule(FieldResponseHash)},
	),
}

// RulesFor returns the rule table of a flavor.
func RulesFor(f types.Flavor) (*RuleSet, error) {
	switch f {
	case types.FlavorQuery:
		return QueryRules, nil
	case types.FlavorProtocol:
		return ProtocolRules, nil
	default:
		return nil, types.ErrUnknownFlavor
	}
}

func concat(tables ...[]Rule) []Rule {
	var out []Rule
	for _, t := range tables {
		out = append(out, t...)
	}
	return out
}
