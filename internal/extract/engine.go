package extract

import (
	"fmt"
	"time"

	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
	"github.com/loadtrail/loadtrail/internal/runkey"
	"github.com/loadtrail/loadtrail/pkg/types"
)

// Kind says what a line became.
type Kind int

const (
	// KindDropped marks a line that is neither an aggregate nor a detail.
	KindDropped Kind = iota
	KindAggregate
	KindDetail
)

func (k Kind) String() string {
	switch k {
	case KindAggregate:
		return "aggregate"
	case KindDetail:
		return "detail"
	default:
		return "dropped"
	}
}

// Gap records a field that was left null.
type Gap struct {
	Field Field
	Code  string
	Value string
}

// Err converts the gap into a non-fatal extraction error.
func (g Gap) Err() error {
	if g.Code == arkerrors.CodeCoerceFailed {
		return arkerrors.NewExtractionGap(g.Code, fmt.Sprintf("field %s: cannot coerce %q", g.Field, g.Value))
	}
	return arkerrors.NewExtractionGap(g.Code, fmt.Sprintf("field %s: no match", g.Field))
}

// Result is the outcome of extracting one line. Exactly one of Aggregate and
// Detail is set unless Kind is KindDropped, in which case Reason says why.
type Result struct {
	Kind      Kind
	Aggregate *types.AggregateRecord
	Detail    *types.DetailRecord
	Gaps      []Gap
	Reason    string
}

// Engine applies one flavor's rule table to raw lines. It is stateless and
// safe for concurrent use.
type Engine struct {
	rules *RuleSet
}

// New returns the engine for a flavor.
func New(flavor types.Flavor) (*Engine, error) {
	rules, err := RulesFor(flavor)
	if err != nil {
		return nil, err
	}
	return &Engine{rules: rules}, nil
}

// NewWithRules returns an engine over a custom rule table.
func NewWithRules(rules *RuleSet) *Engine {
	return &Engine{rules: rules}
}

// Flavor returns the flavor of the engine's rule table.
func (e *Engine) Flavor() types.Flavor {
	return e.rules.Flavor
}

// Extract parses one raw line. It never fails: unmatched fields are null and
// reported as gaps, and unusable lines come back as KindDropped.
func (e *Engine) Extract(line types.RawLogLine) Result {
	v := newValues()
	rest := line.Content

	if p := e.rules.Payload; p != nil {
		if start, end, ok := v.apply(*p, rest); ok {
			rest = rest[:start] + rest[end:]
		}
	}
	for _, r := range e.rules.Common {
		v.apply(r, rest)
	}

	lineage := types.Lineage{
		SourceFile:      line.SourceFile,
		SourceRowNumber: line.SourceRowNumber,
		RawLine:         line.Content,
	}
	id := v.identity()
	if id.RunID == "" {
		return Result{Kind: KindDropped, Gaps: v.gaps, Reason: "no run id"}
	}

	if d := e.rules.Discriminator; d != nil {
		if _, _, _, ok := d.Find(rest); ok {
			v.apply(*d, rest)
			return e.detail(v, id, rest, lineage)
		}
	}

	for _, r := range e.rules.Aggregate {
		v.apply(r, rest)
	}
	if id.SessionID == nil || id.Model == nil {
		return Result{Kind: KindDropped, Gaps: v.gaps, Reason: "incomplete aggregate identity"}
	}
	queryName := v.str(FieldQueryName)
	if queryName == nil && id.ContentHash == nil {
		return Result{Kind: KindDropped, Gaps: v.gaps, Reason: "no query name or content hash"}
	}

	agg := &types.AggregateRecord{
		RunKey:        runkey.Compute(id),
		Timestamp:     v.at(FieldTimestamp),
		Level:         v.str(FieldLevel),
		Logger:        v.str(FieldLogger),
		MessageKind:   v.str(FieldMessageKind),
		Identity:      id,
		Status:        v.str(FieldStatus),
		QueryName:     queryName,
		QueryID:       v.str(FieldQueryID),
		PayloadBase64: v.str(FieldPayloadBase64),
		StartMs:       v.num(FieldStart),
		EndMs:         v.num(FieldEnd),
		DurationMs:    v.num(FieldDuration),
		ResultCount:   v.num(FieldRows),
		Cube:          v.str(FieldCube),
		Catalog:       v.str(FieldCatalog),
		ResponseSize:  v.num(FieldResponseSize),
		ResponseHash:  v.str(FieldResponseHash),
		Payload:       v.str(FieldPayload),
		Lineage:       lineage,
	}
	return Result{Kind: KindAggregate, Aggregate: agg, Gaps: v.gaps}
}

func (e *Engine) detail(v *values, id types.Identity, rest string, lineage types.Lineage) Result {
	rowNumber := v.num(FieldRowNumber)
	if rowNumber == nil {
		return Result{Kind: KindDropped, Gaps: v.gaps, Reason: "row number out of range"}
	}
	for _, r := range e.rules.Detail {
		v.apply(r, rest)
	}
	d := &types.DetailRecord{
		RunKey:    runkey.Compute(id),
		Timestamp: v.at(FieldTimestamp),
		Identity:  id,
		RowNumber: *rowNumber,
		RowMapRaw: v.str(FieldRow),
		RowHash:   v.str(FieldRowHash),
		Lineage:   lineage,
	}
	return Result{Kind: KindDetail, Detail: d, Gaps: v.gaps}
}

// values holds the coerced matches of one line.
type values struct {
	text  map[Field]string
	ints  map[Field]int64
	times map[Field]time.Time
	gaps  []Gap
}

func newValues() *values {
	return &values{
		text:  make(map[Field]string),
		ints:  make(map[Field]int64),
		times: make(map[Field]time.Time),
	}
}

// apply runs one rule and records its value or gap.
func (v *values) apply(r Rule, line string) (start, end int, ok bool) {
	raw, start, end, ok := r.Find(line)
	if !ok {
		v.gaps = append(v.gaps, Gap{Field: r.Field, Code: arkerrors.CodeFieldMissing})
		return 0, 0, false
	}

	switch r.Coerce {
	case CoerceInt:
		n, err := coerceInt(raw)
		if err != nil {
			v.gaps = append(v.gaps, Gap{Field: r.Field, Code: arkerrors.CodeCoerceFailed, Value: raw})
			return start, end, true
		}
		v.ints[r.Field] = n
	case CoerceTimestamp:
		ts, err := coerceTimestamp(raw)
		if err != nil {
			v.gaps = append(v.gaps, Gap{Field: r.Field, Code: arkerrors.CodeCoerceFailed, Value: raw})
			return start, end, true
		}
		v.times[r.Field] = ts
	case CoerceStatus:
		v.text[r.Field] = coerceStatus(raw)
	default:
		v.text[r.Field] = raw
	}
	return start, end, true
}

func (v *values) str(f Field) *string {
	s, ok := v.text[f]
	if !ok {
		return nil
	}
	return &s
}

func (v *values) num(f Field) *int64 {
	n, ok := v.ints[f]
	if !ok {
		return nil
	}
	return &n
}

func (v *values) at(f Field) *time.Time {
	t, ok := v.times[f]
	if !ok {
		return nil
	}
	return &t
}

func (v *values) identity() types.Identity {
	id := types.Identity{
		SessionID:   v.num(FieldSessionID),
		Model:       v.str(FieldModel),
		ContentHash: v.str(FieldContentHash),
	}
	if r := v.str(FieldRunID); r != nil {
		id.RunID = *r
	}
	return id
}
