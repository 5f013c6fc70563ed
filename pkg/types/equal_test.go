package types

import (
	"testing"
	"time"
)

func strp(s string) *string { return &s }
func intp(i int64) *int64   { return &i }

func sampleAggregate() *AggregateRecord {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &AggregateRecord{
		RunKey:    42,
		Timestamp: &ts,
		Identity: Identity{
			RunID:       "r1",
			SessionID:   intp(7),
			Model:       strp("M"),
			ContentHash: strp("abc"),
		},
		Status:      strp(StatusSucceeded),
		QueryName:   strp("Q"),
		DurationMs:  intp(50),
		ResultCount: intp(3),
		Lineage:     Lineage{SourceFile: "run.log.gz", SourceRowNumber: 1, RawLine: "line"},
	}
}

func TestAggregateRecordEqual(t *testing.T) {
	a := sampleAggregate()
	b := sampleAggregate()
	if !a.Equal(b) {
		t.Fatal("expected identical aggregates to be equal")
	}

	b.DurationMs = intp(51)
	if a.Equal(b) {
		t.Error("expected differing duration to break equality")
	}

	b = sampleAggregate()
	b.Model = nil
	if a.Equal(b) {
		t.Error("expected nil vs set model to break equality")
	}

	b = sampleAggregate()
	other := b.Timestamp.In(time.FixedZone("X", 3600))
	b.Timestamp = &other
	if !a.Equal(b) {
		t.Error("expected same instant in another zone to compare equal")
	}

	var nilA *AggregateRecord
	if nilA.Equal(a) || a.Equal(nil) {
		t.Error("nil aggregate must only equal nil")
	}
	if !nilA.Equal(nil) {
		t.Error("nil aggregate must equal nil")
	}
}

func TestDetailRecordEqual(t *testing.T) {
	d := &DetailRecord{RunKey: 1, RowNumber: 2, RowMapRaw: strp("a=1"), Identity: Identity{RunID: "r1"}}
	o := &DetailRecord{RunKey: 1, RowNumber: 2, RowMapRaw: strp("a=1"), Identity: Identity{RunID: "r1"}}
	if !d.Equal(o) {
		t.Fatal("expected equal details")
	}
	o.RowNumber = 3
	if d.Equal(o) {
		t.Error("expected differing row number to break equality")
	}
}

func TestResponseRecordEqual(t *testing.T) {
	r := &ResponseRecord{RunKey: 1, SoapBody: strp("<b/>"), BodyHash: strp("h")}
	o := &ResponseRecord{RunKey: 1, SoapBody: strp("<b/>"), BodyHash: strp("h")}
	if !r.Equal(o) {
		t.Fatal("expected equal responses")
	}
	o.Redacted = true
	if r.Equal(o) {
		t.Error("expected differing redacted flag to break equality")
	}
}

func TestParseFlavor(t *testing.T) {
	tests := []struct {
		in      string
		want    Flavor
		wantErr bool
	}{
		{"query", FlavorQuery, false},
		{"protocol", FlavorProtocol, false},
		{"xmla", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFlavor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFlavor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFlavor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
