package types

import "time"

// Equal reports whether two identities hold the same join tuple.
func (i Identity) Equal(o Identity) bool {
	return i.RunID == o.RunID &&
		eqInt(i.SessionID, o.SessionID) &&
		eqStr(i.Model, o.Model) &&
		eqStr(i.ContentHash, o.ContentHash)
}

// Equal compares every field of two aggregate records.
func (a *AggregateRecord) Equal(o *AggregateRecord) bool {
	if a == nil || o == nil {
		return a == o
	}
	return a.RunKey == o.RunKey &&
		eqTime(a.Timestamp, o.Timestamp) &&
		eqStr(a.Level, o.Level) &&
		eqStr(a.Logger, o.Logger) &&
		eqStr(a.MessageKind, o.MessageKind) &&
		a.Identity.Equal(o.Identity) &&
		eqStr(a.Status, o.Status) &&
		eqStr(a.QueryName, o.QueryName) &&
		eqStr(a.QueryID, o.QueryID) &&
		eqStr(a.PayloadBase64, o.PayloadBase64) &&
		eqInt(a.StartMs, o.StartMs) &&
		eqInt(a.EndMs, o.EndMs) &&
		eqInt(a.DurationMs, o.DurationMs) &&
		eqInt(a.ResultCount, o.ResultCount) &&
		eqStr(a.Cube, o.Cube) &&
		eqStr(a.Catalog, o.Catalog) &&
		eqInt(a.ResponseSize, o.ResponseSize) &&
		eqStr(a.ResponseHash, o.ResponseHash) &&
		eqStr(a.Payload, o.Payload) &&
		a.Lineage == o.Lineage
}

// Equal compares every field of two detail records.
func (d *DetailRecord) Equal(o *DetailRecord) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.RunKey == o.RunKey &&
		eqTime(d.Timestamp, o.Timestamp) &&
		d.Identity.Equal(o.Identity) &&
		d.RowNumber == o.RowNumber &&
		eqStr(d.RowMapRaw, o.RowMapRaw) &&
		eqStr(d.RowHash, o.RowHash) &&
		d.Lineage == o.Lineage
}

// Equal compares every field of two response records.
func (r *ResponseRecord) Equal(o *ResponseRecord) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.RunKey == o.RunKey &&
		r.Identity.Equal(o.Identity) &&
		eqStr(r.SoapHeader, o.SoapHeader) &&
		eqStr(r.SoapBody, o.SoapBody) &&
		eqStr(r.BodyHash, o.BodyHash) &&
		r.Redacted == o.Redacted
}

func eqStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
