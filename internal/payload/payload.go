// Package payload normalizes protocol response envelopes for hashing and storage.
package payload

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/loadtrail/loadtrail/pkg/types"
)

// VolatilePlaceholder replaces the last-update element before hashing.
const VolatilePlaceholder = "<LastDataUpdate>0</LastDataUpdate>"

var (
	headerPattern   = blockPattern("Header")
	bodyPattern     = blockPattern("Body")
	volatilePattern = regexp.MustCompile(`(?s)<(?:[\w.-]+:)?LastDataUpdate\b[^>]*>[^<]*</(?:[\w.-]+:)?LastDataUpdate>`)
)

// blockPattern matches an optionally namespace-prefixed element, either
// self-closing or spanning to its last closing tag.
func blockPattern(local string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(
		`(?s)<(?:[\w.-]+:)?%[1]s\b(?:[^>]*/>|[^>]*>.*</(?:[\w.-]+:)?%[1]s>)`, local))
}

// Normalized is the result of normalizing one payload.
type Normalized struct {
	Header   *string
	Body     *string
	BodyHash *string
	Redacted bool
}

// Normalize splits an envelope payload into header and body, rewrites the
// volatile element in the body and hashes the rewritten body. A payload equal
// to the redaction sentinel is passed through without parsing. Missing blocks
// yield nil fields.
func Normalize(raw string) Normalized {
	if IsRedacted(raw) {
		s := types.RedactedSentinel
		return Normalized{Header: &s, Body: &s, BodyHash: &s, Redacted: true}
	}

	var n Normalized
	if h := headerPattern.FindString(raw); h != "" {
		n.Header = &h
	}
	if b := bodyPattern.FindString(raw); b != "" {
		b = StripVolatile(b)
		sum := Hash(b)
		n.Body = &b
		n.BodyHash = &sum
	}
	return n
}

// IsRedacted reports whether the payload is the redaction sentinel.
func IsRedacted(raw string) bool {
	return strings.TrimSpace(raw) == types.RedactedSentinel
}

// StripVolatile replaces every last-update element with VolatilePlaceholder.
func StripVolatile(s string) string {
	return volatilePattern.ReplaceAllLiteralString(s, VolatilePlaceholder)
}

// Hash returns the hex xxh3 digest of s.
func Hash(s string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(s))
}
