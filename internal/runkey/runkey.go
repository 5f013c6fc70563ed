// Package runkey computes the stable key joining aggregate rows to their
// detail and response rows.
package runkey

import (
	"encoding/binary"
	"io"

	"github.com/spaolacci/murmur3"

	"github.com/loadtrail/loadtrail/pkg/types"
)

// Field markers. A null field and an empty string must not hash alike.
const (
	markerNull  byte = 0x00
	markerValue byte = 0x01
)

// Compute returns the run key for an identity tuple. The value depends only
// on (runId, sessionId, model, contentHash).
func Compute(id types.Identity) int64 {
	h := murmur3.New64()
	writeString(h, &id.RunID)
	writeInt(h, id.SessionID)
	writeString(h, id.Model)
	writeString(h, id.ContentHash)
	return int64(h.Sum64())
}

func writeString(w io.Writer, s *string) {
	if s == nil {
		w.Write([]byte{markerNull})
		return
	}
	var hdr [9]byte
	hdr[0] = markerValue
	binary.BigEndian.PutUint64(hdr[1:], uint64(len(*s)))
	w.Write(hdr[:])
	w.Write([]byte(*s))
}

func writeInt(w io.Writer, v *int64) {
	if v == nil {
		w.Write([]byte{markerNull})
		return
	}
	var buf [9]byte
	buf[0] = markerValue
	binary.BigEndian.PutUint64(buf[1:], uint64(*v))
	w.Write(buf[:])
}
