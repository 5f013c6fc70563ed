// Package runlog reads load-test run logs line by line.
package runlog

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// LineFunc receives each line without its terminator and its 1-based number.
// Returning an error stops the scan and is returned by ReadLines.
type LineFunc func(line string, rowNumber int64) error

// ReadLines calls fn for every line in r. Lines may be arbitrarily long
// (protocol lines embed whole response envelopes), so no fixed buffer limit
// applies. A trailing newline at end of input does not produce an empty line.
func ReadLines(r io.Reader, fn LineFunc) error {
	br := bufio.NewReaderSize(r, 256*1024)
	var rowNumber int64
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			rowNumber++
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if ferr := fn(line, rowNumber); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
