package runlog

import (
	"fmt"
	"io"
	"os"
	"regexp"
)

// runIDPattern locates the run id marker; a lowercase r keeps longer keys
// such as gatlingRunId from matching.
var runIDPattern = regexp.MustCompile(`\brunId='([^']+)'`)

// RunIDMarker returns the literal token that identifies lines of a run.
func RunIDMarker(runID string) string {
	return "runId='" + runID + "'"
}

// ExtractRunIDs reads the log file once and returns its distinct run ids in
// first-seen order. An empty file yields an empty slice.
func ExtractRunIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("runlog: failed to open %s: %w", path, err)
	}
	defer f.Close()

	ids, err := ExtractRunIDsFrom(f)
	if err != nil {
		return nil, fmt.Errorf("runlog: failed to read %s: %w", path, err)
	}
	return ids, nil
}

// ExtractRunIDsFrom is ExtractRunIDs over an arbitrary reader.
func ExtractRunIDsFrom(r io.Reader) ([]string, error) {
	ids := []string{}
	seen := make(map[string]struct{})

	err := ReadLines(r, func(line string, _ int64) error {
		for _, m := range runIDPattern.FindAllStringSubmatch(line, -1) {
			id := m[1]
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
