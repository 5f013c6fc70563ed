package runlog

import (
	"regexp"
	"strconv"
	"strings"
)

var digits = regexp.MustCompile(`[0-9]+`)

// RunLabel is the breakdown of a run id written as "name | N users | time".
type RunLabel struct {
	TestName        string
	ConcurrentUsers *int64
	TestRunTime     *string
}

// ParseRunLabel splits a run id on '|'. Ids without separators yield only a
// test name.
func ParseRunLabel(runID string) RunLabel {
	parts := strings.SplitN(runID, "|", 3)
	label := RunLabel{TestName: strings.TrimSpace(parts[0])}

	if len(parts) > 1 {
		if m := digits.FindString(parts[1]); m != "" {
			if n, err := strconv.ParseInt(m, 10, 64); err == nil {
				label.ConcurrentUsers = &n
			}
		}
	}
	if len(parts) > 2 {
		t := strings.TrimSpace(parts[2])
		label.TestRunTime = &t
	}
	return label
}
