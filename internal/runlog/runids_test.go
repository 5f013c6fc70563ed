package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.log")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

func TestExtractRunIDs_FirstSeenOrder(t *testing.T) {
	path := writeLog(t,
		"2024-03-01 10:00:00 INFO q.Exec: - QUERY runId='A' sessionId=1",
		"2024-03-01 10:00:01 INFO q.Exec: - QUERY runId='B' sessionId=1",
		"2024-03-01 10:00:02 INFO q.Exec: - QUERY runId='A' sessionId=2",
		"no marker on this line",
		"2024-03-01 10:00:03 INFO q.Exec: - QUERY runId='C' sessionId=1",
		"2024-03-01 10:00:04 INFO q.Exec: - QUERY runId='B' sessionId=3",
	)

	ids, err := ExtractRunIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, ids)
}

func TestExtractRunIDs_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	ids, err := ExtractRunIDs(path)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)
}

func TestExtractRunIDs_MissingFile(t *testing.T) {
	_, err := ExtractRunIDs(filepath.Join(t.TempDir(), "absent.log"))
	assert.Error(t, err)
}

func TestExtractRunIDs_IgnoresMalformedMarkers(t *testing.T) {
	ids, err := ExtractRunIDsFrom(strings.NewReader(
		"runId=A unquoted\nrunId='' empty\ngatlingRunId='G' other key\nrunId='ok'\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, ids)
}

func TestExtractRunIDs_IDWithSpacesAndPipes(t *testing.T) {
	ids, err := ExtractRunIDsFrom(strings.NewReader("x runId='load | 50 users | 2024-03-01 10:00' y\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"load | 50 users | 2024-03-01 10:00"}, ids)
}

func TestReadLines_NumbersAndTerminators(t *testing.T) {
	var got []string
	var rows []int64
	err := ReadLines(strings.NewReader("a\r\nb\n\nc"), func(line string, n int64) error {
		got = append(got, line)
		rows = append(rows, n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "", "c"}, got)
	assert.Equal(t, []int64{1, 2, 3, 4}, rows)
}

func TestReadLines_LongLine(t *testing.T) {
	long := strings.Repeat("x", 1<<20)
	var got int
	err := ReadLines(strings.NewReader(long+"\nshort\n"), func(line string, _ int64) error {
		if got == 0 {
			assert.Len(t, line, len(long))
		}
		got++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestReadLines_CallbackErrorStops(t *testing.T) {
	stop := fmt.Errorf("stop")
	calls := 0
	err := ReadLines(strings.NewReader("a\nb\nc\n"), func(string, int64) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

// TestProperty_RunIDsDistinctInFirstSeenOrder checks that for any sequence of
// run ids written one per line, extraction returns each id once, ordered by
// its first occurrence.
func TestProperty_RunIDsDistinctInFirstSeenOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("extraction yields distinct ids in first-seen order", prop.ForAll(
		func(picks []int) bool {
			var sb strings.Builder
			var want []string
			seen := map[string]bool{}
			for i, p := range picks {
				id := fmt.Sprintf("run-%d", p)
				fmt.Fprintf(&sb, "2024-03-01 10:00:00 INFO x: - QUERY runId='%s' sessionId=%d\n", id, i)
				if !seen[id] {
					seen[id] = true
					want = append(want, id)
				}
			}

			got, err := ExtractRunIDsFrom(strings.NewReader(sb.String()))
			if err != nil || len(got) != len(want) {
				return false
			}
			for i := range want {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}
