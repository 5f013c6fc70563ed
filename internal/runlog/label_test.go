package runlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunLabel(t *testing.T) {
	l := ParseRunLabel(" Sales Load | 25 users | 2024-03-01 10:00 ")
	assert.Equal(t, "Sales Load", l.TestName)
	require.NotNil(t, l.ConcurrentUsers)
	assert.Equal(t, int64(25), *l.ConcurrentUsers)
	require.NotNil(t, l.TestRunTime)
	assert.Equal(t, "2024-03-01 10:00", *l.TestRunTime)
}

func TestParseRunLabel_PlainID(t *testing.T) {
	l := ParseRunLabel("run-42")
	assert.Equal(t, "run-42", l.TestName)
	assert.Nil(t, l.ConcurrentUsers)
	assert.Nil(t, l.TestRunTime)
}

func TestParseRunLabel_NoUserCount(t *testing.T) {
	l := ParseRunLabel("smoke | many | now")
	assert.Nil(t, l.ConcurrentUsers)
	assert.Equal(t, "now", *l.TestRunTime)
}
