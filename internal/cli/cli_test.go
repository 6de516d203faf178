package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeFlag(t *testing.T) {
	ts, err := parseTimeFlag("from", "")
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = parseTimeFlag("from", "2025-01-14T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC), *ts)

	ts, err = parseTimeFlag("to", "2025-01-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC), *ts)

	_, err = parseTimeFlag("to", "yesterday")
	assert.ErrorContains(t, err, "--to")
}

func TestRootRegistersCommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"run", "subscribe", "show", "history", "export", "scrape", "cycle", "send-test", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
