package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, NewLogger(Config{}).GetLevel())
	assert.Equal(t, zerolog.DebugLevel, NewLogger(Config{Level: "DEBUG"}).GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLogger(Config{Level: "loud"}).GetLevel())
}

func TestWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := WithService(zerolog.New(&buf), "pricewatch", "")
	logger.Info().Int64("product_id", 7).Msg("fetched")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pricewatch", line["app"])
	assert.Equal(t, float64(7), line["product_id"])
	assert.NotContains(t, line, "env")
}
