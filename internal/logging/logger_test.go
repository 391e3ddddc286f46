package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_JSONWithService(t *testing.T) {
	var buf bytes.Buffer
	lg := initTo(&buf, "ingestor", "production", "debug")
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	lg.Info().Str("record_id", "r1").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ingestor", line["service"])
	assert.Equal(t, "r1", line["record_id"])
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInit_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	lg := initTo(&buf, "api", "production", "loud")
	lg.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
