package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: "debug", Format: FormatJSON})

	Component(log, "pipeline").Debug().Str("request_id", "r1").Msg("request sent")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "pipeline", line["component"])
	assert.Equal(t, "r1", line["request_id"])
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, Options{Level: "chatty"})

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestLeveledAdapter(t *testing.T) {
	var buf bytes.Buffer
	l := Leveled(New(&buf, Options{Level: "debug"}))

	l.Debug("retrying request", "remaining", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "retrying request", line["message"])
	assert.EqualValues(t, 2, line["remaining"])
}
