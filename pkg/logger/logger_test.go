package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { SetLevel("info") })

	SetLevel("debug")
	assert.Equal(t, zerolog.DebugLevel, Log.GetLevel())

	SetLevel(" WARN ")
	assert.Equal(t, zerolog.WarnLevel, Log.GetLevel())

	SetLevel("nonsense")
	assert.Equal(t, zerolog.InfoLevel, Log.GetLevel())

	SetLevel("")
	assert.Equal(t, zerolog.InfoLevel, Log.GetLevel())
}

func TestSetFormatJSON(t *testing.T) {
	var buf bytes.Buffer
	prev := out
	out = &buf
	t.Cleanup(func() {
		out = prev
		SetFormat("console")
	})

	SetFormat("json")
	l := Component("dispatch")
	l.Info().Str("key", "k").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "dispatch", line["component"])
	assert.Equal(t, "k", line["key"])
	assert.Equal(t, "hello", line["message"])
}
