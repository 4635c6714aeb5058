package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetSilentMode(true)
	SetLevel(LOG_INFO)

	log := GetLogger("hermes.broker")
	log.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hermes.broker", line["component"])
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "info", line["level"])
}

func TestSetLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level    string
		expected zerolog.Level
	}{
		{LOG_DEBUG, zerolog.DebugLevel},
		{LOG_INFO, zerolog.InfoLevel},
		{LOG_WARN, zerolog.WarnLevel},
		{LOG_ERROR, zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			SetLevel(tt.level)
			assert.Equal(t, tt.expected, zerolog.GlobalLevel())
		})
	}
}

func TestHelpersRespectLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetSilentMode(true)

	SetLevel(LOG_WARN)
	Debug("hidden")
	Info("hidden")
	assert.Empty(t, buf.String())

	Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
