package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: FormatJSON, Writer: &buf})
	log.Debug().Str("host", "10.0.0.1").Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "10.0.0.1", line["host"])
	assert.Equal(t, "hello", line["message"])
	assert.Contains(t, line, "time")
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: FormatJSON, Writer: &buf})
	log.Info().Msg("dropped")
	log.Warn().Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_AutoUsesJSONForPipes(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: FormatAuto, Writer: &buf})
	log.Info().Msg("x")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: FormatConsole, Writer: &buf})
	log.Info().Str("k", "v").Msg("readable")
	out := buf.String()
	assert.False(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, "readable")
	assert.Contains(t, out, "k=")
}

func TestNew_ConcurrentLoggersShareErrorField(t *testing.T) {
	bufs := make([]bytes.Buffer, 8)
	var wg sync.WaitGroup
	for i := range bufs {
		wg.Add(1)
		go func(buf *bytes.Buffer) {
			defer wg.Done()
			log := New(Config{Format: FormatJSON, Writer: buf})
			log.Error().Err(errors.New("boom")).Msg("failed")
		}(&bufs[i])
	}
	wg.Wait()

	for i := range bufs {
		var line map[string]any
		require.NoError(t, json.Unmarshal(bufs[i].Bytes(), &line))
		assert.Equal(t, "boom", line["err"])
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" Debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning", zerolog.InfoLevel))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud", zerolog.InfoLevel))
}

func TestValidFormat(t *testing.T) {
	for _, f := range []string{"", "auto", "JSON", "console"} {
		assert.True(t, ValidFormat(f), f)
	}
	assert.False(t, ValidFormat("xml"))
}
