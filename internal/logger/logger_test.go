package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "warn", Output: &buf})

	l.Info("hidden").Send()
	l.Warn("shown").Send()

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "revertstore", lines[0]["service"])
}

func TestComponentLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.StoreLogger("commit").Debug("stored").Send()
	l.GrpcLogger("/revertstore.v1.RevertService/Execute").Info("call").Send()
	rl := l.RevertLogger()
	rl.Info().Msg("revert")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 3)
	assert.Equal(t, "store", lines[0]["component"])
	assert.Equal(t, "commit", lines[0]["operation"])
	assert.Equal(t, "grpc", lines[1]["component"])
	assert.Equal(t, "revert", lines[2]["component"])
}

func TestLogHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Config{Level: "debug", Output: &buf})

	l.LogGrpcRequest("Execute", 5*time.Millisecond, nil)
	l.LogGrpcRequest("Execute", time.Millisecond, errors.New("boom"))
	l.LogStoreOperation("rollback", time.Millisecond, 2, nil)
	l.LogRevertOutcome("Page#42", "DENIED", "NO_ACCESS", 0)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "boom", lines[1]["error"])
	assert.Equal(t, "grpc", lines[0]["component"])
	assert.Equal(t, "Execute", lines[1]["method"])
	assert.Equal(t, float64(2), lines[2]["record_count"])
	assert.Equal(t, "store", lines[2]["component"])
	assert.Equal(t, "rollback", lines[2]["operation"])
	assert.Equal(t, "warn", lines[3]["level"])
	assert.Equal(t, "NO_ACCESS", lines[3]["code"])
}

func TestInitGlobalLogger(t *testing.T) {
	prev := log.Logger
	defer func() { log.Logger = prev }()

	var buf bytes.Buffer
	l := InitGlobalLogger(Config{Level: "warn", Output: &buf})
	require.NotNil(t, l)

	log.Info().Msg("dropped")
	log.Warn().Msg("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["message"])
	assert.Equal(t, "revertstore", lines[0]["service"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("debug").String())
	assert.Equal(t, "info", ParseLevel("bogus").String())
	assert.Equal(t, "error", ParseLevel("error").String())
}
