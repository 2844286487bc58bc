package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLoggerWithWriter("dispatch", &buf, "info")
	l.Debugf("hidden")
	l.Warnf("boot attempt %d failed", 2)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "dispatch", entry["component"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "boot attempt 2 failed", entry["message"])
}

func TestZerologLoggerInvalidLevelDefaultsToDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLoggerWithWriter("ocpp", &buf, "loud")
	l.Debugw("inspect raw message", map[string]any{"raw": "[2]"})
	assert.Contains(t, buf.String(), `"raw":"[2]"`)
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	l.Infof("nothing")
}
