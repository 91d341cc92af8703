package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestInit_SimpleFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := Init(slog.LevelInfo, &buf, FormatSimple)

	l.Debug("hidden")
	l.With("component", "search").Warn("Primary failed", "strategy", "tavily", "error", "status 500")

	assert.Equal(t, `WARN Primary failed component=search strategy=tavily error="status 500"`+"\n", buf.String())
	assert.Same(t, l, slog.Default())
}

func TestInit_VerboseFormatHasTimestamp(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(slog.LevelDebug, &buf, FormatVerbose).WithGroup("req").Info("done", "status", 200)

	line := buf.String()
	_, err := time.Parse("2006/01/02 15:04:05", line[:19])
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(line, "INFO done req.status=200\n"), line)
}

func TestInit_JSONFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Init(slog.LevelInfo, &buf, FormatJSON).Info("hello", "n", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.EqualValues(t, 1, rec["n"])
}

func TestFilteringHandler_DropsThirdPartyBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	inner := &textHandler{out: &buf, mu: &sync.Mutex{}, level: slog.LevelInfo}
	h := &filteringHandler{handler: inner, minLevel: slog.LevelInfo}

	// strings.ToUpper stands in for a third-party caller.
	foreign := slog.NewRecord(time.Now(), slog.LevelWarn, "from a library", thirdPartyPC())
	require.NoError(t, h.Handle(context.Background(), foreign))
	assert.Empty(t, buf.String())

	own := slog.NewRecord(time.Now(), slog.LevelWarn, "from infoxp", 0)
	require.NoError(t, h.Handle(context.Background(), own))
	assert.Contains(t, buf.String(), "from infoxp")

	debug := &filteringHandler{handler: inner, minLevel: slog.LevelDebug}
	require.NoError(t, debug.Handle(context.Background(), foreign))
	assert.Contains(t, buf.String(), "from a library")
}

func thirdPartyPC() uintptr {
	return reflect.ValueOf(strings.ToUpper).Pointer()
}
