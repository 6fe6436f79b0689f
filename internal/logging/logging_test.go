package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildJSONWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := build(Config{Level: "debug", Service: "vecore"}, &buf)
	logger.Debug().Uint64("position_id", 7).Msg("hello")

	var event map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &event))
	assert.Equal(t, "vecore", event["service"])
	assert.Equal(t, "debug", event["level"])
	assert.Equal(t, float64(7), event["position_id"])
	assert.Contains(t, event, "time")
}

func TestBuildLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := build(Config{Level: "warn"}, &buf)
	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestBuildUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := build(Config{Level: "chatty"}, &buf)
	logger.Debug().Msg("dropped")
	logger.Info().Msg("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")
}

func TestOpenOutput(t *testing.T) {
	w, err := openOutput("")
	require.NoError(t, err)
	assert.Equal(t, os.Stderr, w)

	w, err = openOutput("STDOUT")
	require.NoError(t, err)
	assert.Equal(t, os.Stdout, w)

	path := filepath.Join(t.TempDir(), "vecore.log")
	w, err = openOutput(path)
	require.NoError(t, err)
	f := w.(*os.File)
	t.Cleanup(func() { f.Close() })
	_, err = f.WriteString("line\n")
	require.NoError(t, err)

	_, err = openOutput(filepath.Join(t.TempDir(), "missing", "dir", "vecore.log"))
	assert.Error(t, err)
}
