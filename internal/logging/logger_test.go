package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelFiltering(t *testing.T) {
	cases := []struct {
		level    string
		visible  []string
		filtered []string
	}{
		{"trace", []string{"trace message", "debug message", "info message"}, nil},
		{"debug", []string{"debug message", "info message"}, []string{"trace message"}},
		{"info", []string{"info message"}, []string{"trace message", "debug message"}},
		{"error", nil, []string{"trace message", "debug message", "info message"}},
	}
	for _, tc := range cases {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tc.level, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")

			out := buf.String()
			for _, s := range tc.visible {
				assert.Contains(t, out, s)
			}
			for _, s := range tc.filtered {
				assert.NotContains(t, out, s)
			}
		})
	}
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Output: &buf}, "session")
	logger.Info().Msg("hello")

	assert.True(t, strings.Contains(buf.String(), `"component":"session"`), buf.String())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.Disabled, ParseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus"))
}

func TestOpenFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "app.log")
	f, err := OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("line\n")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Pretty)
	assert.Equal(t, os.Stderr, cfg.Output)
}
