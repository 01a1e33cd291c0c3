package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	return fs
}

func TestResolveDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SEARCH_ASSIST_HOME", home)
	t.Setenv("SEARCH_ASSIST_SERVER", "")

	var cfg AppConfig
	fs := newFlagSet(&cfg)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, cfg.Resolve(fs))

	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, home, cfg.DataHome)
	assert.Equal(t, filepath.Join(home, "search-assist.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join(home, "threads.sqlite"), cfg.DBPath)
}

func TestResolveEnvFallbackAndFlagPrecedence(t *testing.T) {
	t.Setenv("SEARCH_ASSIST_HOME", t.TempDir())
	t.Setenv("SEARCH_ASSIST_SERVER", "http://env:1")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("SEARCH_ASSIST_IDLE_TIMEOUT", "5")

	var cfg AppConfig
	fs := newFlagSet(&cfg)
	require.NoError(t, fs.Parse([]string{"--server", "http://flag:2"}))
	require.NoError(t, cfg.Resolve(fs))

	assert.Equal(t, "http://flag:2", cfg.ServerURL)
	assert.Equal(t, "sk-env", cfg.OpenAIKey)
	assert.Equal(t, 5*time.Second, cfg.IdleTimeout)
}

func TestResolveRejectsNonPositiveIdleTimeout(t *testing.T) {
	t.Setenv("SEARCH_ASSIST_HOME", t.TempDir())

	var cfg AppConfig
	fs := newFlagSet(&cfg)
	require.NoError(t, fs.Parse([]string{"--idle-timeout", "0s"}))
	assert.Error(t, cfg.Resolve(fs))
}

func TestDetectDataHome(t *testing.T) {
	t.Setenv("SEARCH_ASSIST_HOME", "/from/env/")

	got, err := DetectDataHome("/explicit/")
	require.NoError(t, err)
	assert.Equal(t, "/explicit", got)

	got, err = DetectDataHome("")
	require.NoError(t, err)
	assert.Equal(t, "/from/env", got)

	t.Setenv("SEARCH_ASSIST_HOME", "")
	got, err = DetectDataHome("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(".local", "share", "search-assist"), lastThree(got))
}

func lastThree(p string) string {
	a := filepath.Base(p)
	p = filepath.Dir(p)
	b := filepath.Base(p)
	c := filepath.Base(filepath.Dir(p))
	return filepath.Join(c, b, a)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SEARCH_ASSIST_TEST_VAR=from-file\nSEARCH_ASSIST_TEST_KEEP=file\n"), 0o600))

	t.Setenv("SEARCH_ASSIST_TEST_KEEP", "process")
	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	t.Cleanup(func() { os.Unsetenv("SEARCH_ASSIST_TEST_VAR") })

	assert.Equal(t, "from-file", os.Getenv("SEARCH_ASSIST_TEST_VAR"))
	assert.Equal(t, "process", os.Getenv("SEARCH_ASSIST_TEST_KEEP"))
}
