package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const (
	DefaultGlamourStyle = "dark"
	DefaultServerURL    = "http://127.0.0.1:8000"
	DefaultListen       = "127.0.0.1:8000"
	DefaultModel        = "gpt-4o-mini"
	DefaultIdleTimeout  = 60 * time.Second
)

type AppConfig struct {
	ServerURL    string
	DataHome     string
	LogFile      string
	LogLevel     string
	ExportDir    string
	IdleTimeout  time.Duration
	GlamourStyle string

	// Server side.
	Listen        string
	DBPath        string
	TavilyKey     string
	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	SearchRPS     float64
	CacheSize     int
}

// envBinding ties a flag to the environment variable consulted when the flag
// was not given on the command line.
type envBinding struct {
	flag string
	env  string
}

var envBindings = []envBinding{
	{"server", "SEARCH_ASSIST_SERVER"},
	{"data-home", "SEARCH_ASSIST_HOME"},
	{"log-level", "SEARCH_ASSIST_LOG_LEVEL"},
	{"tavily-key", "TAVILY_API_KEY"},
	{"openai-key", "OPENAI_API_KEY"},
	{"openai-base-url", "OPENAI_BASE_URL"},
	{"model", "SEARCH_ASSIST_MODEL"},
}

// BindFlags registers every option on fs.
func (c *AppConfig) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.ServerURL, "server", DefaultServerURL, "base URL of the chat stream server")
	fs.StringVar(&c.DataHome, "data-home", "", "directory for logs, exports and the thread database")
	fs.StringVar(&c.LogFile, "log-file", "", "log file path (defaults to <data-home>/search-assist.log)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.StringVar(&c.ExportDir, "export-dir", "", "override export output directory")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", DefaultIdleTimeout, "fail a response stream after this long without a frame")
	fs.StringVar(&c.GlamourStyle, "style", DefaultGlamourStyle, "glamour style for rendered answers")

	fs.StringVar(&c.Listen, "listen", DefaultListen, "address the server listens on")
	fs.StringVar(&c.DBPath, "db-path", "", "path to the SQLite thread database")
	fs.StringVar(&c.TavilyKey, "tavily-key", "", "Tavily API key; mock results are served when empty")
	fs.StringVar(&c.OpenAIKey, "openai-key", "", "OpenAI API key; extractive answers are used when empty")
	fs.StringVar(&c.OpenAIBaseURL, "openai-base-url", "", "override the OpenAI-compatible API base URL")
	fs.StringVar(&c.Model, "model", DefaultModel, "chat completion model")
	fs.Float64Var(&c.SearchRPS, "search-rps", 1, "upstream search requests per second")
	fs.IntVar(&c.CacheSize, "search-cache", 256, "number of search results kept in memory")
}

// Resolve applies environment fallbacks for flags that were not set, fills
// derived paths and creates the data home.
func (c *AppConfig) Resolve(fs *pflag.FlagSet) error {
	for _, b := range envBindings {
		if fs.Changed(b.flag) {
			continue
		}
		v, ok := os.LookupEnv(b.env)
		if !ok || v == "" {
			continue
		}
		if err := fs.Set(b.flag, v); err != nil {
			return fmt.Errorf("apply %s: %w", b.env, err)
		}
	}
	if !fs.Changed("idle-timeout") {
		if raw := os.Getenv("SEARCH_ASSIST_IDLE_TIMEOUT"); raw != "" {
			d, err := parseDuration(raw)
			if err != nil {
				return fmt.Errorf("apply SEARCH_ASSIST_IDLE_TIMEOUT: %w", err)
			}
			c.IdleTimeout = d
		}
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", c.IdleTimeout)
	}

	var err error
	c.DataHome, err = DetectDataHome(c.DataHome)
	if err != nil {
		return err
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataHome, "search-assist.log")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataHome, "threads.sqlite")
	}
	if err := os.MkdirAll(c.DataHome, 0o755); err != nil {
		return fmt.Errorf("create data home: %w", err)
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(raw string) (time.Duration, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

func DetectDataHome(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Clean(explicit), nil
	}
	if fromEnv := os.Getenv("SEARCH_ASSIST_HOME"); fromEnv != "" {
		return filepath.Clean(fromEnv), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "search-assist"), nil
}

// LoadDotEnv loads the given env files (".env" when none are named) without
// overriding variables already present. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
