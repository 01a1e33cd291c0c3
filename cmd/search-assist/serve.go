package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"search-assist/internal/logging"
	"search-assist/internal/memory"
	"search-assist/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat stream server",
		Long: `Run the HTTP server that the chat client streams answers from.

Search uses Tavily when --tavily-key (or TAVILY_API_KEY) is set and falls back
to mock results otherwise. Answers come from an OpenAI-compatible model when
--openai-key is set and are assembled from the search results otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logCfg := logging.DefaultConfig()
			logCfg.Level = a.cfg.LogLevel
			logCfg.Output = cmd.ErrOrStderr()
			logger := logging.NewWithComponent(logCfg, "server")

			threads, err := memory.New(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer threads.Close()

			metrics := server.NewMetrics()
			searcher, err := server.NewSearchProvider(server.SearchOptions{
				APIKey:    a.cfg.TavilyKey,
				RPS:       a.cfg.SearchRPS,
				CacheSize: a.cfg.CacheSize,
				Logger:    logger,
				Metrics:   metrics,
			})
			if err != nil {
				return err
			}

			var generator server.Generator = server.ExtractiveGenerator{}
			if a.cfg.OpenAIKey != "" {
				g, err := server.NewOpenAIGenerator(a.cfg.OpenAIKey, a.cfg.Model, a.cfg.OpenAIBaseURL)
				if err != nil {
					return fmt.Errorf("configure answer model: %w", err)
				}
				generator = g
			}

			logger.Info().
				Str("listen", a.cfg.Listen).
				Str("db", a.cfg.DBPath).
				Bool("tavily", a.cfg.TavilyKey != "").
				Bool("llm", a.cfg.OpenAIKey != "").
				Msg("starting")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			srv := server.New(threads, searcher, generator, metrics, logger)
			return srv.Run(ctx, a.cfg.Listen)
		},
	}
}
