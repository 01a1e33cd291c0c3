package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"search-assist/internal/conversation"
	"search-assist/internal/export"
	"search-assist/internal/logging"
	"search-assist/internal/session"
	"search-assist/internal/stream"
	"search-assist/internal/ui"
)

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd)
		},
	}
}

func (a *app) runChat(cmd *cobra.Command) error {
	// The terminal belongs to the TUI, so logs go to a file.
	f, err := logging.OpenFile(a.cfg.LogFile)
	if err != nil {
		return err
	}
	defer f.Close()
	logger := logging.New(logging.Config{Level: a.cfg.LogLevel, Output: f})

	exporter, err := export.New(a.cfg.ExportDir)
	if err != nil {
		return err
	}

	ctrl := a.newController(conversation.NewSeededStore(), logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("server", a.cfg.ServerURL).Msg("chat started")
	model := ui.NewModel(ctx, ctrl, ui.Options{
		Exporter:     exporter,
		GlamourStyle: a.cfg.GlamourStyle,
		Logger:       logger,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	ctrl.Cancel()
	if err != nil && !(errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil) {
		return fmt.Errorf("chat session failed: %w", err)
	}
	return nil
}

// newController builds a controller against the configured server, resuming
// --thread when given.
func (a *app) newController(store *conversation.Store, logger zerolog.Logger) *session.Controller {
	checkpoint := &session.Checkpoint{}
	if id := strings.TrimSpace(a.thread); id != "" {
		checkpoint.Set(id)
	}
	transport := stream.NewHTTPTransport(&http.Client{}, logger)
	return session.NewController(store, checkpoint, transport, session.Options{
		ServerURL:   a.cfg.ServerURL,
		IdleTimeout: a.cfg.IdleTimeout,
		Logger:      logger,
	})
}
