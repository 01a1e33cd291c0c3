package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"search-assist/internal/conversation"
	"search-assist/internal/logging"
	"search-assist/internal/session"
)

func newAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and stream the answer to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logCfg := logging.DefaultConfig()
			logCfg.Level = a.cfg.LogLevel
			logCfg.Output = cmd.ErrOrStderr()
			logger := logging.New(logCfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctrl := a.newController(conversation.NewStore(), logger)
			token, err := ask(ctx, ctrl, strings.Join(args, " "), cmd.OutOrStdout())
			if token != "" {
				logger.Info().Str("checkpoint", token).Msg("resume with --thread")
			}
			return err
		},
	}
}

// ask submits question and copies the answer to out as it streams. It
// returns the checkpoint the server assigned, if any.
func ask(ctx context.Context, ctrl *session.Controller, question string, out io.Writer) (string, error) {
	s, err := ctrl.Submit(question)
	if err != nil {
		return "", err
	}

	store := ctrl.Store()
	p := &answerPrinter{out: out}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for {
		select {
		case <-store.Changes():
			if msg, ok := store.Get(s.MessageID()); ok {
				p.print(msg)
			}
		case err := <-done:
			msg, _ := store.Get(s.MessageID())
			p.print(msg)
			p.finish(msg)
			token, _ := ctrl.Checkpoint().Get()
			return token, err
		}
	}
}

// answerPrinter writes only what is new in the assistant message since the
// previous call.
type answerPrinter struct {
	out      io.Writer
	query    bool
	failed   bool
	printed  string
	complete bool
}

func (p *answerPrinter) print(msg conversation.Message) {
	if info := msg.Search; info != nil {
		if !p.query && info.Query != "" {
			fmt.Fprintf(p.out, "Searching for: %s\n\n", info.Query)
			p.query = true
		}
		if !p.failed && info.Error != "" {
			fmt.Fprintf(p.out, "Search error: %s\n\n", info.Error)
			p.failed = true
		}
	}

	if strings.HasPrefix(msg.Content, p.printed) {
		fmt.Fprint(p.out, msg.Content[len(p.printed):])
	} else {
		fmt.Fprint(p.out, "\n"+msg.Content)
	}
	p.printed = msg.Content
}

func (p *answerPrinter) finish(msg conversation.Message) {
	if p.complete {
		return
	}
	p.complete = true
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.out)
	}
	if msg.Search == nil || len(msg.Search.URLs) == 0 {
		return
	}
	fmt.Fprintln(p.out, "\nSources:")
	for i, u := range msg.Search.URLs {
		fmt.Fprintf(p.out, "%d. %s\n", i+1, u)
	}
}
