// Command search-assist is a terminal client for a conversational web search
// assistant, plus the reference server it talks to.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"search-assist/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app carries the resolved configuration shared by every subcommand.
type app struct {
	cfg    config.AppConfig
	thread string
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "search-assist",
		Short:         "Ask questions answered from live web search",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			return a.cfg.Resolve(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd)
		},
	}
	a.cfg.BindFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&a.thread, "thread", "", "resume a server thread by checkpoint id")

	root.AddCommand(newChatCmd(a))
	root.AddCommand(newAskCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newThreadsCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("search-assist %s\n", version)
		},
	}
}
