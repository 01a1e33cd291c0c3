package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

type threadSummary struct {
	ID           string `json:"id"`
	Preview      string `json:"preview"`
	TurnCount    int    `json:"turn_count"`
	LastActivity string `json:"last_activity"`
}

func newThreadsCmd(a *app) *cobra.Command {
	var (
		query string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List conversations stored on the server",
		Long: `List conversations stored on the server, newest first.

Pass an id to --thread on chat or ask to continue one of them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			threads, err := fetchThreads(ctx, &http.Client{}, a.cfg.ServerURL, query, limit)
			if err != nil {
				return err
			}
			return printThreads(cmd.OutOrStdout(), threads)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "only threads whose turns mention these words")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of threads")
	return cmd
}

func fetchThreads(ctx context.Context, client *http.Client, baseURL, query string, limit int) ([]threadSummary, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/api/threads")
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	if query != "" {
		q.Set("q", query)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list threads: server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Threads []threadSummary `json:"threads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode threads: %w", err)
	}
	return out.Threads, nil
}

func printThreads(w io.Writer, threads []threadSummary) error {
	if len(threads) == 0 {
		_, err := fmt.Fprintln(w, "No threads yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTURNS\tLAST ACTIVITY\tPREVIEW")
	for _, t := range threads {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", t.ID, t.TurnCount, t.LastActivity, t.Preview)
	}
	return tw.Flush()
}
