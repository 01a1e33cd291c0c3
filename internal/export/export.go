package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"search-assist/internal/conversation"
)

type Exporter struct {
	overrideDir string
	cwd         string
	now         func() time.Time
}

func New(overrideDir string) (*Exporter, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	return &Exporter{overrideDir: strings.TrimSpace(overrideDir), cwd: cwd, now: time.Now}, nil
}

// Export writes the conversation as markdown and returns the file path.
func (e *Exporter) Export(messages []conversation.Message, checkpointID string) (string, error) {
	now := e.now().UTC()
	path := e.outputPath(checkpointID, now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	body := BuildTranscriptMarkdown(messages)
	md := BuildConversationMarkdown(checkpointID, len(messages), body, now)
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

func BuildTranscriptMarkdown(messages []conversation.Message) string {
	var b strings.Builder
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if m.IsUser {
			if content == "" {
				continue
			}
			b.WriteString("## You\n\n")
			b.WriteString(content + "\n\n")
			continue
		}

		if content == "" && m.Search == nil {
			continue
		}
		b.WriteString("## Assistant\n\n")
		if m.Search != nil {
			writeSearch(&b, m.Search)
		}
		switch {
		case content != "":
			b.WriteString(content + "\n\n")
		case m.IsLoading:
			b.WriteString("_(still answering)_\n\n")
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

func writeSearch(b *strings.Builder, info *conversation.SearchInfo) {
	if info.Query != "" {
		b.WriteString("> Searched for: " + info.Query + "\n\n")
	}
	if len(info.URLs) > 0 {
		b.WriteString("Sources:\n\n")
		for i, u := range info.URLs {
			fmt.Fprintf(b, "%d. <%s>\n", i+1, u)
		}
		b.WriteString("\n")
	}
	if info.Error != "" {
		b.WriteString("Search error: " + info.Error + "\n\n")
	}
}

func BuildConversationMarkdown(checkpointID string, messageCount int, transcript string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# Search Assist conversation\n\n")
	b.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	b.WriteString("```text\n")
	b.WriteString("checkpoint: " + safeValue(checkpointID) + "\n")
	b.WriteString(fmt.Sprintf("message_count: %d\n", messageCount))
	b.WriteString("```\n\n")
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func (e *Exporter) outputPath(checkpointID string, now time.Time) string {
	name := now.Format("20060102-150405")
	if id := strings.TrimSpace(checkpointID); id != "" {
		name += "-" + shortID(id)
	}
	name = safeFileName(name) + ".md"

	if e.overrideDir != "" {
		dir := e.overrideDir
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(e.cwd, dir)
		}
		return filepath.Join(dir, name)
	}

	root := e.cwd
	if repoRoot := findRepoRoot(e.cwd); repoRoot != "" {
		root = repoRoot
	}
	return filepath.Join(root, "docs", "search-assist", name)
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func findRepoRoot(start string) string {
	if start == "" {
		return ""
	}
	path := filepath.Clean(start)
	for {
		if st, err := os.Stat(filepath.Join(path, ".git")); err == nil && st != nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return ""
		}
		path = parent
	}
}

func safeFileName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "conversation"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(s)
}

func safeValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "n/a"
	}
	return s
}
