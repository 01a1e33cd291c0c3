package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"search-assist/internal/conversation"
)

const maxSources = 5

const (
	LabelSearching   = "Searching…"
	LabelReading     = "Reading sources…"
	LabelComplete    = "✓ Complete"
	LabelSearchError = "Search error"
	LabelThinking    = "Thinking…"
)

// Indicators lists the progress badges for info in stage order. Searching is
// shown only until a later stage supersedes it.
func Indicators(info *conversation.SearchInfo) []string {
	if info == nil {
		return nil
	}
	superseded := info.Has(conversation.StageReading) ||
		info.Has(conversation.StageWriting) ||
		info.Has(conversation.StageError)

	out := make([]string, 0, len(info.Stages))
	for _, st := range info.Stages {
		switch st {
		case conversation.StageSearching:
			if !superseded {
				out = append(out, LabelSearching)
			}
		case conversation.StageReading:
			out = append(out, LabelReading)
		case conversation.StageWriting:
			out = append(out, LabelComplete)
		case conversation.StageError:
			out = append(out, LabelSearchError)
		}
	}
	return out
}

// sourceLines numbers at most five urls and truncates each to width cells.
func sourceLines(urls []string, width int) []string {
	n := len(urls)
	if n > maxSources {
		n = maxSources
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line := fmt.Sprintf("%d. %s", i+1, urls[i])
		if width > 0 {
			line = ansi.Truncate(line, width, "…")
		}
		out = append(out, line)
	}
	return out
}

func renderSearch(info *conversation.SearchInfo, width int) string {
	var lines []string
	if info.Query != "" {
		lines = append(lines, mutedStyle.Render("Searching for:")+" "+info.Query)
	}

	badges := Indicators(info)
	if len(badges) > 0 {
		rendered := make([]string, 0, len(badges))
		for _, b := range badges {
			if b == LabelSearchError {
				rendered = append(rendered, errorBadgeStyle.Render(b))
				continue
			}
			rendered = append(rendered, badgeStyle.Render(b))
		}
		lines = append(lines, strings.Join(rendered, " "))
	}

	if len(info.URLs) > 0 {
		lines = append(lines, mutedStyle.Render("Sources:"))
		for _, l := range sourceLines(info.URLs, width-2) {
			lines = append(lines, "  "+linkStyle.Render(l))
		}
	}
	if info.Error != "" {
		lines = append(lines, errorTextStyle.Render(ansi.Truncate(info.Error, width, "…")))
	}
	return strings.Join(lines, "\n")
}

// renderConversation lays out every message top to bottom. markdown renders
// assistant content; frame is the current spinner frame.
func renderConversation(msgs []conversation.Message, width int, markdown func(string) string, frame string) string {
	if width < 20 {
		width = 20
	}
	if markdown == nil {
		markdown = func(s string) string { return s }
	}
	body := lipgloss.NewStyle().Width(width)

	blocks := make([]string, 0, len(msgs))
	for _, m := range msgs {
		var b strings.Builder
		if m.IsUser {
			b.WriteString(userLabelStyle.Render("You"))
			b.WriteString("\n")
			b.WriteString(body.Render(m.Content))
			blocks = append(blocks, b.String())
			continue
		}

		b.WriteString(assistantLabelStyle.Render("Assistant"))
		b.WriteString("\n")
		if m.Search != nil && len(m.Search.Stages) > 0 {
			b.WriteString(renderSearch(m.Search, width))
			b.WriteString("\n")
		}
		if m.IsLoading && m.Content == "" {
			b.WriteString(strings.TrimSpace(frame + " " + mutedStyle.Render(LabelThinking)))
		} else {
			b.WriteString(markdown(m.Content))
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
