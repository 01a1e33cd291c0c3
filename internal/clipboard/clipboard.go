package clipboard

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"search-assist/internal/conversation"
)

var ErrToolNotFound = errors.New("clipboard tool not found")

type Command struct {
	Path string
	Args []string
}

func SelectCommand(goos string, lookPath func(string) (string, error)) (Command, error) {
	switch goos {
	case "darwin":
		path, err := lookPath("pbcopy")
		if err != nil {
			return Command{}, ErrToolNotFound
		}
		return Command{Path: path}, nil
	case "linux", "freebsd", "openbsd":
		if path, err := lookPath("wl-copy"); err == nil {
			return Command{Path: path}, nil
		}
		if path, err := lookPath("xclip"); err == nil {
			return Command{Path: path, Args: []string{"-selection", "clipboard"}}, nil
		}
		if path, err := lookPath("xsel"); err == nil {
			return Command{Path: path, Args: []string{"--clipboard", "--input"}}, nil
		}
		return Command{}, ErrToolNotFound
	case "windows":
		path, err := lookPath("clip")
		if err != nil {
			return Command{}, ErrToolNotFound
		}
		return Command{Path: path}, nil
	default:
		return Command{}, ErrToolNotFound
	}
}

func Copy(ctx context.Context, text string) error {
	cmdDef, err := SelectCommand(runtime.GOOS, exec.LookPath)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, cmdDef.Path, cmdDef.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("clipboard stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start clipboard command: %w", err)
	}

	if _, err := stdin.Write([]byte(text)); err != nil {
		_ = stdin.Close()
		_ = cmd.Wait()
		return fmt.Errorf("write clipboard data: %w", err)
	}
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("clipboard command failed: %w", err)
	}
	return nil
}

// AnswerSnippet formats an assistant answer for pasting: the question it
// answered, the answer text and every source URL.
func AnswerSnippet(question string, answer conversation.Message) string {
	var b strings.Builder
	if q := strings.TrimSpace(question); q != "" {
		b.WriteString("> " + strings.Join(strings.Fields(q), " ") + "\n\n")
	}
	b.WriteString(strings.TrimSpace(answer.Content) + "\n")
	if answer.Search != nil && len(answer.Search.URLs) > 0 {
		b.WriteString("\nSources:\n")
		for i, u := range answer.Search.URLs {
			fmt.Fprintf(&b, "%d. %s\n", i+1, u)
		}
	}
	return b.String()
}

// LastAnswer finds the most recent finished assistant answer and the user
// message that preceded it.
func LastAnswer(messages []conversation.Message) (question string, answer conversation.Message, ok bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.IsUser || m.IsLoading || strings.TrimSpace(m.Content) == "" {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if messages[j].IsUser {
				return messages[j].Content, m, true
			}
		}
		return "", m, true
	}
	return "", conversation.Message{}, false
}
