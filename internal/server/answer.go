package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const (
	maxPromptResults = 5
	maxPromptHistory = 8

	noResultsText = "No search results available."

	systemPreamble = `You are a concise, helpful assistant with a witty tone when appropriate. ` +
		`Use the provided web results to answer the user's query. ` +
		`Cite with plain language ("According to ...") and avoid fabricating URLs. ` +
		`If uncertain, say so briefly.`
)

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AnswerRequest struct {
	Query   string         `json:"query"`
	Results []Result       `json:"results"`
	History []HistoryEntry `json:"history"`
}

// Generator writes an answer for req. When onChunk is non-nil the answer is
// also delivered incrementally through it.
type Generator interface {
	Generate(ctx context.Context, req AnswerRequest, onChunk func(string) error) (string, error)
}

// ComposePrompt renders the single prompt sent to the model. Only the first
// five results and the last eight history entries are used.
func ComposePrompt(req AnswerRequest) string {
	results := req.Results
	if len(results) > maxPromptResults {
		results = results[:maxPromptResults]
	}
	contextBlock := noResultsText
	if len(results) > 0 {
		blocks := make([]string, 0, len(results))
		for i, r := range results {
			blocks = append(blocks, fmt.Sprintf("(%d) %s\nURL: %s\nSnippet: %s", i+1, r.Title, r.URL, r.Snippet))
		}
		contextBlock = strings.Join(blocks, "\n\n")
	}

	history := req.History
	if len(history) > maxPromptHistory {
		history = history[len(history)-maxPromptHistory:]
	}
	convo := "N/A"
	if len(history) > 0 {
		lines := make([]string, 0, len(history))
		for _, h := range history {
			lines = append(lines, strings.ToUpper(h.Role)+": "+h.Content)
		}
		convo = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nConversation so far:\n")
	b.WriteString(convo)
	b.WriteString("\n\nUser query: ")
	b.WriteString(req.Query)
	b.WriteString("\n\nWeb results:\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\nWrite a helpful answer (3-8 sentences).")
	return b.String()
}

// OpenAIGenerator talks to any OpenAI-compatible chat completion API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model, baseURL string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIGenerator{client: &client, model: model}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req AnswerRequest, onChunk func(string) error) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(ComposePrompt(req))},
	}

	if onChunk == nil {
		completion, err := g.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("generate error: %w", err)
		}
		if len(completion.Choices) == 0 {
			return "", nil
		}
		return completion.Choices[0].Message.Content, nil
	}

	stream := g.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		text.WriteString(delta)
		if err := onChunk(delta); err != nil {
			return text.String(), err
		}
	}
	if err := stream.Err(); err != nil {
		return text.String(), fmt.Errorf("stream error: %w", err)
	}
	return text.String(), nil
}

// ExtractiveGenerator answers from the search snippets alone. It is used when
// no model is configured.
type ExtractiveGenerator struct{}

func (ExtractiveGenerator) Generate(ctx context.Context, req AnswerRequest, onChunk func(string) error) (string, error) {
	text := extractiveAnswer(req)
	if onChunk == nil {
		return text, nil
	}
	for _, chunk := range chunkWords(text) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := onChunk(chunk); err != nil {
			return "", err
		}
	}
	return text, nil
}

func extractiveAnswer(req AnswerRequest) string {
	results := req.Results
	if len(results) > 3 {
		results = results[:3]
	}
	if len(results) == 0 {
		return fmt.Sprintf("I couldn't find any web results for %q, so I can't answer that confidently.", req.Query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here is what I found about **%s**:\n\n", req.Query)
	for _, r := range results {
		snippet := strings.TrimSpace(r.Snippet)
		if snippet == "" {
			snippet = "no summary available."
		}
		fmt.Fprintf(&b, "- According to [%s](%s), %s\n", r.Title, r.URL, snippet)
	}
	return b.String()
}

// chunkWords splits text into word-sized pieces that concatenate back to it.
func chunkWords(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' || text[i] == '\n' {
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
