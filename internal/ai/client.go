// Package ai runs the assistant agent: an actor that turns summarize and
// polish requests into Claude API calls and emits the results as events.
package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/quillmail/quill/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

// Completer produces one completion for a system+user prompt pair.
// Client is the real implementation; tests substitute a fake.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client wraps the Anthropic SDK for single-turn completions.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int
}

// NewClient creates a Claude API client from the AI configuration.
func NewClient(apiKey string, cfg model.AIConfig) *Client {
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		sdk:       anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     modelName,
		maxTokens: maxTokens,
	}
}

// Complete sends one user message and returns the concatenated text of
// the response.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		MaxTokens: int64(c.maxTokens),
		Model:     anthropic.Model(c.model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			if out.Len() > 0 {
				out.WriteString("\n")
			}
			out.WriteString(text.Text)
		}
	}
	return out.String(), nil
}
