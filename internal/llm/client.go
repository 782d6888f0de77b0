// Package llm wraps the OpenAI-compatible completions API behind the two
// call shapes the bridge needs: tool-capable chat completion for reply
// generation and one-shot generation for conversation analysis.
package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Aliases so callers build requests without importing the SDK directly.
type (
	Message      = openai.ChatCompletionMessage
	Tool         = openai.Tool
	Function     = openai.FunctionDefinition
	ToolCall     = openai.ToolCall
	FunctionCall = openai.FunctionCall
	Request      = openai.ChatCompletionRequest
)

// Response is the part of a chat completion the bridge consumes.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Client talks to an OpenAI-compatible endpoint.
type Client struct {
	api *openai.Client
}

// New creates a client. baseURL overrides the default endpoint, so local
// and proxy deployments work with the same code path.
func New(baseURL, apiKey string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// Chat performs one chat completion round.
func (c *Client) Chat(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion api returned no choices")
	}
	msg := resp.Choices[0].Message
	return &Response{Content: msg.Content, ToolCalls: msg.ToolCalls}, nil
}

// Generate wraps a single prompt into one user turn, for callers that only
// need plain text back.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.Chat(ctx, Request{
		Model:    model,
		Messages: []Message{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
