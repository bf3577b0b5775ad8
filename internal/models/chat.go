// Package models adapts the chat completion provider. The core never calls
// the model itself; it only hands this client an assembled prompt and a
// trimmed message window.
package models

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lumehq/lifeos/internal/types"
)

// ChatClient wraps an OpenAI-compatible chat endpoint.
type ChatClient struct {
	client *openai.Client
	model  string
}

// NewChatClient creates a chat client. baseURL may be empty for the default
// endpoint.
func NewChatClient(apiKey, baseURL, model string) (*ChatClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("chat api key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("chat model name cannot be empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &ChatClient{client: &client, model: model}, nil
}

// Complete sends the system prompt plus the recent window and returns the
// generated reply text.
func (c *ChatClient) Complete(ctx context.Context, system string, window []types.ChatMessage, userMessage string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(window)+2)
	messages = append(messages, openai.SystemMessage(system))
	for _, msg := range window {
		switch msg.Role {
		case "assistant", "model":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(userMessage))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		slog.Error("failed to call chat API", "error", err.Error())
		return "", fmt.Errorf("failed to call chat API: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat response")
	}
	return resp.Choices[0].Message.Content, nil
}
