package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type AnthropicClient struct {
	client *anthropic.Client
}

func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicClient{client: client}, nil
}

func (a *AnthropicClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(opts.Model),
		MaxTokens: anthropic.Int(int64(opts.MaxTokens)),
		Messages: anthropic.F([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		}),
		Temperature: anthropic.Float(float64(opts.Temperature)),
	})

	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	if len(message.Content) == 0 {
		return "", fmt.Errorf("empty response from Anthropic")
	}

	// Extract text from the first content block
	if textBlock, ok := message.Content[0].AsUnion().(anthropic.TextBlock); ok {
		return textBlock.Text, nil
	}

	return "", fmt.Errorf("unexpected response format from Anthropic")
}
