package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type OpenAIClient struct {
	client *openai.Client
}

func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key not configured")
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &OpenAIClient{client: &client}, nil
}

func (o *OpenAIClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	completion, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(opts.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		MaxTokens:   openai.Int(int64(opts.MaxTokens)),
		Temperature: openai.Float(float64(opts.Temperature)),
	})

	if err != nil {
		return "", fmt.Errorf("openai API call failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}

	return completion.Choices[0].Message.Content, nil
}
