// Package llm answers prompts with a hosted language model so workflow
// steps can enrich alerts with a summary or a structured triage result.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/provider"
)

const Type = "llm"

const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
)

func init() {
	provider.MustRegister(provider.Registration{
		Type:        Type,
		DisplayName: "LLM",
		Tags:        []provider.Tag{provider.TagData},
	}, New)
}

// Options tune a single completion.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Completer sends a prompt to a model and returns the text answer.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

type Authentication struct {
	Backend     string  `mapstructure:"backend"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float32 `mapstructure:"temperature"`
}

type Provider struct {
	auth      Authentication
	completer Completer
	logger    *zap.Logger
}

func New(cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	auth := Authentication{
		Backend:     BackendAnthropic,
		MaxTokens:   4096,
		Temperature: 0.2,
	}
	if err := provider.DecodeAuthentication(cfg, &auth); err != nil {
		return nil, err
	}
	auth.Backend = strings.ToLower(auth.Backend)

	// Override with environment variable if set
	if auth.APIKey == "" {
		switch auth.Backend {
		case BackendAnthropic:
			auth.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case BackendOpenAI:
			auth.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if auth.Model == "" {
		auth.Model = defaultModel(auth.Backend)
	}

	p := &Provider{auth: auth, logger: logger}
	// A missing key is reported by ValidateConfig.
	if auth.APIKey != "" {
		completer, err := newCompleter(auth)
		if err != nil {
			return nil, err
		}
		p.completer = completer
	}
	return p, nil
}

// NewWithCompleter builds the provider around an existing completer.
func NewWithCompleter(completer Completer, auth Authentication, logger *zap.Logger) *Provider {
	if auth.MaxTokens <= 0 {
		auth.MaxTokens = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{auth: auth, completer: completer, logger: logger}
}

func newCompleter(auth Authentication) (Completer, error) {
	switch auth.Backend {
	case BackendAnthropic:
		return NewAnthropicClient(auth.APIKey)
	case BackendOpenAI:
		return NewOpenAIClient(auth.APIKey)
	default:
		return nil, fmt.Errorf("unknown LLM backend: %s", auth.Backend)
	}
}

func defaultModel(backend string) string {
	if backend == BackendOpenAI {
		return "gpt-4o-mini"
	}
	return "claude-sonnet-4-5"
}

func (p *Provider) ValidateConfig() error {
	if p.completer == nil {
		return fmt.Errorf("%s API key not configured", p.auth.Backend)
	}
	if p.auth.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	return nil
}

func (p *Provider) Dispose() error {
	return nil
}

// Query sends params["prompt"]. With params["structured_output"] set the
// answer is parsed as a JSON object so enrichments can address its keys.
func (p *Provider) Query(ctx context.Context, params map[string]any) (any, error) {
	prompt, _ := params["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("prompt is required")
	}

	opts := Options{Model: p.auth.Model, MaxTokens: p.auth.MaxTokens, Temperature: p.auth.Temperature}
	if model, ok := params["model"].(string); ok && model != "" {
		opts.Model = model
	}
	if n, ok := asInt(params["max_tokens"]); ok && n > 0 {
		opts.MaxTokens = n
	}

	text, err := p.completer.Complete(ctx, prompt, opts)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("llm completion", zap.String("model", opts.Model), zap.Int("chars", len(text)))

	var response any = text
	if structured, _ := params["structured_output"].(bool); structured {
		parsed, err := parseObject(text)
		if err != nil {
			return nil, err
		}
		response = parsed
	}
	return map[string]any{"response": response, "model": opts.Model}, nil
}

// parseObject extracts the JSON object from a model answer, tolerating a
// surrounding markdown code fence.
func parseObject(text string) (map[string]any, error) {
	s := strings.TrimSpace(text)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("model answer is not a JSON object: %w", err)
	}
	return out, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
