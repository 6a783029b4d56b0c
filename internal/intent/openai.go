package intent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// SystemPrompt frames the model as an intent detector.
const SystemPrompt = "You are an intent detection assistant. Your task is to determine which predefined intent best matches a user message."

// completer is the slice of the OpenAI chat completions API we use.
type completer interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string // optional, for OpenAI-compatible servers
	Temperature float64
	MaxTokens   int64
}

// OpenAIProvider asks a chat completion model to pick the best label.
type OpenAIProvider struct {
	chat        completer
	model       openai.ChatModel
	temperature float64
	maxTokens   int64
}

// NewOpenAIProvider creates a provider backed by the OpenAI API.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return newOpenAIProvider(&client.Chat.Completions, cfg)
}

func newOpenAIProvider(chat completer, cfg OpenAIConfig) *OpenAIProvider {
	model := openai.ChatModel(cfg.Model)
	if model == "" {
		model = openai.ChatModelGPT3_5Turbo
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 50
	}
	return &OpenAIProvider{chat: chat, model: model, temperature: cfg.Temperature, maxTokens: maxTokens}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Detect(ctx context.Context, text string, options []Option) (string, error) {
	if len(options) == 0 {
		return "", errors.New("openai: intent options are required")
	}

	resp, err := p.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(BuildPrompt(text, options)),
		},
		Temperature: openai.Float(p.temperature),
		MaxTokens:   openai.Int(p.maxTokens),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai: status %d: %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return normalizeAnswer(resp.Choices[0].Message.Content), nil
}

// BuildPrompt renders the user prompt listing every option with its keywords.
func BuildPrompt(text string, options []Option) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the following user message: %q\n\n", text)
	b.WriteString("Please determine which of the following intents best matches the user's message:\n")
	for i, o := range options {
		fmt.Fprintf(&b, "%d. %s (keywords: %s)\n", i+1, o.Label, strings.Join(o.Keywords, ", "))
	}
	b.WriteString("\nRespond with ONLY the exact name of the matching intent from the list above.\n")
	fmt.Fprintf(&b, "If none of the intents match, respond with %q.", UnknownLabel)
	return b.String()
}

// normalizeAnswer strips whitespace, quotes and a trailing period that chat
// models like to add around a bare label.
func normalizeAnswer(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}
