package validator

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const DefaultOllamaModel = "llama3.2-vision"

// LangchainVision drives any langchaingo chat model that accepts image parts.
// It returns free text only.
type LangchainVision struct {
	llm   llms.Model
	label string
}

func NewLangchainVision(llm llms.Model, label string) *LangchainVision {
	return &LangchainVision{llm: llm, label: label}
}

// NewOllamaVision connects to a local Ollama server.
func NewOllamaVision(serverURL, model string) (*LangchainVision, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return NewLangchainVision(llm, "ollama/"+model), nil
}

// NewOpenAIVision connects to an OpenAI-compatible endpoint.
// Use "none" as token for local services that don't require authentication.
func NewOpenAIVision(baseURL, token, model string) (*LangchainVision, error) {
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token), openai.WithModel(model)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return NewLangchainVision(llm, "openai/"+model), nil
}

func (l *LangchainVision) Name() string {
	return l.label
}

func (l *LangchainVision) Ask(ctx context.Context, req Request) (Answer, error) {
	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.SystemPrompt)},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(req.MimeType, req.Image),
				llms.TextPart(req.Question),
			},
		},
	}

	log.Debug().Str("model", l.label).Int("image_bytes", len(req.Image)).Msg("Starting vision validation call")
	resp, err := l.llm.GenerateContent(ctx, content, llms.WithTemperature(0.0))
	if err != nil {
		return Answer{}, fmt.Errorf("%s: %w", l.label, err)
	}
	if resp == nil || len(resp.Choices) < 1 {
		return Answer{}, ErrEmptyResponse
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return Answer{}, ErrEmptyResponse
	}
	return Answer{Text: text}, nil
}
