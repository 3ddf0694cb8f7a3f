package validator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mahirjain10/brainscan-workers/internal/retry"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// verdictSchema constrains Gemini to a structured yes/no answer.
var verdictSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"is_brain_scan": {
			Type:        genai.TypeBoolean,
			Description: "true only if the image is a CT or MRI scan of the human brain",
		},
		"description": {
			Type:        genai.TypeString,
			Description: "one sentence describing what the image shows",
		},
	},
	Required: []string{"is_brain_scan", "description"},
}

type geminiVerdict struct {
	IsBrainScan *bool  `json:"is_brain_scan"`
	Description string `json:"description"`
}

// GeminiVision asks Gemini for a structured verdict.
type GeminiVision struct {
	client *genai.Client
	model  string
}

func NewGeminiVision(ctx context.Context, apiKey, model string) (*GeminiVision, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiVision{client: client, model: model}, nil
}

func (g *GeminiVision) Name() string {
	return "gemini/" + g.model
}

func (g *GeminiVision) Ask(ctx context.Context, req Request) (Answer, error) {
	temperature := float32(0)
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		},
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
		ResponseSchema:   verdictSchema,
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: req.MimeType, Data: req.Image}},
			{Text: req.Question},
		},
	}}

	log.Debug().Str("model", g.model).Int("image_bytes", len(req.Image)).Msg("Starting Gemini validation call")
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return Answer{}, classifyGeminiError(err)
	}
	if resp == nil {
		return Answer{}, ErrEmptyResponse
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Answer{}, ErrEmptyResponse
	}

	answer := Answer{Text: text}
	var verdict geminiVerdict
	if err := json.Unmarshal([]byte(text), &verdict); err == nil && verdict.IsBrainScan != nil {
		answer.Verdict = verdict.IsBrainScan
		answer.Description = verdict.Description
	} else {
		log.Debug().Str("model", g.model).Msg("Gemini reply was not structured, using text judgment")
	}
	return answer, nil
}

// classifyGeminiError maps Gemini API errors onto status errors so that the
// retry policy can tell transient from permanent failures.
func classifyGeminiError(err error) error {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: %w", &retry.StatusError{Code: apiErr.Code, Body: apiErr.Message})
	}
	var apiVal genai.APIError
	if errors.As(err, &apiVal) {
		return fmt.Errorf("gemini: %w", &retry.StatusError{Code: apiVal.Code, Body: apiVal.Message})
	}
	return fmt.Errorf("gemini: %w", err)
}
