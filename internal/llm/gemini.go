package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pavelanni/corrector/internal/llm/prompts"
	"github.com/pavelanni/corrector/internal/model"
)

// GeminiClient scores answers with Google Gemini models.
type GeminiClient struct {
	client  *genai.Client
	variant prompts.PromptVariant
}

// NewGemini connects to the Gemini API. Close releases the connection.
func NewGemini(ctx context.Context, apiKey string, variant prompts.PromptVariant) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini API key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{client: cl, variant: variant}, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

// ScoreOpenQuestion asks req.Model to grade the student's answer.
func (g *GeminiClient) ScoreOpenQuestion(ctx context.Context, req model.ScoreRequest) (model.ScoreResult, error) {
	systemPrompt, err := prompts.BuildScorePrompt(g.variant, req)
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("build prompt: %w", err)
	}

	m := g.client.GenerativeModel(strings.TrimSpace(req.Model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0.1),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompts.WrapAnswer(req.StudentResponse)))
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("gemini API call: %w", err)
	}
	txt := firstText(resp)
	if txt == "" {
		return model.ScoreResult{}, errors.New("gemini returned an empty response")
	}
	slog.Debug("LLM response", "model", req.Model, "raw", txt)
	return parseScore(txt)
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
