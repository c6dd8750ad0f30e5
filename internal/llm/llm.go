// Package llm scores open-ended answers with AI models.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/corrector/internal/llm/prompts"
	"github.com/pavelanni/corrector/internal/model"
)

// Scorer grades one open-ended answer.
type Scorer interface {
	ScoreOpenQuestion(ctx context.Context, req model.ScoreRequest) (model.ScoreResult, error)
}

// OpenAIClient wraps an OpenAI-compatible API client.
type OpenAIClient struct {
	api     *openai.Client
	variant prompts.PromptVariant
}

// New creates a client for an OpenAI-compatible API. An empty baseURL uses
// the OpenAI default.
func New(baseURL, apiKey string, variant prompts.PromptVariant) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIClient{
		api:     openai.NewClientWithConfig(config),
		variant: variant,
	}
}

// ScoreOpenQuestion asks req.Model to grade the student's answer.
func (c *OpenAIClient) ScoreOpenQuestion(ctx context.Context, req model.ScoreRequest) (model.ScoreResult, error) {
	systemPrompt, err := prompts.BuildScorePrompt(c.variant, req)
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompts.WrapAnswer(req.StudentResponse)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return model.ScoreResult{}, fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return model.ScoreResult{}, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", req.Model, "raw", raw)
	return parseScore(raw)
}

// parseScore decodes the JSON verdict a model returns, tolerating code fences.
func parseScore(raw string) (model.ScoreResult, error) {
	txt := stripCodeFences(raw)
	var result model.ScoreResult
	if err := json.Unmarshal([]byte(txt), &result); err != nil {
		return model.ScoreResult{}, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}
	result.Error = strings.TrimSpace(result.Error)
	return result, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
