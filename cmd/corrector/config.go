package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pavelanni/corrector/internal/correction"
	"github.com/pavelanni/corrector/internal/llm"
	"github.com/pavelanni/corrector/internal/llm/prompts"
)

// correctionConfig reads the correction and grading settings.
func correctionConfig(v *viper.Viper) (correction.Config, error) {
	cfg := correction.DefaultConfig()
	cfg.Workers = v.GetInt("workers")
	cfg.QueueCapacity = v.GetInt("queue-capacity")
	cfg.QuestionConcurrency = v.GetInt("question-concurrency")
	cfg.ModelTimeout = v.GetDuration("model-timeout")
	cfg.MaxRetries = v.GetInt("max-retries")
	cfg.RetryDelay = v.GetDuration("retry-delay")
	cfg.DefaultRate = v.GetDuration("default-rate")
	cfg.Models = v.GetStringSlice("models")
	cfg.OnDemand = v.GetBool("on-demand")
	cfg.OnDemandModel = strings.TrimSpace(v.GetString("on-demand-model"))

	cfg.Policy.FinalExamWeight = v.GetFloat64("final-weight")
	cfg.Policy.PassThreshold = v.GetFloat64("pass-threshold")
	cfg.Policy.Scale = v.GetFloat64("scale")
	cfg.Policy.RoundPlaces = v.GetInt("round-places")

	rates, err := parseDurations(v.GetStringMapString("model-rate"))
	if err != nil {
		return correction.Config{}, fmt.Errorf("model-rate: %w", err)
	}
	cfg.Rates = rates

	if cfg.OnDemand && cfg.OnDemandModel == "" {
		return correction.Config{}, fmt.Errorf("--on-demand needs --on-demand-model")
	}
	if err := cfg.Validate(); err != nil {
		return correction.Config{}, fmt.Errorf("correction config: %w", err)
	}
	return cfg, nil
}

// buildScorer creates the model router. The returned function releases the
// Gemini connection, if any.
func buildScorer(ctx context.Context, v *viper.Viper) (*llm.Router, func(), error) {
	variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
	if !prompts.IsValidVariant(variant) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = string(prompts.PromptStandard)
	}
	pv := prompts.PromptVariant(variant)

	rpm, err := parseInts(v.GetStringMapString("model-rpm"))
	if err != nil {
		return nil, nil, fmt.Errorf("model-rpm: %w", err)
	}

	openai := llm.New(v.GetString("openai-base-url"), v.GetString("openai-api-key"), pv)

	var gemini llm.Scorer
	closeFn := func() {}
	if key := v.GetString("gemini-api-key"); key != "" {
		g, err := llm.NewGemini(ctx, key, pv)
		if err != nil {
			return nil, nil, fmt.Errorf("create Gemini client: %w", err)
		}
		gemini = g
		closeFn = func() {
			if err := g.Close(); err != nil {
				slog.Warn("close Gemini client", "error", err)
			}
		}
	}

	router := llm.NewRouter(openai, gemini, llm.RouterConfig{
		DefaultRPM: v.GetInt("default-rpm"),
		RPM:        rpm,
	})
	if m := strings.TrimSpace(v.GetString("on-demand-model")); m != "" && !router.Supports(m) {
		closeFn()
		return nil, nil, fmt.Errorf("no backend configured for on-demand model %s", m)
	}
	slog.Debug("model router ready",
		"openai_url", v.GetString("openai-base-url"),
		"gemini", gemini != nil,
		"prompt_variant", variant,
	)
	return router, closeFn, nil
}

func parseDurations(in map[string]string) (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(in))
	for name, s := range in {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("%s: negative duration %s", name, d)
		}
		out[name] = d
	}
	return out, nil
}

func parseInts(in map[string]string) (map[string]int, error) {
	out := make(map[string]int, len(in))
	for name, s := range in {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = n
	}
	return out, nil
}
