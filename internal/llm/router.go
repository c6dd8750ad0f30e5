package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/pavelanni/corrector/internal/model"
)

// RouterConfig sets per-model request rates in requests per minute. Models
// without an entry use DefaultRPM. Zero or less disables limiting.
type RouterConfig struct {
	DefaultRPM int
	RPM        map[string]int
}

// Router sends each request to the backend serving its model and keeps one
// rate limiter per model. Models named gemini* go to Gemini, the rest to the
// OpenAI-compatible backend.
type Router struct {
	openai Scorer
	gemini Scorer
	cfg    RouterConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRouter creates a Router. Either backend may be nil when not configured.
func NewRouter(openai, gemini Scorer, cfg RouterConfig) *Router {
	return &Router{
		openai:   openai,
		gemini:   gemini,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until modelName's rate limit admits one more request. Callers
// wait before each ScoreOpenQuestion call, outside any per-call timeout.
func (r *Router) Wait(ctx context.Context, modelName string) error {
	lim := r.limiter(modelName)
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit for %s: %w", modelName, err)
	}
	return nil
}

// ScoreOpenQuestion delegates to the backend serving req.Model. It does not
// wait for the rate limit; see Wait.
func (r *Router) ScoreOpenQuestion(ctx context.Context, req model.ScoreRequest) (model.ScoreResult, error) {
	backend, err := r.backend(req.Model)
	if err != nil {
		return model.ScoreResult{}, err
	}
	return backend.ScoreOpenQuestion(ctx, req)
}

// Supports reports whether a backend is configured for modelName.
func (r *Router) Supports(modelName string) bool {
	_, err := r.backend(modelName)
	return err == nil
}

func (r *Router) backend(modelName string) (Scorer, error) {
	if IsGeminiModel(modelName) {
		if r.gemini == nil {
			return nil, fmt.Errorf("model %s: gemini backend not configured", modelName)
		}
		return r.gemini, nil
	}
	if r.openai == nil {
		return nil, fmt.Errorf("model %s: OpenAI backend not configured", modelName)
	}
	return r.openai, nil
}

func (r *Router) limiter(modelName string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[modelName]; ok {
		return lim
	}
	rpm, ok := r.cfg.RPM[modelName]
	if !ok {
		rpm = r.cfg.DefaultRPM
	}
	var lim *rate.Limiter
	if rpm > 0 {
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60), 1+rpm/60)
	}
	r.limiters[modelName] = lim
	return lim
}

// IsGeminiModel reports whether modelName is served by Gemini.
func IsGeminiModel(modelName string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(modelName)), "gemini")
}
