package correction

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pavelanni/corrector/internal/model"
)

// scoreItem asks scorer to grade one open-ended item. Each attempt first
// waits for the scorer's rate limit, if it has one, and then gets its own
// timeout. Failed attempts are retried up to cfg.MaxRetries times with a
// fixed pause. It returns the number of attempts made.
func scoreItem(ctx context.Context, cfg Config, scorer Scorer, m Metrics, modelName string, it model.ExamItem) (model.ScoreResult, int, error) {
	req := model.ScoreRequest{
		QuestionText:    it.Question.Text,
		StudentResponse: it.Response,
		ReferenceAnswer: it.Question.ReferenceAnswer,
		Rubric:          it.Question.Rubric,
		MaxPoints:       it.Question.MaxPoints,
		Model:           modelName,
	}

	throttle, _ := scorer.(Throttler)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return model.ScoreResult{}, attempts, fmt.Errorf("%w: %w", ErrModelFailure, ctx.Err())
			case <-time.After(cfg.RetryDelay):
			}
		}
		if throttle != nil {
			if err := throttle.Wait(ctx, modelName); err != nil {
				return model.ScoreResult{}, attempts, fmt.Errorf("%w: %w", ErrModelFailure, err)
			}
		}
		attempts++

		callCtx, cancel := context.WithTimeout(ctx, cfg.ModelTimeout)
		start := time.Now()
		res, err := scorer.ScoreOpenQuestion(callCtx, req)
		cancel()
		if err == nil && res.Error != "" {
			err = fmt.Errorf("model declined: %s", res.Error)
		}
		m.ModelCall(modelName, err, time.Since(start))
		if err == nil {
			res.Score = clamp(res.Score, 0, it.Question.MaxPoints)
			return res, attempts, nil
		}
		lastErr = err
		cfg.logger().Warn("scoring attempt failed",
			"question", it.Question.ID, "model", modelName, "attempt", attempts, "error", err)
	}
	return model.ScoreResult{}, attempts, fmt.Errorf("%w: %w", ErrModelFailure, lastErr)
}

func clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return math.Max(lo, math.Min(hi, x))
}
