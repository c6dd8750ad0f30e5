// Package correction grades student exams and runs AI correction of
// open-ended answers for whole classes.
//
// Service computes a student's grade from objective matches and resolved
// open-ended scores. Orchestrator fans the open-ended work out to a fixed
// pool of workers behind a bounded queue and tracks every batch it creates.
package correction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/pavelanni/corrector/internal/grade"
	"github.com/pavelanni/corrector/internal/grading"
	"github.com/pavelanni/corrector/internal/model"
)

var (
	ErrExamNotFound         = errors.New("student exam not found")
	ErrIncompleteCorrection = errors.New("open-ended questions not yet corrected")
	ErrEnqueueRejected      = errors.New("correction job rejected")
	ErrModelFailure         = errors.New("AI model failure")
	ErrClassNotFound        = errors.New("class not found")
	ErrInvalidRequest       = errors.New("invalid correction request")
	ErrBatchNotFound        = errors.New("correction batch not found")
)

// Repository provides the student exams to correct.
type Repository interface {
	ListStudentExams(ctx context.Context, classID string) ([]model.StudentExam, error)
	GetStudentExam(ctx context.Context, studentID string, examID int64) (model.StudentExam, error)
}

// Scorer grades one open-ended answer. A non-empty ScoreResult.Error means
// the model answered but declined to grade.
type Scorer interface {
	ScoreOpenQuestion(ctx context.Context, req model.ScoreRequest) (model.ScoreResult, error)
}

// Throttler is implemented by scorers that rate-limit requests per model.
// Workers wait on it before the per-call timeout starts.
type Throttler interface {
	Wait(ctx context.Context, modelName string) error
}

// ScoreStore holds resolved open-ended scores.
type ScoreStore interface {
	Scores(ctx context.Context, studentID string, examID int64) (map[int64]model.QuestionScore, error)
	SaveScores(ctx context.Context, scores []model.QuestionScore) error
}

// JobRecorder persists batches and job transitions.
type JobRecorder interface {
	SaveBatch(ctx context.Context, batch model.CorrectionBatch) error
	UpdateJob(ctx context.Context, job model.CorrectionJob) error
}

// Metrics receives orchestrator events.
type Metrics interface {
	JobQueued()
	JobRejected(reason string)
	JobFinished(state model.JobState, elapsed time.Duration)
	ModelCall(modelName string, err error, elapsed time.Duration)
	QueueDepth(n int)
}

type nopMetrics struct{}

func (nopMetrics) JobQueued()                                {}
func (nopMetrics) JobRejected(string)                        {}
func (nopMetrics) JobFinished(model.JobState, time.Duration) {}
func (nopMetrics) ModelCall(string, error, time.Duration)    {}
func (nopMetrics) QueueDepth(int)                            {}

type nopRecorder struct{}

func (nopRecorder) SaveBatch(context.Context, model.CorrectionBatch) error { return nil }
func (nopRecorder) UpdateJob(context.Context, model.CorrectionJob) error   { return nil }

// Config tunes the service and the orchestrator.
type Config struct {
	Workers             int
	QueueCapacity       int
	QuestionConcurrency int // model calls in flight per job
	ModelTimeout        time.Duration
	MaxRetries          int
	RetryDelay          time.Duration

	// DefaultRate is the expected model time per open question, used for
	// the estimate when Rates has no entry for the model.
	DefaultRate time.Duration
	Rates       map[string]time.Duration
	// Models restricts the accepted model names. Empty accepts any.
	Models []string

	// OnDemand lets CorrectExam score unresolved open questions itself
	// with OnDemandModel.
	OnDemand      bool
	OnDemandModel string

	Policy   grade.Policy
	Matching grading.Options
	Logger   *slog.Logger
}

// DefaultConfig returns a working configuration.
func DefaultConfig() Config {
	return Config{
		Workers:             4,
		QueueCapacity:       256,
		QuestionConcurrency: 4,
		ModelTimeout:        60 * time.Second,
		MaxRetries:          2,
		RetryDelay:          2 * time.Second,
		DefaultRate:         10 * time.Second,
		Policy:              grade.DefaultPolicy(),
		Matching:            grading.DefaultOptions(),
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	case c.QueueCapacity <= 0:
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	case c.QuestionConcurrency <= 0:
		return fmt.Errorf("question concurrency must be positive, got %d", c.QuestionConcurrency)
	case c.ModelTimeout <= 0:
		return fmt.Errorf("model timeout must be positive, got %s", c.ModelTimeout)
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	case c.RetryDelay < 0:
		return fmt.Errorf("retry delay must not be negative, got %s", c.RetryDelay)
	case c.DefaultRate < 0:
		return fmt.Errorf("default rate must not be negative, got %s", c.DefaultRate)
	}
	if err := c.Policy.Validate(); err != nil {
		return fmt.Errorf("grading policy: %w", err)
	}
	return nil
}

// Rate returns the expected time per open question for modelName.
func (c Config) Rate(modelName string) time.Duration {
	if r, ok := c.Rates[modelName]; ok {
		return r
	}
	return c.DefaultRate
}

// KnownModel reports whether modelName may be used for correction.
func (c Config) KnownModel(modelName string) bool {
	return len(c.Models) == 0 || slices.Contains(c.Models, modelName)
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
