package correction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/corrector/internal/grade"
	"github.com/pavelanni/corrector/internal/grading"
	"github.com/pavelanni/corrector/internal/model"
	"github.com/pavelanni/corrector/internal/store"
)

const tracerName = "github.com/pavelanni/corrector/internal/correction"

// Service computes grades for student exams.
type Service struct {
	cfg    Config
	repo   Repository
	scores ScoreStore
	scorer Scorer // optional, used only for on-demand scoring
}

// NewService creates a Service. scorer may be nil when on-demand scoring is
// disabled.
func NewService(cfg Config, repo Repository, scores ScoreStore, scorer Scorer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("correction config: %w", err)
	}
	if cfg.OnDemand && scorer == nil {
		return nil, errors.New("on-demand scoring needs a scorer")
	}
	return &Service{cfg: cfg, repo: repo, scores: scores, scorer: scorer}, nil
}

// Policy returns the grading policy in use.
func (s *Service) Policy() grade.Policy {
	return s.cfg.Policy
}

// CorrectExam computes the grade of one student exam. Every open-ended
// question must have a resolved score, unless on-demand scoring is enabled,
// in which case missing scores are produced and saved first.
func (s *Service) CorrectExam(ctx context.Context, studentID string, examID int64) (model.Grade, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "correction.CorrectExam")
	defer span.End()
	span.SetAttributes(attribute.String("student.id", studentID), attribute.Int64("exam.id", examID))

	g, err := s.correctExam(ctx, studentID, examID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return g, err
}

func (s *Service) correctExam(ctx context.Context, studentID string, examID int64) (model.Grade, error) {
	se, err := s.repo.GetStudentExam(ctx, studentID, examID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrExamNotFound) {
			return model.Grade{}, fmt.Errorf("student %s exam %d: %w", studentID, examID, ErrExamNotFound)
		}
		return model.Grade{}, fmt.Errorf("load student exam: %w", err)
	}
	return s.gradeExam(ctx, se)
}

func (s *Service) gradeExam(ctx context.Context, se model.StudentExam) (model.Grade, error) {
	resolved, err := s.resolveOpen(ctx, se)
	if err != nil {
		return model.Grade{}, err
	}

	g := model.Grade{StudentID: se.StudentID, ExamID: se.ExamID}
	questionScores := make([]model.Score, 0, len(se.Items))
	for _, it := range se.Items {
		q := it.Question
		res := model.QuestionResult{QuestionID: q.ID, MaxPoints: q.MaxPoints}
		if q.OpenEnded() {
			qs := resolved[q.ID]
			res.Category = model.CategoryOpenEnded
			res.Earned = qs.Score
			res.Feedback = qs.Feedback
		} else {
			r, err := grading.Score(q, it.Response, s.cfg.Matching)
			if err != nil {
				return model.Grade{}, fmt.Errorf("score question %d: %w", q.ID, err)
			}
			res.Category = model.CategoryObjective
			res.Earned = r.Earned
			res.Feedback = r.Feedback
		}
		g.Questions = append(g.Questions, res)

		if q.MaxPoints <= 0 {
			return model.Grade{}, fmt.Errorf("question %d max points %v: %w", q.ID, q.MaxPoints, grade.ErrInvalidInput)
		}
		weight := q.Weight
		if weight <= 0 {
			weight = q.MaxPoints
		}
		questionScores = append(questionScores, model.Score{
			Value:    res.Earned / q.MaxPoints * s.cfg.Policy.Scale,
			Weight:   weight,
			Category: res.Category,
		})
	}

	g.ExamScore, err = grade.PreFinalAverage(questionScores)
	if err != nil {
		return model.Grade{}, fmt.Errorf("exam score: %w", err)
	}

	if se.Exam.Final {
		g.PreFinalAverage = g.ExamScore
		if len(se.TermScores) > 0 {
			g.PreFinalAverage, err = grade.PreFinalAverage(se.TermScores)
			if err != nil {
				return model.Grade{}, fmt.Errorf("pre-final average: %w", err)
			}
		}
		g.FinalAverage, err = grade.FinalAverage(g.PreFinalAverage, g.ExamScore, s.cfg.Policy.FinalExamWeight)
		if err != nil {
			return model.Grade{}, fmt.Errorf("final average: %w", err)
		}
	} else {
		weight := se.Exam.Weight
		if weight <= 0 {
			weight = 1
		}
		all := append(append([]model.Score(nil), se.TermScores...), model.Score{Value: g.ExamScore, Weight: weight})
		g.PreFinalAverage, err = grade.PreFinalAverage(all)
		if err != nil {
			return model.Grade{}, fmt.Errorf("pre-final average: %w", err)
		}
		g.FinalAverage, err = grade.FinalAverage(g.PreFinalAverage, 0, 0)
		if err != nil {
			return model.Grade{}, fmt.Errorf("final average: %w", err)
		}
	}
	g.Approved = grade.Approved(g.FinalAverage, s.cfg.Policy.PassThreshold)
	return g, nil
}

// resolveOpen returns the resolved score of every open-ended item of se.
func (s *Service) resolveOpen(ctx context.Context, se model.StudentExam) (map[int64]model.QuestionScore, error) {
	if se.OpenQuestions() == 0 {
		return nil, nil
	}
	resolved, err := s.scores.Scores(ctx, se.StudentID, se.ExamID)
	if err != nil {
		return nil, fmt.Errorf("load open-ended scores: %w", err)
	}
	if resolved == nil {
		resolved = make(map[int64]model.QuestionScore)
	}

	var missing []model.ExamItem
	for _, it := range se.Items {
		if !it.Question.OpenEnded() {
			continue
		}
		if _, ok := resolved[it.Question.ID]; !ok {
			missing = append(missing, it)
		}
	}
	if len(missing) == 0 {
		return resolved, nil
	}
	if !s.cfg.OnDemand {
		return nil, fmt.Errorf("%d of %d open-ended questions unresolved: %w",
			len(missing), se.OpenQuestions(), ErrIncompleteCorrection)
	}

	fresh := make([]model.QuestionScore, len(missing))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.QuestionConcurrency)
	for i, it := range missing {
		i, it := i, it
		eg.Go(func() error {
			res, _, err := scoreItem(egCtx, s.cfg, s.scorer, nopMetrics{}, s.cfg.OnDemandModel, it)
			if err != nil {
				return fmt.Errorf("question %d: %w", it.Question.ID, err)
			}
			fresh[i] = model.QuestionScore{
				StudentID:  se.StudentID,
				QuestionID: it.Question.ID,
				Score:      res.Score,
				Feedback:   res.Feedback,
				Source:     model.SourceOnDemand,
				Model:      s.cfg.OnDemandModel,
				ScoredAt:   time.Now().UTC(),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("on-demand scoring: %w", err)
	}
	if err := s.scores.SaveScores(ctx, fresh); err != nil {
		return nil, fmt.Errorf("save on-demand scores: %w", err)
	}
	for _, qs := range fresh {
		resolved[qs.QuestionID] = qs
	}
	s.cfg.logger().Info("scored open-ended questions on demand",
		"student", se.StudentID, "exam", se.ExamID, "count", len(fresh))
	return resolved, nil
}
