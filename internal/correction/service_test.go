package correction

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/pavelanni/corrector/internal/grade"
	"github.com/pavelanni/corrector/internal/model"
)

func newTestService(t *testing.T, cfg Config, repo Repository, scores ScoreStore, scorer Scorer) *Service {
	t.Helper()
	svc, err := NewService(cfg, repo, scores, scorer)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestCorrectExamFinalWorkedExample(t *testing.T) {
	se := openExam("s1", 1, "my answer")
	se.Exam.Final = true
	se.TermScores = []model.Score{{Value: 7, Weight: 1}, {Value: 9, Weight: 2}}
	repo := &fakeRepo{classes: map[string][]model.StudentExam{"c1": {se}}}
	scores := newMemScores()
	scores.put("s1", 100, 6)

	cfg := testConfig()
	cfg.Policy.PassThreshold = 7
	svc := newTestService(t, cfg, repo, scores, nil)

	g, err := svc.CorrectExam(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("CorrectExam: %v", err)
	}
	if math.Abs(g.ExamScore-6) > 1e-9 {
		t.Errorf("ExamScore = %v, want 6", g.ExamScore)
	}
	if grade.Round(g.PreFinalAverage, 3) != 8.333 {
		t.Errorf("PreFinalAverage = %v, want 8.333...", g.PreFinalAverage)
	}
	if math.Abs(g.FinalAverage-7.4) > 1e-9 {
		t.Errorf("FinalAverage = %v, want 7.4", g.FinalAverage)
	}
	if !g.Approved {
		t.Error("expected approval at threshold 7")
	}
}

func TestCorrectExamInTerm(t *testing.T) {
	se := model.StudentExam{
		StudentID: "s1",
		ExamID:    2,
		Exam:      model.Exam{ID: 2, Weight: 2},
		Items: []model.ExamItem{
			{Question: objectiveQuestion(1, 5, "A"), Response: "A"},
			{Question: objectiveQuestion(2, 5, "B"), Response: "C"},
		},
		TermScores: []model.Score{{Value: 8, Weight: 1}},
	}
	repo := &fakeRepo{classes: map[string][]model.StudentExam{"c1": {se}}}
	svc := newTestService(t, testConfig(), repo, newMemScores(), nil)

	g, err := svc.CorrectExam(context.Background(), "s1", 2)
	if err != nil {
		t.Fatalf("CorrectExam: %v", err)
	}
	if g.ExamScore != 5 {
		t.Errorf("ExamScore = %v, want 5", g.ExamScore)
	}
	// (8*1 + 5*2) / 3
	if math.Abs(g.PreFinalAverage-6) > 1e-9 || g.FinalAverage != g.PreFinalAverage {
		t.Errorf("averages = %v / %v, want 6 / 6", g.PreFinalAverage, g.FinalAverage)
	}
	if !g.Approved {
		t.Error("6.0 should pass the default threshold")
	}
	if len(g.Questions) != 2 || g.Questions[0].Category != model.CategoryObjective {
		t.Errorf("unexpected breakdown: %+v", g.Questions)
	}
}

func TestCorrectExamIncomplete(t *testing.T) {
	se := openExam("s1", 1, "a", "b")
	repo := &fakeRepo{classes: map[string][]model.StudentExam{"c1": {se}}}
	scores := newMemScores()
	scores.put("s1", 100, 4)
	svc := newTestService(t, testConfig(), repo, scores, nil)

	_, err := svc.CorrectExam(context.Background(), "s1", 1)
	if !errors.Is(err, ErrIncompleteCorrection) {
		t.Fatalf("expected ErrIncompleteCorrection, got %v", err)
	}
}

func TestCorrectExamNotFound(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeRepo{}, newMemScores(), nil)
	_, err := svc.CorrectExam(context.Background(), "nobody", 9)
	if !errors.Is(err, ErrExamNotFound) {
		t.Fatalf("expected ErrExamNotFound, got %v", err)
	}
}

func TestCorrectExamIdempotent(t *testing.T) {
	se := openExam("s1", 1, "a", "b")
	se.Items = append(se.Items, model.ExamItem{Question: objectiveQuestion(7, 2, "x"), Response: "x"})
	repo := &fakeRepo{classes: map[string][]model.StudentExam{"c1": {se}}}
	scores := newMemScores()
	scores.put("s1", 100, 4)
	scores.put("s1", 101, 9)
	svc := newTestService(t, testConfig(), repo, scores, nil)

	first, err := svc.CorrectExam(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("CorrectExam: %v", err)
	}
	second, err := svc.CorrectExam(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("CorrectExam again: %v", err)
	}
	if first.FinalAverage != second.FinalAverage || first.ExamScore != second.ExamScore || first.Approved != second.Approved {
		t.Errorf("grades differ: %+v vs %+v", first, second)
	}
}

func TestCorrectExamOnDemand(t *testing.T) {
	se := openExam("s1", 1, "a", "b")
	repo := &fakeRepo{classes: map[string][]model.StudentExam{"c1": {se}}}
	scores := newMemScores()
	scores.put("s1", 100, 10)
	scorer := &fakeScorer{fn: func(_ context.Context, req model.ScoreRequest) (model.ScoreResult, error) {
		return model.ScoreResult{Score: 8, Feedback: "good"}, nil
	}}

	cfg := testConfig()
	cfg.OnDemand = true
	cfg.OnDemandModel = "gpt-test"
	svc := newTestService(t, cfg, repo, scores, scorer)

	g, err := svc.CorrectExam(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("CorrectExam: %v", err)
	}
	if math.Abs(g.ExamScore-9) > 1e-9 {
		t.Errorf("ExamScore = %v, want 9", g.ExamScore)
	}
	if scorer.calls.Load() != 1 {
		t.Errorf("scorer calls = %d, want 1", scorer.calls.Load())
	}

	again, err := svc.CorrectExam(context.Background(), "s1", 1)
	if err != nil {
		t.Fatalf("CorrectExam again: %v", err)
	}
	if scorer.calls.Load() != 1 {
		t.Errorf("second call rescored: %d calls", scorer.calls.Load())
	}
	if again.FinalAverage != g.FinalAverage {
		t.Errorf("final average changed: %v vs %v", again.FinalAverage, g.FinalAverage)
	}

	saved, _ := scores.Scores(context.Background(), "s1", 1)
	if qs := saved[101]; qs.Source != model.SourceOnDemand || qs.Model != "gpt-test" {
		t.Errorf("saved score = %+v", qs)
	}
}

func TestCorrectExamOnDemandFailure(t *testing.T) {
	se := openExam("s1", 1, "a")
	repo := &fakeRepo{classes: map[string][]model.StudentExam{"c1": {se}}}
	scorer := &fakeScorer{fn: func(context.Context, model.ScoreRequest) (model.ScoreResult, error) {
		return model.ScoreResult{Error: "cannot grade"}, nil
	}}
	cfg := testConfig()
	cfg.OnDemand = true
	svc := newTestService(t, cfg, repo, newMemScores(), scorer)

	_, err := svc.CorrectExam(context.Background(), "s1", 1)
	if !errors.Is(err, ErrModelFailure) {
		t.Fatalf("expected ErrModelFailure, got %v", err)
	}
}

func TestNewServiceOnDemandNeedsScorer(t *testing.T) {
	cfg := testConfig()
	cfg.OnDemand = true
	if _, err := NewService(cfg, &fakeRepo{}, newMemScores(), nil); err == nil {
		t.Fatal("expected error without scorer")
	}
}
