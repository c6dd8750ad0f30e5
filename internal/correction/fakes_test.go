package correction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/corrector/internal/model"
	"github.com/pavelanni/corrector/internal/store"
)

type fakeRepo struct {
	classes map[string][]model.StudentExam
	err     error
}

func (r *fakeRepo) ListStudentExams(_ context.Context, classID string) ([]model.StudentExam, error) {
	if r.err != nil {
		return nil, r.err
	}
	exams, ok := r.classes[classID]
	if !ok {
		return nil, fmt.Errorf("class %s: %w", classID, store.ErrNotFound)
	}
	return exams, nil
}

func (r *fakeRepo) GetStudentExam(_ context.Context, studentID string, examID int64) (model.StudentExam, error) {
	for _, exams := range r.classes {
		for _, se := range exams {
			if se.StudentID == studentID && se.ExamID == examID {
				return se, nil
			}
		}
	}
	return model.StudentExam{}, store.ErrNotFound
}

type fakeScorer struct {
	calls atomic.Int64
	fn    func(ctx context.Context, req model.ScoreRequest) (model.ScoreResult, error)
}

func (s *fakeScorer) ScoreOpenQuestion(ctx context.Context, req model.ScoreRequest) (model.ScoreResult, error) {
	s.calls.Add(1)
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return model.ScoreResult{Score: req.MaxPoints / 2, Feedback: "ok"}, nil
}

type memScores struct {
	mu    sync.Mutex
	m     map[string]map[int64]model.QuestionScore
	saves int
}

func newMemScores() *memScores {
	return &memScores{m: make(map[string]map[int64]model.QuestionScore)}
}

func (s *memScores) Scores(_ context.Context, studentID string, _ int64) (map[int64]model.QuestionScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]model.QuestionScore)
	for k, v := range s.m[studentID] {
		out[k] = v
	}
	return out, nil
}

func (s *memScores) SaveScores(_ context.Context, scores []model.QuestionScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	for _, qs := range scores {
		if s.m[qs.StudentID] == nil {
			s.m[qs.StudentID] = make(map[int64]model.QuestionScore)
		}
		s.m[qs.StudentID][qs.QuestionID] = qs
	}
	return nil
}

func (s *memScores) put(studentID string, questionID int64, score float64) {
	_ = s.SaveScores(context.Background(), []model.QuestionScore{{StudentID: studentID, QuestionID: questionID, Score: score}})
}

type fakeRecorder struct {
	mu      sync.Mutex
	batches int
	updates []model.CorrectionJob
	err     error
}

func (r *fakeRecorder) SaveBatch(context.Context, model.CorrectionBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches++
	return r.err
}

func (r *fakeRecorder) UpdateJob(_ context.Context, job model.CorrectionJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, job)
	return r.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ModelTimeout = time.Second
	cfg.MaxRetries = 0
	cfg.RetryDelay = 0
	return cfg
}

func openQuestion(id int64, maxPoints float64) model.Question {
	return model.Question{ID: id, Kind: model.KindOpenEnded, Text: fmt.Sprintf("Explain %d", id), MaxPoints: maxPoints}
}

func objectiveQuestion(id int64, maxPoints float64, key string) model.Question {
	return model.Question{ID: id, Kind: model.KindObjective, Match: model.MatchExact, Text: fmt.Sprintf("Pick %d", id), MaxPoints: maxPoints, AnswerKey: []string{key}}
}

// openExam builds a student exam with one open question per response.
func openExam(studentID string, examID int64, responses ...string) model.StudentExam {
	se := model.StudentExam{StudentID: studentID, ExamID: examID, ClassID: "c1", Exam: model.Exam{ID: examID, ClassID: "c1", Weight: 1}}
	for i, r := range responses {
		se.Items = append(se.Items, model.ExamItem{Question: openQuestion(examID*100+int64(i), 10), Response: r})
	}
	return se
}

func newTestOrchestrator(t *testing.T, cfg Config, repo Repository, scorer Scorer, scores ScoreStore, rec JobRecorder) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(cfg, repo, scorer, scores, rec, nil)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return o
}

func waitBatch(t *testing.T, o *Orchestrator, id string) model.CorrectionBatch {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b, err := o.WaitBatch(ctx, id)
	if err != nil {
		t.Fatalf("WaitBatch: %v", err)
	}
	return b
}
