package correction

import (
	"context"
	"errors"
	"testing"

	"github.com/pavelanni/corrector/internal/model"
)

func TestExportClass(t *testing.T) {
	done := openExam("s1", 1, "answer")
	done.Exam.Title = "Midterm"
	pending := openExam("s2", 1, "answer")
	pending.Exam.Title = "Midterm"
	repo := &fakeRepo{classes: map[string][]model.StudentExam{"c1": {done, pending}}}
	scores := newMemScores()
	scores.put("s1", 100, 8.456)

	svc := newTestService(t, testConfig(), repo, scores, nil)
	out, err := svc.ExportClass(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ExportClass: %v", err)
	}
	if out.ClassID != "c1" || len(out.Results) != 2 {
		t.Fatalf("unexpected export: %+v", out)
	}

	first := out.Results[0]
	if first.Grade == nil || first.Error != "" {
		t.Fatalf("s1 should be graded: %+v", first)
	}
	if first.Grade.ExamScore != 8.46 {
		t.Errorf("s1 exam score = %v, want 8.46", first.Grade.ExamScore)
	}
	if first.ExamTitle != "Midterm" {
		t.Errorf("exam title = %q", first.ExamTitle)
	}

	second := out.Results[1]
	if second.Grade != nil || second.Error == "" {
		t.Errorf("s2 should carry an error: %+v", second)
	}
}

func TestExportClassUnknown(t *testing.T) {
	svc := newTestService(t, testConfig(), &fakeRepo{}, newMemScores(), nil)
	if _, err := svc.ExportClass(context.Background(), "nope"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("expected ErrClassNotFound, got %v", err)
	}
}
