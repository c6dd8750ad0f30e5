package correction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/corrector/internal/grade"
	"github.com/pavelanni/corrector/internal/model"
	"github.com/pavelanni/corrector/internal/store"
)

// ExportClass grades every student exam of a class. Exams that cannot be
// graded yet are listed with the reason instead of a grade.
func (s *Service) ExportClass(ctx context.Context, classID string) (model.ClassExport, error) {
	exams, err := s.repo.ListStudentExams(ctx, classID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrClassNotFound) {
			return model.ClassExport{}, fmt.Errorf("class %s: %w", classID, ErrClassNotFound)
		}
		return model.ClassExport{}, fmt.Errorf("list student exams: %w", err)
	}

	p := s.cfg.Policy
	out := model.ClassExport{
		ClassID:         classID,
		ExportedAt:      time.Now().UTC(),
		FinalExamWeight: p.FinalExamWeight,
		PassThreshold:   p.PassThreshold,
		Results:         make([]model.ExamResult, 0, len(exams)),
	}
	for _, se := range exams {
		r := model.ExamResult{StudentID: se.StudentID, ExamID: se.ExamID, ExamTitle: se.Exam.Title}
		g, err := s.gradeExam(ctx, se)
		switch {
		case err == nil:
			v := grade.View(g, p.RoundPlaces)
			r.Grade = &v
		case errors.Is(err, ErrIncompleteCorrection), errors.Is(err, grade.ErrInvalidInput), errors.Is(err, ErrModelFailure):
			r.Error = err.Error()
		default:
			return model.ClassExport{}, fmt.Errorf("student %s exam %d: %w", se.StudentID, se.ExamID, err)
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}
