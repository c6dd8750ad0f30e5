package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/corrector/internal/model"
)

// SaveBatch records a batch and its initial jobs. Jobs already recorded by
// UpdateJob keep their newer state.
func (s *Store) SaveBatch(ctx context.Context, b model.CorrectionBatch) error {
	errs := b.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.exec(ctx, tx,
			`INSERT INTO correction_batches (id, class_id, model, created_at, total_student_exams, total_open_questions, queued_messages, errors)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET total_student_exams = excluded.total_student_exams,
			   total_open_questions = excluded.total_open_questions, queued_messages = excluded.queued_messages, errors = excluded.errors`,
			b.ID, b.ClassID, b.Model, b.CreatedAt, b.TotalStudentExams, b.TotalOpenQuestions, b.QueuedMessages, string(errsJSON),
		); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
		for _, j := range b.Jobs {
			if err := s.exec(ctx, tx,
				`INSERT INTO correction_jobs (id, batch_id, student_id, exam_id, open_questions, state, error, attempts, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO NOTHING`,
				j.ID, j.BatchID, j.StudentID, j.ExamID, j.OpenQuestions, string(j.State), j.Error, j.Attempts, j.UpdatedAt,
			); err != nil {
				return fmt.Errorf("save job %s: %w", j.ID, err)
			}
		}
		return nil
	})
}

// UpdateJob records a job transition.
func (s *Store) UpdateJob(ctx context.Context, j model.CorrectionJob) error {
	err := s.exec(ctx, s.db,
		`INSERT INTO correction_jobs (id, batch_id, student_id, exam_id, open_questions, state, error, attempts, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, error = excluded.error,
		   attempts = excluded.attempts, updated_at = excluded.updated_at`,
		j.ID, j.BatchID, j.StudentID, j.ExamID, j.OpenQuestions, string(j.State), j.Error, j.Attempts, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	return nil
}

// GetBatch loads a recorded batch. Runtime counters are derived from its
// jobs.
func (s *Store) GetBatch(ctx context.Context, id string) (model.CorrectionBatch, error) {
	var b model.CorrectionBatch
	var errsJSON string
	err := s.queryRow(ctx, s.db,
		`SELECT id, class_id, model, created_at, total_student_exams, total_open_questions, queued_messages, errors
		 FROM correction_batches WHERE id = ?`, id,
	).Scan(&b.ID, &b.ClassID, &b.Model, &b.CreatedAt, &b.TotalStudentExams, &b.TotalOpenQuestions, &b.QueuedMessages, &errsJSON)
	if err == sql.ErrNoRows {
		return b, fmt.Errorf("batch %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return b, fmt.Errorf("load batch: %w", err)
	}
	if err := json.Unmarshal([]byte(errsJSON), &b.Errors); err != nil {
		return b, fmt.Errorf("batch %s errors: %w", id, err)
	}

	rows, err := s.query(ctx, s.db,
		`SELECT id, batch_id, student_id, exam_id, open_questions, state, error, attempts, updated_at
		 FROM correction_jobs WHERE batch_id = ? ORDER BY student_id, exam_id`, id)
	if err != nil {
		return b, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var j model.CorrectionJob
		var state string
		if err := rows.Scan(&j.ID, &j.BatchID, &j.StudentID, &j.ExamID, &j.OpenQuestions, &state, &j.Error, &j.Attempts, &j.UpdatedAt); err != nil {
			return b, err
		}
		j.State = model.JobState(state)
		switch j.State {
		case model.JobCompleted:
			b.Completed++
		case model.JobFailed:
			b.Failed++
			b.RuntimeErrors = append(b.RuntimeErrors, fmt.Sprintf("student %s exam %d: %s", j.StudentID, j.ExamID, j.Error))
		}
		b.Jobs = append(b.Jobs, j)
	}
	return b, rows.Err()
}
