package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pavelanni/corrector/internal/model"
)

// Scores returns the resolved open-ended scores of a student exam keyed by
// question ID.
func (s *Store) Scores(ctx context.Context, studentID string, examID int64) (map[int64]model.QuestionScore, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT qs.student_id, qs.question_id, qs.score, qs.feedback, qs.source, qs.model, qs.scored_at
		 FROM question_scores qs
		 JOIN questions q ON q.id = qs.question_id
		 WHERE qs.student_id = ? AND q.exam_id = ?`, studentID, examID)
	if err != nil {
		return nil, fmt.Errorf("load scores: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]model.QuestionScore)
	for rows.Next() {
		var qs model.QuestionScore
		var source string
		if err := rows.Scan(&qs.StudentID, &qs.QuestionID, &qs.Score, &qs.Feedback, &source, &qs.Model, &qs.ScoredAt); err != nil {
			return nil, err
		}
		qs.Source = model.ScoreSource(source)
		out[qs.QuestionID] = qs
	}
	return out, rows.Err()
}

// SaveScores upserts resolved open-ended scores.
func (s *Store) SaveScores(ctx context.Context, scores []model.QuestionScore) error {
	if len(scores) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, qs := range scores {
			if err := s.exec(ctx, tx,
				`INSERT INTO question_scores (student_id, question_id, score, feedback, source, model, scored_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(student_id, question_id) DO UPDATE SET score = excluded.score,
				   feedback = excluded.feedback, source = excluded.source, model = excluded.model, scored_at = excluded.scored_at`,
				qs.StudentID, qs.QuestionID, qs.Score, qs.Feedback, string(qs.Source), qs.Model, qs.ScoredAt,
			); err != nil {
				return fmt.Errorf("save score for %s question %d: %w", qs.StudentID, qs.QuestionID, err)
			}
		}
		return nil
	})
}
