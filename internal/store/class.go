package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/corrector/internal/model"
)

// ImportStats summarizes an ImportClass call.
type ImportStats struct {
	Exams       int
	Questions   int
	Submissions int
	TermScores  int
}

// ImportClass loads a class bundle. Exams and questions are upserted by
// their import key and position, term scores of the class are replaced.
func (s *Store) ImportClass(ctx context.Context, ci model.ClassImport) (ImportStats, error) {
	var stats ImportStats
	if ci.ClassID == "" {
		return stats, errors.New("class_id is required")
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := s.exec(ctx, tx,
			`INSERT INTO classes (id, name, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			ci.ClassID, ci.Name, now,
		); err != nil {
			return fmt.Errorf("upsert class: %w", err)
		}

		students := make(map[string]bool)
		for _, id := range ci.Students {
			students[id] = true
		}

		type examRef struct {
			id        int64
			questions []int64
		}
		exams := make(map[string]examRef, len(ci.Exams))
		for _, ei := range ci.Exams {
			if ei.Key == "" {
				return errors.New("exam key is required")
			}
			weight := ei.Weight
			if weight <= 0 {
				weight = 1
			}
			var examID int64
			if err := s.queryRow(ctx, tx,
				`INSERT INTO exams (class_id, import_key, title, final, weight) VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(class_id, import_key) DO UPDATE SET title = excluded.title, final = excluded.final, weight = excluded.weight
				 RETURNING id`,
				ci.ClassID, ei.Key, ei.Title, ei.Final, weight,
			).Scan(&examID); err != nil {
				return fmt.Errorf("upsert exam %s: %w", ei.Key, err)
			}
			stats.Exams++

			ref := examRef{id: examID}
			for i, q := range ei.Questions {
				qid, err := s.upsertQuestion(ctx, tx, examID, i+1, q)
				if err != nil {
					return fmt.Errorf("exam %s question %d: %w", ei.Key, i+1, err)
				}
				ref.questions = append(ref.questions, qid)
				stats.Questions++
			}
			exams[ei.Key] = ref
		}

		for _, ri := range ci.Answers {
			ref, ok := exams[ri.ExamKey]
			if !ok {
				return fmt.Errorf("responses of %s: unknown exam %q", ri.StudentID, ri.ExamKey)
			}
			if len(ri.Responses) > len(ref.questions) {
				return fmt.Errorf("responses of %s to %s: %d answers for %d questions",
					ri.StudentID, ri.ExamKey, len(ri.Responses), len(ref.questions))
			}
			students[ri.StudentID] = true
			if err := s.exec(ctx, tx,
				`INSERT INTO submissions (student_id, exam_id, submitted_at) VALUES (?, ?, ?)
				 ON CONFLICT(student_id, exam_id) DO NOTHING`,
				ri.StudentID, ref.id, now,
			); err != nil {
				return fmt.Errorf("insert submission: %w", err)
			}
			for i, qid := range ref.questions {
				resp := ""
				if i < len(ri.Responses) {
					resp = ri.Responses[i]
				}
				if err := s.exec(ctx, tx,
					`INSERT INTO responses (student_id, exam_id, question_id, response) VALUES (?, ?, ?, ?)
					 ON CONFLICT(student_id, question_id) DO UPDATE SET response = excluded.response`,
					ri.StudentID, ref.id, qid, resp,
				); err != nil {
					return fmt.Errorf("upsert response: %w", err)
				}
			}
			stats.Submissions++
		}

		if err := s.exec(ctx, tx, `DELETE FROM term_scores WHERE class_id = ?`, ci.ClassID); err != nil {
			return fmt.Errorf("clear term scores: %w", err)
		}
		for _, ts := range ci.Terms {
			if ts.Weight <= 0 {
				return fmt.Errorf("term score %q of %s: weight must be positive", ts.Label, ts.StudentID)
			}
			students[ts.StudentID] = true
			if err := s.exec(ctx, tx,
				`INSERT INTO term_scores (class_id, student_id, label, value, weight) VALUES (?, ?, ?, ?, ?)`,
				ci.ClassID, ts.StudentID, ts.Label, ts.Value, ts.Weight,
			); err != nil {
				return fmt.Errorf("insert term score: %w", err)
			}
			stats.TermScores++
		}

		for id := range students {
			if err := s.exec(ctx, tx,
				`INSERT INTO enrollments (class_id, student_id) VALUES (?, ?)
				 ON CONFLICT(class_id, student_id) DO NOTHING`,
				ci.ClassID, id,
			); err != nil {
				return fmt.Errorf("enroll %s: %w", id, err)
			}
		}
		return nil
	})
	return stats, err
}

func (s *Store) upsertQuestion(ctx context.Context, tx *sql.Tx, examID int64, position int, q model.Question) (int64, error) {
	key := q.AnswerKey
	if key == nil {
		key = []string{}
	}
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return 0, err
	}
	kind := q.Kind
	if kind == "" {
		kind = model.KindObjective
	}
	var id int64
	err = s.queryRow(ctx, tx,
		`INSERT INTO questions (exam_id, position, kind, match_rule, text, max_points, weight, answer_key, reference_answer, rubric)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(exam_id, position) DO UPDATE SET kind = excluded.kind, match_rule = excluded.match_rule,
		   text = excluded.text, max_points = excluded.max_points, weight = excluded.weight,
		   answer_key = excluded.answer_key, reference_answer = excluded.reference_answer, rubric = excluded.rubric
		 RETURNING id`,
		examID, position, string(kind), string(q.Match), q.Text, q.MaxPoints, q.Weight, string(keyJSON), q.ReferenceAnswer, q.Rubric,
	).Scan(&id)
	return id, err
}

// ClassExists reports whether a class was imported.
func (s *Store) ClassExists(ctx context.Context, classID string) (bool, error) {
	var one int
	err := s.queryRow(ctx, s.db, `SELECT 1 FROM classes WHERE id = ?`, classID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListClassStudents returns the students enrolled in a class.
func (s *Store) ListClassStudents(ctx context.Context, classID string) ([]string, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT student_id FROM enrollments WHERE class_id = ? ORDER BY student_id`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
