package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pavelanni/corrector/internal/model"
)

const questionColumns = `q.id, q.exam_id, q.position, q.kind, q.match_rule, q.text, q.max_points, q.weight, q.answer_key, q.reference_answer, q.rubric`

// ListStudentExams returns every submitted exam of a class with its
// responses and the student's term scores.
func (s *Store) ListStudentExams(ctx context.Context, classID string) ([]model.StudentExam, error) {
	ok, err := s.ClassExists(ctx, classID)
	if err != nil {
		return nil, fmt.Errorf("check class: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("class %q: %w", classID, ErrNotFound)
	}

	exams, err := s.loadExams(ctx, `WHERE e.class_id = ?`, classID)
	if err != nil {
		return nil, err
	}
	questions, err := s.loadQuestions(ctx, `JOIN exams e ON e.id = q.exam_id WHERE e.class_id = ?`, classID)
	if err != nil {
		return nil, err
	}
	responses, err := s.loadResponses(ctx, `JOIN exams e ON e.id = r.exam_id WHERE e.class_id = ?`, classID)
	if err != nil {
		return nil, err
	}
	terms, err := s.loadTermScores(ctx, `WHERE class_id = ?`, classID)
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, s.db,
		`SELECT s.student_id, s.exam_id FROM submissions s
		 JOIN exams e ON e.id = s.exam_id
		 WHERE e.class_id = ? ORDER BY s.exam_id, s.student_id`, classID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	type sub struct {
		studentID string
		examID    int64
	}
	var subs []sub
	for rows.Next() {
		var sb sub
		if err := rows.Scan(&sb.studentID, &sb.examID); err != nil {
			rows.Close()
			return nil, err
		}
		subs = append(subs, sb)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.StudentExam, 0, len(subs))
	for _, sb := range subs {
		exam := exams[sb.examID]
		exam.Questions = questions[sb.examID]
		out = append(out, assemble(sb.studentID, exam, responses, terms[sb.studentID]))
	}
	return out, nil
}

// GetStudentExam returns one student's submission of an exam.
func (s *Store) GetStudentExam(ctx context.Context, studentID string, examID int64) (model.StudentExam, error) {
	var one int
	err := s.queryRow(ctx, s.db,
		`SELECT 1 FROM submissions WHERE student_id = ? AND exam_id = ?`, studentID, examID).Scan(&one)
	if err == sql.ErrNoRows {
		return model.StudentExam{}, fmt.Errorf("student %s exam %d: %w", studentID, examID, ErrNotFound)
	}
	if err != nil {
		return model.StudentExam{}, fmt.Errorf("check submission: %w", err)
	}

	exams, err := s.loadExams(ctx, `WHERE e.id = ?`, examID)
	if err != nil {
		return model.StudentExam{}, err
	}
	exam, ok := exams[examID]
	if !ok {
		return model.StudentExam{}, fmt.Errorf("exam %d: %w", examID, ErrNotFound)
	}
	questions, err := s.loadQuestions(ctx, `WHERE q.exam_id = ?`, examID)
	if err != nil {
		return model.StudentExam{}, err
	}
	exam.Questions = questions[examID]
	responses, err := s.loadResponses(ctx, `WHERE r.exam_id = ? AND r.student_id = ?`, examID, studentID)
	if err != nil {
		return model.StudentExam{}, err
	}
	terms, err := s.loadTermScores(ctx, `WHERE class_id = ? AND student_id = ?`, exam.ClassID, studentID)
	if err != nil {
		return model.StudentExam{}, err
	}
	return assemble(studentID, exam, responses, terms[studentID]), nil
}

type responseKey struct {
	studentID  string
	questionID int64
}

func assemble(studentID string, exam model.Exam, responses map[responseKey]string, terms []model.Score) model.StudentExam {
	se := model.StudentExam{
		StudentID:  studentID,
		ExamID:     exam.ID,
		ClassID:    exam.ClassID,
		Exam:       exam,
		TermScores: terms,
	}
	for _, q := range exam.Questions {
		se.Items = append(se.Items, model.ExamItem{
			Question: q,
			Response: responses[responseKey{studentID, q.ID}],
		})
	}
	return se
}

func (s *Store) loadExams(ctx context.Context, where string, args ...any) (map[int64]model.Exam, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT e.id, e.class_id, e.title, e.final, e.weight FROM exams e `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("load exams: %w", err)
	}
	defer rows.Close()
	exams := make(map[int64]model.Exam)
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.ClassID, &e.Title, &e.Final, &e.Weight); err != nil {
			return nil, err
		}
		exams[e.ID] = e
	}
	return exams, rows.Err()
}

func (s *Store) loadQuestions(ctx context.Context, where string, args ...any) (map[int64][]model.Question, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT `+questionColumns+` FROM questions q `+where+` ORDER BY q.exam_id, q.position`, args...)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	out := make(map[int64][]model.Question)
	for rows.Next() {
		var q model.Question
		var kind, match, key string
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Position, &kind, &match, &q.Text, &q.MaxPoints, &q.Weight, &key, &q.ReferenceAnswer, &q.Rubric); err != nil {
			return nil, err
		}
		q.Kind = model.QuestionKind(kind)
		q.Match = model.MatchRule(match)
		if err := json.Unmarshal([]byte(key), &q.AnswerKey); err != nil {
			return nil, fmt.Errorf("question %d answer key: %w", q.ID, err)
		}
		out[q.ExamID] = append(out[q.ExamID], q)
	}
	return out, rows.Err()
}

func (s *Store) loadResponses(ctx context.Context, where string, args ...any) (map[responseKey]string, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT r.student_id, r.question_id, r.response FROM responses r `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	defer rows.Close()
	out := make(map[responseKey]string)
	for rows.Next() {
		var k responseKey
		var resp string
		if err := rows.Scan(&k.studentID, &k.questionID, &resp); err != nil {
			return nil, err
		}
		out[k] = resp
	}
	return out, rows.Err()
}

func (s *Store) loadTermScores(ctx context.Context, where string, args ...any) (map[string][]model.Score, error) {
	rows, err := s.query(ctx, s.db,
		`SELECT student_id, value, weight FROM term_scores `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("load term scores: %w", err)
	}
	defer rows.Close()
	out := make(map[string][]model.Score)
	for rows.Next() {
		var id string
		var sc model.Score
		if err := rows.Scan(&id, &sc.Value, &sc.Weight); err != nil {
			return nil, err
		}
		out[id] = append(out[id], sc)
	}
	return out, rows.Err()
}
