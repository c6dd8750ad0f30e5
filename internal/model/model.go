package model

import "time"

// Category tags a score as coming from an objective or an open-ended question.
type Category string

const (
	CategoryObjective Category = "objective"
	CategoryOpenEnded Category = "open_ended"
)

// QuestionKind distinguishes auto-gradable questions from free-text ones.
type QuestionKind string

const (
	// KindObjective is scored by rule match, immediately.
	KindObjective QuestionKind = "objective"
	// KindOpenEnded is scored by an AI model.
	KindOpenEnded QuestionKind = "open_ended"
)

// MatchRule selects how an objective question is compared to its answer key.
type MatchRule string

const (
	MatchExact   MatchRule = "exact"
	MatchMulti   MatchRule = "multi"
	MatchFuzzy   MatchRule = "fuzzy"
	MatchNumeric MatchRule = "numeric"
)

// JobState is the lifecycle state of a correction job.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobInProgress JobState = "in_progress"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ScoreSource records where a resolved open-ended score came from.
type ScoreSource string

const (
	SourceBatch    ScoreSource = "batch"
	SourceOnDemand ScoreSource = "ondemand"
)

// Score is a single weighted value on the grading scale.
type Score struct {
	Value    float64  `json:"value"`
	Weight   float64  `json:"weight"`
	Category Category `json:"category,omitempty"`
}

// Question is an exam question.
type Question struct {
	ID              int64        `json:"id"`
	ExamID          int64        `json:"exam_id"`
	Position        int          `json:"position"`
	Kind            QuestionKind `json:"kind"`
	Match           MatchRule    `json:"match,omitempty"`
	Text            string       `json:"text" validate:"notblank"`
	MaxPoints       float64      `json:"max_points" validate:"gt=0"`
	Weight          float64      `json:"weight,omitempty" validate:"gte=0"`
	AnswerKey       []string     `json:"answer_key,omitempty"`
	ReferenceAnswer string       `json:"reference_answer,omitempty"`
	Rubric          string       `json:"rubric,omitempty"`
}

// OpenEnded reports whether the question needs AI scoring.
func (q Question) OpenEnded() bool {
	return q.Kind == KindOpenEnded
}

// Exam is a set of questions given to a class.
type Exam struct {
	ID        int64      `json:"id"`
	ClassID   string     `json:"class_id"`
	Title     string     `json:"title"`
	Final     bool       `json:"final"`
	Weight    float64    `json:"weight"`
	Questions []Question `json:"questions,omitempty"`
}

// ExamItem pairs a question with one student's response.
type ExamItem struct {
	Question Question `json:"question"`
	Response string   `json:"response"`
}

// StudentExam is one student's submission of one exam.
type StudentExam struct {
	StudentID  string     `json:"student_id" validate:"required"`
	ExamID     int64      `json:"exam_id"`
	ClassID    string     `json:"class_id"`
	Exam       Exam       `json:"exam"`
	Items      []ExamItem `json:"items" validate:"dive"`
	TermScores []Score    `json:"term_scores,omitempty"`
}

// OpenQuestions returns the number of open-ended items.
func (se StudentExam) OpenQuestions() int {
	n := 0
	for _, it := range se.Items {
		if it.Question.OpenEnded() {
			n++
		}
	}
	return n
}

// QuestionScore is the resolved score of an open-ended question for a student.
type QuestionScore struct {
	StudentID  string      `json:"student_id"`
	QuestionID int64       `json:"question_id"`
	Score      float64     `json:"score"`
	Feedback   string      `json:"feedback,omitempty"`
	Source     ScoreSource `json:"source"`
	Model      string      `json:"model,omitempty"`
	ScoredAt   time.Time   `json:"scored_at"`
}

// QuestionResult is the per-question breakdown of a grade.
type QuestionResult struct {
	QuestionID int64    `json:"question_id"`
	Category   Category `json:"category"`
	Earned     float64  `json:"earned"`
	MaxPoints  float64  `json:"max_points"`
	Feedback   string   `json:"feedback,omitempty"`
}

// Grade is the derived result of one student exam. Values are unrounded.
type Grade struct {
	StudentID       string           `json:"student_id"`
	ExamID          int64            `json:"exam_id"`
	ExamScore       float64          `json:"exam_score"`
	PreFinalAverage float64          `json:"pre_final_average"`
	FinalAverage    float64          `json:"final_average"`
	Approved        bool             `json:"approved"`
	Questions       []QuestionResult `json:"questions"`
}

// ScoreRequest is the input to an AI scoring call.
type ScoreRequest struct {
	QuestionText    string
	StudentResponse string
	ReferenceAnswer string
	Rubric          string
	MaxPoints       float64
	Model           string
}

// ScoreResult is the AI model's verdict on one answer. Error is set when the
// model answered but could not grade.
type ScoreResult struct {
	Score    float64 `json:"score"`
	Feedback string  `json:"feedback"`
	Error    string  `json:"error,omitempty"`
}

// CorrectionJob is the AI work for one student exam.
type CorrectionJob struct {
	ID            string    `json:"id"`
	BatchID       string    `json:"batch_id"`
	StudentID     string    `json:"student_id"`
	ExamID        int64     `json:"exam_id"`
	OpenQuestions int       `json:"open_questions"`
	State         JobState  `json:"state"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CorrectionBatch is the set of jobs created by one trigger request.
type CorrectionBatch struct {
	ID                 string          `json:"id"`
	ClassID            string          `json:"class_id"`
	Model              string          `json:"model"`
	CreatedAt          time.Time       `json:"created_at"`
	TotalStudentExams  int             `json:"total_student_exams"`
	TotalOpenQuestions int             `json:"total_open_questions"`
	QueuedMessages     int             `json:"queued_messages"`
	Errors             []string        `json:"errors,omitempty"`
	Completed          int             `json:"completed"`
	Failed             int             `json:"failed"`
	RuntimeErrors      []string        `json:"runtime_errors,omitempty"`
	Jobs               []CorrectionJob `json:"jobs,omitempty"`
}

// Done reports whether every queued job reached a terminal state.
func (b CorrectionBatch) Done() bool {
	return b.Completed+b.Failed >= b.QueuedMessages
}

// TriggerResponse is returned immediately by a trigger request.
type TriggerResponse struct {
	BatchID            string   `json:"batchId"`
	Message            string   `json:"message"`
	EstimatedTime      string   `json:"estimatedTime"`
	TotalStudentExams  int      `json:"totalStudentExams"`
	TotalOpenQuestions int      `json:"totalOpenQuestions"`
	QueuedMessages     int      `json:"queuedMessages"`
	Errors             []string `json:"errors,omitempty"`
}
