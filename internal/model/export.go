package model

import "time"

// GradeView is a grade rounded for presentation.
type GradeView struct {
	StudentID       string           `json:"student_id"`
	ExamID          int64            `json:"exam_id"`
	ExamScore       float64          `json:"exam_score"`
	PreFinalAverage float64          `json:"pre_final_average"`
	FinalAverage    float64          `json:"final_average"`
	Approved        bool             `json:"approved"`
	Questions       []QuestionResult `json:"questions,omitempty"`
}

// ClassExport is the top-level JSON structure for a class grade export.
type ClassExport struct {
	ClassID         string       `json:"class_id"`
	ExportedAt      time.Time    `json:"exported_at"`
	FinalExamWeight float64      `json:"final_exam_weight"`
	PassThreshold   float64      `json:"pass_threshold"`
	Results         []ExamResult `json:"results"`
}

// ExamResult holds one student exam in an export. Error is set instead of
// Grade when the exam could not be graded yet.
type ExamResult struct {
	StudentID string     `json:"student_id"`
	ExamID    int64      `json:"exam_id"`
	ExamTitle string     `json:"exam_title"`
	Grade     *GradeView `json:"grade,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// ClassImport is the JSON bundle loaded by the import command.
type ClassImport struct {
	ClassID  string           `json:"class_id"`
	Name     string           `json:"name"`
	Students []string         `json:"students"`
	Exams    []ExamImport     `json:"exams"`
	Terms    []TermImport     `json:"term_scores,omitempty"`
	Answers  []ResponseImport `json:"responses"`
}

// ExamImport describes an exam and its questions in an import bundle.
type ExamImport struct {
	Key       string     `json:"key"`
	Title     string     `json:"title"`
	Final     bool       `json:"final"`
	Weight    float64    `json:"weight"`
	Questions []Question `json:"questions"`
}

// TermImport is an in-term assessment score for a student.
type TermImport struct {
	StudentID string  `json:"student_id"`
	Label     string  `json:"label"`
	Value     float64 `json:"value"`
	Weight    float64 `json:"weight"`
}

// ResponseImport is one student's submission of an exam, keyed by the exam's
// import key. Responses are listed in question order.
type ResponseImport struct {
	StudentID string   `json:"student_id"`
	ExamKey   string   `json:"exam"`
	Responses []string `json:"responses"`
}
