// Package prompts renders the scoring prompts sent to AI models.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/corrector/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict is a strict grading variant for majors.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient is a lenient grading variant for electives.
	PromptLenient PromptVariant = "lenient"
)

var validVariants = map[PromptVariant]bool{
	PromptStrict:   true,
	PromptStandard: true,
	PromptLenient:  true,
}

var (
	loadOnce       sync.Once
	loadErr        error
	scoreTemplates map[PromptVariant]*template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	return validVariants[PromptVariant(v)]
}

// ScoreData holds template data for scoring prompts.
type ScoreData struct {
	QuestionText    string
	MaxPoints       float64
	Rubric          string
	ReferenceAnswer string
}

// Load parses the embedded templates. It is safe to call more than once.
func Load() error {
	return loadFrom(templateFS)
}

func loadFrom(fsys fs.FS) error {
	loadOnce.Do(func() {
		scoreTemplates = make(map[PromptVariant]*template.Template)
		for v := range validVariants {
			file := "templates/score_" + string(v) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New("score").Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			scoreTemplates[v] = tmpl
		}
	})
	return loadErr
}

// BuildScorePrompt renders the system prompt for scoring req.
func BuildScorePrompt(variant PromptVariant, req model.ScoreRequest) (string, error) {
	if err := Load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := scoreTemplates[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	data := ScoreData{
		QuestionText:    req.QuestionText,
		MaxPoints:       req.MaxPoints,
		Rubric:          req.Rubric,
		ReferenceAnswer: req.ReferenceAnswer,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WrapAnswer sanitizes a student answer and encloses it in the tags the
// prompts refer to.
func WrapAnswer(answer string) string {
	return "<student-answer>\n" + sanitizeAnswer(answer) + "\n</student-answer>"
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
