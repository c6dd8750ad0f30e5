// Package grade computes course averages and the approval verdict.
//
// All functions are pure. Rounding is applied only by Round, which callers use
// when presenting a result, never between steps.
package grade

import (
	"errors"
	"fmt"
	"math"

	"github.com/pavelanni/corrector/internal/model"
)

// ErrInvalidInput is returned for malformed numeric arguments.
var ErrInvalidInput = errors.New("invalid input")

// Policy holds the grading parameters of a course.
type Policy struct {
	FinalExamWeight float64 // share of the final exam in the final average, in [0,1]
	PassThreshold   float64 // minimum final average for approval
	Scale           float64 // maximum value of a score, e.g. 10
	RoundPlaces     int     // decimals shown to users
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		FinalExamWeight: 0.4,
		PassThreshold:   6.0,
		Scale:           10,
		RoundPlaces:     2,
	}
}

// Validate checks the policy for impossible values.
func (p Policy) Validate() error {
	if !inUnit(p.FinalExamWeight) {
		return fmt.Errorf("%w: final exam weight %v outside [0,1]", ErrInvalidInput, p.FinalExamWeight)
	}
	if p.Scale <= 0 || math.IsInf(p.Scale, 0) || math.IsNaN(p.Scale) {
		return fmt.Errorf("%w: scale must be positive, got %v", ErrInvalidInput, p.Scale)
	}
	if p.PassThreshold < 0 || p.PassThreshold > p.Scale {
		return fmt.Errorf("%w: pass threshold %v outside [0,%v]", ErrInvalidInput, p.PassThreshold, p.Scale)
	}
	if p.RoundPlaces < 0 {
		return fmt.Errorf("%w: negative round places", ErrInvalidInput)
	}
	return nil
}

// PreFinalAverage returns the weighted mean of scores.
func PreFinalAverage(scores []model.Score) (float64, error) {
	if len(scores) == 0 {
		return 0, fmt.Errorf("%w: no scores", ErrInvalidInput)
	}
	var sum, weights float64
	for i, s := range scores {
		if !(s.Weight > 0) || math.IsInf(s.Weight, 0) {
			return 0, fmt.Errorf("%w: score %d has weight %v", ErrInvalidInput, i, s.Weight)
		}
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return 0, fmt.Errorf("%w: score %d has value %v", ErrInvalidInput, i, s.Value)
		}
		sum += s.Value * s.Weight
		weights += s.Weight
	}
	return sum / weights, nil
}

// FinalAverage combines the pre-final average with the final exam score. The
// pre-final part weighs 1 - finalExamWeight.
func FinalAverage(preFinal, finalExam, finalExamWeight float64) (float64, error) {
	if !inUnit(finalExamWeight) {
		return 0, fmt.Errorf("%w: final exam weight %v outside [0,1]", ErrInvalidInput, finalExamWeight)
	}
	switch finalExamWeight {
	case 0:
		return preFinal, nil
	case 1:
		return finalExam, nil
	}
	return preFinal*(1-finalExamWeight) + finalExam*finalExamWeight, nil
}

// Approved reports whether finalAverage reaches passThreshold. Ties pass.
func Approved(finalAverage, passThreshold float64) bool {
	return finalAverage >= passThreshold
}

// Round rounds x half away from zero to the given number of decimals.
func Round(x float64, places int) float64 {
	if places < 0 {
		return x
	}
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// View rounds a grade for presentation.
func View(g model.Grade, places int) model.GradeView {
	v := model.GradeView{
		StudentID:       g.StudentID,
		ExamID:          g.ExamID,
		ExamScore:       Round(g.ExamScore, places),
		PreFinalAverage: Round(g.PreFinalAverage, places),
		FinalAverage:    Round(g.FinalAverage, places),
		Approved:        g.Approved,
	}
	for _, q := range g.Questions {
		q.Earned = Round(q.Earned, places)
		v.Questions = append(v.Questions, q)
	}
	return v
}

func inUnit(w float64) bool {
	return w >= 0 && w <= 1
}
