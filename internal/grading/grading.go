// Package grading scores objective questions by matching responses against
// their answer key.
package grading

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pavelanni/corrector/internal/model"
)

// Result is the outcome of scoring one objective response.
type Result struct {
	Earned   float64
	Feedback string
}

// Options tunes the matchers.
type Options struct {
	MaxEditDistance int  // fuzzy: edits tolerated for half credit
	PartialMulti    bool // multi: partial credit when no wrong option is picked
}

// DefaultOptions matches the behavior exam authors expect by default.
func DefaultOptions() Options {
	return Options{MaxEditDistance: 1, PartialMulti: true}
}

// Score grades an objective question. Open-ended questions are an error.
func Score(q model.Question, response string, opts Options) (Result, error) {
	if q.OpenEnded() {
		return Result{}, fmt.Errorf("question %d is open-ended", q.ID)
	}
	switch q.Match {
	case model.MatchExact, "":
		return exact(q, response), nil
	case model.MatchMulti:
		return multi(q, response, opts.PartialMulti), nil
	case model.MatchFuzzy:
		return fuzzy(q, response, opts.MaxEditDistance), nil
	case model.MatchNumeric:
		return numeric(q, response), nil
	default:
		return Result{}, fmt.Errorf("question %d: unknown match rule %q", q.ID, q.Match)
	}
}

func exact(q model.Question, response string) Result {
	resp := strings.TrimSpace(response)
	for _, k := range q.AnswerKey {
		if resp == strings.TrimSpace(k) {
			return Result{Earned: q.MaxPoints}
		}
	}
	return Result{}
}

// multi expects comma-separated option IDs in both the response and the key.
func multi(q model.Question, response string, allowPartial bool) Result {
	correct := toSet(splitOptions(q.AnswerKey))
	picked := toSet(splitOptions([]string{response}))

	if setEqual(correct, picked) {
		return Result{Earned: q.MaxPoints}
	}
	for p := range picked {
		if _, ok := correct[p]; !ok {
			return Result{Feedback: "wrong option selected"}
		}
	}
	if !allowPartial || len(correct) == 0 {
		return Result{}
	}
	hits := 0
	for p := range picked {
		if _, ok := correct[p]; ok {
			hits++
		}
	}
	return Result{
		Earned:   q.MaxPoints * float64(hits) / float64(len(correct)),
		Feedback: fmt.Sprintf("partial: %d/%d options", hits, len(correct)),
	}
}

func fuzzy(q model.Question, response string, maxEdit int) Result {
	norm := normalize(response)
	near := false
	for _, k := range q.AnswerKey {
		nk := normalize(k)
		if nk == norm {
			return Result{Earned: q.MaxPoints}
		}
		if maxEdit > 0 && levenshtein(nk, norm) <= maxEdit {
			near = true
		}
	}
	if near {
		return Result{Earned: q.MaxPoints * 0.5, Feedback: "close match"}
	}
	return Result{}
}

// numeric compares against the first key entry. Further entries may set
// "tol=<abs>" or "reltol=<fraction>".
func numeric(q model.Question, response string) Result {
	if len(q.AnswerKey) == 0 {
		return Result{}
	}
	target := strings.TrimSpace(q.AnswerKey[0])
	if strings.TrimSpace(response) == target {
		return Result{Earned: q.MaxPoints}
	}
	rv, rOK := parseFloatLoose(response)
	tv, tOK := parseFloatLoose(target)
	if !rOK || !tOK {
		return Result{}
	}
	absTol, relTol := parseTolerances(q.AnswerKey[1:])
	diff := math.Abs(rv - tv)
	if diff == 0 || (absTol >= 0 && diff <= absTol) || (relTol >= 0 && diff <= relTol*math.Abs(tv)) {
		return Result{Earned: q.MaxPoints}
	}
	return Result{}
}

func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, true
	}
	if f := strings.Fields(s); len(f) > 0 {
		if v, err := strconv.ParseFloat(f[0], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func parseTolerances(keys []string) (absTol, relTol float64) {
	absTol, relTol = -1, -1
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		switch {
		case strings.HasPrefix(k, "tol="):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(k, "tol="), 64); err == nil {
				absTol = v
			}
		case strings.HasPrefix(k, "reltol="):
			if v, err := strconv.ParseFloat(strings.TrimPrefix(k, "reltol="), 64); err == nil {
				relTol = v
			}
		}
	}
	return absTol, relTol
}

func splitOptions(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
