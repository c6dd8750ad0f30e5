package grading

import (
	"testing"

	"github.com/pavelanni/corrector/internal/model"
)

func TestScore(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name     string
		q        model.Question
		response string
		want     float64
	}{
		{"exact hit", model.Question{Match: model.MatchExact, MaxPoints: 2, AnswerKey: []string{"B"}}, " B ", 2},
		{"exact miss", model.Question{Match: model.MatchExact, MaxPoints: 2, AnswerKey: []string{"B"}}, "C", 0},
		{"default rule is exact", model.Question{MaxPoints: 1, AnswerKey: []string{"true"}}, "true", 1},
		{"multi full", model.Question{Match: model.MatchMulti, MaxPoints: 4, AnswerKey: []string{"a,c"}}, "c, a", 4},
		{"multi partial", model.Question{Match: model.MatchMulti, MaxPoints: 4, AnswerKey: []string{"a", "b", "c", "d"}}, "a,b", 2},
		{"multi wrong option", model.Question{Match: model.MatchMulti, MaxPoints: 4, AnswerKey: []string{"a,b"}}, "a,x", 0},
		{"fuzzy exact", model.Question{Match: model.MatchFuzzy, MaxPoints: 3, AnswerKey: []string{"Photosynthesis"}}, "photosynthesis.", 3},
		{"fuzzy close", model.Question{Match: model.MatchFuzzy, MaxPoints: 3, AnswerKey: []string{"photosynthesis"}}, "photosynthesys", 1.5},
		{"fuzzy far", model.Question{Match: model.MatchFuzzy, MaxPoints: 3, AnswerKey: []string{"photosynthesis"}}, "respiration", 0},
		{"numeric exact", model.Question{Match: model.MatchNumeric, MaxPoints: 5, AnswerKey: []string{"9.81"}}, "9.81", 5},
		{"numeric abs tol", model.Question{Match: model.MatchNumeric, MaxPoints: 5, AnswerKey: []string{"3.14159", "tol=0.01"}}, "3.14", 5},
		{"numeric rel tol", model.Question{Match: model.MatchNumeric, MaxPoints: 5, AnswerKey: []string{"100", "reltol=0.05"}}, "104 m", 5},
		{"numeric decimal comma", model.Question{Match: model.MatchNumeric, MaxPoints: 5, AnswerKey: []string{"2.5"}}, "2,5", 5},
		{"numeric miss", model.Question{Match: model.MatchNumeric, MaxPoints: 5, AnswerKey: []string{"100", "tol=1"}}, "110", 0},
		{"numeric garbage", model.Question{Match: model.MatchNumeric, MaxPoints: 5, AnswerKey: []string{"100"}}, "lots", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.q.Kind = model.KindObjective
			got, err := Score(tt.q, tt.response, opts)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if got.Earned != tt.want {
				t.Errorf("Score() earned = %v, want %v", got.Earned, tt.want)
			}
		})
	}
}

func TestScoreErrors(t *testing.T) {
	if _, err := Score(model.Question{Kind: model.KindOpenEnded}, "x", DefaultOptions()); err == nil {
		t.Error("expected error for open-ended question")
	}
	if _, err := Score(model.Question{Kind: model.KindObjective, Match: "regex"}, "x", DefaultOptions()); err == nil {
		t.Error("expected error for unknown match rule")
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"мир", "мор", 1},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("  Hello,   World!  "); got != "hello world" {
		t.Errorf("normalize() = %q", got)
	}
}
