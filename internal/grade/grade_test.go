package grade

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/pavelanni/corrector/internal/model"
)

const eps = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func TestPreFinalAverage(t *testing.T) {
	tests := []struct {
		name    string
		scores  []model.Score
		want    float64
		wantErr bool
	}{
		{"single", []model.Score{{Value: 7, Weight: 1}}, 7, false},
		{"weighted", []model.Score{{Value: 7, Weight: 1}, {Value: 9, Weight: 2}}, 25.0 / 3, false},
		{"equal weights", []model.Score{{Value: 4, Weight: 0.5}, {Value: 8, Weight: 0.5}}, 6, false},
		{"empty", nil, 0, true},
		{"zero weight", []model.Score{{Value: 7, Weight: 0}}, 0, true},
		{"negative weight", []model.Score{{Value: 7, Weight: 1}, {Value: 9, Weight: -2}}, 0, true},
		{"nan weight", []model.Score{{Value: 7, Weight: math.NaN()}}, 0, true},
		{"nan value", []model.Score{{Value: math.NaN(), Weight: 1}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PreFinalAverage(tt.scores)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("PreFinalAverage: %v", err)
			}
			if !almostEqual(got, tt.want) {
				t.Errorf("PreFinalAverage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreFinalAverageOrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		n := 1 + rng.Intn(12)
		scores := make([]model.Score, n)
		for i := range scores {
			scores[i] = model.Score{Value: rng.Float64() * 10, Weight: 0.1 + rng.Float64()*5}
		}
		want, err := PreFinalAverage(scores)
		if err != nil {
			t.Fatalf("PreFinalAverage: %v", err)
		}
		shuffled := append([]model.Score(nil), scores...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got, err := PreFinalAverage(shuffled)
		if err != nil {
			t.Fatalf("PreFinalAverage shuffled: %v", err)
		}
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("order changed result: %v vs %v", got, want)
		}
	}
}

func TestFinalAverage(t *testing.T) {
	t.Run("boundaries", func(t *testing.T) {
		for _, p := range []float64{0, 3.3, 8.333, 10} {
			for _, f := range []float64{0, 6, 9.75} {
				got, err := FinalAverage(p, f, 0)
				if err != nil || got != p {
					t.Errorf("FinalAverage(%v,%v,0) = %v, %v; want %v", p, f, got, err, p)
				}
				got, err = FinalAverage(p, f, 1)
				if err != nil || got != f {
					t.Errorf("FinalAverage(%v,%v,1) = %v, %v; want %v", p, f, got, err, f)
				}
			}
		}
	})

	t.Run("out of range weight", func(t *testing.T) {
		for _, w := range []float64{-0.1, 1.01, math.NaN()} {
			if _, err := FinalAverage(7, 7, w); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("weight %v: expected ErrInvalidInput, got %v", w, err)
			}
		}
	})
}

func TestApproved(t *testing.T) {
	tests := []struct {
		x, threshold float64
		want         bool
	}{
		{7.4, 7.0, true},
		{7.0, 7.0, true},
		{6.999, 7.0, false},
		{0, 0, true},
	}
	for _, tt := range tests {
		if got := Approved(tt.x, tt.threshold); got != tt.want {
			t.Errorf("Approved(%v, %v) = %v, want %v", tt.x, tt.threshold, got, tt.want)
		}
	}
}

func TestWorkedExample(t *testing.T) {
	pre, err := PreFinalAverage([]model.Score{{Value: 7, Weight: 1}, {Value: 9, Weight: 2}})
	if err != nil {
		t.Fatalf("PreFinalAverage: %v", err)
	}
	if Round(pre, 3) != 8.333 {
		t.Errorf("pre-final = %v, want 8.333...", pre)
	}
	final, err := FinalAverage(pre, 6, 0.4)
	if err != nil {
		t.Fatalf("FinalAverage: %v", err)
	}
	if !almostEqual(final, 7.4) {
		t.Errorf("final = %v, want 7.4", final)
	}
	if !Approved(final, 7.0) {
		t.Error("expected approval at threshold 7.0")
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		x      float64
		places int
		want   float64
	}{
		{8.3333333, 2, 8.33},
		{7.125, 2, 7.13},
		{-1.5, 0, -2},
		{2.5, 0, 3},
		{3.14159, -1, 3.14159},
	}
	for _, tt := range tests {
		if got := Round(tt.x, tt.places); got != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.x, tt.places, got, tt.want)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	bad := []Policy{
		{FinalExamWeight: 1.5, PassThreshold: 6, Scale: 10},
		{FinalExamWeight: 0.4, PassThreshold: 6, Scale: 0},
		{FinalExamWeight: 0.4, PassThreshold: 11, Scale: 10},
		{FinalExamWeight: 0.4, PassThreshold: 6, Scale: 10, RoundPlaces: -1},
	}
	for i, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("policy %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestView(t *testing.T) {
	g := model.Grade{
		StudentID:       "s1",
		ExamID:          3,
		ExamScore:       6.66666,
		PreFinalAverage: 8.33333,
		FinalAverage:    7.39999,
		Approved:        true,
		Questions:       []model.QuestionResult{{QuestionID: 1, Earned: 3.3333, MaxPoints: 5}},
	}
	v := View(g, 2)
	if v.ExamScore != 6.67 || v.PreFinalAverage != 8.33 || v.FinalAverage != 7.4 {
		t.Errorf("unexpected rounding: %+v", v)
	}
	if v.Questions[0].Earned != 3.33 {
		t.Errorf("question earned = %v, want 3.33", v.Questions[0].Earned)
	}
	if g.Questions[0].Earned != 3.3333 {
		t.Error("View must not modify the source grade")
	}
}
