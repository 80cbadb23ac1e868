package scoring

import (
	"errors"
	"math"
	"testing"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/validate"
)

func f(v float64) *float64 { return &v }

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		c    model.Components
		want float64
	}{
		{"empty", model.Components{}, 0},
		{"exam only", model.Components{Exam: f(55)}, 55},
		{"all", model.Components{FirstCA: f(8), SecondCA: f(7.5), ThirdCA: f(9), Exam: f(60)}, 84.5},
		{"sparse", model.Components{FirstCA: f(10), Exam: f(40)}, 50},
		{"entered zero", model.Components{FirstCA: f(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate(tt.c); got != tt.want {
				t.Errorf("Aggregate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAggregateOrderIndependent(t *testing.T) {
	// Entering the same values in a different order gives the same total.
	a := model.Components{}
	a.Exam = f(61)
	a.FirstCA = f(9)
	a.ThirdCA = f(7)
	b := model.Components{}
	b.ThirdCA = f(7)
	b.FirstCA = f(9)
	b.Exam = f(61)
	if Aggregate(a) != Aggregate(b) {
		t.Errorf("totals differ: %v vs %v", Aggregate(a), Aggregate(b))
	}
}

func TestMissing(t *testing.T) {
	c := model.Components{FirstCA: f(0), Exam: f(50)}
	got := Missing(c)
	if len(got) != 2 || got[0] != model.SecondCA || got[1] != model.ThirdCA {
		t.Errorf("Missing() = %v", got)
	}
	if Complete(c) {
		t.Error("expected incomplete")
	}
	if !Complete(model.Components{FirstCA: f(1), SecondCA: f(1), ThirdCA: f(1), Exam: f(1)}) {
		t.Error("expected complete")
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		scheme Scheme
		total  float64
		want   float64
	}{
		{Scheme100, 84.5, 84.5},
		{Scheme160, 120, 75},
		{Scheme160, 160, 100},
		{Scheme{}, 50, 0},
	}
	for _, tt := range tests {
		got := tt.scheme.Percentage(tt.total)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentage(%v) with max %v = %v, want %v", tt.total, tt.scheme.MaxPossibleTotal, got, tt.want)
		}
	}
}

func TestSchemeValidate(t *testing.T) {
	if err := Scheme100.Validate(); err != nil {
		t.Errorf("Scheme100: %v", err)
	}
	if err := Scheme160.Validate(); err != nil {
		t.Errorf("Scheme160: %v", err)
	}

	_, err := NewScheme(model.ScoreScheme{MaxFirstCA: 10, MaxExam: 60, MaxPossibleTotal: 100})
	var verr *validate.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unreachable total, got %v", err)
	}

	_, err = NewScheme(model.ScoreScheme{MaxExam: 70})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for zero total, got %v", err)
	}
	if verr.Fields[0].Field != "max_possible_total" {
		t.Errorf("expected max_possible_total field, got %+v", verr.Fields)
	}
}

func TestCheckEntry(t *testing.T) {
	tests := []struct {
		name    string
		scheme  Scheme
		c       model.Components
		wantErr bool
	}{
		{"within limits", Scheme100, model.Components{FirstCA: f(10), Exam: f(70)}, false},
		{"exam too high", Scheme100, model.Components{Exam: f(71)}, true},
		{"ca too high for 100", Scheme100, model.Components{SecondCA: f(25)}, true},
		{"ca fine for 160", Scheme160, model.Components{SecondCA: f(25)}, false},
		{"negative", Scheme160, model.Components{ThirdCA: f(-1)}, true},
		{"nothing entered", Scheme100, model.Components{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.scheme.CheckEntry(tt.c)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	r := model.StudentResult{
		StudentID: "st1",
		SubjectScores: []model.SubjectScore{
			{SubjectID: "math", Components: model.Components{FirstCA: f(30), SecondCA: f(20), Exam: f(70)}, Total: 999},
			{SubjectID: "eng", Components: model.Components{FirstCA: f(20), Exam: f(60)}},
			{SubjectID: "art"},
		},
	}
	got := Scheme160.Summarize(r)

	if got.SubjectScores[0].Total != 120 {
		t.Errorf("expected recomputed total 120, got %v", got.SubjectScores[0].Total)
	}
	if r.SubjectScores[0].Total != 999 {
		t.Error("Summarize mutated its input")
	}
	if got.TotalScore != 200 {
		t.Errorf("expected total 200, got %v", got.TotalScore)
	}
	if got.TotalSubjects != 3 {
		t.Errorf("expected 3 subjects, got %d", got.TotalSubjects)
	}
	// (75 + 50) / 2; art has nothing entered.
	if got.AverageScore != 62.5 {
		t.Errorf("expected average 62.5, got %v", got.AverageScore)
	}
}

func TestRound2(t *testing.T) {
	if got := Round2(66.666666); got != 66.67 {
		t.Errorf("Round2 = %v", got)
	}
	if got := Round2(80); got != 80 {
		t.Errorf("Round2 = %v", got)
	}
}
