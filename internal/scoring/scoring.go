// Package scoring totals per-subject component scores and converts totals to
// percentages under a school's score scheme.
//
// Expected component maxima depend on the scheme in force. The common ones are
// CA components of at most 10 (Scheme100) or 30 (Scheme160) marks each, and an
// exam of 60 to 70 marks. Aggregation never clamps; callers that want to reject
// out-of-range entries call Scheme.CheckEntry first.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/validate"
)

// Scheme wraps the ScoreScheme configured for a school or term.
type Scheme struct {
	model.ScoreScheme
}

var (
	// Scheme100 is three 10-mark CAs plus a 70-mark exam.
	Scheme100 = Scheme{model.ScoreScheme{
		MaxFirstCA: 10, MaxSecondCA: 10, MaxThirdCA: 10, MaxExam: 70, MaxPossibleTotal: 100,
	}}
	// Scheme160 is three 30-mark CAs plus a 70-mark exam.
	Scheme160 = Scheme{model.ScoreScheme{
		MaxFirstCA: 30, MaxSecondCA: 30, MaxThirdCA: 30, MaxExam: 70, MaxPossibleTotal: 160,
	}}
)

// NewScheme validates s and wraps it.
func NewScheme(s model.ScoreScheme) (Scheme, error) {
	sc := Scheme{s}
	if err := sc.Validate(); err != nil {
		return Scheme{}, err
	}
	return sc, nil
}

// Validate checks the scheme is usable: positive denominators and component
// maxima that can actually reach MaxPossibleTotal.
func (s Scheme) Validate() error {
	if err := validate.Struct(s.ScoreScheme); err != nil {
		return err
	}
	sum := s.MaxFirstCA + s.MaxSecondCA + s.MaxThirdCA + s.MaxExam
	if sum < s.MaxPossibleTotal {
		msg := fmt.Sprintf("component maxima add up to %g, below max_possible_total %g", sum, s.MaxPossibleTotal)
		return validate.New(msg, validate.FieldError{Field: "max_possible_total", Error: msg})
	}
	return nil
}

// Max returns the expected maximum of a component.
func (s Scheme) Max(c model.Component) float64 {
	switch c {
	case model.FirstCA:
		return s.MaxFirstCA
	case model.SecondCA:
		return s.MaxSecondCA
	case model.ThirdCA:
		return s.MaxThirdCA
	case model.Exam:
		return s.MaxExam
	}
	return 0
}

// CheckEntry rejects components that are negative or above the scheme's maximum.
func (s Scheme) CheckEntry(c model.Components) error {
	var flds []validate.FieldError
	for _, comp := range model.AllComponents {
		v, ok := c.Get(comp)
		if !ok {
			continue
		}
		if v < 0 {
			flds = append(flds, validate.FieldError{Field: string(comp), Error: fmt.Sprintf("%s cannot be negative", comp)})
		} else if limit := s.Max(comp); limit > 0 && v > limit {
			flds = append(flds, validate.FieldError{Field: string(comp), Error: fmt.Sprintf("%s cannot exceed %g", comp, limit)})
		}
	}
	if len(flds) > 0 {
		return &validate.ValidationError{Err: errors.New(flds[0].Error), Fields: flds}
	}
	return nil
}

// Percentage converts a total to a percentage of MaxPossibleTotal.
func (s Scheme) Percentage(total float64) float64 {
	if s.MaxPossibleTotal <= 0 {
		return 0
	}
	return total / s.MaxPossibleTotal * 100
}

// Aggregate returns the sum of the entered components. Missing ones count as zero.
func Aggregate(c model.Components) float64 {
	total := 0.0
	for _, comp := range model.AllComponents {
		if v, ok := c.Get(comp); ok {
			total += v
		}
	}
	return total
}

// Missing lists the components not yet entered.
func Missing(c model.Components) []model.Component {
	var out []model.Component
	for _, comp := range model.AllComponents {
		if _, ok := c.Get(comp); !ok {
			out = append(out, comp)
		}
	}
	return out
}

// Complete reports whether every component has been entered.
func Complete(c model.Components) bool {
	return len(Missing(c)) == 0
}

// SubjectScore builds a subject line with its total recomputed from c.
func SubjectScore(subjectID, name string, c model.Components) model.SubjectScore {
	return model.SubjectScore{
		SubjectID:   subjectID,
		SubjectName: name,
		Components:  c,
		Total:       Aggregate(c),
	}
}

// Round2 rounds to two decimals, halves away from zero.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Summarize recomputes every derived field of r: subject totals, TotalScore,
// TotalSubjects and AverageScore, the mean subject percentage over subjects
// with at least one entered component. Position is left untouched.
func (s Scheme) Summarize(r model.StudentResult) model.StudentResult {
	out := r
	out.SubjectScores = make([]model.SubjectScore, len(r.SubjectScores))

	var total, pctSum float64
	entered := 0
	for i, ss := range r.SubjectScores {
		ss.Total = Aggregate(ss.Components)
		out.SubjectScores[i] = ss
		total += ss.Total
		if len(Missing(ss.Components)) < len(model.AllComponents) {
			pctSum += s.Percentage(ss.Total)
			entered++
		}
	}

	out.TotalScore = Round2(total)
	out.TotalSubjects = len(r.SubjectScores)
	out.AverageScore = 0
	if entered > 0 {
		out.AverageScore = Round2(pctSum / float64(entered))
	}
	return out
}
