// Package grading validates grade scales and resolves percentages to grades.
package grading

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/validate"
)

// gridStep is the smallest score increment the scale editor works in. Ranges
// whose bounds are at most one step apart are contiguous.
const gridStep = 1.0

// ValidateScale checks a candidate scale: a non-blank name, at least one range,
// well-formed bounds and no two ranges overlapping.
func ValidateScale(name string, ranges []model.GradeRange) error {
	if strings.TrimSpace(name) == "" {
		return validate.New("name is required", validate.FieldError{Field: "name", Error: "name is required"})
	}
	if len(ranges) == 0 {
		return validate.New("at least one grade range is required",
			validate.FieldError{Field: "grade_ranges", Error: "at least one grade range is required"})
	}
	for i := range ranges {
		if err := validate.Struct(ranges[i]); err != nil {
			return err
		}
	}

	sorted := sortedDesc(ranges)
	for i := 0; i+1 < len(sorted); i++ {
		a, b := sorted[i], sorted[i+1]
		if overlaps(a, b) {
			msg := fmt.Sprintf("ranges cannot overlap: %s (%g-%g) and %s (%g-%g)",
				a.Grade, a.MinScore, a.MaxScore, b.Grade, b.MinScore, b.MaxScore)
			return validate.New(msg, validate.FieldError{Field: "grade_ranges", Error: msg})
		}
	}
	return nil
}

func overlaps(a, b model.GradeRange) bool {
	return a.MinScore <= b.MaxScore && b.MinScore <= a.MaxScore
}

// sortedDesc returns a copy of ranges ordered by MinScore, highest first.
func sortedDesc(ranges []model.GradeRange) []model.GradeRange {
	out := make([]model.GradeRange, len(ranges))
	copy(out, ranges)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].MinScore > out[j].MinScore
	})
	return out
}

// Interval is a closed score interval.
type Interval struct {
	From float64 `json:"from"`
	To   float64 `json:"to"`
}

// Gaps reports the parts of [0,100] no range covers. Gaps are tolerated in a
// stored scale but a percentage falling in one cannot be resolved.
func Gaps(ranges []model.GradeRange) []Interval {
	if len(ranges) == 0 {
		return []Interval{{From: 0, To: 100}}
	}
	asc := sortedDesc(ranges)
	sort.SliceStable(asc, func(i, j int) bool { return asc[i].MinScore < asc[j].MinScore })

	var gaps []Interval
	if asc[0].MinScore >= gridStep {
		gaps = append(gaps, Interval{From: 0, To: asc[0].MinScore - gridStep})
	}
	covered := asc[0].MaxScore
	for _, r := range asc[1:] {
		if r.MinScore-covered > gridStep {
			gaps = append(gaps, Interval{From: covered + gridStep, To: r.MinScore - gridStep})
		}
		if r.MaxScore > covered {
			covered = r.MaxScore
		}
	}
	if covered+gridStep <= 100 {
		gaps = append(gaps, Interval{From: covered + gridStep, To: 100})
	}
	return gaps
}
