package grading

import (
	"fmt"
	"log/slog"

	"github.com/pavelanni/gradebook/internal/model"
)

// Resolution is the outcome of mapping a percentage through a grade scale.
type Resolution struct {
	Grade      string  `json:"grade"`
	Remark     string  `json:"remark"`
	GradePoint float64 `json:"grade_point"`
	Color      string  `json:"color"`
}

// NoMatchingGradeError means a percentage fell into a gap of an accepted scale.
// It is a data defect in the scale, not an input error.
type NoMatchingGradeError struct {
	Percentage float64
	ScaleID    string
	ScaleName  string
}

func (e *NoMatchingGradeError) Error() string {
	return fmt.Sprintf("no grade in scale %q covers %.2f%%", e.ScaleName, e.Percentage)
}

// Resolve maps a percentage to the grade range containing it.
//
// Bounds are inclusive. On a whole-mark scale (A:75-100, B:70-74) a fractional
// percentage between one range's MaxScore and the next range's MinScore belongs
// to the lower range, so 74.9 is a B and 75.0 an A. When legacy data has
// overlapping ranges the one with the highest MinScore wins.
func Resolve(percentage float64, scale model.GradeScale) (Resolution, error) {
	ranges := sortedDesc(scale.Ranges)

	var match *model.GradeRange
	matches := 0
	for i := range ranges {
		r := &ranges[i]
		if r.MinScore <= percentage && percentage <= r.MaxScore {
			if match == nil {
				match = r
			}
			matches++
		}
	}
	if matches > 1 {
		slog.Warn("grade scale has overlapping ranges, using highest",
			"scale_id", scale.ID, "scale", scale.Name, "percentage", percentage,
			"grade", match.Grade, "matches", matches)
	}

	if match == nil {
		// Fractional scores between whole-mark ranges: the nearest range below
		// owns them when they are less than one step past its MaxScore.
		for i := range ranges {
			r := &ranges[i]
			if r.MinScore > percentage {
				continue
			}
			if percentage < r.MaxScore+gridStep {
				match = r
			}
			break
		}
	}
	if match == nil {
		return Resolution{}, &NoMatchingGradeError{Percentage: percentage, ScaleID: scale.ID, ScaleName: scale.Name}
	}

	return Resolution{
		Grade:      match.Grade,
		Remark:     match.Remark,
		GradePoint: match.GradePoint,
		Color:      ColorFor(scale, match.Grade),
	}, nil
}

// Resolver binds a scale so callers can pass grade lookup around as a function.
func Resolver(scale model.GradeScale) func(float64) (string, error) {
	return func(p float64) (string, error) {
		res, err := Resolve(p, scale)
		if err != nil {
			return "", err
		}
		return res.Grade, nil
	}
}
