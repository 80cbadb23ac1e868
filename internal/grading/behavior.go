package grading

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/validate"
)

// behaviorPoints is the fixed point value of each behavioural letter.
var behaviorPoints = map[string]int{"A": 5, "B": 4, "C": 3, "D": 2, "E": 1}

var behaviorLetters = [...]string{1: "E", 2: "D", 3: "C", 4: "B", 5: "A"}

// BehaviorPoints returns the point value of a behavioural letter.
func BehaviorPoints(letter string) (int, bool) {
	p, ok := behaviorPoints[strings.ToUpper(strings.TrimSpace(letter))]
	return p, ok
}

// ComputeBehavior totals the criterion letters and derives the average letter
// from the rounded mean point value.
func ComputeBehavior(studentID, termID string, criteria map[string]string, feedback string) (model.BehavioralGrade, error) {
	bg := model.BehavioralGrade{
		StudentID:      studentID,
		TermID:         termID,
		CriteriaGrades: make(map[string]string, len(criteria)),
		Feedback:       strings.TrimSpace(feedback),
	}

	keys := make([]string, 0, len(criteria))
	for k := range criteria {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	graded := 0
	for _, k := range keys {
		letter := strings.ToUpper(strings.TrimSpace(criteria[k]))
		if letter == "" {
			continue
		}
		p, ok := behaviorPoints[letter]
		if !ok {
			msg := fmt.Sprintf("criterion %q: grade must be A to E, got %q", k, criteria[k])
			return model.BehavioralGrade{}, validate.New(msg, validate.FieldError{Field: "criteria_grades." + k, Error: msg})
		}
		bg.CriteriaGrades[k] = letter
		bg.TotalPoints += p
		graded++
	}
	if graded > 0 {
		mean := math.Round(float64(bg.TotalPoints) / float64(graded))
		bg.AverageGrade = behaviorLetters[int(mean)]
	}
	return bg, nil
}
