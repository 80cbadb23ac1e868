// Package ranking assigns class positions and computes class statistics for
// one class and term.
package ranking

import (
	"math"
	"sort"

	"github.com/pavelanni/gradebook/internal/model"
)

// ResolveFunc maps an average percentage to a letter grade.
type ResolveFunc func(percentage float64) (string, error)

// Rank positions every student of a cohort by AverageScore, highest first,
// using standard competition ranking: tied students share a position and the
// next distinct score skips the tied places (1, 1, 3). Students without a
// single valid subject score keep a nil Position and are left out of the
// statistics, but still count towards TotalStudents.
//
// The input is not modified. The returned slice follows the input order, so a
// rerun over the same input yields the same output. ComputedAt is left zero
// for the caller to stamp.
func Rank(results []model.StudentResult, resolve ResolveFunc) ([]model.StudentResult, model.ClassSummary) {
	out := make([]model.StudentResult, len(results))
	copy(out, results)

	summary := model.ClassSummary{
		TotalStudents:     len(results),
		GradeDistribution: make(map[string]int),
	}
	if len(results) > 0 {
		summary.ClassID = results[0].ClassID
		summary.TermID = results[0].TermID
	}

	var ranked []int
	for i := range out {
		out[i].Position = nil
		if out[i].ValidSubjects() > 0 {
			ranked = append(ranked, i)
		}
	}
	if len(ranked) == 0 {
		return out, summary
	}

	sort.SliceStable(ranked, func(a, b int) bool {
		return key(out[ranked[a]]) > key(out[ranked[b]])
	})

	var sum float64
	summary.HighestScore = out[ranked[0]].AverageScore
	summary.LowestScore = out[ranked[0]].AverageScore
	for n, idx := range ranked {
		pos := n + 1
		if n > 0 && key(out[idx]) == key(out[ranked[n-1]]) {
			pos = *out[ranked[n-1]].Position
		}
		p := pos
		out[idx].Position = &p

		avg := out[idx].AverageScore
		sum += avg
		summary.HighestScore = math.Max(summary.HighestScore, avg)
		summary.LowestScore = math.Min(summary.LowestScore, avg)

		if resolve == nil {
			continue
		}
		grade, err := resolve(avg)
		if err != nil {
			summary.Ungraded++
			continue
		}
		summary.GradeDistribution[grade]++
	}

	summary.RankedStudents = len(ranked)
	summary.AverageScore = math.Round(sum/float64(len(ranked))*100) / 100
	return out, summary
}

// key is the comparison value for ranking: the average rounded to two
// decimals, so values that print the same rank the same.
func key(r model.StudentResult) float64 {
	return math.Round(r.AverageScore*100) / 100
}
