// Package report lays out a student's result as a printable report card and
// exports it as paged HTML or PDF.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pavelanni/gradebook/internal/grading"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/scoring"
)

// Row is one subject line of the report table.
type Row struct {
	SubjectID  string
	Subject    string
	Components model.Components
	Total      float64
	Percentage float64
	Grade      string
	Remark     string
	GradePoint float64
	Color      string
}

// Document is the render-only projection of a StudentResult. It is rebuilt
// on demand and never persisted.
type Document struct {
	Meta       model.ReportMeta
	Result     model.StudentResult
	Scheme     model.ScoreScheme
	ScaleName  string
	Legend     []model.GradeRange
	Rows       []Row
	Grade      string
	Remark     string
	Color      string
	Position   string // ordinal, empty when unranked
	Logo       []byte // PNG
	Photo      []byte // PNG
	Incomplete bool   // some subject still has components to enter
}

// Summary is the part of a report that must match its source result exactly.
type Summary struct {
	TotalScore   float64
	AverageScore float64
	Grade        string
}

// Build resolves every subject and the overall average against scale. A
// percentage in a gap of the scale fails the whole document.
func Build(result model.StudentResult, meta model.ReportMeta, scale model.GradeScale, scheme scoring.Scheme) (Document, error) {
	doc := Document{
		Meta:      meta,
		Result:    cloneResult(result),
		Scheme:    scheme.ScoreScheme,
		ScaleName: scale.Name,
		Legend:    legend(scale.Ranges),
	}
	if meta.Behavior != nil {
		b := *meta.Behavior
		b.CriteriaGrades = make(map[string]string, len(meta.Behavior.CriteriaGrades))
		for k, v := range meta.Behavior.CriteriaGrades {
			b.CriteriaGrades[k] = v
		}
		doc.Meta.Behavior = &b
	}

	for _, ss := range doc.Result.SubjectScores {
		total := scoring.Aggregate(ss.Components)
		pct := scheme.Percentage(total)
		res, err := grading.Resolve(pct, scale)
		if err != nil {
			return Document{}, fmt.Errorf("subject %s: %w", ss.SubjectID, err)
		}
		if !scoring.Complete(ss.Components) {
			doc.Incomplete = true
		}
		doc.Rows = append(doc.Rows, Row{
			SubjectID:  ss.SubjectID,
			Subject:    ss.SubjectName,
			Components: ss.Components,
			Total:      total,
			Percentage: scoring.Round2(pct),
			Grade:      res.Grade,
			Remark:     res.Remark,
			GradePoint: res.GradePoint,
			Color:      res.Color,
		})
	}

	if len(doc.Rows) > 0 {
		res, err := grading.Resolve(doc.Result.AverageScore, scale)
		if err != nil {
			return Document{}, fmt.Errorf("average: %w", err)
		}
		doc.Grade, doc.Remark, doc.Color = res.Grade, res.Remark, res.Color
	}
	if doc.Result.Position != nil {
		doc.Position = Ordinal(*doc.Result.Position)
	}
	return doc, nil
}

// Summary returns the totals the document shows.
func (d Document) Summary() Summary {
	return Summary{
		TotalScore:   d.Result.TotalScore,
		AverageScore: d.Result.AverageScore,
		Grade:        d.Grade,
	}
}

func cloneResult(r model.StudentResult) model.StudentResult {
	out := r
	out.SubjectScores = append([]model.SubjectScore(nil), r.SubjectScores...)
	if r.Position != nil {
		p := *r.Position
		out.Position = &p
	}
	return out
}

// legend returns the scale's ranges, highest first.
func legend(ranges []model.GradeRange) []model.GradeRange {
	out := append([]model.GradeRange(nil), ranges...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinScore > out[j].MinScore })
	return out
}

// Ordinal formats n as 1st, 2nd, 3rd, 4th, 11th, 12th, 13th, 21st ...
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(n) + suffix
}

// Filename is the download name of a report:
// Report_{Type}_{LastName}_{FirstName}_{Term}_{Year}.pdf
func Filename(d Document, l Layout) string {
	parts := []string{
		"Report",
		l.Type,
		d.Meta.Student.LastName,
		d.Meta.Student.FirstName,
		d.Meta.Term.Name,
		d.Meta.Term.Year,
	}
	for i, p := range parts {
		parts[i] = filenameSafe(p)
	}
	return strings.Join(parts, "_") + ".pdf"
}

func filenameSafe(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "NA"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '/' || r == '\\':
			return '-'
		case r < 0x20 || strings.ContainsRune(`:*?"<>|`, r):
			return -1
		}
		return r
	}, s)
}

// formatScore prints a component score, or a dash when it was not entered.
func formatScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return formatNumber(*v)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(scoring.Round2(v), 'f', -1, 64)
}

func legendColor(g model.GradeRange) string {
	if g.Color == "" {
		return grading.DefaultColor
	}
	return g.Color
}
