// Package sheet reads result sheets from and writes class broadsheets to
// XLSX workbooks.
package sheet

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/validate"
)

// ContentType is the MIME type of an XLSX workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Result sheet columns. Header names are matched case-insensitively; column
// order is free and unknown columns are ignored.
const (
	colStudent     = "student_id"
	colClass       = "class_id"
	colTerm        = "term_id"
	colSubject     = "subject_id"
	colSubjectName = "subject_name"
)

var required = []string{colStudent, colClass, colTerm, colSubject}

// ReadResults parses the first worksheet of a workbook holding one row per
// student and subject. Rows of the same student, class and term are merged
// into one ResultImport in sheet order. Blank component cells are left
// unentered.
func ReadResults(r io.Reader) ([]model.ResultImport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, validate.New("workbook has no worksheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, validate.New("worksheet " + sheets[0] + " is empty")
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			msg := "missing column " + c
			return nil, validate.New(msg, validate.FieldError{Field: c, Error: msg})
		}
	}

	type key struct{ student, class, term string }
	index := make(map[key]int)
	var out []model.ResultImport

	for n, row := range rows[1:] {
		line := n + 2
		cell := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if strings.Join(row, "") == "" {
			continue
		}

		sub := model.SubjectImport{SubjectID: cell(colSubject), SubjectName: cell(colSubjectName)}
		for _, comp := range model.AllComponents {
			v, err := number(cell(string(comp)))
			if err != nil {
				msg := fmt.Sprintf("row %d: %s: %v", line, comp, err)
				return nil, validate.New(msg, validate.FieldError{Field: fmt.Sprintf("row[%d].%s", line, comp), Error: msg})
			}
			setComponent(&sub.Components, comp, v)
		}

		k := key{cell(colStudent), cell(colClass), cell(colTerm)}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, model.ResultImport{StudentID: k.student, ClassID: k.class, TermID: k.term})
		}
		out[i].Subjects = append(out[i].Subjects, sub)
	}
	return out, nil
}

func number(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%q is not a number", s)
	}
	return &v, nil
}

func setComponent(c *model.Components, comp model.Component, v *float64) {
	switch comp {
	case model.FirstCA:
		c.FirstCA = v
	case model.SecondCA:
		c.SecondCA = v
	case model.ThirdCA:
		c.ThirdCA = v
	case model.Exam:
		c.Exam = v
	}
}

// WriteBroadsheet writes a ranked class as a workbook: a Broadsheet sheet
// with one row per student and one total column per subject, and a Summary
// sheet with the class statistics.
func WriteBroadsheet(w io.Writer, exp model.ClassExport) error {
	f := excelize.NewFile()
	defer f.Close()

	const board, summary = "Broadsheet", "Summary"
	if err := f.SetSheetName("Sheet1", board); err != nil {
		return err
	}
	if _, err := f.NewSheet(summary); err != nil {
		return err
	}

	subjects, names := subjectColumns(exp.Results)
	header := []any{"Student"}
	for _, id := range subjects {
		header = append(header, names[id])
	}
	header = append(header, "Total", "Average", "Position", "Published")
	if err := f.SetSheetRow(board, "A1", &header); err != nil {
		return err
	}

	for i, r := range exp.Results {
		totals := make(map[string]float64, len(r.SubjectScores))
		for _, ss := range r.SubjectScores {
			totals[ss.SubjectID] = ss.Total
		}
		row := []any{r.StudentID}
		for _, id := range subjects {
			if t, ok := totals[id]; ok {
				row = append(row, t)
			} else {
				row = append(row, nil)
			}
		}
		var pos any
		if r.Position != nil {
			pos = *r.Position
		}
		row = append(row, r.TotalScore, r.AverageScore, pos, r.IsPublished)

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(board, cell, &row); err != nil {
			return err
		}
	}

	s := exp.Summary
	lines := [][]any{
		{"Class", exp.ClassID},
		{"Term", exp.TermID},
		{"Scale", exp.Scale},
		{"Students", s.TotalStudents},
		{"Ranked", s.RankedStudents},
		{"Average", s.AverageScore},
		{"Highest", s.HighestScore},
		{"Lowest", s.LowestScore},
		{"Ungraded", s.Ungraded},
	}
	grades := make([]string, 0, len(s.GradeDistribution))
	for g := range s.GradeDistribution {
		grades = append(grades, g)
	}
	sort.Strings(grades)
	for _, g := range grades {
		lines = append(lines, []any{"Grade " + g, s.GradeDistribution[g]})
	}
	for i, line := range lines {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summary, cell, &line); err != nil {
			return err
		}
	}

	return f.Write(w)
}

// subjectColumns lists the subject IDs of a class in first-seen order along
// with their display names.
func subjectColumns(results []model.StudentResult) ([]string, map[string]string) {
	var ids []string
	names := make(map[string]string)
	for _, r := range results {
		for _, ss := range r.SubjectScores {
			if _, ok := names[ss.SubjectID]; ok {
				continue
			}
			ids = append(ids, ss.SubjectID)
			names[ss.SubjectID] = ss.SubjectName
			if names[ss.SubjectID] == "" {
				names[ss.SubjectID] = ss.SubjectID
			}
		}
	}
	return ids, names
}
