package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/results"
	"github.com/pavelanni/gradebook/internal/scoring"
	"github.com/pavelanni/gradebook/internal/store"
)

const scaleJSON = `{"name": "Senior", "grade_ranges": [
	{"grade": "A", "min_score": 70, "max_score": 100, "grade_point": 5, "remark": "Excellent"},
	{"grade": "C", "min_score": 50, "max_score": 59, "grade_point": 3, "remark": "Credit"},
	{"grade": "F", "min_score": 0, "max_score": 49, "grade_point": 0, "remark": "Fail"}
]}`

const sheetJSON = `[
	{"student_id": "s1", "class_id": "jss1", "term_id": "t1",
	 "subjects": [{"subject_id": "math", "subject_name": "Mathematics", "components": {"first_ca": 10, "exam": 65}}]},
	{"student_id": "s2", "class_id": "jss1", "term_id": "t1",
	 "subjects": [{"subject_id": "math", "subject_name": "Mathematics", "components": {"first_ca": 5, "exam": 40}}]}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSchemePreset(t *testing.T) {
	tests := []struct {
		name    string
		want    float64
		wantErr bool
	}{
		{"", 100, false},
		{"100", 100, false},
		{" 160 ", 160, false},
		{"200", 0, true},
	}
	for _, tt := range tests {
		sc, err := schemePreset(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("schemePreset(%q) err = %v", tt.name, err)
			continue
		}
		if sc.MaxPossibleTotal != tt.want {
			t.Errorf("schemePreset(%q) total = %v, want %v", tt.name, sc.MaxPossibleTotal, tt.want)
		}
	}
}

func TestImportFilesSkipsUnchanged(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	svc := results.New(db, nil, "sch1", scoring.Scheme100)
	path := writeFile(t, t.TempDir(), "sheet.json", sheetJSON)

	if err := importFiles(db, svc, []string{path}, false); err != nil {
		t.Fatalf("first import: %v", err)
	}
	hash, err := db.GetImportedFileHash(path)
	if err != nil || hash == "" {
		t.Fatalf("hash = %q, %v", hash, err)
	}
	if len(hash) != 64 {
		t.Errorf("fingerprint length = %d, want 64", len(hash))
	}

	// Clear s2's subjects; a skipped import must leave them cleared.
	if _, err := svc.Enter(model.ResultImport{StudentID: "s2", ClassID: "jss1", TermID: "t1"}); err != nil {
		t.Fatal(err)
	}
	if err := importFiles(db, svc, []string{path}, false); err != nil {
		t.Fatalf("second import: %v", err)
	}
	r, err := db.GetResult("jss1", "t1", "s2")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.SubjectScores) != 0 {
		t.Error("unchanged file was imported again")
	}

	if err := importFiles(db, svc, []string{path}, true); err != nil {
		t.Fatalf("forced import: %v", err)
	}
	if r, _ = db.GetResult("jss1", "t1", "s2"); len(r.SubjectScores) != 1 {
		t.Error("forced import did not restore the sheet")
	}
}

func TestImportFilesRejectsInvalidSheet(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	svc := results.New(db, nil, "sch1", scoring.Scheme100)
	dir := t.TempDir()

	bad := writeFile(t, dir, "bad.json", `[{"student_id": "s1", "class_id": "jss1", "term_id": "t1",
		"subjects": [{"subject_id": "math", "components": {"exam": 99}}]}]`)
	if err := importFiles(db, svc, []string{bad}, false); err == nil {
		t.Error("expected error for exam above maximum")
	}
	if hash, _ := db.GetImportedFileHash(bad); hash != "" {
		t.Error("failed import was recorded")
	}

	garbled := writeFile(t, dir, "garbled.json", `{"not": "an array"}`)
	if err := importFiles(db, svc, []string{garbled}, false); err == nil {
		t.Error("expected parse error")
	}
}

func TestImportFilesWorkbook(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	svc := results.New(db, nil, "sch1", scoring.Scheme100)

	f := excelize.NewFile()
	rows := [][]any{
		{"student_id", "class_id", "term_id", "subject_id", "subject_name", "first_ca", "exam"},
		{"s1", "jss1", "t1", "math", "Mathematics", 10, 65},
		{"s1", "jss1", "t1", "eng", "English", 8, 50},
		{"s2", "jss1", "t1", "math", "Mathematics", 5, 40},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(t.TempDir(), "sheet.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if err := importFiles(db, svc, []string{path}, false); err != nil {
		t.Fatalf("import workbook: %v", err)
	}
	r, err := db.GetResult("jss1", "t1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(r.SubjectScores) != 2 || r.TotalScore != 133 {
		t.Errorf("s1 = %d subjects, total %v", len(r.SubjectScores), r.TotalScore)
	}
	if r.Position == nil || *r.Position != 1 {
		t.Errorf("s1 position = %v, want 1", r.Position)
	}
}

func TestScaleCheck(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "scale.json", scaleJSON)

	out, err := run(t, "scale", "check", path)
	if err != nil {
		t.Fatalf("scale check: %v", err)
	}
	if !strings.Contains(out, "Senior: 3 ranges, uncovered:") || !strings.Contains(out, "60-69") {
		t.Errorf("output = %q", out)
	}

	overlap := writeFile(t, dir, "overlap.json", `{"name": "Bad", "grade_ranges": [
		{"grade": "A", "min_score": 60, "max_score": 100}, {"grade": "B", "min_score": 50, "max_score": 65}]}`)
	if _, err := run(t, "scale", "check", overlap); err == nil {
		t.Error("expected error for overlapping ranges")
	}
}

func TestCommandsEndToEnd(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "gradebook.db")
	scale := writeFile(t, dir, "scale.json", scaleJSON)
	sheet := writeFile(t, dir, "sheet.json", sheetJSON)
	common := []string{"--db", db, "--school", "sch1", "--log-level", "error"}

	if _, err := run(t, append([]string{"scale", "add", scale, "--activate"}, common...)...); err != nil {
		t.Fatalf("scale add: %v", err)
	}
	if _, err := run(t, append([]string{"import", sheet}, common...)...); err != nil {
		t.Fatalf("import: %v", err)
	}

	out, err := run(t, append([]string{"rank", "--class", "jss1", "--term", "t1"}, common...)...)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	var sum model.ClassSummary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("rank output %q: %v", out, err)
	}
	if sum.RankedStudents != 2 || sum.GradeDistribution["A"] != 1 || sum.GradeDistribution["F"] != 1 {
		t.Errorf("summary = %+v", sum)
	}

	out, err = run(t, append([]string{"publish", "--class", "jss1", "--term", "t1"}, common...)...)
	if err != nil || !strings.HasPrefix(out, "2 results changed") {
		t.Errorf("publish = %q, %v", out, err)
	}

	exportPath := filepath.Join(dir, "export.json")
	if _, err := run(t, append([]string{"export", "--class", "jss1", "--term", "t1", "-o", exportPath}, common...)...); err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatal(err)
	}
	var exp model.ClassExport
	if err := json.Unmarshal(data, &exp); err != nil {
		t.Fatal(err)
	}
	if len(exp.Results) != 2 || !exp.Results[0].IsPublished {
		t.Errorf("export = %+v", exp)
	}

	xlsxPath := filepath.Join(dir, "broadsheet.xlsx")
	if _, err := run(t, append([]string{"export", "--class", "jss1", "--term", "t1", "-o", xlsxPath}, common...)...); err != nil {
		t.Fatalf("export xlsx: %v", err)
	}
	if data, err := os.ReadFile(xlsxPath); err != nil || !bytes.HasPrefix(data, []byte("PK")) {
		t.Errorf("broadsheet not written as XLSX: %v", err)
	}
	if _, err := run(t, append([]string{"export", "--class", "jss1", "--term", "t1", "--format", "csv"}, common...)...); err == nil {
		t.Error("expected error for unknown export format")
	}

	reports := filepath.Join(dir, "reports")
	if _, err := run(t, append([]string{"report", "--class", "jss1", "--term", "t1", "-o", reports}, common...)...); err != nil {
		t.Fatalf("report: %v", err)
	}
	files, err := filepath.Glob(filepath.Join(reports, "*.pdf"))
	if err != nil || len(files) != 2 {
		t.Errorf("report files = %v, %v", files, err)
	}

	if _, err := run(t, append([]string{"pull", "--class", "jss1", "--term", "t1"}, common...)...); err == nil {
		t.Error("pull without --api-url should fail")
	}
}
