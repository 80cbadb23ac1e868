package results

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/gradebook/internal/assets"
	"github.com/pavelanni/gradebook/internal/grading"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/report"
	"github.com/pavelanni/gradebook/internal/scoring"
	"github.com/pavelanni/gradebook/internal/store"
	"github.com/pavelanni/gradebook/internal/validate"
)

func f(v float64) *float64 { return &v }

func testRanges() []model.GradeRange {
	return []model.GradeRange{
		{Grade: "A", MinScore: 70, MaxScore: 100, GradePoint: 5, Remark: "Excellent"},
		{Grade: "B", MinScore: 60, MaxScore: 69, GradePoint: 4, Remark: "Very Good"},
		{Grade: "C", MinScore: 50, MaxScore: 59, GradePoint: 3, Remark: "Credit"},
		{Grade: "F", MinScore: 0, MaxScore: 49, GradePoint: 0, Remark: "Fail"},
	}
}

func newTestService(t *testing.T, withScale bool) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if withScale {
		if _, err := st.CreateScale(model.GradeScale{SchoolID: "sch1", Name: "Senior", Ranges: testRanges()}, true); err != nil {
			t.Fatalf("CreateScale: %v", err)
		}
	}
	return New(st, nil, "sch1", scoring.Scheme100), st
}

// entry builds one subject result worth firstCA+exam marks.
func entry(student string, firstCA, exam float64) model.ResultImport {
	return model.ResultImport{
		StudentID: student,
		ClassID:   "jss1",
		TermID:    "t1",
		Subjects: []model.SubjectImport{{
			SubjectID:   "math",
			SubjectName: "Mathematics",
			Components:  model.Components{FirstCA: f(firstCA), Exam: f(exam)},
		}},
	}
}

func position(t *testing.T, r model.StudentResult) int {
	t.Helper()
	if r.Position == nil {
		t.Fatalf("student %s has no position", r.StudentID)
	}
	return *r.Position
}

func TestEnterRanksCohort(t *testing.T) {
	svc, st := newTestService(t, true)

	rows := []model.ResultImport{
		entry("s1", 10, 60),
		entry("s2", 10, 60),
		entry("s3", 5, 35),
	}
	for _, row := range rows {
		if _, err := svc.Enter(row); err != nil {
			t.Fatalf("Enter(%s): %v", row.StudentID, err)
		}
	}

	all, err := st.ListResults("jss1", "t1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	want := map[string]int{"s1": 1, "s2": 1, "s3": 3}
	for _, r := range all {
		if got := position(t, r); got != want[r.StudentID] {
			t.Errorf("%s position = %d, want %d", r.StudentID, got, want[r.StudentID])
		}
	}

	sum, err := svc.Summary("jss1", "t1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalStudents != 3 || sum.RankedStudents != 3 {
		t.Errorf("summary counts = %d/%d, want 3/3", sum.TotalStudents, sum.RankedStudents)
	}
	if sum.GradeDistribution["A"] != 2 || sum.GradeDistribution["F"] != 1 {
		t.Errorf("distribution = %v", sum.GradeDistribution)
	}
	if sum.HighestScore != 70 || sum.LowestScore != 40 {
		t.Errorf("highest/lowest = %v/%v, want 70/40", sum.HighestScore, sum.LowestScore)
	}
}

func TestEnterRerankOnUpdate(t *testing.T) {
	svc, _ := newTestService(t, true)

	if _, err := svc.Enter(entry("s1", 10, 60)); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if _, err := svc.Enter(entry("s2", 5, 40)); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	got, err := svc.Enter(entry("s2", 10, 70))
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if position(t, got) != 1 {
		t.Errorf("s2 position = %d, want 1", *got.Position)
	}
	if got.TotalScore != 80 || got.AverageScore != 80 {
		t.Errorf("s2 total/average = %v/%v, want 80/80", got.TotalScore, got.AverageScore)
	}
}

func TestEnterRejectsInvalid(t *testing.T) {
	dup := entry("s1", 5, 50)
	dup.Subjects = append(dup.Subjects, dup.Subjects[0])

	tests := []struct {
		name string
		in   model.ResultImport
	}{
		{"missing student", entry("", 5, 50)},
		{"missing class", func() model.ResultImport { r := entry("s1", 5, 50); r.ClassID = ""; return r }()},
		{"negative component", entry("s1", -1, 50)},
		{"component above maximum", entry("s1", 11, 50)},
		{"exam above maximum", entry("s1", 5, 71)},
		{"duplicate subject", dup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newTestService(t, true)
			_, err := svc.Enter(tt.in)
			var ve *validate.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			all, err := st.ListResults("jss1", "t1")
			if err != nil {
				t.Fatalf("ListResults: %v", err)
			}
			if len(all) != 0 {
				t.Errorf("stored %d results after rejected entry", len(all))
			}
		})
	}
}

func TestEnterFieldPath(t *testing.T) {
	svc, _ := newTestService(t, true)
	_, err := svc.Enter(entry("s1", 12, 50))
	var ve *validate.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(ve.Fields) != 1 || ve.Fields[0].Field != "subjects[0].components.first_ca" {
		t.Errorf("fields = %+v", ve.Fields)
	}
}

func TestRankWithoutScaleCountsUngraded(t *testing.T) {
	svc, _ := newTestService(t, false)

	n, err := svc.Import([]model.ResultImport{entry("s1", 10, 60), entry("s2", 5, 40)})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}
	sum, err := svc.Summary("jss1", "t1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Ungraded != 2 || sum.RankedStudents != 2 {
		t.Errorf("ungraded/ranked = %d/%d, want 2/2", sum.Ungraded, sum.RankedStudents)
	}
	if len(sum.GradeDistribution) != 0 {
		t.Errorf("distribution = %v, want empty", sum.GradeDistribution)
	}
}

func TestImportStopsAtInvalidRow(t *testing.T) {
	svc, st := newTestService(t, true)
	if _, err := svc.Enter(entry("s1", 5, 35)); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	n, err := svc.Import([]model.ResultImport{entry("s2", 10, 60), entry("s3", 50, 40)})
	if err == nil {
		t.Fatal("expected error for invalid row")
	}
	if n != 1 {
		t.Errorf("index = %d, want 1", n)
	}
	var ve *validate.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}

	all, err := st.ListResults("jss1", "t1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(all) != 1 || all[0].StudentID != "s1" {
		t.Fatalf("stored %+v, want only s1 (rejected batch stores nothing)", all)
	}
	if position(t, all[0]) != 1 {
		t.Errorf("s1 position = %d, want 1", *all[0].Position)
	}
	sum, err := svc.Summary("jss1", "t1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalStudents != 1 || sum.HighestScore != 40 {
		t.Errorf("summary = %+v, want one student at 40", sum)
	}
}

func TestPublish(t *testing.T) {
	svc, st := newTestService(t, true)
	if _, err := svc.Import([]model.ResultImport{entry("s1", 10, 60), entry("s2", 5, 40)}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	n, err := svc.Publish("jss1", "t1")
	if err != nil || n != 2 {
		t.Fatalf("Publish = %d, %v; want 2", n, err)
	}
	r, err := st.GetResult("jss1", "t1", "s1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if !r.IsPublished {
		t.Error("result not published")
	}
	// Reranking keeps the flag.
	if _, err := svc.Enter(entry("s1", 10, 70)); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if r, _ = st.GetResult("jss1", "t1", "s1"); !r.IsPublished {
		t.Error("publication lost after re-entry")
	}
	if n, err = svc.Unpublish("jss1", "t1"); err != nil || n != 2 {
		t.Fatalf("Unpublish = %d, %v; want 2", n, err)
	}
}

func TestSchemeOverride(t *testing.T) {
	svc, _ := newTestService(t, true)

	if err := svc.SetScheme("sch1", "", model.ScoreScheme{MaxExam: 0, MaxPossibleTotal: 100}); err == nil {
		t.Error("expected error for zero exam maximum")
	}
	if err := svc.SetScheme("sch1", "t1", scoring.Scheme160.ScoreScheme); err != nil {
		t.Fatalf("SetScheme: %v", err)
	}
	sc, err := svc.SchemeFor("sch1", "t1")
	if err != nil {
		t.Fatalf("SchemeFor: %v", err)
	}
	if sc.MaxPossibleTotal != 160 {
		t.Errorf("t1 max total = %v, want 160", sc.MaxPossibleTotal)
	}
	if sc, _ = svc.SchemeFor("sch1", "t2"); sc.MaxPossibleTotal != 100 {
		t.Errorf("t2 max total = %v, want default 100", sc.MaxPossibleTotal)
	}

	// 30 + 70 out of 160.
	got, err := svc.Enter(entry("s1", 30, 70))
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if got.AverageScore != 62.5 {
		t.Errorf("average = %v, want 62.5", got.AverageScore)
	}
}

func TestSetSchemeResummarizesStoredResults(t *testing.T) {
	svc, st := newTestService(t, true)
	for _, row := range []model.ResultImport{entry("s1", 10, 60), entry("s2", 5, 40)} {
		if _, err := svc.Enter(row); err != nil {
			t.Fatalf("Enter(%s): %v", row.StudentID, err)
		}
	}
	if err := svc.SetScheme("sch1", "", scoring.Scheme160.ScoreScheme); err != nil {
		t.Fatalf("SetScheme: %v", err)
	}
	r, err := st.GetResult("jss1", "t1", "s1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	// 70 out of 160.
	if r.AverageScore != 43.75 || r.TotalScore != 70 {
		t.Errorf("s1 total/average = %v/%v, want 70/43.75", r.TotalScore, r.AverageScore)
	}
	sum, err := svc.Summary("jss1", "t1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.HighestScore != 43.75 || sum.GradeDistribution["F"] != 2 || sum.GradeDistribution["A"] != 0 {
		t.Errorf("summary = %+v, want both students graded F", sum)
	}

	doc, err := svc.Document(context.Background(), "jss1", "t1", "s1")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Grade != "F" || doc.Rows[0].Percentage != doc.Result.AverageScore {
		t.Errorf("grade %s, row %v%% vs average %v%%", doc.Grade, doc.Rows[0].Percentage, doc.Result.AverageScore)
	}

	// A scheme for another term leaves t1 alone.
	if err := svc.SetScheme("sch1", "t2", scoring.Scheme100.ScoreScheme); err != nil {
		t.Fatalf("SetScheme(t2): %v", err)
	}
	if r, _ = st.GetResult("jss1", "t1", "s1"); r.AverageScore != 43.75 {
		t.Errorf("t1 average = %v after t2 override, want 43.75", r.AverageScore)
	}
}

func TestScaleChangesRerank(t *testing.T) {
	svc, _ := newTestService(t, false)
	if _, err := svc.Import([]model.ResultImport{entry("s1", 10, 60), entry("s2", 5, 40)}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	distribution := func() map[string]int {
		t.Helper()
		sum, err := svc.Summary("jss1", "t1")
		if err != nil {
			t.Fatalf("Summary: %v", err)
		}
		return sum.GradeDistribution
	}

	if _, err := svc.CreateScale(model.GradeScale{SchoolID: "sch1", Name: "Senior", Ranges: testRanges()}, true); err != nil {
		t.Fatalf("CreateScale: %v", err)
	}
	if d := distribution(); d["A"] != 1 || d["F"] != 1 {
		t.Errorf("after create+activate distribution = %v, want A:1 F:1", d)
	}

	pass, err := svc.CreateScale(model.GradeScale{SchoolID: "sch1", Name: "Pass", Ranges: []model.GradeRange{
		{Grade: "P", MinScore: 0, MaxScore: 100, Remark: "Pass"},
	}}, false)
	if err != nil {
		t.Fatalf("CreateScale: %v", err)
	}
	if d := distribution(); d["A"] != 1 {
		t.Errorf("inactive scale changed distribution to %v", d)
	}

	if _, err := svc.ActivateScale(pass.ID); err != nil {
		t.Fatalf("ActivateScale: %v", err)
	}
	if d := distribution(); d["P"] != 2 {
		t.Errorf("after activation distribution = %v, want P:2", d)
	}

	updated, err := svc.UpdateScale(model.GradeScale{ID: pass.ID, Name: "Pass/Fail", Ranges: []model.GradeRange{
		{Grade: "P", MinScore: 50, MaxScore: 100, Remark: "Pass"},
		{Grade: "X", MinScore: 0, MaxScore: 49, Remark: "Fail"},
	}}, false)
	if err != nil {
		t.Fatalf("UpdateScale: %v", err)
	}
	if !updated.IsActive {
		t.Error("update deactivated the scale")
	}
	if d := distribution(); d["P"] != 1 || d["X"] != 1 {
		t.Errorf("after updating the active scale distribution = %v, want P:1 X:1", d)
	}

	if _, err := svc.ActivateScale("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ActivateScale(missing) = %v, want ErrNotFound", err)
	}
}

type failingFetcher struct{ calls int }

func (f *failingFetcher) Image(context.Context, string) ([]byte, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestDocumentImageFailure(t *testing.T) {
	_, st := newTestService(t, true)
	fetch := &failingFetcher{}
	svc := New(st, assets.NewLoader(fetch), "sch1", scoring.Scheme100)
	if _, err := svc.Enter(entry("s1", 10, 60)); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	// No URLs configured: the report renders without images.
	if _, err := svc.Document(context.Background(), "jss1", "t1", "s1"); err != nil {
		t.Fatalf("Document without images: %v", err)
	}

	if err := st.UpsertStudent(model.Student{ID: "s1", FirstName: "Ada", PhotoURL: "https://cdn.example.com/s1.jpg"}); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		_, err := svc.Document(context.Background(), "jss1", "t1", "s1")
		var re *report.RenderError
		if !errors.As(err, &re) {
			t.Fatalf("err = %v, want RenderError", err)
		}
	}
	if fetch.calls != 2 {
		t.Errorf("fetches = %d, want 2 (failure not cached)", fetch.calls)
	}
}

func TestSetBehavior(t *testing.T) {
	svc, st := newTestService(t, true)
	b, err := svc.SetBehavior("s1", "t1", map[string]string{"punctuality": "a", "neatness": "B", "honesty": "C"}, " Good ")
	if err != nil {
		t.Fatalf("SetBehavior: %v", err)
	}
	if b.TotalPoints != 12 || b.AverageGrade != "B" {
		t.Errorf("points/average = %d/%s, want 12/B", b.TotalPoints, b.AverageGrade)
	}
	got, err := st.GetBehavior("s1", "t1")
	if err != nil || got == nil {
		t.Fatalf("GetBehavior = %v, %v", got, err)
	}
	if got.Feedback != "Good" {
		t.Errorf("feedback = %q", got.Feedback)
	}

	if _, err := svc.SetBehavior("s1", "t1", map[string]string{"honesty": "Z"}, ""); err == nil {
		t.Error("expected error for unknown letter")
	}
}

func TestDocument(t *testing.T) {
	svc, st := newTestService(t, true)
	if _, err := svc.Import([]model.ResultImport{entry("s1", 10, 60), entry("s2", 5, 40)}); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if err := st.UpsertStudent(model.Student{ID: "s1", FirstName: "Ada", LastName: "Obi"}); err != nil {
		t.Fatalf("UpsertStudent: %v", err)
	}

	doc, err := svc.Document(context.Background(), "jss1", "t1", "s1")
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.Meta.Student.FirstName != "Ada" {
		t.Errorf("student = %+v", doc.Meta.Student)
	}
	if doc.Meta.School.ID != "sch1" || doc.Meta.Class.ID != "jss1" {
		t.Errorf("school/class = %s/%s", doc.Meta.School.ID, doc.Meta.Class.ID)
	}
	if doc.Meta.ClassSize != 2 {
		t.Errorf("class size = %d, want 2", doc.Meta.ClassSize)
	}
	if doc.Grade != "A" || doc.Position != "1st" {
		t.Errorf("grade/position = %s/%s, want A/1st", doc.Grade, doc.Position)
	}
	if doc.Logo != nil || doc.Photo != nil {
		t.Error("images loaded without a loader")
	}

	if _, err := svc.Document(context.Background(), "jss1", "t1", "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown student err = %v, want ErrNotFound", err)
	}
}

func TestDocumentScaleGap(t *testing.T) {
	svc, st := newTestService(t, false)
	ranges := testRanges()
	ranges = append(ranges[:1], ranges[2:]...) // drop B
	if _, err := st.CreateScale(model.GradeScale{SchoolID: "sch1", Name: "Gappy", Ranges: ranges}, true); err != nil {
		t.Fatalf("CreateScale: %v", err)
	}
	if _, err := svc.Enter(entry("s1", 5, 60)); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	_, err := svc.Document(context.Background(), "jss1", "t1", "s1")
	var nm *grading.NoMatchingGradeError
	if !errors.As(err, &nm) {
		t.Errorf("err = %v, want NoMatchingGradeError", err)
	}
}

type fakeSource struct {
	results []model.ResultImport
	err     error
}

func (s fakeSource) School(_ context.Context, id string) (model.School, error) {
	return model.School{ID: id, Name: "Hill Top College"}, s.err
}

func (s fakeSource) Class(_ context.Context, id string) (model.Class, error) {
	return model.Class{ID: id, SchoolID: "sch1", Name: "JSS 1"}, nil
}

func (s fakeSource) Term(_ context.Context, id string) (model.Term, error) {
	return model.Term{ID: id, Name: "First Term", Year: "2025/2026", NextTerm: time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)}, nil
}

func (s fakeSource) Students(context.Context, string) ([]model.Student, error) {
	return []model.Student{{ID: "s1", FirstName: "Ada"}, {ID: "s2", FirstName: "Bola"}}, nil
}

func (s fakeSource) Subjects(context.Context, string) ([]model.Subject, error) {
	return []model.Subject{{ID: "math", Name: "Mathematics"}}, nil
}

func (s fakeSource) Results(context.Context, string, string) ([]model.ResultImport, error) {
	return s.results, nil
}

func TestPull(t *testing.T) {
	svc, st := newTestService(t, true)

	r1, r2 := entry("s1", 10, 60), entry("s2", 5, 40)
	r1.ClassID, r1.TermID = "", ""
	r2.Subjects[0].SubjectName = ""

	stats, err := svc.Pull(context.Background(), fakeSource{results: []model.ResultImport{r1, r2}}, "jss1", "t1")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if stats.Students != 2 || stats.Results != 2 || stats.Summary.RankedStudents != 2 {
		t.Errorf("stats = %+v", stats)
	}

	school, err := st.GetSchool("sch1")
	if err != nil || school.Name != "Hill Top College" {
		t.Errorf("cached school = %+v, %v", school, err)
	}
	term, err := st.GetTerm("t1")
	if err != nil || !term.NextTerm.Equal(time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("cached term = %+v, %v", term, err)
	}
	r, err := st.GetResult("jss1", "t1", "s2")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if r.SubjectScores[0].SubjectName != "Mathematics" {
		t.Errorf("subject name = %q, want filled from subject list", r.SubjectScores[0].SubjectName)
	}
}

func TestPullFailureStoresNothing(t *testing.T) {
	svc, st := newTestService(t, true)
	boom := errors.New("upstream down")

	_, err := svc.Pull(context.Background(), fakeSource{err: boom, results: []model.ResultImport{entry("s1", 10, 60)}}, "jss1", "t1")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, err := st.GetClass("jss1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("class cached after failed pull: %v", err)
	}
	all, _ := st.ListResults("jss1", "t1")
	if len(all) != 0 {
		t.Errorf("stored %d results after failed pull", len(all))
	}
}
