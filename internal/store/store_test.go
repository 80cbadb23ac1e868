package store

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/validate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func f(v float64) *float64 { return &v }

func testRanges() []model.GradeRange {
	return []model.GradeRange{
		{Grade: "A", MinScore: 70, MaxScore: 100, GradePoint: 5, Remark: "Excellent", Color: "#16a34a"},
		{Grade: "B", MinScore: 60, MaxScore: 69, GradePoint: 4, Remark: "Very Good"},
		{Grade: "C", MinScore: 50, MaxScore: 59, GradePoint: 3, Remark: "Credit"},
		{Grade: "F", MinScore: 0, MaxScore: 49, GradePoint: 0, Remark: "Fail"},
	}
}

func createTestScale(t *testing.T, s *Store, school, name string, activate bool) model.GradeScale {
	t.Helper()
	sc, err := s.CreateScale(model.GradeScale{SchoolID: school, Name: name, Ranges: testRanges()}, activate)
	if err != nil {
		t.Fatalf("CreateScale: %v", err)
	}
	return sc
}

func activeIDs(t *testing.T, s *Store, school string) []string {
	t.Helper()
	scales, err := s.ListScales(school)
	if err != nil {
		t.Fatalf("ListScales: %v", err)
	}
	var ids []string
	for _, sc := range scales {
		if sc.IsActive {
			ids = append(ids, sc.ID)
		}
	}
	return ids
}

func TestScaleCRUD(t *testing.T) {
	s := newTestStore(t)

	sc := createTestScale(t, s, "sch1", "  Junior  ", false)
	if sc.ID == "" {
		t.Fatal("expected generated ID")
	}
	if sc.Name != "Junior" {
		t.Errorf("name = %q, want trimmed", sc.Name)
	}

	got, err := s.GetScale(sc.ID)
	if err != nil {
		t.Fatalf("GetScale: %v", err)
	}
	if len(got.Ranges) != 4 || got.Ranges[0].Grade != "A" || got.Ranges[0].Color != "#16a34a" {
		t.Errorf("ranges = %+v", got.Ranges)
	}
	if got.IsActive {
		t.Error("scale should not be active")
	}

	got.Name = "Junior 2"
	got.Ranges = got.Ranges[:2]
	got.Ranges[1].MinScore = 0
	if err := s.UpdateScale(got); err != nil {
		t.Fatalf("UpdateScale: %v", err)
	}
	got, _ = s.GetScale(sc.ID)
	if got.Name != "Junior 2" || len(got.Ranges) != 2 {
		t.Errorf("after update = %+v", got)
	}

	if _, err := s.GetScale("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetScale(missing) = %v, want ErrNotFound", err)
	}
	if err := s.UpdateScale(model.GradeScale{ID: "missing", Name: "x", Ranges: testRanges()}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateScale(missing) = %v, want ErrNotFound", err)
	}

	if err := s.DeleteScale(sc.ID); err != nil {
		t.Fatalf("DeleteScale: %v", err)
	}
	if _, err := s.GetScale(sc.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("after delete: %v", err)
	}
}

func TestCreateScaleRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	ranges := testRanges()
	ranges[1].MaxScore = 75 // overlaps A

	_, err := s.CreateScale(model.GradeScale{SchoolID: "sch1", Name: "Bad", Ranges: ranges}, true)
	var ve *validate.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	scales, _ := s.ListScales("sch1")
	if len(scales) != 0 {
		t.Errorf("invalid scale was stored: %+v", scales)
	}

	good := createTestScale(t, s, "sch1", "Good", true)
	good.Ranges = ranges
	if err := s.UpdateScale(good); !errors.As(err, &ve) {
		t.Errorf("UpdateScale error = %v, want ValidationError", err)
	}
}

func TestExactlyOneActiveScale(t *testing.T) {
	s := newTestStore(t)

	a := createTestScale(t, s, "sch1", "A", true)
	b := createTestScale(t, s, "sch1", "B", true)
	other := createTestScale(t, s, "sch2", "Other", true)

	if ids := activeIDs(t, s, "sch1"); len(ids) != 1 || ids[0] != b.ID {
		t.Errorf("active after create = %v, want [%s]", ids, b.ID)
	}

	if err := s.ActivateScale(a.ID); err != nil {
		t.Fatalf("ActivateScale: %v", err)
	}
	if ids := activeIDs(t, s, "sch1"); len(ids) != 1 || ids[0] != a.ID {
		t.Errorf("active after activate = %v, want [%s]", ids, a.ID)
	}
	if ids := activeIDs(t, s, "sch2"); len(ids) != 1 || ids[0] != other.ID {
		t.Errorf("other school changed: %v", ids)
	}

	active, err := s.ActiveScale("sch1")
	if err != nil {
		t.Fatalf("ActiveScale: %v", err)
	}
	if active.ID != a.ID || len(active.Ranges) != 4 {
		t.Errorf("ActiveScale = %+v", active)
	}

	if err := s.DeleteScale(a.ID); !errors.Is(err, ErrActiveScale) {
		t.Errorf("DeleteScale(active) = %v, want ErrActiveScale", err)
	}
	if err := s.ActivateScale("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActivateScale(missing) = %v, want ErrNotFound", err)
	}
	if _, err := s.ActiveScale("sch3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActiveScale(no scales) = %v, want ErrNotFound", err)
	}
}

func testResult(student string, exam float64) model.StudentResult {
	return model.StudentResult{
		StudentID: student, ClassID: "jss1", TermID: "t1",
		SubjectScores: []model.SubjectScore{
			{SubjectID: "math", SubjectName: "Mathematics", Components: model.Components{FirstCA: f(8), Exam: f(exam)}, Total: 8 + exam},
			{SubjectID: "eng", SubjectName: "English", Components: model.Components{SecondCA: f(7.5)}, Total: 7.5},
		},
		TotalScore:    15.5 + exam,
		AverageScore:  (15.5 + exam) / 2,
		TotalSubjects: 2,
		Attendance:    model.Attendance{DaysPresent: 50, DaysAbsent: 3, TimesLate: 1},
		Conduct:       model.Conduct{Grade: "A", TeacherComment: "Diligent"},
	}
}

func TestResultRoundTrip(t *testing.T) {
	s := newTestStore(t)

	in := testResult("s1", 60)
	if err := s.SaveResult(in); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	got, err := s.GetResult("jss1", "t1", "s1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if len(got.SubjectScores) != 2 || got.SubjectScores[0].SubjectID != "math" {
		t.Fatalf("subjects = %+v", got.SubjectScores)
	}
	c := got.SubjectScores[0].Components
	if c.FirstCA == nil || *c.FirstCA != 8 || c.SecondCA != nil || c.Exam == nil || *c.Exam != 60 {
		t.Errorf("components = %+v", c)
	}
	if e := got.SubjectScores[1].Components.SecondCA; e == nil || *e != 7.5 {
		t.Errorf("fractional component lost: %v", e)
	}
	if got.TotalScore != in.TotalScore || got.Attendance != in.Attendance || got.Conduct != in.Conduct {
		t.Errorf("result = %+v", got)
	}
	if got.Position != nil || got.IsPublished {
		t.Error("new result should be unranked and unpublished")
	}

	// Re-entry replaces subject lines.
	in.SubjectScores = in.SubjectScores[:1]
	if err := s.SaveResult(in); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetResult("jss1", "t1", "s1")
	if len(got.SubjectScores) != 1 {
		t.Errorf("subjects after re-entry = %d, want 1", len(got.SubjectScores))
	}

	if _, err := s.GetResult("jss1", "t1", "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetResult(missing) = %v, want ErrNotFound", err)
	}
}

func TestSaveRankingOverwrites(t *testing.T) {
	s := newTestStore(t)
	for i, id := range []string{"s1", "s2", "s3"} {
		if err := s.SaveResult(testResult(id, float64(50+i))); err != nil {
			t.Fatal(err)
		}
	}

	pos := func(n int) *int { return &n }
	first := []model.StudentResult{
		{StudentID: "s1", Position: pos(3)},
		{StudentID: "s2", Position: pos(2)},
		{StudentID: "s3", Position: pos(1)},
	}
	sum := model.ClassSummary{
		ClassID: "jss1", TermID: "t1", AverageScore: 40, HighestScore: 41, LowestScore: 39,
		TotalStudents: 3, RankedStudents: 3, GradeDistribution: map[string]int{"F": 3},
		ComputedAt: time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := s.SaveRanking("jss1", "t1", first, sum); err != nil {
		t.Fatalf("SaveRanking: %v", err)
	}

	// A second run that leaves s1 unranked must clear its old position.
	second := []model.StudentResult{
		{StudentID: "s1"},
		{StudentID: "s2", Position: pos(1)},
		{StudentID: "s3", Position: pos(1)},
	}
	sum.RankedStudents = 2
	sum.GradeDistribution = map[string]int{"F": 2}
	if err := s.SaveRanking("jss1", "t1", second, sum); err != nil {
		t.Fatal(err)
	}

	results, err := s.ListResults("jss1", "t1")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	want := map[string]*int{"s1": nil, "s2": pos(1), "s3": pos(1)}
	for _, r := range results {
		w := want[r.StudentID]
		if (w == nil) != (r.Position == nil) || (w != nil && *w != *r.Position) {
			t.Errorf("%s position = %v, want %v", r.StudentID, r.Position, w)
		}
		if len(r.SubjectScores) != 2 {
			t.Errorf("%s subjects = %d, want 2", r.StudentID, len(r.SubjectScores))
		}
	}

	got, err := s.GetSummary("jss1", "t1")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if got.RankedStudents != 2 || got.GradeDistribution["F"] != 2 || got.HighestScore != 41 {
		t.Errorf("summary = %+v", got)
	}
	if _, err := s.GetSummary("jss1", "t9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSummary(missing) = %v", err)
	}
}

func TestSetPublished(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"s1", "s2"} {
		if err := s.SaveResult(testResult(id, 40)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.SetPublished("jss1", "t1", true)
	if err != nil || n != 2 {
		t.Fatalf("publish = %d, %v; want 2", n, err)
	}
	n, _ = s.SetPublished("jss1", "t1", true)
	if n != 0 {
		t.Errorf("republish changed %d rows, want 0", n)
	}

	// Re-entering a result keeps it published.
	if err := s.SaveResult(testResult("s1", 45)); err != nil {
		t.Fatal(err)
	}
	r, _ := s.GetResult("jss1", "t1", "s1")
	if !r.IsPublished {
		t.Error("re-entry unpublished the result")
	}

	n, _ = s.SetPublished("jss1", "t1", false)
	if n != 2 {
		t.Errorf("unpublish changed %d rows, want 2", n)
	}
}

func TestScheme(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.Scheme("sch1", "t1"); ok || err != nil {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	def := model.ScoreScheme{MaxFirstCA: 10, MaxSecondCA: 10, MaxThirdCA: 10, MaxExam: 70, MaxPossibleTotal: 100}
	override := model.ScoreScheme{MaxFirstCA: 30, MaxSecondCA: 30, MaxThirdCA: 30, MaxExam: 70, MaxPossibleTotal: 160}
	if err := s.SetScheme("sch1", "", def); err != nil {
		t.Fatal(err)
	}
	if err := s.SetScheme("sch1", "t2", override); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		term string
		want model.ScoreScheme
	}{
		{"t1", def},
		{"t2", override},
		{"", def},
	}
	for _, tt := range tests {
		got, ok, err := s.Scheme("sch1", tt.term)
		if err != nil || !ok || got != tt.want {
			t.Errorf("Scheme(%q) = %+v, %v, %v; want %+v", tt.term, got, ok, err, tt.want)
		}
	}
}

func TestBehavior(t *testing.T) {
	s := newTestStore(t)

	b, err := s.GetBehavior("s1", "t1")
	if err != nil || b != nil {
		t.Fatalf("GetBehavior on empty = %v, %v", b, err)
	}

	in := model.BehavioralGrade{
		StudentID: "s1", TermID: "t1",
		CriteriaGrades: map[string]string{"punctuality": "A", "neatness": "B"},
		TotalPoints:    9, AverageGrade: "A", Feedback: "Well behaved",
	}
	if err := s.UpsertBehavior(in); err != nil {
		t.Fatal(err)
	}
	b, err = s.GetBehavior("s1", "t1")
	if err != nil || b == nil {
		t.Fatalf("GetBehavior = %v, %v", b, err)
	}
	if b.TotalPoints != 9 || b.CriteriaGrades["neatness"] != "B" || b.Feedback != "Well behaved" {
		t.Errorf("behavior = %+v", b)
	}
}

func TestMetadataCache(t *testing.T) {
	s := newTestStore(t)
	next := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)

	if err := s.UpsertSchool(model.School{ID: "sch1", Name: "Unity College", Motto: "Light"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertClass(model.Class{ID: "jss1", SchoolID: "sch1", Name: "JSS 1A"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertTerm(model.Term{ID: "t1", Name: "First Term", Year: "2025/2026", NextTerm: next}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertStudent(model.Student{ID: "s1", FirstName: "Ada", LastName: "Obi"}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertStudent(model.Student{ID: "s1", FirstName: "Ada", LastName: "Obi-Okafor"}); err != nil {
		t.Fatal(err)
	}

	if sc, err := s.GetSchool("sch1"); err != nil || sc.Motto != "Light" {
		t.Errorf("GetSchool = %+v, %v", sc, err)
	}
	if c, err := s.GetClass("jss1"); err != nil || c.SchoolID != "sch1" {
		t.Errorf("GetClass = %+v, %v", c, err)
	}
	if tm, err := s.GetTerm("t1"); err != nil || !tm.NextTerm.Equal(next) {
		t.Errorf("GetTerm = %+v, %v", tm, err)
	}
	if st, err := s.GetStudent("s1"); err != nil || st.LastName != "Obi-Okafor" {
		t.Errorf("GetStudent = %+v, %v", st, err)
	}
	if _, err := s.GetStudent("s2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetStudent(missing) = %v", err)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)

	hash, err := s.GetImportedFileHash("results/jss1.json")
	if err != nil || hash != "" {
		t.Fatalf("unknown file: %q, %v", hash, err)
	}
	if err := s.SetImportedFileHash("results/jss1.json", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetImportedFileHash("results/jss1.json", "def"); err != nil {
		t.Fatal(err)
	}
	hash, _ = s.GetImportedFileHash("results/jss1.json")
	if hash != "def" {
		t.Errorf("hash = %q, want def", hash)
	}
}

func TestExportClass(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.ExportClass("jss1", "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("export of empty class = %v, want ErrNotFound", err)
	}

	s.UpsertClass(model.Class{ID: "jss1", SchoolID: "sch1", Name: "JSS 1A"})
	s.SetScheme("sch1", "", model.ScoreScheme{MaxFirstCA: 10, MaxSecondCA: 10, MaxThirdCA: 10, MaxExam: 70, MaxPossibleTotal: 100})
	createTestScale(t, s, "sch1", "Senior", true)
	if err := s.SaveResult(testResult("s1", 50)); err != nil {
		t.Fatal(err)
	}

	exp, err := s.ExportClass("jss1", "t1")
	if err != nil {
		t.Fatalf("ExportClass: %v", err)
	}
	if len(exp.Results) != 1 || exp.Scale != "Senior" || exp.Scheme.MaxPossibleTotal != 100 {
		t.Errorf("export = %+v", exp)
	}
}

func TestCohorts(t *testing.T) {
	s := newTestStore(t)
	if got, err := s.Cohorts(); err != nil || len(got) != 0 {
		t.Fatalf("Cohorts on empty store = %v, %v", got, err)
	}
	for _, r := range []model.StudentResult{
		{StudentID: "s1", ClassID: "jss2", TermID: "t1"},
		{StudentID: "s2", ClassID: "jss1", TermID: "t2"},
		{StudentID: "s3", ClassID: "jss1", TermID: "t1"},
		{StudentID: "s4", ClassID: "jss1", TermID: "t1"},
	} {
		if err := s.SaveResult(r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Cohorts()
	if err != nil {
		t.Fatalf("Cohorts: %v", err)
	}
	want := []Cohort{{"jss1", "t1"}, {"jss1", "t2"}, {"jss2", "t1"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Cohorts = %v, want %v", got, want)
	}
}
