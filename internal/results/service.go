// Package results runs the result pipeline for a class and term: score
// entry, aggregation, grade resolution, ranking, publication and report
// assembly.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/gradebook/internal/assets"
	"github.com/pavelanni/gradebook/internal/grading"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/ranking"
	"github.com/pavelanni/gradebook/internal/report"
	"github.com/pavelanni/gradebook/internal/scoring"
	"github.com/pavelanni/gradebook/internal/store"
	"github.com/pavelanni/gradebook/internal/validate"
)

// Service holds the dependencies of the pipeline.
type Service struct {
	store         *store.Store
	images        *assets.Loader
	schoolID      string
	defaultScheme scoring.Scheme
}

// New creates a Service. schoolID is used for classes whose school is not
// known to the store; scheme applies to schools without a configured scheme.
func New(s *store.Store, images *assets.Loader, schoolID string, scheme scoring.Scheme) *Service {
	return &Service{store: s, images: images, schoolID: schoolID, defaultScheme: scheme}
}

// SchoolFor returns the school a class belongs to.
func (s *Service) SchoolFor(classID string) (string, error) {
	c, err := s.store.GetClass(classID)
	if errors.Is(err, store.ErrNotFound) {
		return s.schoolID, nil
	}
	if err != nil {
		return "", err
	}
	return c.SchoolID, nil
}

// SchemeFor returns the score scheme in force for a school and term.
func (s *Service) SchemeFor(schoolID, termID string) (scoring.Scheme, error) {
	sc, ok, err := s.store.Scheme(schoolID, termID)
	if err != nil {
		return scoring.Scheme{}, fmt.Errorf("load score scheme: %w", err)
	}
	if !ok {
		return s.defaultScheme, nil
	}
	return scoring.NewScheme(sc)
}

// SetScheme validates and stores a school's scheme, or a term override when
// termID is set. Stored results the scheme now governs are summarized again
// and their classes reranked.
func (s *Service) SetScheme(schoolID, termID string, sc model.ScoreScheme) error {
	if _, err := scoring.NewScheme(sc); err != nil {
		return err
	}
	if err := s.store.SetScheme(schoolID, termID, sc); err != nil {
		return err
	}
	cohorts, err := s.cohorts(schoolID)
	if err != nil {
		return err
	}
	for _, c := range cohorts {
		if termID != "" && c.TermID != termID {
			continue
		}
		if err := s.resummarize(schoolID, c); err != nil {
			return err
		}
	}
	return nil
}

// resummarize recomputes the stored results of a class and term under the
// scheme in force and reranks it.
func (s *Service) resummarize(schoolID string, c store.Cohort) error {
	scheme, err := s.SchemeFor(schoolID, c.TermID)
	if err != nil {
		return err
	}
	all, err := s.store.ListResults(c.ClassID, c.TermID)
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}
	for _, r := range all {
		if err := s.store.SaveResult(scheme.Summarize(r)); err != nil {
			return fmt.Errorf("save result for %s: %w", r.StudentID, err)
		}
	}
	_, err = s.Rank(c.ClassID, c.TermID)
	return err
}

// cohorts lists the classes and terms with stored results that belong to a
// school.
func (s *Service) cohorts(schoolID string) ([]store.Cohort, error) {
	all, err := s.store.Cohorts()
	if err != nil {
		return nil, fmt.Errorf("list cohorts: %w", err)
	}
	var out []store.Cohort
	for _, c := range all {
		owner, err := s.SchoolFor(c.ClassID)
		if err != nil {
			return nil, err
		}
		if owner == schoolID {
			out = append(out, c)
		}
	}
	return out, nil
}

// rerankSchool reranks every class and term of a school, after its active
// grade scale changed.
func (s *Service) rerankSchool(schoolID string) error {
	cohorts, err := s.cohorts(schoolID)
	if err != nil {
		return err
	}
	for _, c := range cohorts {
		if _, err := s.Rank(c.ClassID, c.TermID); err != nil {
			return err
		}
	}
	return nil
}

// CreateScale stores a new grade scale. Activating it reranks the school.
func (s *Service) CreateScale(sc model.GradeScale, activate bool) (model.GradeScale, error) {
	created, err := s.store.CreateScale(sc, activate)
	if err != nil {
		return created, err
	}
	if created.IsActive {
		if err := s.rerankSchool(created.SchoolID); err != nil {
			return created, err
		}
	}
	return created, nil
}

// UpdateScale replaces the name and ranges of a scale and optionally
// activates it. The school is reranked when the scale ends up active.
func (s *Service) UpdateScale(sc model.GradeScale, activate bool) (model.GradeScale, error) {
	if err := s.store.UpdateScale(sc); err != nil {
		return model.GradeScale{}, err
	}
	if activate {
		if err := s.store.ActivateScale(sc.ID); err != nil {
			return model.GradeScale{}, err
		}
	}
	updated, err := s.store.GetScale(sc.ID)
	if err != nil {
		return model.GradeScale{}, err
	}
	if updated.IsActive {
		if err := s.rerankSchool(updated.SchoolID); err != nil {
			return updated, err
		}
	}
	return updated, nil
}

// ActivateScale makes a scale the active one of its school and reranks the
// school under it.
func (s *Service) ActivateScale(id string) (model.GradeScale, error) {
	if err := s.store.ActivateScale(id); err != nil {
		return model.GradeScale{}, err
	}
	sc, err := s.store.GetScale(id)
	if err != nil {
		return model.GradeScale{}, err
	}
	return sc, s.rerankSchool(sc.SchoolID)
}

// Enter validates one student's scores, stores the recomputed result and
// reranks the class. The stored result is returned with its new position.
func (s *Service) Enter(in model.ResultImport) (model.StudentResult, error) {
	r, err := s.prepare(in)
	if err != nil {
		return model.StudentResult{}, err
	}
	if err := s.store.SaveResult(r); err != nil {
		return model.StudentResult{}, fmt.Errorf("save result for %s: %w", in.StudentID, err)
	}
	if _, err := s.Rank(in.ClassID, in.TermID); err != nil {
		return model.StudentResult{}, err
	}
	return s.store.GetResult(in.ClassID, in.TermID, in.StudentID)
}

// prepare validates one student's scores and computes the result to store.
func (s *Service) prepare(in model.ResultImport) (model.StudentResult, error) {
	if err := validate.Struct(in); err != nil {
		return model.StudentResult{}, err
	}
	schoolID, err := s.SchoolFor(in.ClassID)
	if err != nil {
		return model.StudentResult{}, err
	}
	scheme, err := s.SchemeFor(schoolID, in.TermID)
	if err != nil {
		return model.StudentResult{}, err
	}

	r := model.StudentResult{
		StudentID:  in.StudentID,
		ClassID:    in.ClassID,
		TermID:     in.TermID,
		Attendance: in.Attendance,
		Conduct:    in.Conduct,
	}
	seen := make(map[string]bool, len(in.Subjects))
	for i, sub := range in.Subjects {
		if seen[sub.SubjectID] {
			msg := fmt.Sprintf("subject %s entered twice", sub.SubjectID)
			return model.StudentResult{}, validate.New(msg, validate.FieldError{Field: fmt.Sprintf("subjects[%d].subject_id", i), Error: msg})
		}
		seen[sub.SubjectID] = true
		if err := scheme.CheckEntry(sub.Components); err != nil {
			var ve *validate.ValidationError
			if errors.As(err, &ve) {
				for j := range ve.Fields {
					ve.Fields[j].Field = fmt.Sprintf("subjects[%d].components.%s", i, ve.Fields[j].Field)
				}
				ve.Err = fmt.Errorf("subject %s: %w", sub.SubjectID, ve.Err)
			}
			return model.StudentResult{}, err
		}
		name := strings.TrimSpace(sub.SubjectName)
		if name == "" {
			name = sub.SubjectID
		}
		r.SubjectScores = append(r.SubjectScores, scoring.SubjectScore(sub.SubjectID, name, sub.Components))
	}

	return scheme.Summarize(r), nil
}

// Rank recomputes positions and the class summary from the stored results.
// Without an active scale every ranked student is counted as ungraded.
func (s *Service) Rank(classID, termID string) (model.ClassSummary, error) {
	all, err := s.store.ListResults(classID, termID)
	if err != nil {
		return model.ClassSummary{}, fmt.Errorf("list results: %w", err)
	}
	schoolID, err := s.SchoolFor(classID)
	if err != nil {
		return model.ClassSummary{}, err
	}

	var resolve ranking.ResolveFunc
	scale, err := s.store.ActiveScale(schoolID)
	switch {
	case err == nil:
		resolve = grading.Resolver(scale)
	case errors.Is(err, store.ErrNotFound):
		slog.Warn("ranking without an active grade scale", "school_id", schoolID, "class_id", classID, "term_id", termID)
		resolve = func(float64) (string, error) { return "", err }
	default:
		return model.ClassSummary{}, err
	}

	ranked, summary := ranking.Rank(all, resolve)
	summary.ClassID, summary.TermID = classID, termID
	summary.ComputedAt = time.Now().UTC()
	if err := s.store.SaveRanking(classID, termID, ranked, summary); err != nil {
		return model.ClassSummary{}, fmt.Errorf("save ranking: %w", err)
	}
	slog.Info("ranked class", "class_id", classID, "term_id", termID,
		"students", summary.TotalStudents, "ranked", summary.RankedStudents, "ungraded", summary.Ungraded)
	return summary, nil
}

// Summary returns the class summary of the last ranking run.
func (s *Service) Summary(classID, termID string) (model.ClassSummary, error) {
	return s.store.GetSummary(classID, termID)
}

// Publish reranks the class and term, then makes every result visible to
// students and parents.
func (s *Service) Publish(classID, termID string) (int64, error) {
	if _, err := s.Rank(classID, termID); err != nil {
		return 0, err
	}
	n, err := s.store.SetPublished(classID, termID, true)
	if err == nil {
		slog.Info("published results", "class_id", classID, "term_id", termID, "changed", n)
	}
	return n, err
}

// Unpublish reverts Publish.
func (s *Service) Unpublish(classID, termID string) (int64, error) {
	n, err := s.store.SetPublished(classID, termID, false)
	if err == nil {
		slog.Info("unpublished results", "class_id", classID, "term_id", termID, "changed", n)
	}
	return n, err
}

// Import stores a batch of result rows and reranks every class and term
// touched. Every row is validated before anything is stored; the first
// invalid row rejects the batch and is reported with its index. When a store
// write fails part way, the rows already written are ranked before the error
// is returned with the index of the failing row.
func (s *Service) Import(rows []model.ResultImport) (int, error) {
	prepared := make([]model.StudentResult, len(rows))
	for i, row := range rows {
		r, err := s.prepare(row)
		if err != nil {
			return i, fmt.Errorf("row %d (student %s): %w", i, row.StudentID, err)
		}
		prepared[i] = r
	}

	var (
		cohorts []store.Cohort
		seen    = make(map[store.Cohort]bool)
		saveErr error
		saved   int
	)
	for _, r := range prepared {
		if err := s.store.SaveResult(r); err != nil {
			saveErr = fmt.Errorf("row %d (student %s): save result: %w", saved, r.StudentID, err)
			break
		}
		saved++
		c := store.Cohort{ClassID: r.ClassID, TermID: r.TermID}
		if !seen[c] {
			seen[c] = true
			cohorts = append(cohorts, c)
		}
	}
	for _, c := range cohorts {
		if _, err := s.Rank(c.ClassID, c.TermID); err != nil {
			return saved, errors.Join(saveErr, err)
		}
	}
	if saveErr != nil {
		return saved, saveErr
	}
	return len(rows), nil
}

// SetBehavior computes and stores a student's behavioural grade.
func (s *Service) SetBehavior(studentID, termID string, criteria map[string]string, feedback string) (model.BehavioralGrade, error) {
	b, err := grading.ComputeBehavior(studentID, termID, criteria, feedback)
	if err != nil {
		return b, err
	}
	return b, s.store.UpsertBehavior(b)
}

// Document assembles the report document of one student. Metadata missing
// from the store is left blank rather than failing the report. A configured
// logo or photo that cannot be loaded fails it with a RenderError.
func (s *Service) Document(ctx context.Context, classID, termID, studentID string) (report.Document, error) {
	res, err := s.store.GetResult(classID, termID, studentID)
	if err != nil {
		return report.Document{}, fmt.Errorf("result of student %s: %w", studentID, err)
	}
	schoolID, err := s.SchoolFor(classID)
	if err != nil {
		return report.Document{}, err
	}
	scale, err := s.store.ActiveScale(schoolID)
	if err != nil {
		return report.Document{}, err
	}
	scheme, err := s.SchemeFor(schoolID, termID)
	if err != nil {
		return report.Document{}, err
	}

	meta := model.ReportMeta{
		School:  model.School{ID: schoolID},
		Class:   model.Class{ID: classID, SchoolID: schoolID},
		Term:    model.Term{ID: termID},
		Student: model.Student{ID: studentID},
	}
	if v, err := s.store.GetSchool(schoolID); optional(err) != nil {
		return report.Document{}, err
	} else if err == nil {
		meta.School = v
	}
	if v, err := s.store.GetClass(classID); optional(err) != nil {
		return report.Document{}, err
	} else if err == nil {
		meta.Class = v
	}
	if v, err := s.store.GetTerm(termID); optional(err) != nil {
		return report.Document{}, err
	} else if err == nil {
		meta.Term = v
	}
	if v, err := s.store.GetStudent(studentID); optional(err) != nil {
		return report.Document{}, err
	} else if err == nil {
		meta.Student = v
	}
	if meta.Behavior, err = s.store.GetBehavior(studentID, termID); err != nil {
		return report.Document{}, err
	}
	if sum, err := s.store.GetSummary(classID, termID); err == nil {
		meta.ClassSize = sum.TotalStudents
	} else if !errors.Is(err, store.ErrNotFound) {
		return report.Document{}, err
	}

	doc, err := report.Build(res, meta, scale, scheme)
	if err != nil {
		return report.Document{}, err
	}
	if doc.Logo, err = s.images.Load(ctx, meta.School.LogoURL); err != nil {
		return report.Document{}, &report.RenderError{Op: "school logo", Err: err}
	}
	if doc.Photo, err = s.images.Load(ctx, meta.Student.PhotoURL); err != nil {
		return report.Document{}, &report.RenderError{Op: "student photo", Err: err}
	}
	return doc, nil
}

// optional drops ErrNotFound from a metadata read.
func optional(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
