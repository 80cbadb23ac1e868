package results

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelanni/gradebook/internal/model"
)

// Source is the result-data API a class is pulled from.
type Source interface {
	School(ctx context.Context, id string) (model.School, error)
	Class(ctx context.Context, id string) (model.Class, error)
	Term(ctx context.Context, id string) (model.Term, error)
	Students(ctx context.Context, classID string) ([]model.Student, error)
	Subjects(ctx context.Context, classID string) ([]model.Subject, error)
	Results(ctx context.Context, classID, termID string) ([]model.ResultImport, error)
}

// PullStats reports what a Pull stored.
type PullStats struct {
	Students int                `json:"students"`
	Results  int                `json:"results"`
	Summary  model.ClassSummary `json:"summary"`
}

// Pull fetches a class and term from src, caches the report metadata and
// imports the raw scores. Nothing is stored if any fetch fails.
func (s *Service) Pull(ctx context.Context, src Source, classID, termID string) (PullStats, error) {
	class, err := src.Class(ctx, classID)
	if err != nil {
		return PullStats{}, err
	}
	if class.ID == "" {
		class.ID = classID
	}
	if class.SchoolID == "" {
		class.SchoolID = s.schoolID
	}
	school, err := src.School(ctx, class.SchoolID)
	if err != nil {
		return PullStats{}, err
	}
	term, err := src.Term(ctx, termID)
	if err != nil {
		return PullStats{}, err
	}
	if term.ID == "" {
		term.ID = termID
	}
	students, err := src.Students(ctx, classID)
	if err != nil {
		return PullStats{}, err
	}
	subjects, err := src.Subjects(ctx, classID)
	if err != nil {
		return PullStats{}, err
	}
	rows, err := src.Results(ctx, classID, termID)
	if err != nil {
		return PullStats{}, err
	}

	if err := s.store.UpsertSchool(school); err != nil {
		return PullStats{}, fmt.Errorf("cache school: %w", err)
	}
	if err := s.store.UpsertClass(class); err != nil {
		return PullStats{}, fmt.Errorf("cache class: %w", err)
	}
	if err := s.store.UpsertTerm(term); err != nil {
		return PullStats{}, fmt.Errorf("cache term: %w", err)
	}
	for _, st := range students {
		if err := s.store.UpsertStudent(st); err != nil {
			return PullStats{}, fmt.Errorf("cache student %s: %w", st.ID, err)
		}
	}

	names := make(map[string]string, len(subjects))
	for _, sub := range subjects {
		names[sub.ID] = sub.Name
	}
	for i := range rows {
		rows[i].ClassID, rows[i].TermID = classID, termID
		for j := range rows[i].Subjects {
			sub := &rows[i].Subjects[j]
			if sub.SubjectName == "" {
				sub.SubjectName = names[sub.SubjectID]
			}
		}
	}

	stats := PullStats{Students: len(students)}
	if len(rows) == 0 {
		slog.Warn("no results to pull", "class_id", classID, "term_id", termID)
		return stats, nil
	}
	if stats.Results, err = s.Import(rows); err != nil {
		return stats, err
	}
	stats.Summary, err = s.store.GetSummary(classID, termID)
	return stats, err
}
