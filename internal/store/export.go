package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/gradebook/internal/model"
)

// ExportClass builds the export of a ranked class and term: every result,
// the summary of the last ranking run, and the scheme and scale in force.
func (s *Store) ExportClass(classID, termID string) (model.ClassExport, error) {
	exp := model.ClassExport{ClassID: classID, TermID: termID, ExportedAt: time.Now().UTC()}

	results, err := s.ListResults(classID, termID)
	if err != nil {
		return exp, fmt.Errorf("list results: %w", err)
	}
	if len(results) == 0 {
		return exp, fmt.Errorf("results for class %s term %s: %w", classID, termID, ErrNotFound)
	}
	exp.Results = results

	exp.Summary, err = s.GetSummary(classID, termID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return exp, fmt.Errorf("get summary: %w", err)
	}

	class, err := s.GetClass(classID)
	if errors.Is(err, ErrNotFound) {
		return exp, nil
	}
	if err != nil {
		return exp, fmt.Errorf("get class: %w", err)
	}
	if sc, ok, err := s.Scheme(class.SchoolID, termID); err != nil {
		return exp, fmt.Errorf("get scheme: %w", err)
	} else if ok {
		exp.Scheme = sc
	}
	scale, err := s.ActiveScale(class.SchoolID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return exp, fmt.Errorf("get active scale: %w", err)
	}
	exp.Scale = scale.Name
	return exp, nil
}
