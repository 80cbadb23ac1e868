package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/gradebook/internal/model"
)

// SetScheme stores the score scheme of a school. A non-empty termID stores a
// per-term override instead of the school default.
func (s *Store) SetScheme(schoolID, termID string, sc model.ScoreScheme) error {
	_, err := s.db.Exec(
		`INSERT INTO score_schemes (school_id, term_id, max_first_ca, max_second_ca, max_third_ca, max_exam, max_possible_total)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(school_id, term_id) DO UPDATE SET
			max_first_ca = excluded.max_first_ca,
			max_second_ca = excluded.max_second_ca,
			max_third_ca = excluded.max_third_ca,
			max_exam = excluded.max_exam,
			max_possible_total = excluded.max_possible_total`,
		schoolID, termID, sc.MaxFirstCA, sc.MaxSecondCA, sc.MaxThirdCA, sc.MaxExam, sc.MaxPossibleTotal,
	)
	return err
}

// Scheme returns the scheme in force for a school and term: the term
// override when one exists, otherwise the school default. ok is false when
// neither is configured.
func (s *Store) Scheme(schoolID, termID string) (sc model.ScoreScheme, ok bool, err error) {
	err = s.db.QueryRow(
		`SELECT max_first_ca, max_second_ca, max_third_ca, max_exam, max_possible_total
		 FROM score_schemes WHERE school_id = ? AND term_id IN (?, '')
		 ORDER BY term_id = '' LIMIT 1`, schoolID, termID,
	).Scan(&sc.MaxFirstCA, &sc.MaxSecondCA, &sc.MaxThirdCA, &sc.MaxExam, &sc.MaxPossibleTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, false, nil
	}
	return sc, err == nil, err
}

// UpsertBehavior stores a student's behavioural grade for a term.
func (s *Store) UpsertBehavior(b model.BehavioralGrade) error {
	criteria, err := json.Marshal(b.CriteriaGrades)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO behavioral_grades (student_id, term_id, criteria, total_points, average_grade, feedback)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(student_id, term_id) DO UPDATE SET
			criteria = excluded.criteria,
			total_points = excluded.total_points,
			average_grade = excluded.average_grade,
			feedback = excluded.feedback`,
		b.StudentID, b.TermID, string(criteria), b.TotalPoints, b.AverageGrade, b.Feedback,
	)
	return err
}

// GetBehavior returns a student's behavioural grade for a term, or nil if none was recorded.
func (s *Store) GetBehavior(studentID, termID string) (*model.BehavioralGrade, error) {
	b := model.BehavioralGrade{StudentID: studentID, TermID: termID}
	var criteria string
	err := s.db.QueryRow(
		`SELECT criteria, total_points, average_grade, feedback FROM behavioral_grades
		 WHERE student_id = ? AND term_id = ?`, studentID, termID,
	).Scan(&criteria, &b.TotalPoints, &b.AverageGrade, &b.Feedback)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(criteria), &b.CriteriaGrades); err != nil {
		return nil, fmt.Errorf("parse criteria: %w", err)
	}
	return &b, nil
}

// UpsertSchool caches a school record fetched from the REST API.
func (s *Store) UpsertSchool(sc model.School) error {
	_, err := s.db.Exec(
		`INSERT INTO schools (id, name, address, motto, logo_url) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, address = excluded.address,
			motto = excluded.motto, logo_url = excluded.logo_url`,
		sc.ID, sc.Name, sc.Address, sc.Motto, sc.LogoURL,
	)
	return err
}

// GetSchool returns a cached school.
func (s *Store) GetSchool(id string) (model.School, error) {
	var sc model.School
	err := s.db.QueryRow(`SELECT id, name, address, motto, logo_url FROM schools WHERE id = ?`, id).
		Scan(&sc.ID, &sc.Name, &sc.Address, &sc.Motto, &sc.LogoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, fmt.Errorf("school %s: %w", id, ErrNotFound)
	}
	return sc, err
}

// UpsertClass caches a class record.
func (s *Store) UpsertClass(c model.Class) error {
	_, err := s.db.Exec(
		`INSERT INTO classes (id, school_id, name) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET school_id = excluded.school_id, name = excluded.name`,
		c.ID, c.SchoolID, c.Name,
	)
	return err
}

// GetClass returns a cached class.
func (s *Store) GetClass(id string) (model.Class, error) {
	var c model.Class
	err := s.db.QueryRow(`SELECT id, school_id, name FROM classes WHERE id = ?`, id).
		Scan(&c.ID, &c.SchoolID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return c, fmt.Errorf("class %s: %w", id, ErrNotFound)
	}
	return c, err
}

// UpsertTerm caches a term record.
func (s *Store) UpsertTerm(t model.Term) error {
	next := ""
	if !t.NextTerm.IsZero() {
		next = t.NextTerm.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(
		`INSERT INTO terms (id, name, year, next_term) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, year = excluded.year, next_term = excluded.next_term`,
		t.ID, t.Name, t.Year, next,
	)
	return err
}

// GetTerm returns a cached term.
func (s *Store) GetTerm(id string) (model.Term, error) {
	var (
		t    model.Term
		next string
	)
	err := s.db.QueryRow(`SELECT id, name, year, next_term FROM terms WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Year, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return t, fmt.Errorf("term %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, err
	}
	if next != "" {
		if t.NextTerm, err = time.Parse(time.RFC3339, next); err != nil {
			return t, fmt.Errorf("parse next term date: %w", err)
		}
	}
	return t, nil
}

// UpsertStudent caches a student record.
func (s *Store) UpsertStudent(st model.Student) error {
	_, err := s.db.Exec(
		`INSERT INTO students (id, first_name, last_name, admission_no, gender, photo_url) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET first_name = excluded.first_name, last_name = excluded.last_name,
			admission_no = excluded.admission_no, gender = excluded.gender, photo_url = excluded.photo_url`,
		st.ID, st.FirstName, st.LastName, st.AdmissionNo, st.Gender, st.PhotoURL,
	)
	return err
}

// GetStudent returns a cached student.
func (s *Store) GetStudent(id string) (model.Student, error) {
	var st model.Student
	err := s.db.QueryRow(
		`SELECT id, first_name, last_name, admission_no, gender, photo_url FROM students WHERE id = ?`, id,
	).Scan(&st.ID, &st.FirstName, &st.LastName, &st.AdmissionNo, &st.Gender, &st.PhotoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fmt.Errorf("student %s: %w", id, ErrNotFound)
	}
	return st, err
}

// GetImportedFileHash returns the fingerprint recorded for an imported file,
// or an empty string if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the fingerprint of an imported file.
func (s *Store) SetImportedFileHash(path, hash string) error {
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, hash, imported_at) VALUES (?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = excluded.hash, imported_at = excluded.imported_at`,
		path, hash, time.Now().UTC(),
	)
	return err
}
