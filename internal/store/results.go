package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/gradebook/internal/model"
)

// SaveResult stores a student's result and replaces its subject lines. The
// stored position and publication flag are left alone; ranking and
// publishing own those.
func (s *Store) SaveResult(r model.StudentResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(
		`INSERT INTO student_results (class_id, term_id, student_id, total_score, average_score, total_subjects,
			days_present, days_absent, times_late, conduct_grade, teacher_comment, principal_comment, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(class_id, term_id, student_id) DO UPDATE SET
			total_score = excluded.total_score,
			average_score = excluded.average_score,
			total_subjects = excluded.total_subjects,
			days_present = excluded.days_present,
			days_absent = excluded.days_absent,
			times_late = excluded.times_late,
			conduct_grade = excluded.conduct_grade,
			teacher_comment = excluded.teacher_comment,
			principal_comment = excluded.principal_comment,
			updated_at = excluded.updated_at`,
		r.ClassID, r.TermID, r.StudentID, r.TotalScore, r.AverageScore, r.TotalSubjects,
		r.Attendance.DaysPresent, r.Attendance.DaysAbsent, r.Attendance.TimesLate,
		r.Conduct.Grade, r.Conduct.TeacherComment, r.Conduct.PrincipalComment, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	if _, err := tx.Exec(
		`DELETE FROM subject_scores WHERE class_id = ? AND term_id = ? AND student_id = ?`,
		r.ClassID, r.TermID, r.StudentID,
	); err != nil {
		return err
	}
	for i, ss := range r.SubjectScores {
		c := ss.Components
		_, err := tx.Exec(
			`INSERT INTO subject_scores (class_id, term_id, student_id, subject_id, ord, subject_name,
				first_ca, second_ca, third_ca, exam, total)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ClassID, r.TermID, r.StudentID, ss.SubjectID, i, ss.SubjectName,
			c.FirstCA, c.SecondCA, c.ThirdCA, c.Exam, ss.Total,
		)
		if err != nil {
			return fmt.Errorf("insert subject %s: %w", ss.SubjectID, err)
		}
	}
	return tx.Commit()
}

const resultColumns = `class_id, term_id, student_id, total_score, average_score, position, total_subjects,
	days_present, days_absent, times_late, conduct_grade, teacher_comment, principal_comment,
	is_published, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (model.StudentResult, error) {
	var (
		r   model.StudentResult
		pos sql.NullInt64
	)
	err := row.Scan(&r.ClassID, &r.TermID, &r.StudentID, &r.TotalScore, &r.AverageScore, &pos, &r.TotalSubjects,
		&r.Attendance.DaysPresent, &r.Attendance.DaysAbsent, &r.Attendance.TimesLate,
		&r.Conduct.Grade, &r.Conduct.TeacherComment, &r.Conduct.PrincipalComment,
		&r.IsPublished, &r.UpdatedAt)
	if pos.Valid {
		p := int(pos.Int64)
		r.Position = &p
	}
	return r, err
}

// GetResult returns one student's result with its subject lines.
func (s *Store) GetResult(classID, termID, studentID string) (model.StudentResult, error) {
	r, err := scanResult(s.db.QueryRow(
		`SELECT `+resultColumns+` FROM student_results WHERE class_id = ? AND term_id = ? AND student_id = ?`,
		classID, termID, studentID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	subjects, err := s.subjectScores(classID, termID)
	if err != nil {
		return r, err
	}
	r.SubjectScores = subjects[studentID]
	return r, nil
}

// ListResults returns every result of a class and term, ordered by student ID.
func (s *Store) ListResults(classID, termID string) ([]model.StudentResult, error) {
	rows, err := s.db.Query(
		`SELECT `+resultColumns+` FROM student_results WHERE class_id = ? AND term_id = ? ORDER BY student_id`,
		classID, termID,
	)
	if err != nil {
		return nil, err
	}
	var results []model.StudentResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		results = append(results, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subjects, err := s.subjectScores(classID, termID)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].SubjectScores = subjects[results[i].StudentID]
	}
	return results, nil
}

// Cohort is one class in one term.
type Cohort struct {
	ClassID string
	TermID  string
}

// Cohorts lists every class and term that has stored results.
func (s *Store) Cohorts() ([]Cohort, error) {
	rows, err := s.db.Query(`SELECT DISTINCT class_id, term_id FROM student_results ORDER BY class_id, term_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Cohort
	for rows.Next() {
		var c Cohort
		if err := rows.Scan(&c.ClassID, &c.TermID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// subjectScores loads the subject lines of a class and term keyed by student.
func (s *Store) subjectScores(classID, termID string) (map[string][]model.SubjectScore, error) {
	rows, err := s.db.Query(
		`SELECT student_id, subject_id, subject_name, first_ca, second_ca, third_ca, exam, total
		 FROM subject_scores WHERE class_id = ? AND term_id = ? ORDER BY student_id, ord`,
		classID, termID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]model.SubjectScore)
	for rows.Next() {
		var (
			studentID          string
			ss                 model.SubjectScore
			ca1, ca2, ca3, exm sql.NullFloat64
		)
		if err := rows.Scan(&studentID, &ss.SubjectID, &ss.SubjectName, &ca1, &ca2, &ca3, &exm, &ss.Total); err != nil {
			return nil, err
		}
		ss.Components = model.Components{
			FirstCA:  nullFloat(ca1),
			SecondCA: nullFloat(ca2),
			ThirdCA:  nullFloat(ca3),
			Exam:     nullFloat(exm),
		}
		out[studentID] = append(out[studentID], ss)
	}
	return out, rows.Err()
}

func nullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// SaveRanking overwrites the positions of a class and term and its summary.
// Students missing from results, or without a position, end up unranked.
func (s *Store) SaveRanking(classID, termID string, results []model.StudentResult, sum model.ClassSummary) error {
	dist, err := json.Marshal(sum.GradeDistribution)
	if err != nil {
		return fmt.Errorf("marshal distribution: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE student_results SET position = NULL WHERE class_id = ? AND term_id = ?`, classID, termID,
	); err != nil {
		return err
	}
	for _, r := range results {
		if r.Position == nil {
			continue
		}
		if _, err := tx.Exec(
			`UPDATE student_results SET position = ? WHERE class_id = ? AND term_id = ? AND student_id = ?`,
			*r.Position, classID, termID, r.StudentID,
		); err != nil {
			return fmt.Errorf("set position for %s: %w", r.StudentID, err)
		}
	}

	if sum.ComputedAt.IsZero() {
		sum.ComputedAt = time.Now().UTC()
	}
	_, err = tx.Exec(
		`INSERT INTO class_summaries (class_id, term_id, average_score, highest_score, lowest_score,
			total_students, ranked_students, grade_distribution, ungraded, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(class_id, term_id) DO UPDATE SET
			average_score = excluded.average_score,
			highest_score = excluded.highest_score,
			lowest_score = excluded.lowest_score,
			total_students = excluded.total_students,
			ranked_students = excluded.ranked_students,
			grade_distribution = excluded.grade_distribution,
			ungraded = excluded.ungraded,
			computed_at = excluded.computed_at`,
		classID, termID, sum.AverageScore, sum.HighestScore, sum.LowestScore,
		sum.TotalStudents, sum.RankedStudents, string(dist), sum.Ungraded, sum.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return tx.Commit()
}

// GetSummary returns the class summary of the last ranking run.
func (s *Store) GetSummary(classID, termID string) (model.ClassSummary, error) {
	var (
		sum  model.ClassSummary
		dist string
	)
	err := s.db.QueryRow(
		`SELECT class_id, term_id, average_score, highest_score, lowest_score, total_students,
			ranked_students, grade_distribution, ungraded, computed_at
		 FROM class_summaries WHERE class_id = ? AND term_id = ?`, classID, termID,
	).Scan(&sum.ClassID, &sum.TermID, &sum.AverageScore, &sum.HighestScore, &sum.LowestScore,
		&sum.TotalStudents, &sum.RankedStudents, &dist, &sum.Ungraded, &sum.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sum, ErrNotFound
	}
	if err != nil {
		return sum, err
	}
	if err := json.Unmarshal([]byte(dist), &sum.GradeDistribution); err != nil {
		return sum, fmt.Errorf("parse distribution: %w", err)
	}
	return sum, nil
}

// SetPublished sets the publication flag of every result of a class and
// term and returns how many results changed.
func (s *Store) SetPublished(classID, termID string, published bool) (int64, error) {
	res, err := s.db.Exec(
		`UPDATE student_results SET is_published = ? WHERE class_id = ? AND term_id = ? AND is_published <> ?`,
		published, classID, termID, published,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
