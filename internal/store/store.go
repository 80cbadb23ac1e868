package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/gradebook/internal/grading"
	"github.com/pavelanni/gradebook/internal/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrActiveScale is returned when deleting the scale currently in force.
	ErrActiveScale = errors.New("cannot delete the active grade scale")
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty in-memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grade_scales (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS grade_scales_one_active
		ON grade_scales(school_id) WHERE is_active = 1;

	CREATE TABLE IF NOT EXISTS grade_ranges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scale_id TEXT NOT NULL,
		ord INTEGER NOT NULL,
		grade TEXT NOT NULL,
		min_score REAL NOT NULL,
		max_score REAL NOT NULL,
		grade_point REAL NOT NULL DEFAULT 0,
		remark TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (scale_id) REFERENCES grade_scales(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS score_schemes (
		school_id TEXT NOT NULL,
		term_id TEXT NOT NULL DEFAULT '',
		max_first_ca REAL NOT NULL,
		max_second_ca REAL NOT NULL,
		max_third_ca REAL NOT NULL,
		max_exam REAL NOT NULL,
		max_possible_total REAL NOT NULL,
		PRIMARY KEY (school_id, term_id)
	);

	CREATE TABLE IF NOT EXISTS student_results (
		class_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		total_score REAL NOT NULL DEFAULT 0,
		average_score REAL NOT NULL DEFAULT 0,
		position INTEGER,
		total_subjects INTEGER NOT NULL DEFAULT 0,
		days_present INTEGER NOT NULL DEFAULT 0,
		days_absent INTEGER NOT NULL DEFAULT 0,
		times_late INTEGER NOT NULL DEFAULT 0,
		conduct_grade TEXT NOT NULL DEFAULT '',
		teacher_comment TEXT NOT NULL DEFAULT '',
		principal_comment TEXT NOT NULL DEFAULT '',
		is_published INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (class_id, term_id, student_id)
	);

	CREATE TABLE IF NOT EXISTS subject_scores (
		class_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		ord INTEGER NOT NULL,
		subject_name TEXT NOT NULL DEFAULT '',
		first_ca REAL,
		second_ca REAL,
		third_ca REAL,
		exam REAL,
		total REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (class_id, term_id, student_id, subject_id),
		FOREIGN KEY (class_id, term_id, student_id)
			REFERENCES student_results(class_id, term_id, student_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS class_summaries (
		class_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		average_score REAL NOT NULL DEFAULT 0,
		highest_score REAL NOT NULL DEFAULT 0,
		lowest_score REAL NOT NULL DEFAULT 0,
		total_students INTEGER NOT NULL DEFAULT 0,
		ranked_students INTEGER NOT NULL DEFAULT 0,
		grade_distribution TEXT NOT NULL DEFAULT '{}',
		ungraded INTEGER NOT NULL DEFAULT 0,
		computed_at DATETIME NOT NULL,
		PRIMARY KEY (class_id, term_id)
	);

	CREATE TABLE IF NOT EXISTS behavioral_grades (
		student_id TEXT NOT NULL,
		term_id TEXT NOT NULL,
		criteria TEXT NOT NULL DEFAULT '{}',
		total_points INTEGER NOT NULL DEFAULT 0,
		average_grade TEXT NOT NULL DEFAULT '',
		feedback TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (student_id, term_id)
	);

	CREATE TABLE IF NOT EXISTS schools (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		motto TEXT NOT NULL DEFAULT '',
		logo_url TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS classes (
		id TEXT PRIMARY KEY,
		school_id TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS terms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		year TEXT NOT NULL DEFAULT '',
		next_term TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		admission_no TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		photo_url TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateScale validates and stores a new grade scale with a fresh ID. When
// activate is set, every other scale of the school is deactivated in the
// same transaction.
func (s *Store) CreateScale(sc model.GradeScale, activate bool) (model.GradeScale, error) {
	if err := grading.ValidateScale(sc.Name, sc.Ranges); err != nil {
		return model.GradeScale{}, err
	}
	sc.ID = uuid.NewString()
	sc.Name = strings.TrimSpace(sc.Name)
	sc.IsActive = activate
	sc.CreatedAt = time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return model.GradeScale{}, err
	}
	defer tx.Rollback()

	if activate {
		if _, err := tx.Exec(`UPDATE grade_scales SET is_active = 0 WHERE school_id = ?`, sc.SchoolID); err != nil {
			return model.GradeScale{}, err
		}
	}
	_, err = tx.Exec(
		`INSERT INTO grade_scales (id, school_id, name, is_active, created_at) VALUES (?, ?, ?, ?, ?)`,
		sc.ID, sc.SchoolID, sc.Name, sc.IsActive, sc.CreatedAt,
	)
	if err != nil {
		return model.GradeScale{}, err
	}
	if err := insertRanges(tx, sc.ID, sc.Ranges); err != nil {
		return model.GradeScale{}, err
	}
	return sc, tx.Commit()
}

func insertRanges(tx *sql.Tx, scaleID string, ranges []model.GradeRange) error {
	for i, r := range ranges {
		_, err := tx.Exec(
			`INSERT INTO grade_ranges (scale_id, ord, grade, min_score, max_score, grade_point, remark, color)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			scaleID, i, strings.TrimSpace(r.Grade), r.MinScore, r.MaxScore, r.GradePoint, r.Remark, r.Color,
		)
		if err != nil {
			return fmt.Errorf("insert range %s: %w", r.Grade, err)
		}
	}
	return nil
}

// UpdateScale re-validates and replaces the name and ranges of a scale.
// Activation is unchanged.
func (s *Store) UpdateScale(sc model.GradeScale) error {
	if err := grading.ValidateScale(sc.Name, sc.Ranges); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE grade_scales SET name = ? WHERE id = ?`, strings.TrimSpace(sc.Name), sc.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(`DELETE FROM grade_ranges WHERE scale_id = ?`, sc.ID); err != nil {
		return err
	}
	if err := insertRanges(tx, sc.ID, sc.Ranges); err != nil {
		return err
	}
	return tx.Commit()
}

// ActivateScale makes id the only active scale of its school.
func (s *Store) ActivateScale(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var schoolID string
	err = tx.QueryRow(`SELECT school_id FROM grade_scales WHERE id = ?`, id).Scan(&schoolID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE grade_scales SET is_active = 0 WHERE school_id = ?`, schoolID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE grade_scales SET is_active = 1 WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteScale removes an inactive scale and its ranges.
func (s *Store) DeleteScale(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var active bool
	err = tx.QueryRow(`SELECT is_active FROM grade_scales WHERE id = ?`, id).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if active {
		return ErrActiveScale
	}
	if _, err := tx.Exec(`DELETE FROM grade_ranges WHERE scale_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM grade_scales WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

const scaleColumns = `id, school_id, name, is_active, created_at`

// GetScale returns a scale with its ranges in stored order.
func (s *Store) GetScale(id string) (model.GradeScale, error) {
	var sc model.GradeScale
	err := s.db.QueryRow(`SELECT `+scaleColumns+` FROM grade_scales WHERE id = ?`, id).
		Scan(&sc.ID, &sc.SchoolID, &sc.Name, &sc.IsActive, &sc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return sc, ErrNotFound
	}
	if err != nil {
		return sc, err
	}
	sc.Ranges, err = s.ranges(sc.ID)
	return sc, err
}

// ActiveScale returns the scale in force for a school.
func (s *Store) ActiveScale(schoolID string) (model.GradeScale, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM grade_scales WHERE school_id = ? AND is_active = 1`, schoolID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.GradeScale{}, fmt.Errorf("active grade scale for school %s: %w", schoolID, ErrNotFound)
	}
	if err != nil {
		return model.GradeScale{}, err
	}
	return s.GetScale(id)
}

// ListScales returns the scales of a school, oldest first.
func (s *Store) ListScales(schoolID string) ([]model.GradeScale, error) {
	rows, err := s.db.Query(`SELECT `+scaleColumns+` FROM grade_scales WHERE school_id = ? ORDER BY created_at, id`, schoolID)
	if err != nil {
		return nil, err
	}
	var scales []model.GradeScale
	for rows.Next() {
		var sc model.GradeScale
		if err := rows.Scan(&sc.ID, &sc.SchoolID, &sc.Name, &sc.IsActive, &sc.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		scales = append(scales, sc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range scales {
		if scales[i].Ranges, err = s.ranges(scales[i].ID); err != nil {
			return nil, err
		}
	}
	return scales, nil
}

func (s *Store) ranges(scaleID string) ([]model.GradeRange, error) {
	rows, err := s.db.Query(
		`SELECT grade, min_score, max_score, grade_point, remark, color
		 FROM grade_ranges WHERE scale_id = ? ORDER BY ord`, scaleID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.GradeRange
	for rows.Next() {
		var r model.GradeRange
		if err := rows.Scan(&r.Grade, &r.MinScore, &r.MaxScore, &r.GradePoint, &r.Remark, &r.Color); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
