package model

import "time"

// ClassExport is the top-level JSON structure for a ranked class export.
type ClassExport struct {
	ClassID    string          `json:"class_id"`
	TermID     string          `json:"term_id"`
	Scheme     ScoreScheme     `json:"scheme"`
	Scale      string          `json:"scale"`
	Summary    ClassSummary    `json:"summary"`
	Results    []StudentResult `json:"results"`
	ExportedAt time.Time       `json:"exported_at"`
}

// ResultImport is one row of a result sheet loaded from JSON.
type ResultImport struct {
	StudentID  string          `json:"student_id" validate:"required"`
	ClassID    string          `json:"class_id" validate:"required"`
	TermID     string          `json:"term_id" validate:"required"`
	Subjects   []SubjectImport `json:"subjects" validate:"dive"`
	Attendance Attendance      `json:"attendance"`
	Conduct    Conduct         `json:"conduct"`
}

// SubjectImport is one subject line of a ResultImport.
type SubjectImport struct {
	SubjectID   string     `json:"subject_id" validate:"required"`
	SubjectName string     `json:"subject_name"`
	Components  Components `json:"components"`
}
