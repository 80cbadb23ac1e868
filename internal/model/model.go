package model

import (
	"context"
	"time"
)

// GradeRange maps an inclusive score interval to a letter grade.
type GradeRange struct {
	Grade      string  `json:"grade" validate:"required,max=4"`
	MinScore   float64 `json:"min_score" validate:"gte=0,lte=100"`
	MaxScore   float64 `json:"max_score" validate:"gte=0,lte=100,gtefield=MinScore"`
	GradePoint float64 `json:"grade_point" validate:"gte=0"`
	Remark     string  `json:"remark"`
	Color      string  `json:"color" validate:"omitempty,hexcolor"`
}

// GradeScale is a named score-to-grade mapping owned by a school.
// At most one scale per school is active.
type GradeScale struct {
	ID        string       `json:"id"`
	SchoolID  string       `json:"school_id"`
	Name      string       `json:"name" validate:"required"`
	IsActive  bool         `json:"is_active"`
	Ranges    []GradeRange `json:"grade_ranges" validate:"required,min=1,dive"`
	CreatedAt time.Time    `json:"created_at"`
}

// Component names one score column of a subject.
type Component string

const (
	FirstCA  Component = "first_ca"
	SecondCA Component = "second_ca"
	ThirdCA  Component = "third_ca"
	Exam     Component = "exam"
)

// AllComponents lists components in entry order.
var AllComponents = []Component{FirstCA, SecondCA, ThirdCA, Exam}

// Components holds the sparse per-subject scores. A nil field has not been entered yet.
type Components struct {
	FirstCA  *float64 `json:"first_ca,omitempty"`
	SecondCA *float64 `json:"second_ca,omitempty"`
	ThirdCA  *float64 `json:"third_ca,omitempty"`
	Exam     *float64 `json:"exam,omitempty"`
}

// Get returns the score for a component and whether it was entered.
func (c Components) Get(comp Component) (float64, bool) {
	var p *float64
	switch comp {
	case FirstCA:
		p = c.FirstCA
	case SecondCA:
		p = c.SecondCA
	case ThirdCA:
		p = c.ThirdCA
	case Exam:
		p = c.Exam
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SubjectScore is one subject's line on a result. Total is derived from Components.
type SubjectScore struct {
	SubjectID   string     `json:"subject_id"`
	SubjectName string     `json:"subject_name"`
	Components  Components `json:"components"`
	Total       float64    `json:"total"`
}

// Attendance summarises a student's attendance for the term.
type Attendance struct {
	DaysPresent int `json:"days_present" validate:"gte=0"`
	DaysAbsent  int `json:"days_absent" validate:"gte=0"`
	TimesLate   int `json:"times_late" validate:"gte=0"`
}

// Conduct carries the conduct grade and the free-text comments.
type Conduct struct {
	Grade            string `json:"grade"`
	TeacherComment   string `json:"teacher_comment"`
	PrincipalComment string `json:"principal_comment"`
}

// StudentResult is a student's result for one class and term.
// Position is set only by a ranking run over the whole cohort.
type StudentResult struct {
	StudentID     string         `json:"student_id"`
	ClassID       string         `json:"class_id"`
	TermID        string         `json:"term_id"`
	SubjectScores []SubjectScore `json:"subject_scores"`
	TotalScore    float64        `json:"total_score"`
	AverageScore  float64        `json:"average_score"`
	Position      *int           `json:"position,omitempty"`
	TotalSubjects int            `json:"total_subjects"`
	Attendance    Attendance     `json:"attendance"`
	Conduct       Conduct        `json:"conduct"`
	IsPublished   bool           `json:"is_published"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// ValidSubjects counts subjects carrying a non-zero total.
func (r StudentResult) ValidSubjects() int {
	n := 0
	for _, s := range r.SubjectScores {
		if s.Total > 0 {
			n++
		}
	}
	return n
}

// BehavioralGrade is the criterion-based conduct assessment, independent of scores.
type BehavioralGrade struct {
	StudentID      string            `json:"student_id"`
	TermID         string            `json:"term_id"`
	CriteriaGrades map[string]string `json:"criteria_grades"`
	TotalPoints    int               `json:"total_points"`
	AverageGrade   string            `json:"average_grade"`
	Feedback       string            `json:"feedback"`
}

// ClassSummary holds the class-level statistics of a ranking run.
type ClassSummary struct {
	ClassID           string         `json:"class_id"`
	TermID            string         `json:"term_id"`
	AverageScore      float64        `json:"average_score"`
	HighestScore      float64        `json:"highest_score"`
	LowestScore       float64        `json:"lowest_score"`
	TotalStudents     int            `json:"total_students"`
	RankedStudents    int            `json:"ranked_students"`
	GradeDistribution map[string]int `json:"grade_distribution"`
	Ungraded          int            `json:"ungraded"`
	ComputedAt        time.Time      `json:"computed_at"`
}

// ScoreScheme configures per-component maxima and the denominator used for percentages.
// One scheme is in force per school, optionally overridden per term.
type ScoreScheme struct {
	MaxFirstCA       float64 `json:"max_first_ca" validate:"gte=0"`
	MaxSecondCA      float64 `json:"max_second_ca" validate:"gte=0"`
	MaxThirdCA       float64 `json:"max_third_ca" validate:"gte=0"`
	MaxExam          float64 `json:"max_exam" validate:"gt=0"`
	MaxPossibleTotal float64 `json:"max_possible_total" validate:"gt=0"`
}

// School, Student, Class and Term are the report metadata fetched from the
// result-data API.
type School struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Motto   string `json:"motto"`
	LogoURL string `json:"logo_url"`
}

type Student struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	AdmissionNo string `json:"admission_no"`
	Gender      string `json:"gender"`
	PhotoURL    string `json:"photo_url"`
}

type Class struct {
	ID       string `json:"id"`
	SchoolID string `json:"school_id"`
	Name     string `json:"name"`
}

type Term struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Year     string    `json:"year"`
	NextTerm time.Time `json:"next_term_begins,omitempty"`
}

type Subject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReportMeta bundles everything a report needs besides the result itself.
type ReportMeta struct {
	School    School
	Student   Student
	Class     Class
	Term      Term
	ClassSize int
	Behavior  *BehavioralGrade
}

// Config holds runtime parameters set via CLI flags.
type Config struct {
	SchoolID  string
	Layout    string // standard or terminal
	Strategy  string // rows or slice
	BasePath  string
	Lang      string
	AssetsURL string // image proxy base URL, empty disables remote images
	APIToken  string // bearer token for write endpoints, empty disables the check
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}
