package commentary

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/gradebook/internal/report"
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var reportDataRegex = regexp.MustCompile(`(?i)</?\s*report-data\b[^>]*>`)

// Tone selects a prompt variant.
type Tone string

const (
	ToneWarm   Tone = "warm"
	ToneFormal Tone = "formal"
)

var validTones = map[Tone]bool{ToneWarm: true, ToneFormal: true}

// IsValidTone checks if a tone name is valid.
func IsValidTone(t string) bool {
	return validTones[Tone(t)]
}

// maxWords bounds the teacher comment; the report's comments block holds
// roughly this much text.
const maxWords = 60

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Tone]*template.Template
)

func load() error {
	loadOnce.Do(func() {
		templates = make(map[Tone]*template.Template)
		for t := range validTones {
			name := "prompts/" + string(t) + ".tmpl"
			content, err := promptFS.ReadFile(name)
			if err != nil {
				loadErr = fmt.Errorf("read prompt %s: %w", name, err)
				return
			}
			tmpl, err := template.New(string(t)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt %s: %w", name, err)
				return
			}
			templates[t] = tmpl
		}
	})
	return loadErr
}

// PromptData holds template data for comment prompts.
type PromptData struct {
	StudentName string
	ClassName   string
	Term        string
	Year        string
	Average     string
	Grade       string
	Position    string
	ClassSize   int
	DaysPresent int
	DaysAbsent  int
	TimesLate   int
	Behaviour   string
	Subjects    []SubjectLine
	MaxWords    int
}

// SubjectLine is one subject in the prompt.
type SubjectLine struct {
	Name       string
	Percentage string
	Grade      string
	Remark     string
}

// BuildPrompt renders the prompt for d in the given tone.
func BuildPrompt(tone Tone, d report.Document) (string, error) {
	if err := load(); err != nil {
		return "", err
	}
	tmpl, ok := templates[tone]
	if !ok {
		return "", errors.New("invalid tone: " + string(tone))
	}

	data := PromptData{
		StudentName: sanitize(d.Meta.Student.FirstName + " " + d.Meta.Student.LastName),
		ClassName:   sanitize(d.Meta.Class.Name),
		Term:        sanitize(d.Meta.Term.Name),
		Year:        sanitize(d.Meta.Term.Year),
		Average:     fmt.Sprintf("%.2f", d.Result.AverageScore),
		Grade:       d.Grade,
		Position:    d.Position,
		ClassSize:   d.Meta.ClassSize,
		DaysPresent: d.Result.Attendance.DaysPresent,
		DaysAbsent:  d.Result.Attendance.DaysAbsent,
		TimesLate:   d.Result.Attendance.TimesLate,
		MaxWords:    maxWords,
	}
	if b := d.Meta.Behavior; b != nil {
		data.Behaviour = behaviourLine(b.AverageGrade, b.CriteriaGrades)
	}
	for _, r := range d.Rows {
		data.Subjects = append(data.Subjects, SubjectLine{
			Name:       sanitize(r.Subject),
			Percentage: fmt.Sprintf("%.2f", r.Percentage),
			Grade:      r.Grade,
			Remark:     sanitize(r.Remark),
		})
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func behaviourLine(avg string, criteria map[string]string) string {
	names := make([]string, 0, len(criteria))
	for k := range criteria {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, sanitize(n)+" "+criteria[n])
	}
	line := "average " + avg
	if len(parts) > 0 {
		line += " (" + strings.Join(parts, ", ") + ")"
	}
	return line
}

// sanitize strips prompt delimiters from school-entered text and caps its length.
func sanitize(s string) string {
	s = reportDataRegex.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > 200 {
		s = string([]rune(s)[:200])
	}
	return s
}

// trimWords cuts s to at most n words.
func trimWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}
