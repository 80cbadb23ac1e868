package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"sort"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/gradebook/internal/i18n"
	"github.com/pavelanni/gradebook/internal/model"
)

// HTMLOptions control the printable HTML view.
type HTMLOptions struct {
	Options
	PDFURL string // link for the download button, empty hides it
}

// htmlView is everything the report templates read.
type htmlView struct {
	Doc        Document
	Opts       Options
	PDFURL     string
	Title      string
	CSS        string
	Continuous bool
	Blocks     []Block
	Pages      []Page
}

// RenderHTML returns a printable A4 page for d. With StrategyRows every
// output page is its own sheet and the table header repeats; with
// StrategySlice the content is one continuous sheet and the browser cuts it.
// Images are embedded from the document's normalised PNG bytes, never
// linked from their upstream URLs.
func RenderHTML(d Document, opts HTMLOptions) templ.Component {
	o := opts.Options.withDefaults()
	v := htmlView{
		Doc:        d,
		Opts:       o,
		PDFURL:     opts.PDFURL,
		Title:      Filename(d, o.Layout),
		CSS:        pageCSS(o.Layout),
		Continuous: o.Strategy == StrategySlice,
		Blocks:     o.Layout.Measure(d),
	}
	if !v.Continuous {
		v.Pages = PaginateRows(v.Blocks, ContentHeight)
	}
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := reportPage(v).Render(ctx, w); err != nil {
			return &RenderError{Op: "html", Err: err}
		}
		return nil
	})
}

func pageCSS(l Layout) string {
	return fmt.Sprintf(`<style>
@page { size: A4; margin: %gmm; }
* { box-sizing: border-box; }
body { font-family: Helvetica, Arial, sans-serif; font-size: %gpt; margin: 0; background: #f3f4f6; color: #111827; }
.sheet { width: %gmm; min-height: %gmm; margin: 8mm auto; padding: %gmm; background: #fff; }
.sheet.continuous { min-height: 0; }
.no-print { text-align: center; padding: 8px; }
.no-print button, .no-print a { margin: 0 4px; }
header { text-align: center; border-bottom: 1px solid #282828; position: relative; }
header img { position: absolute; top: 2mm; width: 24mm; height: 24mm; object-fit: cover; }
header img.logo { left: 0; } header img.photo { right: 0; }
header h1 { margin: 0; font-size: 1.6em; } header h2 { margin: 2mm 0 0; font-size: 1.25em; }
.motto { font-style: italic; }
.info { display: grid; grid-template-columns: 1fr 1fr; gap: 1mm 4mm; padding: 2mm 0; }
.info dt { color: #5a5a5a; display: inline; } .info dd { display: inline; margin: 0 0 0 1mm; font-weight: bold; }
table { width: 100%%; border-collapse: collapse; }
th, td { border: 1px solid #9ca3af; padding: 1mm; text-align: center; }
th { background: #e5e7eb; }
td.subject, td.remark { text-align: left; }
tr:nth-child(even) td { background: #f9fafb; }
.grade { font-weight: bold; }
.legend { display: grid; grid-template-columns: repeat(%d, 1fr); gap: 1mm; padding: 2mm 0; }
.legend h3 { grid-column: 1 / -1; margin: 0; font-size: 1em; }
.swatch { display: inline-block; width: 3mm; height: 3mm; margin-right: 1mm; }
.conduct, .comments { display: grid; grid-template-columns: 1fr 1fr; gap: 1mm 4mm; padding: 2mm 0; }
.signatures { display: grid; grid-template-columns: repeat(3, 1fr); gap: 8mm; padding-top: 12mm; text-align: center; }
.signatures span { display: block; border-top: 1px solid #282828; padding-top: 1mm; }
footer { color: #787878; font-style: italic; font-size: 0.8em; border-top: 1px solid #c8c8c8; margin-top: 2mm; }
@media print {
  body { background: #fff; }
  .no-print { display: none; }
  .sheet { margin: 0; padding: 0; width: auto; min-height: 0; page-break-after: always; }
  .sheet:last-child { page-break-after: auto; }
}
</style>`, Margin, l.FontSize, PageWidth, PageHeight, Margin, max(l.LegendColumns, 1))
}

// tableColumns are the message IDs of the score columns after Subject.
var tableColumns = []string{"FirstCA", "SecondCA", "ThirdCA", "Exam", "Total", "Percent", "Grade", "Remark"}

// infoPairs lists the label and value of each student detail line.
func infoPairs(ctx context.Context, d Document) [][2]string {
	st := d.Meta.Student
	position := appI18n.T(ctx, "NotRanked")
	if d.Position != "" {
		position = appI18n.Td(ctx, "PositionOf", map[string]any{"Position": d.Position, "ClassSize": d.Meta.ClassSize})
	}
	total := formatNumber(d.Result.TotalScore) + " / " +
		formatNumber(d.Scheme.MaxPossibleTotal*float64(d.Result.TotalSubjects)) +
		" (" + appI18n.Tp(ctx, "SubjectsOffered", d.Result.TotalSubjects) + ")"
	return [][2]string{
		{appI18n.T(ctx, "StudentName"), st.LastName + " " + st.FirstName},
		{appI18n.T(ctx, "Position"), position},
		{appI18n.T(ctx, "AdmissionNo"), st.AdmissionNo},
		{appI18n.T(ctx, "TotalScore"), total},
		{appI18n.T(ctx, "Class"), d.Meta.Class.Name},
		{appI18n.T(ctx, "AverageScore"), formatNumber(d.Result.AverageScore) + "%"},
		{appI18n.T(ctx, "Gender"), st.Gender},
	}
}

// rowRange returns rows [first, last) clamped to the table.
func rowRange(rows []Row, first, last int) []Row {
	last = min(last, len(rows))
	if first >= last {
		return nil
	}
	return rows[first:last]
}

func gradeStyle(c string) string {
	if c == "" {
		c = "inherit"
	}
	return "color:" + c
}

// pngSrc embeds normalised image bytes as a data URI.
func pngSrc(b []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(b)
}

func criteria(b *model.BehavioralGrade) []string {
	names := make([]string, 0, len(b.CriteriaGrades))
	for k := range b.CriteriaGrades {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
