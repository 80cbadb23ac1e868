package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/pavelanni/gradebook/internal/grading"
	appI18n "github.com/pavelanni/gradebook/internal/i18n"
)

// Options control a render.
type Options struct {
	Layout      Layout
	Strategy    Strategy
	GeneratedAt time.Time
}

func (o Options) withDefaults() Options {
	if o.Layout.Name == "" {
		o.Layout = Standard
	}
	if o.Strategy == "" {
		o.Strategy = StrategyRows
	}
	if o.GeneratedAt.IsZero() {
		o.GeneratedAt = time.Now()
	}
	return o
}

// Plan paginates d without drawing it and returns the number of pages.
func Plan(d Document, opts Options) int {
	opts = opts.withDefaults()
	blocks := opts.Layout.Measure(d)
	if opts.Strategy == StrategySlice {
		return len(SliceOffsets(TotalHeight(blocks), ContentHeight))
	}
	return len(PaginateRows(blocks, ContentHeight))
}

// RenderPDF writes d as an A4 PDF to w and returns the page count.
func RenderPDF(ctx context.Context, w io.Writer, d Document, opts Options) (int, error) {
	opts = opts.withDefaults()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(Margin, Margin, Margin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreationDate(opts.GeneratedAt)
	pdf.SetTitle(Filename(d, opts.Layout), true)
	pdf.SetAuthor(d.Meta.School.Name, true)
	pdf.SetCreator("gradebook", false)

	r := &pdfRenderer{
		ctx:  ctx,
		pdf:  pdf,
		doc:  d,
		l:    opts.Layout,
		enc:  pdf.UnicodeTranslatorFromDescriptor(""),
		when: opts.GeneratedAt,
	}
	if err := r.registerImages(); err != nil {
		return 0, err
	}

	blocks := opts.Layout.Measure(d)
	switch opts.Strategy {
	case StrategySlice:
		placed := stack(blocks)
		for _, off := range SliceOffsets(TotalHeight(blocks), ContentHeight) {
			pdf.AddPage()
			pdf.ClipRect(Margin, Margin, ContentWidth, ContentHeight, false)
			pdf.TransformBegin()
			pdf.TransformTranslateY(off)
			for _, p := range placed {
				r.draw(p.block, Margin+p.y, 0, p.block.Rows)
			}
			pdf.TransformEnd()
			pdf.ClipEnd()
		}
	default:
		for _, page := range PaginateRows(blocks, ContentHeight) {
			pdf.AddPage()
			for _, f := range page.Fragments {
				r.draw(f.Block, Margin+f.Y, f.FirstRow, f.LastRow)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return 0, &RenderError{Op: "pdf", Err: err}
	}
	if pdf.Err() {
		return 0, &RenderError{Op: "pdf", Err: pdf.Error()}
	}
	pages := pdf.PageCount()
	if err := pdf.Output(w); err != nil {
		return 0, &RenderError{Op: "pdf output", Err: err}
	}
	slog.Debug("rendered report pdf", "student_id", d.Result.StudentID,
		"layout", opts.Layout.Name, "strategy", opts.Strategy, "pages", pages)
	return pages, nil
}

type pdfRenderer struct {
	ctx      context.Context
	pdf      *gofpdf.Fpdf
	doc      Document
	l        Layout
	enc      func(string) string
	when     time.Time
	hasLogo  bool
	hasPhoto bool
}

func (r *pdfRenderer) registerImages() error {
	for _, img := range []struct {
		name string
		data []byte
		set  *bool
	}{
		{"logo", r.doc.Logo, &r.hasLogo},
		{"photo", r.doc.Photo, &r.hasPhoto},
	} {
		if len(img.data) == 0 {
			continue
		}
		r.pdf.RegisterImageOptionsReader(img.name, gofpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(img.data))
		if r.pdf.Err() {
			return &RenderError{Op: "image " + img.name, Err: r.pdf.Error()}
		}
		*img.set = true
	}
	return nil
}

func (r *pdfRenderer) t(id string) string {
	return r.enc(appI18n.T(r.ctx, id))
}

func (r *pdfRenderer) td(id string, data map[string]any) string {
	return r.enc(appI18n.Td(r.ctx, id, data))
}

func (r *pdfRenderer) draw(b Block, y float64, firstRow, lastRow int) {
	switch b.Kind {
	case BlockHeader:
		r.header(y, b.Height)
	case BlockInfo:
		r.info(y, b.Height)
	case BlockTable:
		r.table(y, b, firstRow, lastRow)
	case BlockLegend:
		r.legend(y)
	case BlockConduct:
		r.conduct(y)
	case BlockComments:
		r.comments(y, b.Height)
	case BlockSignature:
		r.signature(y, b.Height)
	case BlockFooter:
		r.footer(y, b.Height)
	}
}

func (r *pdfRenderer) font(style string, delta float64) {
	r.pdf.SetFont("Helvetica", style, r.l.FontSize+delta)
}

func (r *pdfRenderer) header(y, h float64) {
	pdf, d := r.pdf, r.doc
	img := h - 8
	if r.hasLogo {
		pdf.ImageOptions("logo", Margin, y+2, img, img, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	}
	if r.hasPhoto {
		pdf.ImageOptions("photo", Margin+ContentWidth-img, y+2, img, img, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
	}

	line := (h - 4) / 5
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(Margin, y+1)
	r.font("B", 6)
	pdf.CellFormat(ContentWidth, line*1.4, r.enc(d.Meta.School.Name), "", 2, "C", false, 0, "")
	r.font("", 0)
	pdf.CellFormat(ContentWidth, line*0.8, r.enc(d.Meta.School.Address), "", 2, "C", false, 0, "")
	if d.Meta.School.Motto != "" {
		r.font("I", -1)
		pdf.CellFormat(ContentWidth, line*0.8, r.enc(d.Meta.School.Motto), "", 2, "C", false, 0, "")
	} else {
		pdf.Ln(line * 0.8)
	}
	r.font("B", 3)
	pdf.CellFormat(ContentWidth, line, r.t(r.l.TitleID), "", 2, "C", false, 0, "")
	r.font("", 0)
	pdf.CellFormat(ContentWidth, line*0.8, r.td("TermYear", map[string]any{
		"Term": d.Meta.Term.Name, "Year": d.Meta.Term.Year,
	}), "", 2, "C", false, 0, "")

	pdf.SetDrawColor(40, 40, 40)
	pdf.SetLineWidth(0.4)
	pdf.Line(Margin, y+h-1, Margin+ContentWidth, y+h-1)
}

func (r *pdfRenderer) info(y, h float64) {
	pdf, d := r.pdf, r.doc
	st := d.Meta.Student

	position := r.t("NotRanked")
	if d.Position != "" {
		position = r.td("PositionOf", map[string]any{"Position": d.Position, "ClassSize": d.Meta.ClassSize})
	}

	left := [][2]string{
		{r.t("StudentName"), r.enc(st.LastName + " " + st.FirstName)},
		{r.t("AdmissionNo"), r.enc(st.AdmissionNo)},
		{r.t("Class"), r.enc(d.Meta.Class.Name)},
		{r.t("Gender"), r.enc(st.Gender)},
	}
	right := [][2]string{
		{r.t("Position"), position},
		{r.t("TotalScore"), formatNumber(d.Result.TotalScore) + " / " +
			formatNumber(d.Scheme.MaxPossibleTotal*float64(d.Result.TotalSubjects))},
		{r.t("AverageScore"), formatNumber(d.Result.AverageScore) + "%"},
		{r.t("OverallGrade"), r.enc(d.Grade + "  " + d.Remark)},
	}

	line := (h - 2) / 4
	half := ContentWidth / 2
	labelW := half * 0.4
	for i := range left {
		ly := y + 1 + float64(i)*line
		for col, pair := range [][2]string{left[i], right[i]} {
			x := Margin + float64(col)*half
			pdf.SetXY(x, ly)
			r.font("", 0)
			pdf.SetTextColor(90, 90, 90)
			pdf.CellFormat(labelW, line, pair[0]+":", "", 0, "L", false, 0, "")
			r.font("B", 0)
			pdf.SetTextColor(0, 0, 0)
			if col == 1 && i == 3 && d.Color != "" {
				pdf.SetTextColor(grading.RGB(d.Color))
			}
			pdf.CellFormat(half-labelW, line, pair[1], "", 0, "L", false, 0, "")
		}
	}
	pdf.SetTextColor(0, 0, 0)
}

// tableColumnWidths holds the subject table's column widths; they add up to ContentWidth.
var tableColumnWidths = [...]float64{50, 14, 14, 14, 16, 16, 16, 14, 36}

func (r *pdfRenderer) table(y float64, b Block, firstRow, lastRow int) {
	pdf, d := r.pdf, r.doc

	heads := []string{
		r.t("Subject"), r.t("FirstCA"), r.t("SecondCA"), r.t("ThirdCA"), r.t("Exam"),
		r.t("Total"), r.t("Percent"), r.t("Grade"), r.t("Remark"),
	}
	pdf.SetXY(Margin, y)
	pdf.SetFillColor(229, 231, 235)
	pdf.SetDrawColor(156, 163, 175)
	pdf.SetLineWidth(0.2)
	pdf.SetTextColor(0, 0, 0)
	r.font("B", -1)
	for i, hd := range heads {
		align := "C"
		if i == 0 {
			align = "L"
		}
		pdf.CellFormat(tableColumnWidths[i], b.HeadHeight, hd, "1", 0, align, true, 0, "")
	}

	rowY := y + b.HeadHeight
	if len(d.Rows) == 0 {
		pdf.SetXY(Margin, rowY)
		r.font("I", 0)
		pdf.CellFormat(ContentWidth, b.RowHeight, r.t("NoSubjects"), "1", 0, "C", false, 0, "")
		return
	}

	r.font("", 0)
	for i := firstRow; i < lastRow && i < len(d.Rows); i++ {
		row := d.Rows[i]
		pdf.SetXY(Margin, rowY)
		fill := i%2 == 1
		pdf.SetFillColor(249, 250, 251)
		cells := []string{
			r.enc(row.Subject),
			formatScore(row.Components.FirstCA),
			formatScore(row.Components.SecondCA),
			formatScore(row.Components.ThirdCA),
			formatScore(row.Components.Exam),
			formatNumber(row.Total),
			formatNumber(row.Percentage),
			r.enc(row.Grade),
			r.enc(row.Remark),
		}
		for c, txt := range cells {
			align := "C"
			if c == 0 || c == len(cells)-1 {
				align = "L"
			}
			if c == 7 {
				pdf.SetTextColor(grading.RGB(row.Color))
				r.font("B", 0)
			}
			pdf.CellFormat(tableColumnWidths[c], b.RowHeight, txt, "1", 0, align, fill, 0, "")
			if c == 7 {
				pdf.SetTextColor(0, 0, 0)
				r.font("", 0)
			}
		}
		rowY += b.RowHeight
	}
}

func (r *pdfRenderer) legend(y float64) {
	pdf, d := r.pdf, r.doc
	lh := r.l.LegendRowHeight
	cols := max(r.l.LegendColumns, 1)
	colW := ContentWidth / float64(cols)

	pdf.SetXY(Margin, y)
	pdf.SetTextColor(0, 0, 0)
	r.font("B", -1)
	pdf.CellFormat(ContentWidth, lh, r.t("GradingScale")+" ("+r.enc(d.ScaleName)+")", "", 0, "L", false, 0, "")

	r.font("", -1)
	for i, g := range d.Legend {
		x := Margin + float64(i%cols)*colW
		ly := y + lh*float64(1+i/cols)
		pdf.SetFillColor(grading.RGB(legendColor(g)))
		pdf.Rect(x, ly+lh*0.25, lh*0.5, lh*0.5, "F")
		pdf.SetXY(x+lh*0.7, ly)
		txt := fmt.Sprintf("%s  %s-%s  %s", g.Grade, formatNumber(g.MinScore), formatNumber(g.MaxScore), g.Remark)
		pdf.CellFormat(colW-lh*0.7, lh, r.enc(txt), "", 0, "L", false, 0, "")
	}
}

func (r *pdfRenderer) conduct(y float64) {
	pdf, d := r.pdf, r.doc
	a := d.Result.Attendance
	lh := r.l.LegendRowHeight
	half := ContentWidth / 2

	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(Margin, y)
	r.font("B", 0)
	pdf.CellFormat(half, lh, r.t("Attendance"), "", 0, "L", false, 0, "")
	pdf.CellFormat(half, lh, r.t("Conduct"), "", 0, "L", false, 0, "")

	r.font("", 0)
	lines := [][2]string{
		{fmt.Sprintf("%s: %d", r.t("DaysPresent"), a.DaysPresent), fmt.Sprintf("%s: %s", r.t("Grade"), r.enc(d.Result.Conduct.Grade))},
		{fmt.Sprintf("%s: %d", r.t("DaysAbsent"), a.DaysAbsent), ""},
		{fmt.Sprintf("%s: %d", r.t("TimesLate"), a.TimesLate), ""},
	}
	if b := d.Meta.Behavior; b != nil && b.AverageGrade != "" {
		lines[1][1] = fmt.Sprintf("%s: %s (%d)", r.t("Behaviour"), b.AverageGrade, b.TotalPoints)
	}
	for i, ln := range lines {
		pdf.SetXY(Margin, y+lh*float64(i+1))
		pdf.CellFormat(half, lh, ln[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(half, lh, ln[1], "", 0, "L", false, 0, "")
	}

	b := d.Meta.Behavior
	if b == nil || len(b.CriteriaGrades) == 0 {
		return
	}
	names := criteria(b)
	cols := max(r.l.LegendColumns, 1)
	colW := ContentWidth / float64(cols)
	top := y + r.l.ConductHeight
	r.font("", -1)
	for i, name := range names {
		pdf.SetXY(Margin+float64(i%cols)*colW, top+lh*float64(i/cols))
		pdf.CellFormat(colW, lh, r.enc(name+": "+b.CriteriaGrades[name]), "", 0, "L", false, 0, "")
	}
}

func (r *pdfRenderer) comments(y, h float64) {
	pdf, d := r.pdf, r.doc
	lh := r.l.LegendRowHeight
	half := h / 2
	for i, c := range []struct{ label, text string }{
		{r.t("TeacherComment"), d.Result.Conduct.TeacherComment},
		{r.t("PrincipalComment"), d.Result.Conduct.PrincipalComment},
	} {
		top := y + float64(i)*half
		pdf.SetXY(Margin, top)
		pdf.SetTextColor(0, 0, 0)
		r.font("B", 0)
		pdf.CellFormat(ContentWidth, lh, c.label+":", "", 0, "L", false, 0, "")

		r.font("", 0)
		maxLines := int(math.Floor((half - lh) / lh))
		for j, ln := range pdf.SplitLines([]byte(r.enc(c.text)), ContentWidth) {
			if j >= maxLines {
				break
			}
			pdf.SetXY(Margin, top+lh*float64(j+1))
			pdf.CellFormat(ContentWidth, lh, string(ln), "", 0, "L", false, 0, "")
		}
	}
}

func (r *pdfRenderer) signature(y, h float64) {
	pdf, d := r.pdf, r.doc
	lh := r.l.LegendRowHeight
	third := ContentWidth / 3
	lineY := y + h - 2*lh

	pdf.SetDrawColor(40, 40, 40)
	pdf.SetLineWidth(0.3)
	r.font("", -1)
	pdf.SetTextColor(0, 0, 0)
	for i, label := range []string{r.t("ClassTeacherSignature"), r.t("PrincipalSignature"), r.t("Date")} {
		x := Margin + float64(i)*third
		pdf.Line(x+4, lineY, x+third-4, lineY)
		pdf.SetXY(x, lineY+0.5)
		pdf.CellFormat(third, lh, label, "", 0, "C", false, 0, "")
	}

	if next := d.Meta.Term.NextTerm; !next.IsZero() {
		pdf.SetXY(Margin, y)
		r.font("B", -1)
		pdf.CellFormat(ContentWidth, lh, r.t("NextTermBegins")+": "+next.Format("02 Jan 2006"), "", 0, "L", false, 0, "")
	}
}

func (r *pdfRenderer) footer(y, h float64) {
	pdf := r.pdf
	pdf.SetDrawColor(200, 200, 200)
	pdf.SetLineWidth(0.2)
	pdf.Line(Margin, y+1, Margin+ContentWidth, y+1)
	pdf.SetXY(Margin, y+2)
	pdf.SetTextColor(120, 120, 120)
	r.font("I", -2)
	pdf.CellFormat(ContentWidth, h-3, r.td("GeneratedOn", map[string]any{
		"Date": r.when.Format("02 Jan 2006 15:04"),
	}), "", 0, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}
