package report

import (
	"fmt"
	"math"
	"strings"
)

// Page geometry in millimetres: A4 portrait with 10 mm margins.
const (
	PageWidth  = 210.0
	PageHeight = 297.0
	Margin     = 10.0

	ContentWidth  = PageWidth - 2*Margin
	ContentHeight = PageHeight - 2*Margin
)

// Layout is a pagination density. Layouts differ only in presentation; every
// layout renders the same Document fields.
type Layout struct {
	Name    string // standard, terminal
	Type    string // used in filenames
	TitleID string // i18n message ID

	FontSize        float64
	HeaderHeight    float64
	InfoHeight      float64
	TableHeadHeight float64
	RowHeight       float64
	LegendColumns   int
	LegendRowHeight float64
	ConductHeight   float64
	CommentsHeight  float64
	SignatureHeight float64
	FooterHeight    float64
}

var (
	// Standard is the verbose report card.
	Standard = Layout{
		Name: "standard", Type: "Standard", TitleID: "ReportTitleStandard",
		FontSize:        10,
		HeaderHeight:    42,
		InfoHeight:      34,
		TableHeadHeight: 9,
		RowHeight:       8,
		LegendColumns:   2,
		LegendRowHeight: 6,
		ConductHeight:   30,
		CommentsHeight:  36,
		SignatureHeight: 26,
		FooterHeight:    10,
	}
	// Terminal is the denser end-of-term layout.
	Terminal = Layout{
		Name: "terminal", Type: "Terminal", TitleID: "ReportTitleTerminal",
		FontSize:        8,
		HeaderHeight:    30,
		InfoHeight:      24,
		TableHeadHeight: 7,
		RowHeight:       5.5,
		LegendColumns:   4,
		LegendRowHeight: 4.5,
		ConductHeight:   20,
		CommentsHeight:  24,
		SignatureHeight: 18,
		FooterHeight:    7,
	}
)

// LayoutByName returns the named layout.
func LayoutByName(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Standard.Name:
		return Standard, nil
	case Terminal.Name:
		return Terminal, nil
	}
	return Layout{}, fmt.Errorf("unknown layout %q (want standard or terminal)", name)
}

// BlockKind identifies a section of the report.
type BlockKind int

const (
	BlockHeader BlockKind = iota
	BlockInfo
	BlockTable
	BlockLegend
	BlockConduct
	BlockComments
	BlockSignature
	BlockFooter
)

func (k BlockKind) String() string {
	return [...]string{"header", "info", "table", "legend", "conduct", "comments", "signature", "footer"}[k]
}

// Block is a measured section. Only the subject table can be split, between rows.
type Block struct {
	Kind       BlockKind
	Height     float64
	Rows       int
	HeadHeight float64
	RowHeight  float64
}

// Splittable reports whether the block may continue on the next page.
func (b Block) Splittable() bool {
	return b.Kind == BlockTable && b.Rows > 1
}

// Measure returns the blocks of d in reading order with their full heights.
func (l Layout) Measure(d Document) []Block {
	rows := len(d.Rows)
	tableRows := rows
	if tableRows == 0 {
		tableRows = 1 // "no subjects" line
	}
	legendLines := int(math.Ceil(float64(len(d.Legend)) / float64(max(l.LegendColumns, 1))))

	conduct := l.ConductHeight
	if d.Meta.Behavior != nil && len(d.Meta.Behavior.CriteriaGrades) > 0 {
		lines := int(math.Ceil(float64(len(d.Meta.Behavior.CriteriaGrades)) / float64(max(l.LegendColumns, 1))))
		conduct += float64(lines) * l.LegendRowHeight
	}

	return []Block{
		{Kind: BlockHeader, Height: l.HeaderHeight},
		{Kind: BlockInfo, Height: l.InfoHeight},
		{
			Kind:       BlockTable,
			Height:     l.TableHeadHeight + float64(tableRows)*l.RowHeight,
			Rows:       rows,
			HeadHeight: l.TableHeadHeight,
			RowHeight:  l.RowHeight,
		},
		{Kind: BlockLegend, Height: l.LegendRowHeight * float64(legendLines+1)},
		{Kind: BlockConduct, Height: conduct},
		{Kind: BlockComments, Height: l.CommentsHeight},
		{Kind: BlockSignature, Height: l.SignatureHeight},
		{Kind: BlockFooter, Height: l.FooterHeight},
	}
}

// TotalHeight is the full, unpaginated content height.
func TotalHeight(blocks []Block) float64 {
	h := 0.0
	for _, b := range blocks {
		h += b.Height
	}
	return h
}
