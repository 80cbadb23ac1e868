package report

import (
	"fmt"
	"math"
	"strings"
)

// Strategy selects how content that overflows a page is split.
type Strategy string

const (
	// StrategyRows measures blocks and breaks pages between table rows,
	// repeating the table header. Blocks other than the table are never split.
	StrategyRows Strategy = "rows"
	// StrategySlice renders the content once at full height and cuts it into
	// page-height slices, each shifted up by one more page height. Rows may
	// be cut in half at a page boundary.
	StrategySlice Strategy = "slice"
)

// ParseStrategy parses a strategy name; empty means StrategyRows.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyRows:
		return StrategyRows, nil
	case StrategySlice:
		return StrategySlice, nil
	}
	return "", fmt.Errorf("unknown pagination strategy %q (want rows or slice)", s)
}

// sliceEpsilon absorbs float residue so content of exactly N pages is not
// given an empty N+1th page.
const sliceEpsilon = 1e-6

// SliceOffsets returns the vertical offset of the content for every page
// produced by slicing: 0, -pageHeight, -2*pageHeight, ... until the remaining
// height is used up. Content of 2.4 pages gives three offsets.
func SliceOffsets(contentHeight, pageHeight float64) []float64 {
	if pageHeight <= 0 {
		return nil
	}
	offsets := []float64{0}
	position := 0.0
	heightLeft := contentHeight - pageHeight
	for heightLeft > sliceEpsilon {
		position -= pageHeight
		offsets = append(offsets, position)
		heightLeft -= pageHeight
	}
	return offsets
}

// Fragment is the part of a block placed on one page. For tables, rows
// [FirstRow, LastRow) are drawn under a repeated header.
type Fragment struct {
	Block    Block
	Y        float64 // top, relative to the page's content area
	Height   float64
	FirstRow int
	LastRow  int
}

// Page is one output page of row-aware pagination.
type Page struct {
	Fragments []Fragment
}

// PaginateRows places blocks on pages of the given content height. A block
// that does not fit in the space left moves to a fresh page; the subject
// table instead fills the page row by row and continues on the next one. A
// block taller than a whole page is placed alone and overflows.
func PaginateRows(blocks []Block, pageHeight float64) []Page {
	pages := []Page{{}}
	y := 0.0
	newPage := func() {
		pages = append(pages, Page{})
		y = 0
	}
	place := func(f Fragment) {
		f.Y = y
		last := &pages[len(pages)-1]
		last.Fragments = append(last.Fragments, f)
		y += f.Height
	}

	for _, b := range blocks {
		if !b.Splittable() {
			if y > 0 && y+b.Height > pageHeight+sliceEpsilon {
				newPage()
			}
			place(Fragment{Block: b, Height: b.Height, FirstRow: 0, LastRow: b.Rows})
			continue
		}

		row := 0
		for row < b.Rows {
			avail := pageHeight - y
			fit := int(math.Floor((avail - b.HeadHeight + sliceEpsilon) / b.RowHeight))
			if fit < 1 && y > 0 {
				newPage()
				continue
			}
			n := min(max(fit, 1), b.Rows-row)
			place(Fragment{
				Block:    b,
				Height:   b.HeadHeight + float64(n)*b.RowHeight,
				FirstRow: row,
				LastRow:  row + n,
			})
			row += n
			if row < b.Rows {
				newPage()
			}
		}
	}
	return pages
}

// placement is a block's position in the unpaginated content.
type placement struct {
	block Block
	y     float64
}

func stack(blocks []Block) []placement {
	out := make([]placement, len(blocks))
	y := 0.0
	for i, b := range blocks {
		out[i] = placement{block: b, y: y}
		y += b.Height
	}
	return out
}
