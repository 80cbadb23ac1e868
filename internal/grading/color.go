package grading

import (
	"strconv"
	"strings"

	"github.com/pavelanni/gradebook/internal/model"
)

// DefaultColor is used when the scale does not set a colour for a grade.
const DefaultColor = "#6b7280"

// ColorFor returns the display colour of grade as configured on the scale.
func ColorFor(scale model.GradeScale, grade string) string {
	for _, r := range scale.Ranges {
		if strings.EqualFold(r.Grade, grade) && r.Color != "" {
			return r.Color
		}
	}
	return DefaultColor
}

// RGB parses a #rrggbb or #rgb colour. Malformed values yield DefaultColor's components.
func RGB(hex string) (r, g, b int) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return RGB(DefaultColor)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB(DefaultColor)
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
