package model

import (
	"fmt"
	"image"
	"regexp"
	"strconv"
	"strings"
)

// OutlineBorder is the width in pixels of the region outline.
const OutlineBorder = 3

// OutlineBars are the four strips framing a capture region. They sit
// outside the region so the outline never appears in captured frames.
type OutlineBars struct {
	Top, Bottom, Left, Right image.Rectangle
}

// OutlineFor returns the bars framing r with the given border width.
func OutlineFor(r image.Rectangle, border int) OutlineBars {
	if border < 1 {
		border = 1
	}
	return OutlineBars{
		Top:    image.Rect(r.Min.X-border, r.Min.Y-border, r.Max.X+border, r.Min.Y),
		Bottom: image.Rect(r.Min.X-border, r.Max.Y, r.Max.X+border, r.Max.Y+border),
		Left:   image.Rect(r.Min.X-border, r.Min.Y, r.Min.X, r.Max.Y),
		Right:  image.Rect(r.Max.X, r.Min.Y, r.Max.X+border, r.Max.Y),
	}
}

// Rects lists the bars in drawing order.
func (o OutlineBars) Rects() []image.Rectangle {
	return []image.Rectangle{o.Top, o.Bottom, o.Left, o.Right}
}

// Geometry formats r as a Tk geometry string "WIDTHxHEIGHT+X+Y".
func Geometry(r image.Rectangle) string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Dx(), r.Dy(), r.Min.X, r.Min.Y)
}

// geomRe matches window geometry strings in the format "WIDTHxHEIGHT+X+Y"
var geomRe = regexp.MustCompile(`^(\d+)x(\d+)\+(-?\d+)\+(-?\d+)$`)

// ParseGeometry parses a Tk geometry string and returns the corresponding rectangle.
func ParseGeometry(g string) (image.Rectangle, bool) {
	g = strings.TrimSpace(g)
	m := geomRe.FindStringSubmatch(g)
	if len(m) != 5 {
		return image.Rectangle{}, false
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	x, _ := strconv.Atoi(m[3])
	y, _ := strconv.Atoi(m[4])
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(x, y, x+w, y+h), true
}
