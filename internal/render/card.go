package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/MikeSquared-Agency/persona/internal/persona"
)

const (
	cardTraitsPerCategory = 3
	cardWidth             = 72

	pngWidth   = 640
	pngMargin  = 20
	pngLineGap = 17
	pngBand    = 44
)

var (
	bandColor = color.RGBA{0xff, 0x45, 0x00, 0xff}
	bgColor   = color.RGBA{0xfa, 0xfa, 0xfa, 0xff}
	inkColor  = color.RGBA{0x1c, 0x1c, 0x1c, 0xff}
	headColor = color.RGBA{0xc0, 0x36, 0x00, 0xff}
)

type cardLine struct {
	text    string
	heading bool
}

func cardLines(r *persona.Report) []cardLine {
	lines := []cardLine{}
	summary := fmt.Sprintf("%d posts, %d comments, %d traits (%d cited)",
		r.PostsFetched, r.CommentsFetched, len(r.Entries), r.Resolved())
	if r.Account != nil {
		summary += ", karma " + humanize.Comma(int64(r.Account.TotalKarma))
	}
	lines = append(lines, cardLine{text: summary})
	if len(r.TopCommunities) > 0 {
		names := make([]string, len(r.TopCommunities))
		for i, c := range r.TopCommunities {
			names[i] = "r/" + c.Name
		}
		lines = append(lines, cardLine{text: "Active in " + strings.Join(names, ", ")})
	}

	for _, s := range r.Sections() {
		lines = append(lines, cardLine{text: s.Category.String(), heading: true})
		if len(s.Entries) == 0 {
			lines = append(lines, cardLine{text: "  " + noTraits})
			continue
		}
		for i, e := range s.Entries {
			if i == cardTraitsPerCategory {
				lines = append(lines, cardLine{text: fmt.Sprintf("  +%d more", len(s.Entries)-i)})
				break
			}
			lines = append(lines, cardLine{text: fmt.Sprintf("  * %s (%s)", e.Trait, e.Confidence)})
		}
	}
	return lines
}

// Card is a compact text summary with the top traits of each category.
func Card(r *persona.Report) string {
	var b strings.Builder
	title := "u/" + r.Username
	rule := strings.Repeat("=", cardWidth)
	fmt.Fprintf(&b, "%s\n%s\n%s\n", rule, title, rule)
	for _, l := range cardLines(r) {
		if l.heading {
			fmt.Fprintf(&b, "\n[%s]\n", l.text)
			continue
		}
		for _, w := range wrap(l.text, cardWidth) {
			fmt.Fprintln(&b, w)
		}
	}
	b.WriteString(rule + "\n")
	return b.String()
}

// PNG draws the card onto an image with the fixed 7x13 bitmap face.
func PNG(r *persona.Report) ([]byte, error) {
	face := basicfont.Face7x13
	cols := (pngWidth - 2*pngMargin) / face.Advance

	var rows []cardLine
	for _, l := range cardLines(r) {
		for _, w := range wrap(asciiOnly(l.text), cols) {
			rows = append(rows, cardLine{text: w, heading: l.heading})
		}
	}

	height := pngBand + pngMargin + len(rows)*pngLineGap + pngMargin
	img := image.NewRGBA(image.Rect(0, 0, pngWidth, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bgColor}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, pngWidth, pngBand), &image.Uniform{C: bandColor}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Face: face}
	d.Src = image.NewUniform(color.White)
	d.Dot = fixed.P(pngMargin, pngBand/2+5)
	d.DrawString(asciiOnly("u/" + r.Username + "  persona"))

	y := pngBand + pngMargin + 10
	for _, row := range rows {
		d.Src = image.NewUniform(inkColor)
		if row.heading {
			d.Src = image.NewUniform(headColor)
		}
		d.Dot = fixed.P(pngMargin, y)
		d.DrawString(row.text)
		y += pngLineGap
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// wrap breaks s on spaces so no line exceeds width runes. Continuation
// lines keep the leading indent of the first.
func wrap(s string, width int) []string {
	if utf8.RuneCountInString(s) <= width || width <= 0 {
		return []string{s}
	}
	indent := s[:len(s)-len(strings.TrimLeft(s, " "))]
	var out []string
	line := ""
	for _, word := range strings.Fields(s) {
		switch {
		case line == "":
			line = indent + word
		case utf8.RuneCountInString(line)+1+utf8.RuneCountInString(word) > width:
			out = append(out, line)
			line = indent + "  " + word
		default:
			line += " " + word
		}
	}
	if line != "" {
		out = append(out, line)
	}
	return out
}

// asciiOnly replaces runes the bitmap face cannot draw.
func asciiOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if r < 0x20 || r > 0x7e {
			return '?'
		}
		return r
	}, s)
}
