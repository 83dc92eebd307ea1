// Package render turns a persona report into text, markdown, HTML, a
// compact card, or a PNG image.
package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/MikeSquared-Agency/persona/internal/content"
	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/persona"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatCard     Format = "card"
	FormatPNG      Format = "png"
	FormatJSON     Format = "json"
)

const (
	noTraits   = "No traits identified."
	noCitation = "citation unavailable"
)

// Ext is the file extension used when the format is saved to disk.
func (f Format) Ext() string {
	switch f {
	case FormatText:
		return "txt"
	case FormatMarkdown:
		return "md"
	case FormatCard:
		return "card.txt"
	default:
		return string(f)
	}
}

// ParseFormats reads a comma separated list such as "text,md,png".
func ParseFormats(s string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		var f Format
		switch part {
		case "text", "txt":
			f = FormatText
		case "markdown", "md":
			f = FormatMarkdown
		case "html":
			f = FormatHTML
		case "card":
			f = FormatCard
		case "png", "image":
			f = FormatPNG
		case "json":
			f = FormatJSON
		default:
			return nil, fmt.Errorf("unknown format %q: %w", part, errs.ErrInvalidRequest)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no output format given: %w", errs.ErrInvalidRequest)
	}
	return out, nil
}

// Render dispatches to the renderer for f.
func Render(r *persona.Report, f Format) ([]byte, error) {
	switch f {
	case FormatText:
		return []byte(Text(r)), nil
	case FormatMarkdown:
		return []byte(Markdown(r)), nil
	case FormatHTML:
		return []byte(HTML(r)), nil
	case FormatCard:
		return []byte(Card(r)), nil
	case FormatPNG:
		return PNG(r)
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	default:
		return nil, fmt.Errorf("unknown format %q: %w", f, errs.ErrInvalidRequest)
	}
}

// Text is the plain console rendering.
func Text(r *persona.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Persona report for u/%s\n", r.Username)
	fmt.Fprintf(&b, "Generated %s by %s (%s), run %s\n", stamp(r.GeneratedAt), r.Provider, r.Model, r.RunID)
	b.WriteString("\n")

	if r.Account != nil {
		b.WriteString("Account\n")
		for _, line := range accountLines(r) {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}

	b.WriteString("Activity\n")
	for _, line := range activityLines(r) {
		fmt.Fprintf(&b, "  %s\n", line)
	}

	for _, s := range r.Sections() {
		fmt.Fprintf(&b, "\n== %s ==\n", s.Category)
		if len(s.Entries) == 0 {
			fmt.Fprintf(&b, "  %s\n", noTraits)
			continue
		}
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "  - %s [confidence: %s]\n", e.Trait, e.Confidence)
			fmt.Fprintf(&b, "      %s\n", citationText(e.Citation))
		}
	}
	return b.String()
}

// Markdown renders the report as a standalone markdown document.
func Markdown(r *persona.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Persona: u/%s\n\n", r.Username)
	fmt.Fprintf(&b, "_Generated %s by %s (%s), run `%s`_\n\n", stamp(r.GeneratedAt), r.Provider, r.Model, r.RunID)

	if r.Account != nil {
		b.WriteString("## Account\n\n")
		for _, line := range accountLines(r) {
			fmt.Fprintf(&b, "- %s\n", line)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Activity\n\n")
	for _, line := range activityLines(r) {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	for _, s := range r.Sections() {
		fmt.Fprintf(&b, "\n## %s\n\n", s.Category)
		if len(s.Entries) == 0 {
			fmt.Fprintf(&b, "_%s_\n", noTraits)
			continue
		}
		for _, e := range s.Entries {
			fmt.Fprintf(&b, "- **%s** (confidence: %s) %s\n", mdEscape(e.Trait), e.Confidence, citationMarkdown(e.Citation))
		}
	}
	return b.String()
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "unknown time"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}

func accountLines(r *persona.Report) []string {
	a := r.Account
	var lines []string
	if !a.CreatedAt.IsZero() {
		ref := r.GeneratedAt
		if ref.IsZero() {
			ref = time.Now()
		}
		lines = append(lines, fmt.Sprintf("Created: %s (%s)", a.CreatedAt.UTC().Format("2006-01-02"), humanize.RelTime(a.CreatedAt, ref, "old", "from now")))
	}
	lines = append(lines, fmt.Sprintf("Karma: %s (link %s, comment %s)",
		humanize.Comma(int64(a.TotalKarma)), humanize.Comma(int64(a.LinkKarma)), humanize.Comma(int64(a.CommentKarma))))

	var flags []string
	if a.Premium {
		flags = append(flags, "premium")
	}
	if a.Moderator {
		flags = append(flags, "moderator")
	}
	if a.VerifiedEmail {
		flags = append(flags, "verified email")
	}
	if len(flags) > 0 {
		lines = append(lines, "Flags: "+strings.Join(flags, ", "))
	}
	return lines
}

func activityLines(r *persona.Report) []string {
	fetched := fmt.Sprintf("Fetched %d posts and %d comments", r.PostsFetched, r.CommentsFetched)
	if r.ItemsDeleted > 0 {
		fetched += fmt.Sprintf(" (%d deleted)", r.ItemsDeleted)
	}
	lines := []string{fetched}
	if !r.ActiveFrom.IsZero() && !r.ActiveTo.IsZero() {
		lines = append(lines, fmt.Sprintf("Active from %s to %s", r.ActiveFrom.Format("2006-01-02"), r.ActiveTo.Format("2006-01-02")))
	}
	lines = append(lines, fmt.Sprintf("Prompted %d items (%d dropped for length, %d clipped)", r.ItemsPrompted, r.ItemsDropped, r.ItemsClipped))
	if len(r.TopCommunities) > 0 {
		parts := make([]string, len(r.TopCommunities))
		for i, c := range r.TopCommunities {
			parts[i] = fmt.Sprintf("r/%s (%d)", c.Name, c.Count)
		}
		lines = append(lines, "Top communities: "+strings.Join(parts, ", "))
	}
	lines = append(lines, fmt.Sprintf("Mean sentiment: %+.2f (%s)", r.MeanSentiment, content.SentimentLabel(r.MeanSentiment)))
	lines = append(lines, fmt.Sprintf("Traits: %d, %d with a resolved citation", len(r.Entries), r.Resolved()))
	return lines
}

func citationText(c persona.Citation) string {
	switch {
	case c.Resolved() && c.Permalink != "":
		return fmt.Sprintf("cite: %s %s", c.ItemID, c.Permalink)
	case c.Resolved():
		return "cite: " + c.ItemID
	case c.Raw != "":
		return fmt.Sprintf("%s (model cited %q)", noCitation, c.Raw)
	default:
		return noCitation
	}
}

func citationMarkdown(c persona.Citation) string {
	switch {
	case c.Resolved() && c.Permalink != "":
		s := fmt.Sprintf("[%s](%s)", c.ItemID, c.Permalink)
		if c.Community != "" {
			s += " in r/" + c.Community
		}
		return s
	case c.Resolved():
		return "`" + c.ItemID + "`"
	case c.Raw != "":
		return fmt.Sprintf("_%s_ (model cited `%s`)", noCitation, strings.ReplaceAll(c.Raw, "`", "'"))
	default:
		return "_" + noCitation + "_"
	}
}

var mdEscaper = strings.NewReplacer("*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`, "<", "&lt;", "\n", " ")

func mdEscape(s string) string { return mdEscaper.Replace(s) }
