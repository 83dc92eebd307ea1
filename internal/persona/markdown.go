package persona

import (
	"regexp"
	"strings"
)

const (
	citeLabels = `(?:cite|cites|citation|citations|source|sources|evidence|ref|refs|reference|references)`
	citeRef    = `(?:t[13]_[a-z0-9]+|[a-z0-9]{0,11}\d[a-z0-9]{0,11}|https?://[^\s,;]+|\[[^\]]*\](?:\([^)\s]+\))?)`
)

var (
	atxHeading    = regexp.MustCompile(`^(#{1,6})\s*(.*?)\s*#*\s*$`)
	boldHeading   = regexp.MustCompile(`^(?:\*\*|__)(.+?)(?:\*\*|__)\s*:?\s*$`)
	colonHeading  = regexp.MustCompile(`^([^|:]{2,60}):\s*$`)
	listMarker    = regexp.MustCompile(`^(\s*)(?:[-*+•]|\d{1,2}[.)])\s+`)
	tableSepCells = regexp.MustCompile(`^:?-{2,}:?$`)

	labelledField = regexp.MustCompile(`(?i)^\s*(confidence|conf|level|certainty|cite|cites|citation|citations|source|sources|evidence|ref|reference|references)\s*[:=]\s*(.*)$`)

	// A citation tail is either the last parenthesized or bracketed label
	// group, or a bare label whose value is only ids or links.
	citeParen   = regexp.MustCompile(`(?i)\s*\(\s*` + citeLabels + `\s*:\s*((?:[^()]|\([^()]*\))+?)\s*\)\s*\.?\s*$`)
	citeBracket = regexp.MustCompile(`(?i)\s*\[\s*` + citeLabels + `\s*:\s*([^\[\]]+?)\s*\]\s*\.?\s*$`)
	citeBare    = regexp.MustCompile(`(?i)(?:^|[\s,;–—-])` + citeLabels + `\s*:\s*(` + citeRef + `(?:\s*(?:,|;|and|&)\s*` + citeRef + `)*)\s*\.?\s*$`)

	confInline  = regexp.MustCompile(`(?i)[\s(\[,;-]*\bconfidence\s*(?:level)?\s*[:=]?\s*(high|medium|med|low|h|m|l)\b[)\]]?`)
	confBracket = regexp.MustCompile(`(?i)[(\[]\s*(high|medium|low|h|m|l)(?:\s+confidence)?\s*[)\]]`)
	confEmoji   = regexp.MustCompile(`🟢|🟡|🔴|⚪`)
	mdLink      = regexp.MustCompile(`\[([^\]]*)\]\(([^)\s]+)\)`)
	bracketID   = regexp.MustCompile(`(?i)\[\s*((?:t[13]_)?[a-z0-9]{4,12})\s*\]`)
	bareRef     = regexp.MustCompile(`(?i)\bt[13]_[a-z0-9]+\b|https?://\S+`)
)

// Sub-bullet labels that carry no trait of their own.
var commentaryLabels = []string{"marketing angle", "marketing impact", "marketing implication", "implication", "note"}

var genericLinkLabels = map[string]bool{
	"source": true, "link": true, "post": true, "comment": true, "cite": true,
	"citation": true, "evidence": true, "reddit post": true, "reddit comment": true,
	"reddit post/comment": true, "here": true,
}

func parseMarkdown(raw string, idx *itemIndex) *ParseResult {
	res := &ParseResult{}
	var (
		current      Category
		inSection    bool
		sectionLevel int
		lastEntry    = -1
	)

	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == "---" || trimmed == "```" {
			continue
		}

		if level, title, ok := headingOf(trimmed); ok {
			if cat, known := LookupCategory(title); known {
				current, inSection, sectionLevel = cat, true, level
				res.addSection(cat)
				lastEntry = -1
				continue
			}
			// Unknown sub-headings stay inside the open section.
			if !inSection || level <= sectionLevel {
				inSection = false
				lastEntry = -1
			}
			continue
		}
		if !inSection {
			continue
		}

		if strings.HasPrefix(trimmed, "|") {
			if e, ok := parseTableRow(trimmed, current, idx); ok {
				res.Entries = append(res.Entries, e)
				lastEntry = len(res.Entries) - 1
			}
			continue
		}

		m := listMarker.FindStringSubmatch(line)
		if m == nil {
			// Prose only counts when it cites something.
			pl := parseEntryLine(trimmed, idx)
			if pl.citation.Raw != "" && pl.trait != "" {
				res.Entries = append(res.Entries, pl.entry(current))
				lastEntry = len(res.Entries) - 1
			}
			continue
		}

		body := strings.TrimSpace(line[len(m[0]):])
		indented := len(m[1]) >= 2

		if indented && lastEntry >= 0 {
			if lm := labelledField.FindStringSubmatch(body); lm != nil && isCiteLabel(lm[1]) {
				if !res.Entries[lastEntry].Citation.Resolved() {
					if c := idx.resolve(lm[2]); c.Resolved() || res.Entries[lastEntry].Citation.Raw == "" {
						res.Entries[lastEntry].Citation = c
					}
				}
				continue
			}
			if hasCommentaryLabel(body) {
				continue
			}
		}

		// Group labels such as "1. Primary motivations:" introduce sub-bullets.
		if strings.HasSuffix(body, ":") {
			continue
		}
		pl := parseEntryLine(body, idx)
		if pl.trait == "" {
			continue
		}
		res.Entries = append(res.Entries, pl.entry(current))
		lastEntry = len(res.Entries) - 1
	}
	return res
}

// headingOf recognizes ATX headings, whole-line bold text, bold list items
// that name a category, and short lines ending in a colon. Bold and colon
// headings rank below every ATX level.
func headingOf(line string) (int, string, bool) {
	if m := atxHeading.FindStringSubmatch(line); m != nil {
		return len(m[1]), strings.Trim(m[2], "*_ "), true
	}
	if m := boldHeading.FindStringSubmatch(line); m != nil {
		return 7, m[1], true
	}
	if m := listMarker.FindStringSubmatch(line); m != nil {
		rest := strings.TrimSpace(line[len(m[0]):])
		if b := boldHeading.FindStringSubmatch(rest); b != nil {
			if _, ok := LookupCategory(b[1]); ok {
				return 7, b[1], true
			}
		}
		return 0, "", false
	}
	if strings.HasPrefix(line, "|") {
		return 0, "", false
	}
	if m := colonHeading.FindStringSubmatch(line); m != nil && len(strings.Fields(m[1])) <= 6 {
		return 8, m[1], true
	}
	return 0, "", false
}

type parsedLine struct {
	trait         string
	confidence    Confidence
	confidenceSet bool
	citation      Citation
}

func (p parsedLine) entry(c Category) TraitEntry {
	conf := p.confidence
	if !p.confidenceSet {
		conf = Medium
	}
	return TraitEntry{Category: c, Trait: p.trait, Citation: p.citation, Confidence: conf}
}

// parseEntryLine splits one bullet into trait text, confidence and
// citation. Pipe-separated fields are read by label; otherwise inline
// markers are extracted and removed from the trait text.
func parseEntryLine(s string, idx *itemIndex) parsedLine {
	var pl parsedLine
	if strings.Contains(s, "|") {
		return parseFields(strings.Split(s, "|"), idx)
	}

	for _, re := range []*regexp.Regexp{citeParen, citeBracket, citeBare} {
		if m := re.FindStringSubmatchIndex(s); m != nil {
			pl.citation = idx.resolve(s[m[2]:m[3]])
			s = s[:m[0]]
			break
		}
	}

	s = extractConfidence(s, &pl)

	if pl.citation.Raw == "" {
		var refs []string
		s = mdLink.ReplaceAllStringFunc(s, func(link string) string {
			sm := mdLink.FindStringSubmatch(link)
			refs = append(refs, sm[2])
			if genericLinkLabels[strings.ToLower(strings.TrimSpace(sm[1]))] {
				return ""
			}
			return sm[1]
		})
		s = bracketID.ReplaceAllStringFunc(s, func(b string) string {
			sm := bracketID.FindStringSubmatch(b)
			if _, ok := idx.match(sm[1]); ok || strings.Contains(strings.ToLower(sm[1]), "_") {
				refs = append(refs, sm[1])
				return ""
			}
			return b
		})
		s = bareRef.ReplaceAllStringFunc(s, func(r string) string {
			refs = append(refs, r)
			return ""
		})
		pl.citation = resolveFirst(refs, idx)
	}

	pl.trait = cleanTrait(s)
	return pl
}

func parseFields(fields []string, idx *itemIndex) parsedLine {
	var pl parsedLine
	var traitParts []string
	var refs []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if m := labelledField.FindStringSubmatch(f); m != nil {
			if isCiteLabel(m[1]) {
				refs = append(refs, m[2])
			} else if c, ok := ParseConfidence(m[2]); ok {
				pl.confidence, pl.confidenceSet = c, true
			}
			continue
		}
		if c, ok := ParseConfidence(f); ok && !pl.confidenceSet {
			pl.confidence, pl.confidenceSet = c, true
			continue
		}
		if bareRef.MatchString(f) || mdLink.MatchString(f) || bracketID.MatchString(f) {
			inner := parseEntryLine(f, idx)
			if inner.citation.Raw != "" {
				refs = append(refs, inner.citation.Raw)
				if inner.trait != "" && len(traitParts) == 0 {
					traitParts = append(traitParts, inner.trait)
				}
				continue
			}
		}
		if len(traitParts) < 2 {
			traitParts = append(traitParts, f)
		}
	}
	pl.citation = resolveFirst(refs, idx)
	pl.trait = cleanTrait(strings.Join(traitParts, ": "))
	return pl
}

// parseTableRow reads one markdown table row. Header and separator rows
// yield no entry.
func parseTableRow(line string, c Category, idx *itemIndex) (TraitEntry, bool) {
	inner := strings.Trim(strings.TrimSpace(line), "|")
	cells := strings.Split(inner, "|")

	sep := true
	header := true
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell != "" && !tableSepCells.MatchString(cell) {
			sep = false
		}
		if cell != "" && !isHeaderCell(cell) {
			header = false
		}
	}
	if sep || header {
		return TraitEntry{}, false
	}

	pl := parseFields(cells, idx)
	if pl.trait == "" || strings.Contains(pl.trait, "(inferred)") {
		return TraitEntry{}, false
	}
	return pl.entry(c), true
}

var headerCells = map[string]bool{
	"category": true, "trait": true, "details": true, "detail": true, "value": true,
	"confidence": true, "evidence": true, "citation": true, "source": true, "level": true,
	"marketing implications": true, "implications": true, "notes": true,
}

func isHeaderCell(cell string) bool {
	return headerCells[strings.ToLower(strings.Trim(cell, "* "))]
}

func extractConfidence(s string, pl *parsedLine) string {
	for _, re := range []*regexp.Regexp{confInline, confBracket} {
		if m := re.FindStringSubmatchIndex(s); m != nil {
			if c, ok := ParseConfidence(s[m[2]:m[3]]); ok {
				pl.confidence, pl.confidenceSet = c, true
				return s[:m[0]] + s[m[1]:]
			}
		}
	}
	if loc := confEmoji.FindStringIndex(s); loc != nil {
		if c, ok := ParseConfidence(s[loc[0]:loc[1]]); ok {
			pl.confidence, pl.confidenceSet = c, true
		}
		return confEmoji.ReplaceAllString(s, "")
	}
	return s
}

func resolveFirst(refs []string, idx *itemIndex) Citation {
	var raws []string
	for _, r := range refs {
		c := idx.resolve(r)
		if c.Resolved() {
			return c
		}
		if c.Raw != "" {
			raws = append(raws, c.Raw)
		}
	}
	return Citation{Raw: strings.Join(raws, ", ")}
}

func isCiteLabel(label string) bool {
	switch strings.ToLower(label) {
	case "confidence", "conf", "level", "certainty":
		return false
	}
	return true
}

func hasCommentaryLabel(s string) bool {
	lower := strings.ToLower(strings.Trim(s, "*_ "))
	for _, l := range commentaryLabels {
		if strings.HasPrefix(lower, l) {
			return true
		}
	}
	return false
}

// cleanTrait strips emphasis markers and dangling separators.
func cleanTrait(s string) string {
	s = strings.NewReplacer("**", "", "__", "", "`", "", "()", "", "[]", "").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " -–—:|,;")
}
