package persona

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/MikeSquared-Agency/persona/internal/content"
	"github.com/MikeSquared-Agency/persona/internal/errs"
)

// ParseResult holds the entries in the order they appeared and the
// categories whose headings (or JSON keys) were recognized.
type ParseResult struct {
	Entries  []TraitEntry
	Sections []Category
}

var categoryAliases = map[Category][]string{
	Demographics: {
		"demographics", "demographic", "demographic profile", "user profile", "profile",
		"basic information", "basic info", "personal details", "background", "identity",
	},
	Psychology: {
		"psychology", "psychological profile", "psychological traits", "personality",
		"personality insights", "personality traits", "motivations", "motivations and values",
		"key motivations and values", "values", "values and motivations",
	},
	OnlineBehavior: {
		"online behavior", "online behaviour", "behavior", "behaviour", "behavioral traits",
		"behavioural traits", "behavior and habits", "behaviour and habits", "habits",
		"online activity", "activity patterns", "posting habits",
	},
	Expertise: {
		"expertise", "interests", "interests and expertise", "expertise and interests",
		"skills", "knowledge", "skills and knowledge", "areas of expertise",
	},
	SocialDynamics: {
		"social dynamics", "social", "social behavior", "social behaviour", "social interactions",
		"communication style", "interaction style", "community engagement", "relationships",
	},
}

// Aliases too generic to match inside a longer heading, such as a
// "Persona Profile for u/name" title.
var wholeHeadingOnly = map[string]bool{
	"profile": true, "background": true, "identity": true, "values": true,
	"behavior": true, "behaviour": true, "habits": true, "social": true,
	"knowledge": true, "relationships": true,
}

// LookupCategory matches a heading or JSON key against the known category
// names and their aliases. A heading that merely contains a generic alias
// does not match.
func LookupCategory(heading string) (Category, bool) {
	h := normalizeHeading(heading)
	if h == "" {
		return 0, false
	}
	for _, c := range Categories {
		for _, a := range categoryAliases[c] {
			if h == a {
				return c, true
			}
		}
	}
	padded := " " + h + " "
	for _, c := range Categories {
		for _, a := range categoryAliases[c] {
			if wholeHeadingOnly[a] {
				continue
			}
			if strings.Contains(padded, " "+a+" ") {
				return c, true
			}
		}
	}
	return 0, false
}

func normalizeHeading(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "&", " and ")
	s = strings.ReplaceAll(s, "_", " ")
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	fields := strings.Fields(b.String())
	for len(fields) > 0 && isNumber(fields[0]) {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func isNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

// Parse reads a model response into trait entries. JSON objects keyed by
// category are tried first, then markdown. Citations are resolved against
// items; unresolved ones keep their raw reference. Only a response with no
// recognizable section at all is an error.
func Parse(raw string, items []content.Item) (*ParseResult, error) {
	idx := newItemIndex(items)

	if res, ok := parseJSON(raw, idx); ok {
		return res, nil
	}
	res := parseMarkdown(raw, idx)
	if len(res.Sections) == 0 {
		return nil, fmt.Errorf("no persona sections found in %d characters: %w", len(raw), errs.ErrUnparsableResponse)
	}
	return res, nil
}

// --- citation resolution ---

type itemIndex struct {
	byID       map[string]content.Item
	byShort    map[string]content.Item
	permalinks []permalinkRef
}

type permalinkRef struct {
	path string
	item content.Item
}

func newItemIndex(items []content.Item) *itemIndex {
	idx := &itemIndex{
		byID:    make(map[string]content.Item, len(items)),
		byShort: make(map[string]content.Item, len(items)),
	}
	for _, it := range items {
		idx.byID[strings.ToLower(it.ID)] = it
		idx.byShort[strings.ToLower(it.ShortID())] = it
		if p := permalinkPath(it.Permalink); p != "" {
			idx.permalinks = append(idx.permalinks, permalinkRef{path: p, item: it})
		}
	}
	return idx
}

var (
	fullnamePattern = regexp.MustCompile(`(?i)\bt[13]_[a-z0-9]+\b`)
	urlPattern      = regexp.MustCompile(`(?i)(?:https?://[^\s)\]>|]+|/r/[^\s)\]>|]+)`)
	tokenPattern    = regexp.MustCompile(`(?i)\b[a-z0-9]{4,12}\b`)
)

// resolve finds the first item a reference names: an explicit fullname,
// then a permalink or URL, then a bare short id.
func (idx *itemIndex) resolve(ref string) Citation {
	ref = strings.Trim(strings.TrimSpace(ref), "[]()<> ")
	if ref == "" {
		return Citation{}
	}
	if it, ok := idx.match(ref); ok {
		return Citation{Raw: ref, ItemID: it.ID, Permalink: it.Permalink, Community: it.Community}
	}
	return Citation{Raw: ref}
}

func (idx *itemIndex) match(ref string) (content.Item, bool) {
	for _, m := range fullnamePattern.FindAllString(ref, -1) {
		if it, ok := idx.byID[strings.ToLower(m)]; ok {
			return it, true
		}
	}

	for _, u := range urlPattern.FindAllString(ref, -1) {
		p := permalinkPath(u)
		if p == "" {
			continue
		}
		var best content.Item
		bestLen := 0
		for _, pr := range idx.permalinks {
			if strings.Contains(p, pr.path) && len(pr.path) > bestLen {
				best, bestLen = pr.item, len(pr.path)
			}
		}
		if bestLen > 0 {
			return best, true
		}
		if it, ok := idx.fromURLIDs(p); ok {
			return it, true
		}
	}

	for _, tok := range tokenPattern.FindAllString(ref, -1) {
		if it, ok := idx.byShort[strings.ToLower(tok)]; ok {
			return it, true
		}
	}
	return content.Item{}, false
}

// fromURLIDs reads /comments/<post>/<slug>/<comment> ids out of a path.
func (idx *itemIndex) fromURLIDs(path string) (content.Item, bool) {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p != "comments" || i+1 >= len(parts) {
			continue
		}
		if i+3 < len(parts) && parts[i+3] != "" {
			if it, ok := idx.byID["t1_"+parts[i+3]]; ok {
				return it, true
			}
		}
		if it, ok := idx.byID["t3_"+parts[i+1]]; ok {
			return it, true
		}
	}
	return content.Item{}, false
}

// permalinkPath reduces a reddit URL or path to a lowercase path without
// host, query or trailing slash.
func permalinkPath(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
		if j := strings.IndexByte(u, '/'); j >= 0 {
			u = u[j:]
		} else {
			return ""
		}
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/.,;")
	if !strings.HasPrefix(u, "/r/") && !strings.HasPrefix(u, "/user/") && !strings.HasPrefix(u, "/u/") {
		return ""
	}
	return u
}

// --- JSON ---

type jsonTrait struct {
	Trait       string          `json:"trait"`
	Value       string          `json:"value"`
	Description string          `json:"description"`
	Confidence  json.RawMessage `json:"confidence"`
	Citation    json.RawMessage `json:"citation"`
	Cite        json.RawMessage `json:"cite"`
	Evidence    json.RawMessage `json:"evidence"`
	Source      json.RawMessage `json:"source"`
}

func parseJSON(raw string, idx *itemIndex) (*ParseResult, bool) {
	body := cleanJSON(raw)
	if !strings.HasPrefix(body, "{") {
		return nil, false
	}
	res := &ParseResult{}
	if !decodeCategories([]byte(body), idx, res, 1) || len(res.Sections) == 0 {
		return nil, false
	}
	return res, true
}

// cleanJSON strips markdown code fences and anything outside the outermost
// braces.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// decodeCategories walks an object in key order. Unknown keys holding
// objects are searched depth levels further down, which covers wrappers
// such as {"persona": {...}}.
func decodeCategories(body []byte, idx *itemIndex, res *ParseResult, depth int) bool {
	dec := json.NewDecoder(bytes.NewReader(body))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return false
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		key, _ := tok.(string)
		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return false
		}

		cat, ok := LookupCategory(key)
		if !ok {
			if depth > 0 && bytes.HasPrefix(bytes.TrimSpace(val), []byte("{")) {
				decodeCategories(val, idx, res, depth-1)
			}
			continue
		}
		res.addSection(cat)
		for _, t := range decodeTraits(val) {
			if e, ok := t.entry(cat, idx); ok {
				res.Entries = append(res.Entries, e)
			}
		}
	}
	return true
}

func decodeTraits(val json.RawMessage) []jsonTrait {
	var list []jsonTrait
	if err := json.Unmarshal(val, &list); err == nil {
		return list
	}
	var wrapped struct {
		Traits []jsonTrait `json:"traits"`
	}
	if err := json.Unmarshal(val, &wrapped); err == nil && len(wrapped.Traits) > 0 {
		return wrapped.Traits
	}
	var strs []string
	if err := json.Unmarshal(val, &strs); err == nil {
		out := make([]jsonTrait, 0, len(strs))
		for _, s := range strs {
			out = append(out, jsonTrait{Trait: s})
		}
		return out
	}
	return nil
}

func (t jsonTrait) entry(cat Category, idx *itemIndex) (TraitEntry, bool) {
	text := firstNonEmpty(t.Trait, t.Value, t.Description)
	if text == "" {
		return TraitEntry{}, false
	}
	e := TraitEntry{Category: cat, Confidence: Medium}
	if conf, ok := jsonConfidence(t.Confidence); ok {
		e.Confidence = conf
	}

	refs := jsonRefs(t.Citation, t.Cite, t.Evidence, t.Source)
	e.Citation = resolveFirst(refs, idx)

	// No citation field: the trait text may still carry inline markers.
	if len(refs) == 0 {
		line := parseEntryLine(text, idx)
		e.Citation = line.citation
		if line.confidenceSet && len(t.Confidence) == 0 {
			e.Confidence = line.confidence
		}
		text = line.trait
	}
	e.Trait = cleanTrait(text)
	return e, e.Trait != ""
}

func jsonConfidence(raw json.RawMessage) (Confidence, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseConfidence(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		if f > 1 {
			f /= 10
		}
		switch {
		case f >= 0.75:
			return High, true
		case f >= 0.4:
			return Medium, true
		default:
			return Low, true
		}
	}
	return "", false
}

func jsonRefs(fields ...json.RawMessage) []string {
	var out []string
	for _, raw := range fields {
		if len(raw) == 0 {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			for _, s := range list {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (r *ParseResult) addSection(c Category) {
	for _, s := range r.Sections {
		if s == c {
			return
		}
	}
	r.Sections = append(r.Sections, c)
}
