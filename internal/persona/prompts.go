package persona

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/persona/internal/content"
	"github.com/MikeSquared-Agency/persona/internal/errs"
)

const DefaultMaxItemChars = 1500

const systemPrompt = `You are an analyst who builds a user persona from a person's public Reddit posts and comments.

Every item you are given starts with a header of the form:
[<id>] POST|COMMENT|DELETED r/<community> <date>

Write the persona in Markdown using exactly these five headings, in this order:

## Demographics
Age range, location, occupation, education, life stage.

## Psychology
Personality traits, motivations, values, frustrations, goals.

## Online Behavior
Posting habits, tone, activity patterns, communities frequented.

## Expertise
Skills, knowledge areas, hobbies and interests they speak about with authority.

## Social Dynamics
How they interact with others: helpfulness, conflict, humour, community role.

Under each heading write one bullet per trait in exactly this format:
- <trait> | confidence: <low|medium|high> | cite: [<id>]

## Rules
- Every trait must cite the single item id that best supports it, copied exactly from an item header.
- Only cite ids that appear in the items below. Never invent ids or URLs.
- Use high only when several items agree, medium for a clear single signal, low for an inference.
- If you cannot infer anything for a category, keep the heading and write nothing under it.
- Do not add other headings, preambles or closing remarks.`

const userPromptHeader = `Build a persona for Reddit user u/%s.
%s
ITEMS:

`

const userPromptFooter = `
Write the five sections now. Cite item ids exactly as they appear in the headers above.`

type PromptOptions struct {
	// Budget caps the combined system and user prompt length in characters.
	// Zero means unlimited.
	Budget       int
	MaxItemChars int
	Username     string
	Account      *Account
}

// Prompt is a built prompt plus an account of what it left out.
type Prompt struct {
	System   string
	User     string
	Included []content.Item
	Dropped  []content.Item
	Clipped  int

	fixed int
}

// Len is the prompt size in characters.
func (p *Prompt) Len() int {
	return utf8.RuneCountInString(p.System) + utf8.RuneCountInString(p.User)
}

// HalfBudget is a budget that keeps the instructions and half of the item
// text of p.
func (p *Prompt) HalfBudget() int {
	return p.fixed + (p.Len()-p.fixed)/2
}

// BuildPrompt serializes items into a prompt. When the result exceeds the
// budget the oldest items are dropped first (ties by id) until it fits;
// kept items stay in input order.
func BuildPrompt(items []content.Item, opts PromptOptions) (*Prompt, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("build prompt: %w", errs.ErrNoContent)
	}
	maxChars := opts.MaxItemChars
	if maxChars <= 0 {
		maxChars = DefaultMaxItemChars
	}

	blocks := make([]string, len(items))
	clipped := make([]bool, len(items))
	for i, it := range items {
		blocks[i], clipped[i] = itemBlock(it, maxChars)
	}

	header := fmt.Sprintf(userPromptHeader, opts.Username, accountLine(opts.Account))
	fixed := utf8.RuneCountInString(systemPrompt) + utf8.RuneCountInString(header) + utf8.RuneCountInString(userPromptFooter)

	total := fixed
	for _, b := range blocks {
		total += utf8.RuneCountInString(b)
	}

	keep := make([]bool, len(items))
	for i := range keep {
		keep[i] = true
	}
	if opts.Budget > 0 && total > opts.Budget {
		for _, i := range dropOrder(items) {
			if total <= opts.Budget {
				break
			}
			keep[i] = false
			total -= utf8.RuneCountInString(blocks[i])
		}
	}

	p := &Prompt{System: systemPrompt, fixed: fixed}
	var b strings.Builder
	b.WriteString(header)
	for i, it := range items {
		if !keep[i] {
			p.Dropped = append(p.Dropped, it)
			continue
		}
		p.Included = append(p.Included, it)
		if clipped[i] {
			p.Clipped++
		}
		b.WriteString(blocks[i])
	}
	b.WriteString(userPromptFooter)
	p.User = b.String()

	if len(p.Included) == 0 {
		return nil, fmt.Errorf("build prompt: no item fits a budget of %d characters: %w", opts.Budget, errs.ErrNoContent)
	}
	return p, nil
}

// dropOrder returns item indexes from lowest to highest priority.
func dropOrder(items []content.Item) []int {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		x, y := items[idx[a]], items[idx[b]]
		if !x.CreatedAt.Equal(y.CreatedAt) {
			return x.CreatedAt.Before(y.CreatedAt)
		}
		return x.ID < y.ID
	})
	return idx
}

func itemBlock(it content.Item, maxChars int) (string, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s r/%s", it.ID, strings.ToUpper(string(it.Kind)), it.Community)
	if !it.CreatedAt.IsZero() {
		b.WriteString(" " + it.CreatedAt.Format("2006-01-02"))
	}
	b.WriteByte('\n')

	switch it.Kind {
	case content.KindPost:
		fmt.Fprintf(&b, "Title: %s\n", it.Title)
	case content.KindComment:
		if it.Title != "" {
			fmt.Fprintf(&b, "In thread: %s\n", it.Title)
		}
	case content.KindDeleted:
		b.WriteString("(content deleted)\n\n")
		return b.String(), false
	}

	text, clipped := clip(it.Text, maxChars)
	if text != "" {
		b.WriteString(text)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String(), clipped
}

// clip shortens s to at most n runes, cutting on a rune boundary.
func clip(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]) + "…", true
}

func accountLine(a *Account) string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("Account created %s, %d post karma, %d comment karma.\n",
		a.CreatedAt.Format("2006-01-02"), a.LinkKarma, a.CommentKarma)
}
