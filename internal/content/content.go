// Package content turns raw Reddit listing items into the immutable items the
// prompt builder and parser work with.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/jonreiter/govader"
	"github.com/russross/blackfriday/v2"

	"github.com/MikeSquared-Agency/persona/internal/reddit"
)

type Kind string

const (
	KindPost    Kind = "post"
	KindComment Kind = "comment"
	KindDeleted Kind = "deleted"
)

const redditHost = "https://www.reddit.com"

var analyzer = govader.NewSentimentIntensityAnalyzer()

// Item is one normalized post or comment. ID is the Reddit fullname.
type Item struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title,omitempty"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Community string    `json:"community"`
	Permalink string    `json:"permalink"`
	Score     int       `json:"score"`
	Sentiment float64   `json:"sentiment"`
}

// ShortID returns the id without its t1_/t3_ prefix.
func (it Item) ShortID() string {
	if i := strings.IndexByte(it.ID, '_'); i >= 0 {
		return it.ID[i+1:]
	}
	return it.ID
}

// Normalize converts one listing item. Deleted and removed content becomes
// KindDeleted rather than being dropped.
func Normalize(raw reddit.Thing) Item {
	d := raw.Data
	it := Item{
		ID:        itemID(raw),
		CreatedAt: d.Created(),
		Community: d.Subreddit,
		Permalink: absolutePermalink(d.Permalink),
		Score:     d.Score,
	}

	switch kindOf(raw) {
	case reddit.KindPost:
		it.Kind = KindPost
		it.Title = strings.TrimSpace(d.Title)
		it.Text = PlainText(d.Selftext)
		if isRemoved(d.Selftext) || isRemoved(d.Author) || (it.Title == "" && it.Text == "") {
			it.Kind = KindDeleted
			it.Text = ""
		}
	default:
		it.Kind = KindComment
		it.Title = strings.TrimSpace(d.LinkTitle)
		it.Text = PlainText(d.Body)
		if isRemoved(d.Body) || it.Text == "" {
			it.Kind = KindDeleted
			it.Text = ""
		}
	}

	if it.Kind != KindDeleted {
		it.Sentiment = Sentiment(strings.TrimSpace(it.Title + " " + it.Text))
	}
	return it
}

// NormalizeAll normalizes items in order.
func NormalizeAll(raw []reddit.Thing) []Item {
	out := make([]Item, 0, len(raw))
	for _, r := range raw {
		out = append(out, Normalize(r))
	}
	return out
}

// Sentiment returns the VADER compound score in [-1, 1].
func Sentiment(text string) float64 {
	if text == "" {
		return 0
	}
	return analyzer.PolarityScores(text).Compound
}

// PlainText renders Reddit markdown to plain text, keeping link labels and
// dropping link targets.
func PlainText(md string) string {
	md = strings.TrimSpace(md)
	if md == "" || isRemoved(md) {
		return ""
	}

	root := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions)).Parse([]byte(md))

	var b strings.Builder
	root.Walk(func(n *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch n.Type {
		case blackfriday.Text, blackfriday.Code, blackfriday.CodeBlock:
			if entering {
				b.Write(n.Literal)
			}
		case blackfriday.Softbreak, blackfriday.Hardbreak:
			b.WriteByte(' ')
		case blackfriday.Paragraph, blackfriday.Heading, blackfriday.Item, blackfriday.TableCell:
			if !entering {
				b.WriteByte(' ')
			}
		}
		return blackfriday.GoToNext
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func isRemoved(s string) bool {
	switch strings.TrimSpace(s) {
	case "[deleted]", "[removed]":
		return true
	}
	return false
}

func absolutePermalink(p string) string {
	if p == "" || strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return redditHost + p
}

// itemID prefers the fullname, then kind plus short id, then a digest of
// permalink and creation time.
func itemID(raw reddit.Thing) string {
	d := raw.Data
	if d.Name != "" {
		return d.Name
	}
	kind := kindOf(raw)
	if d.ID != "" {
		return kind + "_" + d.ID
	}
	sum := sha256.Sum256([]byte(d.Permalink + "|" + strconv.FormatFloat(d.CreatedUTC, 'f', -1, 64)))
	return kind + "_x" + hex.EncodeToString(sum[:6])
}

// kindOf falls back to the presence of a title when the listing kind is
// missing.
func kindOf(raw reddit.Thing) string {
	if raw.Kind != "" {
		return raw.Kind
	}
	if raw.Data.Title != "" {
		return reddit.KindPost
	}
	return reddit.KindComment
}
