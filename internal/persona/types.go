package persona

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/persona/internal/content"
	"github.com/MikeSquared-Agency/persona/internal/reddit"
)

// Category is one of the five fixed persona sections.
type Category int

const (
	Demographics Category = iota
	Psychology
	OnlineBehavior
	Expertise
	SocialDynamics
)

// Categories lists every category in report order.
var Categories = []Category{Demographics, Psychology, OnlineBehavior, Expertise, SocialDynamics}

func (c Category) String() string {
	switch c {
	case Demographics:
		return "Demographics"
	case Psychology:
		return "Psychology"
	case OnlineBehavior:
		return "Online Behavior"
	case Expertise:
		return "Expertise"
	case SocialDynamics:
		return "Social Dynamics"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Key is the snake_case form used in JSON output.
func (c Category) Key() string {
	return strings.ReplaceAll(strings.ToLower(c.String()), " ", "_")
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Key())
}

func (c *Category) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	cat, ok := LookupCategory(s)
	if !ok {
		return fmt.Errorf("unknown category %q", s)
	}
	*c = cat
	return nil
}

// Confidence is the model's stated certainty for a trait.
type Confidence string

const (
	Low    Confidence = "low"
	Medium Confidence = "medium"
	High   Confidence = "high"
)

// ParseConfidence maps common spellings to a Confidence; ok is false when
// nothing matched.
func ParseConfidence(s string) (Confidence, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), "[]()*_.:")) {
	case "high", "h", "strong", "🟢":
		return High, true
	case "medium", "med", "m", "moderate", "🟡":
		return Medium, true
	case "low", "l", "weak", "🔴", "⚪":
		return Low, true
	}
	return "", false
}

// Citation links a trait to the item it was drawn from. ItemID is empty
// when the model's reference matched nothing that was prompted.
type Citation struct {
	Raw       string `json:"raw,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Permalink string `json:"permalink,omitempty"`
	Community string `json:"community,omitempty"`
}

func (c Citation) Resolved() bool { return c.ItemID != "" }

type TraitEntry struct {
	Category   Category   `json:"category"`
	Trait      string     `json:"trait"`
	Citation   Citation   `json:"citation"`
	Confidence Confidence `json:"confidence"`
}

// Section is one category with its entries, possibly empty.
type Section struct {
	Category Category     `json:"category"`
	Entries  []TraitEntry `json:"entries"`
}

// Account is the profile header carried into the report.
type Account struct {
	CreatedAt     time.Time `json:"created_at,omitzero"`
	LinkKarma     int       `json:"link_karma"`
	CommentKarma  int       `json:"comment_karma"`
	TotalKarma    int       `json:"total_karma"`
	Premium       bool      `json:"premium"`
	Moderator     bool      `json:"moderator"`
	VerifiedEmail bool      `json:"verified_email"`
}

// AccountFromProfile copies the fields the report shows.
func AccountFromProfile(p *reddit.Profile) *Account {
	if p == nil {
		return nil
	}
	return &Account{
		CreatedAt:     p.Created(),
		LinkKarma:     p.LinkKarma,
		CommentKarma:  p.CommentKarma,
		TotalKarma:    p.Karma(),
		Premium:       p.IsGold,
		Moderator:     p.IsMod,
		VerifiedEmail: p.HasVerifiedEmail,
	}
}

// Report is the assembled result of one analysis run.
type Report struct {
	RunID       uuid.UUID `json:"run_id"`
	Username    string    `json:"username"`
	GeneratedAt time.Time `json:"generated_at"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`

	PostsFetched    int `json:"posts_fetched"`
	CommentsFetched int `json:"comments_fetched"`
	ItemsPrompted   int `json:"items_prompted"`
	ItemsDropped    int `json:"items_dropped"`
	ItemsClipped    int `json:"items_clipped"`
	ItemsDeleted    int `json:"items_deleted"`

	// Oldest and newest fetched item.
	ActiveFrom time.Time `json:"active_from,omitzero"`
	ActiveTo   time.Time `json:"active_to,omitzero"`

	Account        *Account                 `json:"account,omitempty"`
	TopCommunities []content.CommunityCount `json:"top_communities,omitempty"`
	MeanSentiment  float64                  `json:"mean_sentiment"`

	SectionsFound []Category   `json:"sections_found"`
	Entries       []TraitEntry `json:"entries"`
}

// Sections returns all five categories in report order, each with its
// entries in parser order.
func (r *Report) Sections() []Section {
	out := make([]Section, len(Categories))
	for i, c := range Categories {
		out[i].Category = c
	}
	for _, e := range r.Entries {
		if int(e.Category) >= 0 && int(e.Category) < len(out) {
			out[e.Category].Entries = append(out[e.Category].Entries, e)
		}
	}
	return out
}

// Resolved counts entries whose citation matched a prompted item.
func (r *Report) Resolved() int {
	n := 0
	for _, e := range r.Entries {
		if e.Citation.Resolved() {
			n++
		}
	}
	return n
}

// SortEntries orders entries by category, keeping parser order within each
// category.
func SortEntries(entries []TraitEntry) []TraitEntry {
	out := make([]TraitEntry, 0, len(entries))
	for _, c := range Categories {
		for _, e := range entries {
			if e.Category == c {
				out = append(out, e)
			}
		}
	}
	return out
}
