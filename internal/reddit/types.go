package reddit

import "time"

// Listing kinds.
const (
	KindComment = "t1"
	KindAccount = "t2"
	KindPost    = "t3"
)

// Listing is one page of a user's submitted or comments endpoint.
type Listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Before   string  `json:"before"`
		Children []Thing `json:"children"`
	} `json:"data"`
}

// Thing is a single post (t3) or comment (t1).
type Thing struct {
	Kind string    `json:"kind"`
	Data ThingData `json:"data"`
}

type ThingData struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Author      string  `json:"author"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	Body        string  `json:"body"`
	URL         string  `json:"url"`
	Subreddit   string  `json:"subreddit"`
	Permalink   string  `json:"permalink"`
	LinkTitle   string  `json:"link_title"`
	LinkID      string  `json:"link_id"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	Over18      bool    `json:"over_18"`
	CreatedUTC  float64 `json:"created_utc"`
}

// Created returns the creation time in UTC.
func (d ThingData) Created() time.Time {
	return unixFloat(d.CreatedUTC)
}

// Profile is the subset of /user/{name}/about the report header uses.
type Profile struct {
	Name             string  `json:"name"`
	CreatedUTC       float64 `json:"created_utc"`
	LinkKarma        int     `json:"link_karma"`
	CommentKarma     int     `json:"comment_karma"`
	TotalKarma       int     `json:"total_karma"`
	IsGold           bool    `json:"is_gold"`
	IsMod            bool    `json:"is_mod"`
	HasVerifiedEmail bool    `json:"has_verified_email"`
	IsSuspended      bool    `json:"is_suspended"`
}

func (p Profile) Created() time.Time {
	return unixFloat(p.CreatedUTC)
}

// Karma returns total karma, summing link and comment karma when the API
// omits the total.
func (p Profile) Karma() int {
	if p.TotalKarma > 0 {
		return p.TotalKarma
	}
	return p.LinkKarma + p.CommentKarma
}

type about struct {
	Kind string  `json:"kind"`
	Data Profile `json:"data"`
}

// Activity is everything fetched for one username.
type Activity struct {
	Profile  *Profile
	Posts    []Thing
	Comments []Thing
}

// Items returns posts followed by comments.
func (a *Activity) Items() []Thing {
	out := make([]Thing, 0, len(a.Posts)+len(a.Comments))
	out = append(out, a.Posts...)
	return append(out, a.Comments...)
}

func unixFloat(f float64) time.Time {
	if f <= 0 {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}
