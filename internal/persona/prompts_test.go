package persona

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/persona/internal/content"
	"github.com/MikeSquared-Agency/persona/internal/errs"
)

func testItems(n int) []content.Item {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := make([]content.Item, n)
	for i := range items {
		kind := content.KindComment
		prefix := "t1_"
		if i%3 == 0 {
			kind = content.KindPost
			prefix = "t3_"
		}
		items[i] = content.Item{
			ID:        fmt.Sprintf("%sid%03d", prefix, i),
			Kind:      kind,
			Title:     fmt.Sprintf("thread %d", i),
			Text:      strings.Repeat("word ", 40),
			CreatedAt: base.Add(time.Duration(n-i) * time.Hour),
			Community: "golang",
			Permalink: fmt.Sprintf("https://www.reddit.com/r/golang/comments/id%03d/thread/", i),
		}
	}
	return items
}

func TestBuildPrompt_IncludesEveryItemID(t *testing.T) {
	items := testItems(5)
	p, err := BuildPrompt(items, PromptOptions{Username: "spez"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, it := range items {
		if !strings.Contains(p.User, "["+it.ID+"]") {
			t.Errorf("expected prompt to contain %s", it.ID)
		}
	}
	if !strings.Contains(p.User, "u/spez") {
		t.Error("expected username in prompt")
	}
	for _, c := range Categories {
		if !strings.Contains(p.System, "## "+c.String()) {
			t.Errorf("expected schema heading %q", c.String())
		}
	}
	if len(p.Included) != 5 || len(p.Dropped) != 0 {
		t.Errorf("expected 5 included, 0 dropped, got %d/%d", len(p.Included), len(p.Dropped))
	}
}

func TestBuildPrompt_Empty(t *testing.T) {
	_, err := BuildPrompt(nil, PromptOptions{})
	if !errors.Is(err, errs.ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestBuildPrompt_TruncatesOldestFirst(t *testing.T) {
	items := testItems(20)
	full, err := BuildPrompt(items, PromptOptions{})
	if err != nil {
		t.Fatal(err)
	}

	budget := full.Len() - 600
	p, err := BuildPrompt(items, PromptOptions{Budget: budget})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Len() > budget {
		t.Errorf("prompt of %d chars exceeds budget %d", p.Len(), budget)
	}
	if len(p.Dropped) == 0 {
		t.Fatal("expected some items dropped")
	}
	if len(p.Included)+len(p.Dropped) != len(items) {
		t.Errorf("included+dropped should cover all items")
	}

	// Items are created newest first, so the tail is the oldest.
	for i, d := range p.Dropped {
		want := items[len(items)-len(p.Dropped)+i].ID
		if d.ID != want {
			t.Errorf("dropped[%d] = %s, want %s", i, d.ID, want)
		}
	}
	for i, it := range p.Included {
		if it.ID != items[i].ID {
			t.Errorf("included order changed at %d: %s", i, it.ID)
		}
	}
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	items := testItems(15)
	// Equal timestamps force the id tie-break.
	for i := range items {
		items[i].CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	full, _ := BuildPrompt(items, PromptOptions{})
	opts := PromptOptions{Budget: full.Len() / 2}

	first, err := BuildPrompt(items, opts)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := BuildPrompt(items, opts)
		if err != nil {
			t.Fatal(err)
		}
		if again.User != first.User || len(again.Dropped) != len(first.Dropped) {
			t.Fatal("prompt changed between identical builds")
		}
	}
	// Dropped keeps input order, so check the set: every dropped id sorts
	// below every kept id.
	dropped := false
	for _, d := range first.Dropped {
		if d.ID == "t1_id001" {
			dropped = true
		}
		for _, k := range first.Included {
			if d.ID >= k.ID {
				t.Errorf("dropped %s while keeping lower-priority %s", d.ID, k.ID)
			}
		}
	}
	if !dropped {
		t.Error("expected the lowest id to be dropped")
	}
}

func TestBuildPrompt_NothingFits(t *testing.T) {
	_, err := BuildPrompt(testItems(3), PromptOptions{Budget: 10})
	if !errors.Is(err, errs.ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
}

func TestBuildPrompt_ClipsLongItems(t *testing.T) {
	items := testItems(2)
	items[0].Text = strings.Repeat("é", 500)

	p, err := BuildPrompt(items, PromptOptions{MaxItemChars: 100})
	if err != nil {
		t.Fatal(err)
	}
	if p.Clipped != 2 {
		t.Errorf("expected 2 clipped items, got %d", p.Clipped)
	}
	if !utf8.ValidString(p.User) {
		t.Error("clipping split a rune")
	}
	if strings.Contains(p.User, strings.Repeat("é", 101)) {
		t.Error("expected text clipped to 100 runes")
	}
}

func TestBuildPrompt_DeletedItems(t *testing.T) {
	items := []content.Item{{ID: "t1_gone", Kind: content.KindDeleted, Community: "golang"}}
	p, err := BuildPrompt(items, PromptOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(p.User, "[t1_gone] DELETED r/golang") {
		t.Errorf("expected deleted header, got %q", p.User)
	}
}

func TestPrompt_HalfBudget(t *testing.T) {
	items := testItems(12)
	full, err := BuildPrompt(items, PromptOptions{Username: "spez"})
	if err != nil {
		t.Fatal(err)
	}
	half := full.HalfBudget()
	if half >= full.Len() || half <= utf8.RuneCountInString(full.System) {
		t.Fatalf("half budget %d out of range (full %d)", half, full.Len())
	}

	smaller, err := BuildPrompt(items, PromptOptions{Username: "spez", Budget: half})
	if err != nil {
		t.Fatalf("rebuilding with half budget: %v", err)
	}
	if smaller.Len() > half {
		t.Errorf("rebuilt prompt %d exceeds budget %d", smaller.Len(), half)
	}
	if len(smaller.Included) == 0 || len(smaller.Included) >= len(items) {
		t.Errorf("expected some but not all items kept, got %d", len(smaller.Included))
	}

	// Halving again still leaves room for an item.
	again, err := BuildPrompt(items, PromptOptions{Username: "spez", Budget: smaller.HalfBudget()})
	if err != nil {
		t.Fatalf("second shrink: %v", err)
	}
	if len(again.Included) >= len(smaller.Included) {
		t.Errorf("expected fewer items after second shrink, got %d", len(again.Included))
	}
}
