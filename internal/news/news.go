package news

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Category is the content family an item belongs to.
type Category string

const (
	CategoryNews   Category = "news"
	CategoryEvents Category = "events"
	CategorySocial Category = "social"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryNews, CategoryEvents, CategorySocial}

// ParseCategory returns the category named s.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == strings.ToLower(strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

type Status string

const (
	StatusApproved Status = "approved"
	StatusDraft    Status = "draft"
	StatusRejected Status = "rejected"
)

// RawCandidate is an article as returned by a source, before filtering.
type RawCandidate struct {
	Title       string
	Description string
	Body        string
	SourceName  string
	URL         string
	ImageURL    string
	PublishedAt time.Time
}

// Hash returns the content hash of the candidate.
func (c RawCandidate) Hash() string {
	return ContentHash(c.Title, c.URL, c.SourceName)
}

func (c RawCandidate) text() string {
	return c.Title + " " + c.Description + " " + c.Body
}

// ScoredCandidate is a candidate with a selection score and assigned category.
// ID is set when the candidate was loaded from the store.
type ScoredCandidate struct {
	RawCandidate
	ID       string
	Score    float64
	Category Category
	Topic    string
}

// Item is the persisted curated record.
type Item struct {
	ID          string
	Title       string
	Excerpt     string
	Body        string
	Category    Category
	ImageURL    string
	Publisher   string
	SourceURL   string
	Hash        string
	PublishedAt time.Time
	CreatedAt   time.Time
	Status      Status

	IsFeatured bool
	IsTrending bool
	IsTop3     bool

	Likes    int
	Saves    int
	Shares   int
	Comments int
}

// Candidate converts a stored item back into a selectable candidate.
func (i Item) Candidate() ScoredCandidate {
	return ScoredCandidate{
		RawCandidate: RawCandidate{
			Title:       i.Title,
			Description: i.Excerpt,
			Body:        i.Body,
			SourceName:  i.Publisher,
			URL:         i.SourceURL,
			ImageURL:    i.ImageURL,
			PublishedAt: i.PublishedAt,
		},
		ID:       i.ID,
		Category: i.Category,
	}
}

// Engagement is the per-item counter snapshot read at rerank time.
type Engagement struct {
	ItemID    string
	Likes     int
	Saves     int
	Shares    int
	Comments  int
	CreatedAt time.Time
}

// ContentHash fingerprints title|url|source. Equal inputs always give equal hashes.
func ContentHash(title, url, source string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(title) + "|" + strings.TrimSpace(url) + "|" + strings.TrimSpace(source)))
	return hex.EncodeToString(h.Sum(nil))
}

// SortScored orders candidates by score, newer first on ties.
func SortScored(cands []ScoredCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].PublishedAt.After(cands[j].PublishedAt)
	})
}

// Excerpt shortens text to at most n runes on a word boundary.
func Excerpt(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	cut := string(r[:n])
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}
