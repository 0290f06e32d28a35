// Package feed builds personalised, cursor-paginated post feeds and the trending view.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/cache"
)

var ErrInvalidAlgorithm = errors.New("feed: invalid algorithm")

type Algorithm string

const (
	Chronological Algorithm = "chronological"
	Engagement    Algorithm = "engagement"
	Mixed         Algorithm = "mixed"
)

// ParseAlgorithm maps an empty string to Chronological.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case "":
		return Chronological, nil
	case Chronological, Engagement, Mixed:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAlgorithm, s)
}

// Post is a feed entry. The Liked/Saved/Shared flags belong to the requesting user.
type Post struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	GroupID    string    `json:"groupId,omitempty"`
	Content    string    `json:"content"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	Visibility string    `json:"visibility"`
	CreatedAt  time.Time `json:"createdAt"`
	Likes      int       `json:"likes"`
	Comments   int       `json:"comments"`
	Shares     int       `json:"shares"`
	Saves      int       `json:"saves"`

	Liked  bool `json:"liked"`
	Saved  bool `json:"saved"`
	Shared bool `json:"shared"`
}

// Interaction is one user's actions on one post.
type Interaction struct {
	Liked  bool
	Saved  bool
	Shared bool
}

type Weights struct {
	Like    float64
	Comment float64
	Share   float64
}

var DefaultWeights = Weights{Like: 2, Comment: 3, Share: 1}

func (w Weights) Score(p Post) float64 {
	return w.Like*float64(p.Likes) + w.Comment*float64(p.Comments) + w.Share*float64(p.Shares)
}

// Query is what the store needs to produce one page.
type Query struct {
	UserID    string
	Algorithm Algorithm
	// After is nil for the first page. Engagement queries resume after its
	// keyset, the others after its CreatedAt.
	After   *Cursor
	Limit   int
	Weights Weights
	// MinScore only applies to Mixed: posts must score strictly above it.
	MinScore float64
}

type Store interface {
	// FeedPosts returns posts visible to the user that follow q.After, ordered by
	// the algorithm.
	FeedPosts(ctx context.Context, q Query) ([]Post, error)
	Interactions(ctx context.Context, userID string, postIDs []string) (map[string]Interaction, error)
	// Trending returns posts created since the cutoff, highest weighted score first.
	Trending(ctx context.Context, since time.Time, limit int, w Weights) ([]Post, error)
}

type Request struct {
	UserID    string
	Algorithm Algorithm
	Cursor    *Cursor
	Limit     int
}

type Pagination struct {
	HasMore    bool    `json:"hasMore"`
	NextCursor *Cursor `json:"nextCursor"`
}

type Metadata struct {
	Algorithm   Algorithm `json:"algorithm"`
	Count       int       `json:"count"`
	GeneratedAt time.Time `json:"generatedAt"`
}

type Page struct {
	Items      []Post     `json:"items"`
	Pagination Pagination `json:"pagination"`
	Metadata   Metadata   `json:"metadata"`

	limit int
}

type Options struct {
	FeedTTL      time.Duration
	TrendingTTL  time.Duration
	Weights      Weights
	MinScore     float64
	DefaultLimit int
	MaxLimit     int
	Now          func() time.Time
}

type Generator struct {
	store Store
	cache *cache.Cache
	opts  Options
	log   logrus.FieldLogger
}

func New(store Store, c *cache.Cache, opts Options, log logrus.FieldLogger) *Generator {
	if opts.FeedTTL <= 0 {
		opts.FeedTTL = 2 * time.Minute
	}
	if opts.TrendingTTL <= 0 {
		opts.TrendingTTL = 5 * time.Minute
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 50
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if c == nil {
		c = cache.New(0)
	}
	return &Generator{store: store, cache: c, opts: opts, log: log}
}

func (g *Generator) clampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	return min(n, g.opts.MaxLimit)
}

// FeedKey is the cache key of one feed page.
func FeedKey(userID string, alg Algorithm, cursor *Cursor) string {
	c := "initial"
	if cursor != nil {
		c = cursor.String()
	}
	return "feed:" + userID + ":" + string(alg) + ":" + c
}

// TrendingKey is the cache key of one trending view.
func TrendingKey(hours, limit int) string {
	return "trending:" + strconv.Itoa(hours) + "h:" + strconv.Itoa(limit)
}

// Feed returns one page for the user. Failed loads are not cached.
func (g *Generator) Feed(ctx context.Context, req Request) (Page, error) {
	alg, err := ParseAlgorithm(string(req.Algorithm))
	if err != nil {
		return Page{}, err
	}
	if req.UserID == "" {
		return Page{}, errors.New("feed: user id required")
	}
	if alg == Engagement && req.Cursor != nil && !req.Cursor.Keyset() {
		return Page{}, fmt.Errorf("%w: engagement pages need the cursor returned by the previous page", ErrInvalidCursor)
	}
	limit := g.clampLimit(req.Limit, g.opts.DefaultLimit)

	key := FeedKey(req.UserID, alg, req.Cursor)
	page, err := cache.GetOrSetTyped(ctx, g.cache, key, g.opts.FeedTTL, func(ctx context.Context) (Page, error) {
		return g.build(ctx, req.UserID, alg, req.Cursor, limit)
	})
	if err != nil || page.limit == limit {
		return page, err
	}

	// the cached page was built for another page size
	page, err = g.build(ctx, req.UserID, alg, req.Cursor, limit)
	if err != nil {
		return Page{}, err
	}
	g.cache.Set(key, page, g.opts.FeedTTL)
	return page, nil
}

func (g *Generator) build(ctx context.Context, userID string, alg Algorithm, cursor *Cursor, limit int) (Page, error) {
	posts, err := g.store.FeedPosts(ctx, Query{
		UserID:    userID,
		Algorithm: alg,
		After:     cursor,
		Limit:     limit,
		Weights:   g.opts.Weights,
		MinScore:  g.opts.MinScore,
	})
	if err != nil {
		return Page{}, fmt.Errorf("load feed: %w", err)
	}
	if err := g.enrich(ctx, userID, posts); err != nil {
		return Page{}, err
	}

	page := Page{
		Items:    posts,
		Metadata: Metadata{Algorithm: alg, Count: len(posts), GeneratedAt: g.opts.Now()},
		limit:    limit,
	}
	if page.Items == nil {
		page.Items = []Post{}
	}
	if n := len(posts); n > 0 {
		page.Pagination = Pagination{HasMore: n == limit, NextCursor: cursorAfter(posts[n-1], alg)}
	}

	g.log.WithFields(logrus.Fields{"user_id": userID, "algorithm": alg, "count": len(posts)}).Debug("feed built")
	return page, nil
}

// enrich sets the user's interaction flags with a single lookup for all posts.
func (g *Generator) enrich(ctx context.Context, userID string, posts []Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	inter, err := g.store.Interactions(ctx, userID, ids)
	if err != nil {
		return fmt.Errorf("load interactions: %w", err)
	}
	for i := range posts {
		if in, ok := inter[posts[i].ID]; ok {
			posts[i].Liked, posts[i].Saved, posts[i].Shared = in.Liked, in.Saved, in.Shared
		}
	}
	return nil
}

// Trending returns the highest scoring posts of the last hours.
func (g *Generator) Trending(ctx context.Context, hours, limit int) ([]Post, error) {
	if hours <= 0 {
		hours = 24
	}
	limit = g.clampLimit(limit, 10)

	return cache.GetOrSetTyped(ctx, g.cache, TrendingKey(hours, limit), g.opts.TrendingTTL, func(ctx context.Context) ([]Post, error) {
		since := g.opts.Now().Add(-time.Duration(hours) * time.Hour)
		posts, err := g.store.Trending(ctx, since, limit, g.opts.Weights)
		if err != nil {
			return nil, fmt.Errorf("load trending: %w", err)
		}
		if posts == nil {
			posts = []Post{}
		}
		return posts, nil
	})
}

// Invalidate drops every cached feed page and trending view.
func (g *Generator) Invalidate() int {
	return g.cache.InvalidatePattern("feed:") + g.cache.InvalidatePattern("trending:")
}
