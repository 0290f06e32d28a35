package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/deusflow/curator/internal/feed"
)

var postColumns = []string{
	"p.id", "p.author_id", "COALESCE(p.group_id, '')", "p.content", "p.image_url", "p.visibility",
	"p.created_at", "p.likes", "p.comments", "p.shares", "p.saves",
}

var sharedVisibility = []string{"public", "club"}

func scoreExpr(w feed.Weights) sq.Sqlizer {
	return sq.Expr("(p.likes * ? + p.comments * ? + p.shares * ?)", w.Like, w.Comment, w.Share)
}

// visibleTo matches followed authors, joined groups, the user's own posts and shared
// posts from anyone.
func visibleTo(userID string) sq.Or {
	return sq.Or{
		sq.Expr("p.author_id IN (SELECT followee_id FROM follows WHERE follower_id = ?)", userID),
		sq.Expr("p.group_id IN (SELECT group_id FROM group_members WHERE user_id = ?)", userID),
		sq.Eq{"p.author_id": userID},
		sq.Eq{"p.visibility": sharedVisibility},
	}
}

// FeedPosts returns one page of the user's feed ordered by the algorithm.
func (p *Postgres) FeedPosts(ctx context.Context, q feed.Query) ([]feed.Post, error) {
	sel := psql.Select(postColumns...).From("posts p").Where(visibleTo(q.UserID))
	if c := q.After; c != nil {
		if q.Algorithm == feed.Engagement {
			sel = sel.Where("(p.likes, p.comments, p.created_at, p.id) < (?, ?, ?, ?)", c.Likes, c.Comments, c.CreatedAt, c.ID)
		} else {
			sel = sel.Where(sq.Lt{"p.created_at": c.CreatedAt})
		}
	}

	switch q.Algorithm {
	case feed.Engagement:
		sel = sel.OrderBy("p.likes DESC", "p.comments DESC", "p.created_at DESC", "p.id DESC")
	case feed.Mixed:
		score, args, err := scoreExpr(q.Weights).ToSql()
		if err != nil {
			return nil, err
		}
		sel = sel.Where(score+" > ?", append(args, q.MinScore)...).OrderBy("p.created_at DESC")
	default:
		sel = sel.OrderBy("p.created_at DESC")
	}
	return p.queryPosts(ctx, sel.Limit(uint64(q.Limit)))
}

// Trending returns shared posts since the cutoff ordered by weighted engagement.
func (p *Postgres) Trending(ctx context.Context, since time.Time, limit int, w feed.Weights) ([]feed.Post, error) {
	score, args, err := scoreExpr(w).ToSql()
	if err != nil {
		return nil, err
	}
	return p.queryPosts(ctx, psql.Select(postColumns...).From("posts p").
		Where(sq.GtOrEq{"p.created_at": since}).
		Where(sq.Eq{"p.visibility": sharedVisibility}).
		OrderByClause(score+" DESC", args...).
		OrderBy("p.created_at DESC").
		Limit(uint64(limit)))
}

func (p *Postgres) queryPosts(ctx context.Context, q sq.SelectBuilder) ([]feed.Post, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	var out []feed.Post
	for rows.Next() {
		var post feed.Post
		if err := rows.Scan(&post.ID, &post.AuthorID, &post.GroupID, &post.Content, &post.ImageURL, &post.Visibility,
			&post.CreatedAt, &post.Likes, &post.Comments, &post.Shares, &post.Saves); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, post)
	}
	return out, rows.Err()
}

// Interactions loads the user's likes, saves and shares for all ids in one query.
func (p *Postgres) Interactions(ctx context.Context, userID string, postIDs []string) (map[string]feed.Interaction, error) {
	out := make(map[string]feed.Interaction, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	query, args, err := psql.Select("post_id", "kind").From("post_interactions").
		Where(sq.Eq{"user_id": userID}).
		Where("post_id = ANY(?)", pq.Array(postIDs)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, kind string
		if err := rows.Scan(&id, &kind); err != nil {
			return nil, err
		}
		in := out[id]
		switch kind {
		case "like":
			in.Liked = true
		case "save":
			in.Saved = true
		case "share":
			in.Shared = true
		}
		out[id] = in
	}
	return out, rows.Err()
}
