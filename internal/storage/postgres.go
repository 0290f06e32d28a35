package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/news"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const itemsTable = "curated_items"

var itemColumns = []string{
	"id", "title", "excerpt", "body", "category", "image_url", "publisher", "source_url",
	"hash", "published_at", "created_at", "status",
	"is_featured", "is_trending", "is_top3",
	"likes", "saves", "shares", "comments",
}

// Postgres stores curated items, category content and the social feed tables.
type Postgres struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewPostgres opens and pings the database.
func NewPostgres(ctx context.Context, dsn string, maxOpen int, log logrus.FieldLogger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	log.Info("postgres connected")
	return &Postgres{db: db, log: log}, nil
}

// NewPostgresWithDB wraps an existing handle.
func NewPostgresWithDB(db *sql.DB, log logrus.FieldLogger) *Postgres {
	return &Postgres{db: db, log: log}
}

func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// EnsureSchema creates the tables used by the service if they are missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	p.log.Info("database schema ensured")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS curated_items (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	excerpt TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	category VARCHAR(32) NOT NULL DEFAULT 'news',
	image_url TEXT NOT NULL DEFAULT '',
	publisher VARCHAR(200) NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	hash VARCHAR(64) NOT NULL,
	published_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	status VARCHAR(16) NOT NULL DEFAULT 'approved',
	is_featured BOOLEAN NOT NULL DEFAULT FALSE,
	is_trending BOOLEAN NOT NULL DEFAULT FALSE,
	is_top3 BOOLEAN NOT NULL DEFAULT FALSE,
	is_category_featured BOOLEAN NOT NULL DEFAULT FALSE,
	likes INTEGER NOT NULL DEFAULT 0,
	saves INTEGER NOT NULL DEFAULT 0,
	shares INTEGER NOT NULL DEFAULT 0,
	comments INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_curated_items_hash ON curated_items(hash);
CREATE INDEX IF NOT EXISTS idx_curated_items_created_at ON curated_items(created_at);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	starts_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_top3 BOOLEAN NOT NULL DEFAULT FALSE,
	is_featured BOOLEAN NOT NULL DEFAULT FALSE,
	likes INTEGER NOT NULL DEFAULT 0,
	saves INTEGER NOT NULL DEFAULT 0,
	shares INTEGER NOT NULL DEFAULT 0,
	comments INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	author_id TEXT NOT NULL,
	group_id TEXT,
	content TEXT NOT NULL,
	image_url TEXT NOT NULL DEFAULT '',
	visibility VARCHAR(16) NOT NULL DEFAULT 'public',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	is_top3 BOOLEAN NOT NULL DEFAULT FALSE,
	is_featured BOOLEAN NOT NULL DEFAULT FALSE,
	likes INTEGER NOT NULL DEFAULT 0,
	saves INTEGER NOT NULL DEFAULT 0,
	shares INTEGER NOT NULL DEFAULT 0,
	comments INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);

CREATE TABLE IF NOT EXISTS follows (
	follower_id TEXT NOT NULL,
	followee_id TEXT NOT NULL,
	PRIMARY KEY (follower_id, followee_id)
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS post_interactions (
	user_id TEXT NOT NULL,
	post_id TEXT NOT NULL,
	kind VARCHAR(16) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, post_id, kind)
);
`

func (p *Postgres) queryItems(ctx context.Context, q sq.SelectBuilder) ([]news.Item, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []news.Item
	for rows.Next() {
		var it news.Item
		var category, status string
		if err := rows.Scan(
			&it.ID, &it.Title, &it.Excerpt, &it.Body, &category, &it.ImageURL, &it.Publisher, &it.SourceURL,
			&it.Hash, &it.PublishedAt, &it.CreatedAt, &status,
			&it.IsFeatured, &it.IsTrending, &it.IsTop3,
			&it.Likes, &it.Saves, &it.Shares, &it.Comments,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Category, it.Status = news.Category(category), news.Status(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

func approvedSince(since time.Time, exclude []string) sq.And {
	cond := sq.And{
		sq.Eq{"status": string(news.StatusApproved)},
		sq.GtOrEq{"created_at": since},
	}
	if len(exclude) > 0 {
		cond = append(cond, sq.Expr("NOT (hash = ANY(?))", pq.Array(exclude)))
	}
	return cond
}

// TopEngaged returns approved items with any engagement created since the cutoff.
func (p *Postgres) TopEngaged(ctx context.Context, since time.Time, exclude []string, limit int) ([]news.Item, error) {
	cond := append(approvedSince(since, exclude), sq.Expr("(likes + saves + shares + comments) > 0"))
	return p.queryItems(ctx, psql.Select(itemColumns...).From(itemsTable).
		Where(cond).
		OrderBy("likes DESC", "saves DESC", "created_at DESC").
		Limit(uint64(limit)))
}

// Recent returns approved items created since the cutoff, newest first.
func (p *Postgres) Recent(ctx context.Context, since time.Time, exclude []string, limit int) ([]news.Item, error) {
	return p.queryItems(ctx, psql.Select(itemColumns...).From(itemsTable).
		Where(approvedSince(since, exclude)).
		OrderBy("created_at DESC").
		Limit(uint64(limit)))
}

// ExistingHashes reports which of hashes are already stored, in one query.
func (p *Postgres) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(hashes) == 0 {
		return out, nil
	}
	query, args, err := psql.Select("hash").From(itemsTable).Where("hash = ANY(?)", pq.Array(hashes)).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to check hashes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out[h] = true
	}
	return out, rows.Err()
}

func itemValues(it news.Item) []interface{} {
	return []interface{}{
		it.ID, it.Title, it.Excerpt, it.Body, string(it.Category), it.ImageURL, it.Publisher, it.SourceURL,
		it.Hash, it.PublishedAt, it.CreatedAt, string(it.Status),
		it.IsFeatured, it.IsTrending, it.IsTop3,
		it.Likes, it.Saves, it.Shares, it.Comments,
	}
}

// InsertItems writes all items in a single statement.
func (p *Postgres) InsertItems(ctx context.Context, items []news.Item) error {
	if len(items) == 0 {
		return nil
	}
	ins := psql.Insert(itemsTable).Columns(itemColumns...)
	for _, it := range items {
		ins = ins.Values(itemValues(it)...)
	}
	query, args, err := ins.Suffix("ON CONFLICT (id) DO NOTHING").ToSql()
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %d items: %w", len(items), err)
	}
	return nil
}

func (p *Postgres) InsertItem(ctx context.Context, it news.Item) error {
	return p.InsertItems(ctx, []news.Item{it})
}

// EvictOlderThan deletes items in the given statuses created before the cutoff.
func (p *Postgres) EvictOlderThan(ctx context.Context, statuses []news.Status, before time.Time) (int64, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query, args, err := psql.Delete(itemsTable).
		Where("status = ANY(?)", pq.Array(names)).
		Where(sq.Lt{"created_at": before}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to evict: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		p.log.WithFields(logrus.Fields{"rows": n, "statuses": names}).Info("evicted expired items")
	}
	return n, nil
}

// Engagement returns the counters of every approved item.
func (p *Postgres) Engagement(ctx context.Context) ([]news.Engagement, error) {
	query, args, err := psql.Select("id", "likes", "saves", "shares", "comments", "created_at").
		From(itemsTable).
		Where(sq.Eq{"status": string(news.StatusApproved)}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []news.Engagement
	for rows.Next() {
		var e news.Engagement
		if err := rows.Scan(&e.ItemID, &e.Likes, &e.Saves, &e.Shares, &e.Comments, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// idArray never encodes as NULL, so an empty list clears a flag instead of nulling it.
func idArray(ids []string) interface{} {
	if ids == nil {
		ids = []string{}
	}
	return pq.Array(ids)
}

// SetFlags rewrites featured and trending on every item in one statement.
func (p *Postgres) SetFlags(ctx context.Context, featured, trending []string) error {
	query, args, err := psql.Update(itemsTable).
		Set("is_featured", sq.Expr("(id = ANY(?))", idArray(featured))).
		Set("is_trending", sq.Expr("(id = ANY(?))", idArray(trending))).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to set flags: %w", err)
	}
	return nil
}

// Stats counts stored items by status and category.
func (p *Postgres) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT status, category, COUNT(*) FROM curated_items GROUP BY status, category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total_items": 0}
	for rows.Next() {
		var status, category string
		var count int
		if err := rows.Scan(&status, &category, &count); err != nil {
			return nil, err
		}
		stats["total_items"] += count
		stats["status_"+status] += count
		stats["category_"+category] += count
	}
	return stats, rows.Err()
}
