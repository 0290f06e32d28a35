package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/deusflow/curator/internal/news"
)

// CategoryTable is the flaggable content of one category. On curated_items the
// category pick lives in is_category_featured; is_featured there is the reranker's.
type CategoryTable struct {
	db       *Postgres
	category news.Category
	table    string
	title    string
	text     string
	counter  string
	featured string
	scope    sq.Sqlizer
}

// CategoryTables returns the news, events and social tables in display order.
func (p *Postgres) CategoryTables() []*CategoryTable {
	return []*CategoryTable{
		{
			db: p, category: news.CategoryNews, table: itemsTable,
			title: "title", text: "excerpt", counter: "likes", featured: "is_category_featured",
			scope: sq.Eq{"status": string(news.StatusApproved), "category": string(news.CategoryNews)},
		},
		{
			db: p, category: news.CategoryEvents, table: "events",
			title: "title", text: "description", counter: "saves", featured: "is_featured",
			scope: sq.Expr("TRUE"),
		},
		{
			db: p, category: news.CategorySocial, table: "posts",
			title: "LEFT(content, 120)", text: "content", counter: "comments", featured: "is_featured",
			scope: sq.Eq{"visibility": "public"},
		},
	}
}

func (t *CategoryTable) Category() news.Category { return t.category }
func (t *CategoryTable) CounterField() string    { return t.counter }

func (t *CategoryTable) selectItems() sq.SelectBuilder {
	return psql.Select(
		"id", t.title+" AS title", t.text+" AS body", "image_url", "created_at",
		"is_top3", t.featured, "likes", "saves", "shares", "comments",
	).From(t.table).Where(t.scope)
}

func (t *CategoryTable) query(ctx context.Context, q sq.SelectBuilder) ([]news.Item, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := t.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.table, err)
	}
	defer rows.Close()

	var out []news.Item
	for rows.Next() {
		it := news.Item{Category: t.category, Status: news.StatusApproved}
		if err := rows.Scan(&it.ID, &it.Title, &it.Body, &it.ImageURL, &it.CreatedAt,
			&it.IsTop3, &it.IsFeatured, &it.Likes, &it.Saves, &it.Shares, &it.Comments); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.table, err)
		}
		it.Excerpt = news.Excerpt(it.Body, 280)
		it.PublishedAt = it.CreatedAt
		out = append(out, it)
	}
	return out, rows.Err()
}

// FetchCandidates returns the limit most recent items.
func (t *CategoryTable) FetchCandidates(ctx context.Context, limit int) ([]news.Item, error) {
	return t.query(ctx, t.selectItems().OrderBy("created_at DESC").Limit(uint64(limit)))
}

// Top3 returns flagged items with the featured one first.
func (t *CategoryTable) Top3(ctx context.Context) ([]news.Item, error) {
	return t.query(ctx, t.selectItems().Where("is_top3").OrderBy(t.featured+" DESC", "created_at DESC").Limit(3))
}

// Persist clears and sets both flags across the category in a single update.
func (t *CategoryTable) Persist(ctx context.Context, top3 []string, featured string) error {
	query, args, err := psql.Update(t.table).
		Set("is_top3", sq.Expr("(id = ANY(?))", idArray(top3))).
		Set(t.featured, sq.Expr("(id = ?)", featured)).
		Where(t.scope).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := t.db.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s flags: %w", t.table, err)
	}
	return nil
}
