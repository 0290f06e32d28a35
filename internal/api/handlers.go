package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/category"
	"github.com/deusflow/curator/internal/feed"
	"github.com/deusflow/curator/internal/news"
)

const userHeader = "X-User-ID"

type handlers struct {
	svc Service
	log logrus.FieldLogger
}

type itemResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	Category    string    `json:"category"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Publisher   string    `json:"publisher,omitempty"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	IsFeatured  bool      `json:"isFeatured"`
	IsTrending  bool      `json:"isTrending"`
	IsTop3      bool      `json:"isTop3"`
	Likes       int       `json:"likes"`
	Saves       int       `json:"saves"`
	Shares      int       `json:"shares"`
	Comments    int       `json:"comments"`
}

func toItemResponse(it news.Item) itemResponse {
	return itemResponse{
		ID:          it.ID,
		Title:       it.Title,
		Excerpt:     it.Excerpt,
		Category:    string(it.Category),
		ImageURL:    it.ImageURL,
		Publisher:   it.Publisher,
		SourceURL:   it.SourceURL,
		PublishedAt: it.PublishedAt,
		IsFeatured:  it.IsFeatured,
		IsTrending:  it.IsTrending,
		IsTop3:      it.IsTop3,
		Likes:       it.Likes,
		Saves:       it.Saves,
		Shares:      it.Shares,
		Comments:    it.Comments,
	}
}

func (h *handlers) fail(c *gin.Context, status int, msg string, err error) {
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", c.FullPath()).Error(msg)
	}
	c.JSON(status, gin.H{"error": msg})
}

// queryInt reads a non-negative integer parameter; absent means 0.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (h *handlers) feed(c *gin.Context) {
	userID := c.GetHeader(userHeader)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing " + userHeader + " header"})
		return
	}
	alg, err := feed.ParseAlgorithm(c.Query("algorithm"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	cursor, err := feed.ParseCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cursor must be an RFC 3339 timestamp or a nextCursor value"})
		return
	}

	page, err := h.svc.Feed(c.Request.Context(), feed.Request{UserID: userID, Algorithm: alg, Cursor: cursor, Limit: limit})
	if err != nil {
		if errors.Is(err, feed.ErrInvalidAlgorithm) || errors.Is(err, feed.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, http.StatusInternalServerError, "failed to build feed", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *handlers) trending(c *gin.Context) {
	hours, ok := queryInt(c, "hours")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid hours"})
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	posts, err := h.svc.Trending(c.Request.Context(), hours, limit)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to load trending posts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": posts, "count": len(posts)})
}

func categoryParam(c *gin.Context) (news.Category, bool) {
	cat, ok := news.ParseCategory(c.Param("category"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
	}
	return cat, ok
}

func (h *handlers) top3(c *gin.Context) {
	cat, ok := categoryParam(c)
	if !ok {
		return
	}
	items, err := h.svc.Top3(c.Request.Context(), cat)
	if errors.Is(err, category.ErrUnknownCategory) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to load top items", err)
		return
	}
	out := make([]itemResponse, len(items))
	for i, it := range items {
		out[i] = toItemResponse(it)
	}
	c.JSON(http.StatusOK, gin.H{"category": cat, "items": out})
}

func (h *handlers) featured(c *gin.Context) {
	cat, ok := categoryParam(c)
	if !ok {
		return
	}
	item, err := h.svc.Featured(c.Request.Context(), cat)
	if errors.Is(err, category.ErrUnknownCategory) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
		return
	}
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "failed to load featured item", err)
		return
	}
	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no featured item"})
		return
	}
	c.JSON(http.StatusOK, toItemResponse(*item))
}

func (h *handlers) rerank(c *gin.Context) {
	force := c.Query("force") == "true"
	res, err := h.svc.Rerank(c.Request.Context(), force)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "rerank failed", err)
		return
	}
	if res.Skipped != nil {
		c.JSON(http.StatusOK, gin.H{"skipped": true, "reason": res.Skipped.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"skipped":  false,
		"scored":   res.Scored,
		"featured": res.Featured,
		"trending": res.Trending,
	})
}

func (h *handlers) categories(c *gin.Context) {
	outcomes, err := h.svc.CurateCategories(c.Request.Context())

	type outcome struct {
		Category string   `json:"category"`
		Top3     []string `json:"top3"`
		Featured string   `json:"featured,omitempty"`
		Error    string   `json:"error,omitempty"`
	}
	out := make([]outcome, len(outcomes))
	for i, o := range outcomes {
		out[i] = outcome{Category: string(o.Category), Top3: o.Top3, Featured: o.Featured}
		if o.Err != nil {
			out[i].Error = o.Err.Error()
		}
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
		h.log.WithError(err).Warn("category curation finished with errors")
	}
	c.JSON(status, gin.H{"categories": out})
}

func (h *handlers) health(c *gin.Context) {
	stats, healthy := h.svc.Health(c.Request.Context())
	status := http.StatusOK
	stats["status"] = "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		stats["status"] = "error"
	}
	c.JSON(status, stats)
}
