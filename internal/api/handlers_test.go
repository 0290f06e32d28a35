package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/curator/internal/category"
	"github.com/deusflow/curator/internal/feed"
	"github.com/deusflow/curator/internal/news"
	"github.com/deusflow/curator/internal/rerank"
)

type serviceStub struct {
	feedReq   feed.Request
	feedErr   error
	hours     int
	limit     int
	featured  *news.Item
	force     bool
	rerankRes rerank.Result
	outcomes  []category.Outcome
	curateErr error
	healthy   bool
}

func (s *serviceStub) Feed(_ context.Context, req feed.Request) (feed.Page, error) {
	s.feedReq = req
	if s.feedErr != nil {
		return feed.Page{}, s.feedErr
	}
	return feed.Page{Items: []feed.Post{{ID: "p1"}}, Metadata: feed.Metadata{Algorithm: req.Algorithm, Count: 1}}, nil
}

func (s *serviceStub) Trending(_ context.Context, hours, limit int) ([]feed.Post, error) {
	s.hours, s.limit = hours, limit
	return []feed.Post{{ID: "t1"}, {ID: "t2"}}, nil
}

func (s *serviceStub) Top3(_ context.Context, cat news.Category) ([]news.Item, error) {
	return []news.Item{{ID: "a", Category: cat, IsTop3: true}}, nil
}

func (s *serviceStub) Featured(context.Context, news.Category) (*news.Item, error) {
	return s.featured, nil
}

func (s *serviceStub) Rerank(_ context.Context, force bool) (rerank.Result, error) {
	s.force = force
	return s.rerankRes, nil
}

func (s *serviceStub) CurateCategories(context.Context) ([]category.Outcome, error) {
	return s.outcomes, s.curateErr
}

func (s *serviceStub) Health(context.Context) (map[string]interface{}, bool) {
	return map[string]interface{}{"run_count": 1}, s.healthy
}

func setup(svc *serviceStub) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	return NewRouter(svc, prometheus.NewRegistry(), log)
}

func do(r http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestFeedRequiresUser(t *testing.T) {
	w := do(setup(&serviceStub{}), http.MethodGet, "/api/feed", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFeedPassesParameters(t *testing.T) {
	svc := &serviceStub{}
	w := do(setup(svc), http.MethodGet, "/api/feed?algorithm=mixed&limit=5&cursor=2026-10-01T10:00:00.5Z",
		map[string]string{"X-User-ID": "u1"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", svc.feedReq.UserID)
	assert.Equal(t, feed.Mixed, svc.feedReq.Algorithm)
	assert.Equal(t, 5, svc.feedReq.Limit)
	require.NotNil(t, svc.feedReq.Cursor)
	assert.True(t, svc.feedReq.Cursor.CreatedAt.Equal(time.Date(2026, 10, 1, 10, 0, 0, 500_000_000, time.UTC)))

	var page feed.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, "p1", page.Items[0].ID)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestFeedBadInput(t *testing.T) {
	r := setup(&serviceStub{})
	user := map[string]string{"X-User-ID": "u1"}

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/feed?algorithm=random", user).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/feed?cursor=yesterday", user).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/feed?limit=-1", user).Code)
}

func TestFeedEngagementCursor(t *testing.T) {
	svc := &serviceStub{}
	token := feed.Cursor{CreatedAt: time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC), Likes: 3, ID: "p9"}.String()
	w := do(setup(svc), http.MethodGet, "/api/feed?algorithm=engagement&cursor="+token, map[string]string{"X-User-ID": "u1"})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.feedReq.Cursor)
	assert.Equal(t, "p9", svc.feedReq.Cursor.ID)
	assert.Equal(t, 3, svc.feedReq.Cursor.Likes)

	svc.feedErr = feed.ErrInvalidCursor
	w = do(setup(svc), http.MethodGet, "/api/feed?algorithm=engagement", map[string]string{"X-User-ID": "u1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeedStoreError(t *testing.T) {
	w := do(setup(&serviceStub{feedErr: errors.New("db down")}), http.MethodGet, "/api/feed", map[string]string{"X-User-ID": "u1"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestTrending(t *testing.T) {
	svc := &serviceStub{}
	w := do(setup(svc), http.MethodGet, "/api/trending?hours=6&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, svc.hours)
	assert.Equal(t, 2, svc.limit)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestCategoryEndpoints(t *testing.T) {
	svc := &serviceStub{}
	r := setup(svc)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/categories/sports/top3", nil).Code)

	w := do(r, http.MethodGet, "/api/categories/events/top3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isTop3":true`)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/categories/news/featured", nil).Code)

	svc.featured = &news.Item{ID: "f1", Title: "Featured", Category: news.CategoryNews, IsFeatured: true}
	w = do(r, http.MethodGet, "/api/categories/news/featured", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"f1"`)
}

func TestRerankEndpoint(t *testing.T) {
	svc := &serviceStub{rerankRes: rerank.Result{Skipped: rerank.ErrThrottled}}
	r := setup(svc)

	w := do(r, http.MethodPost, "/api/admin/rerank", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.force)
	assert.Contains(t, w.Body.String(), `"skipped":true`)

	svc.rerankRes = rerank.Result{Scored: 4, Featured: []string{"a"}, Trending: []string{"a", "b"}}
	w = do(r, http.MethodPost, "/api/admin/rerank?force=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, svc.force)
	assert.Contains(t, w.Body.String(), `"scored":4`)
}

func TestCategoriesEndpointReportsPartialFailure(t *testing.T) {
	svc := &serviceStub{
		outcomes: []category.Outcome{
			{Category: news.CategoryNews, Top3: []string{"a", "b", "c"}, Featured: "a"},
			{Category: news.CategoryEvents, Err: errors.New("timeout")},
		},
		curateErr: errors.New("events: timeout"),
	}
	w := do(setup(svc), http.MethodPost, "/api/admin/categories", nil)
	assert.Equal(t, http.StatusMultiStatus, w.Code)
	assert.Contains(t, w.Body.String(), `"error":"timeout"`)
}

func TestHealthAndMetrics(t *testing.T) {
	svc := &serviceStub{healthy: true}
	r := setup(svc)

	w := do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	svc.healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/health", nil).Code)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/metrics", nil).Code)
}
