// Package api serves the feed, trending, category and admin endpoints over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/deusflow/curator/internal/category"
	"github.com/deusflow/curator/internal/feed"
	"github.com/deusflow/curator/internal/news"
	"github.com/deusflow/curator/internal/rerank"
)

// Service is the application surface the handlers need.
type Service interface {
	Feed(ctx context.Context, req feed.Request) (feed.Page, error)
	Trending(ctx context.Context, hours, limit int) ([]feed.Post, error)
	Top3(ctx context.Context, cat news.Category) ([]news.Item, error)
	Featured(ctx context.Context, cat news.Category) (*news.Item, error)
	Rerank(ctx context.Context, force bool) (rerank.Result, error)
	CurateCategories(ctx context.Context) ([]category.Outcome, error)
	Health(ctx context.Context) (map[string]interface{}, bool)
}

// NewRouter builds the gin engine. A nil gatherer serves the default registry.
func NewRouter(svc Service, gatherer prometheus.Gatherer, log logrus.FieldLogger) *gin.Engine {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{svc: svc, log: log}

	r := gin.New()
	r.Use(requestID(), requestLogger(log), gin.Recovery())

	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/feed", h.feed)
	api.GET("/trending", h.trending)
	api.GET("/categories/:category/top3", h.top3)
	api.GET("/categories/:category/featured", h.featured)

	admin := api.Group("/admin")
	admin.POST("/rerank", h.rerank)
	admin.POST("/categories", h.categories)
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"latency":    time.Since(start).String(),
			"request_id": c.GetString("request_id"),
			"user_id":    c.GetHeader(userHeader),
		}).Debug("HTTP request")
	}
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("HTTP server stopped")
	return nil
}
