package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline collectors and the health snapshot.
// All methods are safe on a nil receiver.
type Metrics struct {
	CandidatesFetched  prometheus.Counter
	CandidatesFiltered *prometheus.CounterVec
	SelectorPath       *prometheus.CounterVec
	CuratorItems       *prometheus.CounterVec
	ItemsInserted      prometheus.Counter
	ItemsEvicted       prometheus.Counter
	RerankRuns         *prometheus.CounterVec
	CategoryRuns       *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	PipelineDuration   prometheus.Histogram

	health Health
}

// Health is the last-run snapshot served by /health.
type Health struct {
	mu            sync.RWMutex
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	RunCount      int64
	IsHealthy     bool
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandidatesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_candidates_fetched_total",
			Help: "Raw candidates returned by the source.",
		}),
		CandidatesFiltered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_candidates_filtered_total",
			Help: "Candidates removed by the relevance filter, by pass.",
		}, []string{"pass"}),
		SelectorPath: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_selector_runs_total",
			Help: "Selector runs by ranking path.",
		}, []string{"path"}),
		CuratorItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_retention_items_total",
			Help: "Items placed in the final batch, by tier.",
		}, []string{"tier"}),
		ItemsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_items_inserted_total",
			Help: "Curated items written to the store.",
		}),
		ItemsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "curator_items_evicted_total",
			Help: "Curated items removed by the retention window.",
		}),
		RerankRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_rerank_runs_total",
			Help: "Engagement rerank invocations by result.",
		}, []string{"result"}),
		CategoryRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_category_runs_total",
			Help: "Category curation runs by category and result.",
		}, []string{"category", "result"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "curator_cache_lookups_total",
			Help: "Cache lookups by result.",
		}, []string{"result"}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "curator_pipeline_duration_seconds",
			Help:    "Wall time of a full curation pipeline run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		health: Health{IsHealthy: true},
	}

	if reg != nil {
		reg.MustRegister(
			m.CandidatesFetched,
			m.CandidatesFiltered,
			m.SelectorPath,
			m.CuratorItems,
			m.ItemsInserted,
			m.ItemsEvicted,
			m.RerankRuns,
			m.CategoryRuns,
			m.CacheLookups,
			m.PipelineDuration,
		)
	}
	return m
}

func (m *Metrics) AddFetched(n int) {
	if m == nil {
		return
	}
	m.CandidatesFetched.Add(float64(n))
}

func (m *Metrics) AddFiltered(pass string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CandidatesFiltered.WithLabelValues(pass).Add(float64(n))
}

func (m *Metrics) IncSelectorPath(path string) {
	if m == nil {
		return
	}
	m.SelectorPath.WithLabelValues(path).Inc()
}

func (m *Metrics) AddCuratorItems(tier string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CuratorItems.WithLabelValues(tier).Add(float64(n))
}

func (m *Metrics) AddInserted(n int) {
	if m == nil {
		return
	}
	m.ItemsInserted.Add(float64(n))
}

func (m *Metrics) AddEvicted(n int64) {
	if m == nil {
		return
	}
	m.ItemsEvicted.Add(float64(n))
}

func (m *Metrics) IncRerank(result string) {
	if m == nil {
		return
	}
	m.RerankRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) IncCategory(category, result string) {
	if m == nil {
		return
	}
	m.CategoryRuns.WithLabelValues(category, result).Inc()
}

func (m *Metrics) IncCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) RecordProcessingTime(d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineDuration.Observe(d.Seconds())
}

func (m *Metrics) SetLastRun() {
	if m == nil {
		return
	}
	m.health.mu.Lock()
	defer m.health.mu.Unlock()
	m.health.LastRunTime = time.Now()
	m.health.RunCount++
	m.health.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	if m == nil {
		return
	}
	m.health.mu.Lock()
	defer m.health.mu.Unlock()
	m.health.LastError = err
	m.health.LastErrorTime = time.Now()
	m.health.IsHealthy = false
}

func (m *Metrics) GetStats() map[string]interface{} {
	if m == nil {
		return map[string]interface{}{"is_healthy": true}
	}
	m.health.mu.RLock()
	defer m.health.mu.RUnlock()

	stats := map[string]interface{}{
		"run_count":  m.health.RunCount,
		"last_error": m.health.LastError,
		"is_healthy": m.health.IsHealthy,
	}
	if !m.health.LastRunTime.IsZero() {
		stats["last_run_time"] = m.health.LastRunTime.Format(time.RFC3339)
	}
	if !m.health.LastErrorTime.IsZero() {
		stats["last_error_time"] = m.health.LastErrorTime.Format(time.RFC3339)
	}
	return stats
}
