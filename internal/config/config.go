// Package config loads runtime settings from the environment and the YAML sources file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// App settings
	LogLevel  string
	LogFormat string
	HTTPAddr  string

	// Store
	DatabaseURL  string
	MaxOpenConns int

	// Source settings
	SourceProvider string // "newsapi" | "rss"
	SourcesFile    string
	NewsAPIKey     string
	NewsAPIBaseURL string
	Language       string
	SortBy         string
	PageSize       int
	DateFloor      time.Duration
	QueryDelay     time.Duration
	FetchRetries   int
	FetchBackoff   time.Duration
	RequestTimeout time.Duration
	Sources        Sources

	// Relevance filter
	RecencyWindow time.Duration
	MinPool       int
	MaxPool       int

	// Ranking settings
	RankerProvider    string // "gemini" | "openai" | "none"
	GeminiAPIKey      string
	GeminiModel       string
	OpenAIAPIKey      string
	OpenAIModel       string
	OpenAIBaseURL     string
	RankMaxCandidates int
	RankRetries       int
	RankBackoff       time.Duration
	RankDailyLimit    int // 0 = unlimited

	// Retention
	TargetCount       int
	EngagementWindow  time.Duration
	ReselectWindow    time.Duration
	AnyRecentWindow   time.Duration
	ApprovedRetention time.Duration
	DraftRetention    time.Duration

	// Engagement rerank
	RerankInterval time.Duration
	RerankWeights  Weights
	FeaturedCount  int
	TrendingCount  int

	// Category curation
	CategoryCandidates int
	CategoryMode       string // "ai" | "engagement"

	// Feed
	FeedWeights   Weights
	MixedMinScore float64
	FeedTTL       time.Duration
	TrendingTTL   time.Duration
	CategoryTTL   time.Duration
	CacheSweep    time.Duration

	// Scheduler
	PipelineInterval time.Duration
	CategoryInterval time.Duration

	// Telegram digest (optional)
	TelegramToken  string
	TelegramChatID string
	DigestLogFile  string
	DigestTTL      time.Duration
}

// Weights are the per-counter multipliers of an engagement score.
type Weights struct {
	Like    float64
	Save    float64
	Share   float64
	Comment float64
}

// Sources is the YAML sources file:
//
//	queries:
//	  - artificial intelligence
//	sources:
//	  - techcrunch
//	feeds:
//	  - https://...
type Sources struct {
	Queries []string `yaml:"queries"`
	Sources []string `yaml:"sources"`
	Feeds   []string `yaml:"feeds"`
}

var defaultQueries = []string{
	"artificial intelligence",
	"machine learning",
	"software development",
	"education technology",
	"cybersecurity",
	"startups",
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		// Default values
		LogLevel:           "info",
		LogFormat:          "json",
		HTTPAddr:           ":8080",
		MaxOpenConns:       10,
		SourceProvider:     "newsapi",
		SourcesFile:        "configs/sources.yaml",
		NewsAPIBaseURL:     "https://newsapi.org",
		Language:           "en",
		SortBy:             "publishedAt",
		PageSize:           20,
		DateFloor:          7 * 24 * time.Hour,
		QueryDelay:         time.Second,
		FetchRetries:       3,
		FetchBackoff:       2 * time.Second,
		RequestTimeout:     30 * time.Second,
		RecencyWindow:      7 * 24 * time.Hour,
		MinPool:            50,
		MaxPool:            100,
		RankerProvider:     "gemini",
		GeminiModel:        "gemini-1.5-flash",
		OpenAIModel:        "gpt-4o-mini",
		RankMaxCandidates:  100,
		RankRetries:        3,
		RankBackoff:        2 * time.Second,
		TargetCount:        20,
		EngagementWindow:   48 * time.Hour,
		ReselectWindow:     48 * time.Hour,
		AnyRecentWindow:    7 * 24 * time.Hour,
		ApprovedRetention:  48 * time.Hour,
		DraftRetention:     24 * time.Hour,
		RerankInterval:     5 * time.Minute,
		RerankWeights:      Weights{Like: 1, Save: 2, Share: 3, Comment: 4},
		FeaturedCount:      3,
		TrendingCount:      5,
		CategoryCandidates: 50,
		CategoryMode:       "ai",
		FeedWeights:        Weights{Like: 2, Comment: 3, Share: 1},
		MixedMinScore:      0,
		FeedTTL:            2 * time.Minute,
		TrendingTTL:        5 * time.Minute,
		CategoryTTL:        5 * time.Minute,
		CacheSweep:         time.Minute,
		PipelineInterval:   time.Hour,
		CategoryInterval:   30 * time.Minute,
		DigestLogFile:      "data/digest_sent.json",
		DigestTTL:          48 * time.Hour,
	}

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.HTTPAddr = getEnvOrDefault("HTTP_ADDR", cfg.HTTPAddr)
	if os.Getenv("DEBUG") == "true" {
		cfg.LogLevel = "debug"
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.MaxOpenConns = getEnvIntOrDefault("DB_MAX_OPEN_CONNS", cfg.MaxOpenConns)

	cfg.SourceProvider = strings.ToLower(getEnvOrDefault("SOURCE_PROVIDER", cfg.SourceProvider))
	cfg.SourcesFile = getEnvOrDefault("SOURCES_FILE", cfg.SourcesFile)
	cfg.NewsAPIKey = os.Getenv("NEWSAPI_KEY")
	cfg.NewsAPIBaseURL = getEnvOrDefault("NEWSAPI_BASE_URL", cfg.NewsAPIBaseURL)
	cfg.Language = getEnvOrDefault("SOURCE_LANGUAGE", cfg.Language)
	cfg.SortBy = getEnvOrDefault("SOURCE_SORT_BY", cfg.SortBy)
	cfg.PageSize = getEnvIntOrDefault("SOURCE_PAGE_SIZE", cfg.PageSize)
	cfg.DateFloor = getEnvDurationOrDefault("SOURCE_DATE_FLOOR", cfg.DateFloor)
	cfg.QueryDelay = getEnvDurationOrDefault("SOURCE_QUERY_DELAY", cfg.QueryDelay)
	cfg.FetchRetries = getEnvIntOrDefault("SOURCE_MAX_RETRIES", cfg.FetchRetries)
	cfg.FetchBackoff = getEnvDurationOrDefault("SOURCE_BACKOFF", cfg.FetchBackoff)
	cfg.RequestTimeout = getEnvDurationOrDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)

	cfg.RecencyWindow = getEnvDurationOrDefault("FILTER_RECENCY_WINDOW", cfg.RecencyWindow)
	cfg.MinPool = getEnvIntOrDefault("FILTER_MIN_POOL", cfg.MinPool)
	cfg.MaxPool = getEnvIntOrDefault("FILTER_MAX_POOL", cfg.MaxPool)

	cfg.RankerProvider = strings.ToLower(getEnvOrDefault("RANKER_PROVIDER", cfg.RankerProvider))
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = getEnvOrDefault("GEMINI_MODEL", cfg.GeminiModel)
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", cfg.OpenAIModel)
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.RankMaxCandidates = getEnvIntOrDefault("RANK_MAX_CANDIDATES", cfg.RankMaxCandidates)
	cfg.RankRetries = getEnvIntOrDefault("RANK_MAX_RETRIES", cfg.RankRetries)
	cfg.RankBackoff = getEnvDurationOrDefault("RANK_BACKOFF", cfg.RankBackoff)
	cfg.RankDailyLimit = getEnvIntOrDefault("RANK_DAILY_LIMIT", cfg.RankDailyLimit)

	cfg.TargetCount = getEnvIntOrDefault("CURATOR_TARGET_COUNT", cfg.TargetCount)
	cfg.EngagementWindow = getEnvDurationOrDefault("CURATOR_ENGAGEMENT_WINDOW", cfg.EngagementWindow)
	cfg.ReselectWindow = getEnvDurationOrDefault("CURATOR_RESELECT_WINDOW", cfg.ReselectWindow)
	cfg.AnyRecentWindow = getEnvDurationOrDefault("CURATOR_ANY_WINDOW", cfg.AnyRecentWindow)
	cfg.ApprovedRetention = getEnvDurationOrDefault("RETENTION_APPROVED", cfg.ApprovedRetention)
	cfg.DraftRetention = getEnvDurationOrDefault("RETENTION_DRAFT", cfg.DraftRetention)

	cfg.RerankInterval = getEnvDurationOrDefault("RERANK_INTERVAL", cfg.RerankInterval)
	cfg.RerankWeights = getEnvWeights("RERANK_WEIGHT", cfg.RerankWeights)
	cfg.FeaturedCount = getEnvIntOrDefault("RERANK_FEATURED_COUNT", cfg.FeaturedCount)
	cfg.TrendingCount = getEnvIntOrDefault("RERANK_TRENDING_COUNT", cfg.TrendingCount)

	cfg.CategoryCandidates = getEnvIntOrDefault("CATEGORY_CANDIDATES", cfg.CategoryCandidates)
	cfg.CategoryMode = strings.ToLower(getEnvOrDefault("CATEGORY_MODE", cfg.CategoryMode))

	cfg.FeedWeights = getEnvWeights("FEED_WEIGHT", cfg.FeedWeights)
	cfg.MixedMinScore = getEnvFloatOrDefault("FEED_MIXED_MIN_SCORE", cfg.MixedMinScore)
	cfg.FeedTTL = getEnvDurationOrDefault("CACHE_FEED_TTL", cfg.FeedTTL)
	cfg.TrendingTTL = getEnvDurationOrDefault("CACHE_TRENDING_TTL", cfg.TrendingTTL)
	cfg.CategoryTTL = getEnvDurationOrDefault("CACHE_CATEGORY_TTL", cfg.CategoryTTL)
	cfg.CacheSweep = getEnvDurationOrDefault("CACHE_SWEEP_INTERVAL", cfg.CacheSweep)

	cfg.PipelineInterval = getEnvDurationOrDefault("PIPELINE_INTERVAL", cfg.PipelineInterval)
	cfg.CategoryInterval = getEnvDurationOrDefault("CATEGORY_INTERVAL", cfg.CategoryInterval)

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")
	cfg.DigestLogFile = getEnvOrDefault("DIGEST_LOG_FILE", cfg.DigestLogFile)
	cfg.DigestTTL = getEnvDurationOrDefault("DIGEST_TTL", cfg.DigestTTL)

	sources, err := LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	cfg.Sources = sources

	return cfg, cfg.Validate()
}

// LoadSources reads the sources file. A missing file yields the built-in query list.
func LoadSources(path string) (Sources, error) {
	var s Sources
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.Queries = append([]string(nil), defaultQueries...)
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("open sources file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&s); err != nil {
		return s, fmt.Errorf("decode sources file %s: %w", path, err)
	}
	if len(s.Queries) == 0 {
		s.Queries = append([]string(nil), defaultQueries...)
	}
	return s, nil
}

// TelegramEnabled reports whether the featured digest should be sent.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvWeights(prefix string, w Weights) Weights {
	return Weights{
		Like:    getEnvFloatOrDefault(prefix+"_LIKE", w.Like),
		Save:    getEnvFloatOrDefault(prefix+"_SAVE", w.Save),
		Share:   getEnvFloatOrDefault(prefix+"_SHARE", w.Share),
		Comment: getEnvFloatOrDefault(prefix+"_COMMENT", w.Comment),
	}
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.SourceProvider {
	case "newsapi":
		if c.NewsAPIKey == "" {
			return fmt.Errorf("NEWSAPI_KEY is required for SOURCE_PROVIDER=newsapi")
		}
	case "rss":
		if len(c.Sources.Feeds) == 0 {
			return fmt.Errorf("SOURCE_PROVIDER=rss needs feeds in %s", c.SourcesFile)
		}
	default:
		return fmt.Errorf("SOURCE_PROVIDER must be 'newsapi' or 'rss'")
	}
	switch c.RankerProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for RANKER_PROVIDER=gemini")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for RANKER_PROVIDER=openai")
		}
	case "none":
	default:
		return fmt.Errorf("RANKER_PROVIDER must be 'gemini', 'openai' or 'none'")
	}
	if c.CategoryMode != "ai" && c.CategoryMode != "engagement" {
		return fmt.Errorf("CATEGORY_MODE must be 'ai' or 'engagement'")
	}
	if c.TargetCount <= 0 {
		return fmt.Errorf("CURATOR_TARGET_COUNT must be positive")
	}
	if c.MinPool > c.MaxPool {
		return fmt.Errorf("FILTER_MIN_POOL (%d) exceeds FILTER_MAX_POOL (%d)", c.MinPool, c.MaxPool)
	}
	if c.RankRetries < 1 || c.FetchRetries < 1 {
		return fmt.Errorf("retry counts must be at least 1")
	}
	return nil
}
