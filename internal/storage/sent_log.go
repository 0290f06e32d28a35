package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SentEntry records one item announced in a digest.
type SentEntry struct {
	ItemID   string    `json:"item_id"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	SentAt   time.Time `json:"sent_at"`
}

// SentLog remembers which featured items were already announced, persisted as JSON.
type SentLog struct {
	path  string
	ttl   time.Duration
	now   func() time.Time
	items map[string]SentEntry
	mu    sync.RWMutex
}

// NewSentLog creates an empty log. An empty path keeps it in memory only.
func NewSentLog(path string, ttl time.Duration) *SentLog {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &SentLog{path: path, ttl: ttl, now: time.Now, items: make(map[string]SentEntry)}
}

// Load reads the file, dropping expired entries. A missing file is an empty log.
func (l *SentLog) Load() error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read sent log: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []SentEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to unmarshal sent log: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.ttl)
	for _, e := range entries {
		if e.SentAt.After(cutoff) {
			l.items[e.ItemID] = e
		}
	}
	return nil
}

// Save writes live entries back to the file.
func (l *SentLog) Save() error {
	if l.path == "" {
		return nil
	}
	l.Cleanup()

	l.mu.RLock()
	entries := make([]SentEntry, 0, len(l.items))
	for _, e := range l.items {
		entries = append(entries, e)
	}
	l.mu.RUnlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sent log: %w", err)
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create sent log dir: %w", err)
		}
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write sent log: %w", err)
	}
	return nil
}

// Seen reports whether id was announced within the TTL.
func (l *SentLog) Seen(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.items[id]
	return ok && e.SentAt.After(l.now().Add(-l.ttl))
}

func (l *SentLog) Mark(id, title, category string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[id] = SentEntry{ItemID: id, Title: title, Category: category, SentAt: l.now()}
}

// Cleanup drops expired entries from memory.
func (l *SentLog) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.ttl)
	for id, e := range l.items {
		if !e.SentAt.After(cutoff) {
			delete(l.items, id)
		}
	}
}

func (l *SentLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
