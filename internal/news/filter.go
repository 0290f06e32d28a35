package news

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FilterOptions configures the relevance filter.
type FilterOptions struct {
	RecencyWindow time.Duration
	MinPool       int
	MaxPool       int
	Now           func() time.Time

	ExtraExcluded []string
	ExtraPositive []string
}

// FilterStats counts what each pass removed.
type FilterStats struct {
	Input      int
	Irrelevant int
	Duplicates int
	Trimmed    int
	Output     int
}

// Filter rejects off-topic or unsafe candidates, removes duplicates and prunes by age.
type Filter struct {
	opts     FilterOptions
	excluded termSet
	positive termSet
	log      logrus.FieldLogger
}

func NewFilter(opts FilterOptions, log logrus.FieldLogger) *Filter {
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = 7 * 24 * time.Hour
	}
	if opts.MinPool <= 0 {
		opts.MinPool = 50
	}
	if opts.MaxPool <= 0 {
		opts.MaxPool = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Filter{
		opts:     opts,
		excluded: compileTerms(append(append([]string{}, excludeKeywords...), opts.ExtraExcluded...)),
		positive: compileTerms(append(append([]string{}, positiveKeywords...), opts.ExtraPositive...)),
		log:      log,
	}
}

// Relevant reports whether c passes the topic and safety checks, and why not.
func (f *Filter) Relevant(c RawCandidate) (bool, string) {
	if blockedURL(c.URL) {
		return false, "excluded domain"
	}
	text := c.text()
	if f.excluded.match(text) {
		return false, "excluded term"
	}
	if !f.positive.match(text) {
		return false, "no topic signal"
	}
	return true, ""
}

func blockedURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, d := range excludedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	path := strings.ToLower(u.Path)
	for _, frag := range excludedPathFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}

// Dedup keeps the first candidate for every content hash, in input order.
func Dedup(cands []RawCandidate) []RawCandidate {
	seen := make(map[string]struct{}, len(cands))
	out := make([]RawCandidate, 0, len(cands))
	for _, c := range cands {
		h := c.Hash()
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Recency keeps candidates inside the window, newest first. When fewer than MinPool
// remain the older candidates are appended newest first, and the result is capped
// at MaxPool.
func (f *Filter) Recency(cands []RawCandidate) []RawCandidate {
	sorted := append([]RawCandidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
	})

	cutoff := f.opts.Now().Add(-f.opts.RecencyWindow)
	fresh := make([]RawCandidate, 0, len(sorted))
	var stale []RawCandidate
	for _, c := range sorted {
		if !c.PublishedAt.IsZero() && !c.PublishedAt.Before(cutoff) {
			fresh = append(fresh, c)
		} else {
			stale = append(stale, c)
		}
	}

	out := fresh
	if len(out) < f.opts.MinPool {
		out = append(out, stale...)
	}
	if len(out) > f.opts.MaxPool {
		out = out[:f.opts.MaxPool]
	}
	return out
}

// Apply runs the three passes in order.
func (f *Filter) Apply(cands []RawCandidate) ([]RawCandidate, FilterStats) {
	stats := FilterStats{Input: len(cands)}

	relevant := make([]RawCandidate, 0, len(cands))
	for _, c := range cands {
		if ok, reason := f.Relevant(c); !ok {
			if f.log != nil {
				f.log.WithFields(logrus.Fields{"title": c.Title, "reason": reason}).Debug("candidate rejected")
			}
			stats.Irrelevant++
			continue
		}
		relevant = append(relevant, c)
	}

	unique := Dedup(relevant)
	stats.Duplicates = len(relevant) - len(unique)

	out := f.Recency(unique)
	stats.Trimmed = len(unique) - len(out)
	stats.Output = len(out)

	if f.log != nil {
		f.log.WithFields(logrus.Fields{
			"input":      stats.Input,
			"irrelevant": stats.Irrelevant,
			"duplicates": stats.Duplicates,
			"trimmed":    stats.Trimmed,
			"output":     stats.Output,
		}).Info("relevance filter finished")
	}
	return out, stats
}
