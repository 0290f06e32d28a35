package news

import (
	"strings"
	"time"
	"unicode"
)

// Scorer is the deterministic ranking used when the AI selector is unavailable.
type Scorer struct {
	now      func() time.Time
	topics   []topicGroup
	engaging termSet
	credible map[string]struct{}
}

func NewScorer(now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	s := &Scorer{
		now:      now,
		engaging: compileTerms(engagementKeywords),
		credible: make(map[string]struct{}, len(credibleSources)),
	}
	for _, g := range topicKeywords {
		g.set = compileTerms(g.Terms)
		s.topics = append(s.topics, g)
	}
	for _, src := range credibleSources {
		s.credible[src] = struct{}{}
	}
	return s
}

// Score returns the heuristic score of c and the topic that contributed most.
func (s *Scorer) Score(c RawCandidate) (float64, string) {
	var score, best float64
	topic := ""

	for _, g := range s.topics {
		// title hits count double
		contrib := g.Weight * float64(2*g.set.count(c.Title)+g.set.count(c.Description+" "+c.Body)) * 5
		score += contrib
		if contrib > best {
			best, topic = contrib, g.Name
		}
	}

	if !c.PublishedAt.IsZero() {
		age := s.now().Sub(c.PublishedAt)
		switch {
		case age < 6*time.Hour:
			score += 30
		case age < 12*time.Hour:
			score += 20
		case age < 18*time.Hour:
			score += 10
		}
	}

	if _, ok := s.credible[strings.ToLower(strings.TrimSpace(c.SourceName))]; ok {
		score += 15
	}

	score += float64(min(s.engaging.count(c.Title+" "+c.Description), 5)) * 2

	if shouting(c.Title) {
		score -= 15
	}
	if strings.Count(c.Title, "!") > 1 {
		score -= 10
	}
	return score, topic
}

// Rank scores every candidate and returns them in canonical order.
func (s *Scorer) Rank(cands []ScoredCandidate) []ScoredCandidate {
	out := make([]ScoredCandidate, len(cands))
	for i, c := range cands {
		c.Score, c.Topic = s.Score(c.RawCandidate)
		if c.Category == "" {
			c.Category = CategoryNews
		}
		out[i] = c
	}
	SortScored(out)
	return out
}

// shouting reports a title where more than half the letters are upper case.
func shouting(title string) bool {
	letters, upper := 0, 0
	for _, r := range title {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return letters >= 10 && upper*2 > letters
}
