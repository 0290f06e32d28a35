package selector

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Instruction is the system prompt sent with every ranking request.
const Instruction = `You are the editor of a technology and education news feed for students.
You receive numbered candidate articles. Choose the best %d for the feed, best first.
Exclude anything about war, violence, politics, crime or adult content, even if it mentions technology.
Prefer recent, credible, substantive stories about technology, AI, software, science and education.
Reply with exactly %d numbers separated by commas, for example: 4, 1, 9
Do not add any other text.`

// CandidateSummary is one numbered entry of a ranking request.
type CandidateSummary struct {
	ID          int
	Title       string
	Description string
	Source      string
	Category    string
	Published   time.Time
}

// RankRequest is what a Ranker sends to its model.
type RankRequest struct {
	Instruction string
	Candidates  []CandidateSummary
	Target      int
}

// Ranker asks an external model to order candidates and returns its raw reply.
type Ranker interface {
	Name() string
	Rank(ctx context.Context, req RankRequest) (string, error)
}

// Prompt renders the candidate list as the user message.
func (r RankRequest) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Candidates (%d), choose %d:\n\n", len(r.Candidates), r.Target)
	for _, c := range r.Candidates {
		fmt.Fprintf(&b, "%d. %s\n", c.ID, oneLine(c.Title))
		if c.Description != "" {
			fmt.Fprintf(&b, "   %s\n", oneLine(truncateRunes(c.Description, 280)))
		}
		date := "unknown"
		if !c.Published.IsZero() {
			date = c.Published.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "   source: %s | category: %s | date: %s\n", c.Source, c.Category, date)
	}
	return b.String()
}

var (
	idListRe = regexp.MustCompile(`\d+(?:\s*,\s*\d+)+`)
	singleRe = regexp.MustCompile(`^\D*(\d+)\D*$`)
)

// ParseIDs extracts the ranked id list from a model reply. Ids outside [1, n] and
// repeated ids are dropped. Order is preserved.
func ParseIDs(reply string, n int) []int {
	var raw []string
	if lists := idListRe.FindAllString(reply, -1); len(lists) > 0 {
		longest := lists[0]
		for _, l := range lists[1:] {
			if len(strings.Split(l, ",")) > len(strings.Split(longest, ",")) {
				longest = l
			}
		}
		raw = strings.Split(longest, ",")
	} else if m := singleRe.FindStringSubmatch(strings.TrimSpace(reply)); m != nil {
		raw = []string{m[1]}
	}

	seen := make(map[int]struct{}, len(raw))
	ids := make([]int, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil || id < 1 || id > n {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
