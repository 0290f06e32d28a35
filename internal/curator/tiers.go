package curator

import (
	"context"
	"fmt"

	"github.com/deusflow/curator/internal/news"
)

// Tier names, also used as metric labels.
const (
	TierEngagement = "engagement"
	TierReselect   = "reselect"
	TierRecent     = "recent"
)

// FillFunc returns up to need items whose hashes are not in exclude, plus how many
// slots are still open afterwards.
type FillFunc func(ctx context.Context, exclude []string, need int) (items []news.Item, stillNeeded int, err error)

// Tier is one backfill strategy. Tiers run in order until the shortfall is closed.
type Tier struct {
	Name string
	Fill FillFunc
}

// DefaultTiers returns engagement, reselection and recency backfill. Reselection is
// left out when reselector is nil.
func DefaultTiers(store Store, reselector Reselector, opts Options) []Tier {
	tiers := []Tier{{Name: TierEngagement, Fill: engagementTier(store, opts)}}
	if reselector != nil {
		tiers = append(tiers, Tier{Name: TierReselect, Fill: reselectTier(store, reselector, opts)})
	}
	return append(tiers, Tier{Name: TierRecent, Fill: recentTier(store, opts)})
}

func engagementTier(store Store, opts Options) FillFunc {
	return func(ctx context.Context, exclude []string, need int) ([]news.Item, int, error) {
		since := opts.Now().Add(-opts.EngagementWindow)
		items, err := store.TopEngaged(ctx, since, exclude, need)
		if err != nil {
			return nil, need, fmt.Errorf("top engaged: %w", err)
		}
		return items, need - len(items), nil
	}
}

// reselectTier asks the selector to pick from up to 3×need recent stored items.
func reselectTier(store Store, reselector Reselector, opts Options) FillFunc {
	return func(ctx context.Context, exclude []string, need int) ([]news.Item, int, error) {
		since := opts.Now().Add(-opts.ReselectWindow)
		pool, err := store.Recent(ctx, since, exclude, 3*need)
		if err != nil {
			return nil, need, fmt.Errorf("recent for reselection: %w", err)
		}
		if len(pool) == 0 {
			return nil, need, nil
		}

		byID := make(map[string]news.Item, len(pool))
		cands := make([]news.ScoredCandidate, 0, len(pool))
		for _, it := range pool {
			byID[it.ID] = it
			cands = append(cands, it.Candidate())
		}

		picked, err := reselector.Select(ctx, cands, need)
		if err != nil {
			return nil, need, fmt.Errorf("reselect: %w", err)
		}
		items := make([]news.Item, 0, len(picked))
		for _, p := range picked {
			if it, ok := byID[p.ID]; ok {
				items = append(items, it)
			}
		}
		return items, need - len(items), nil
	}
}

func recentTier(store Store, opts Options) FillFunc {
	return func(ctx context.Context, exclude []string, need int) ([]news.Item, int, error) {
		since := opts.Now().Add(-opts.AnyWindow)
		items, err := store.Recent(ctx, since, exclude, need)
		if err != nil {
			return nil, need, fmt.Errorf("recent: %w", err)
		}
		return items, need - len(items), nil
	}
}

