// Package ranking orders in-progress titles for the continue watching row.
package ranking

import (
	"math"
	"slices"
	"strings"
)

// MinRatio is the completion ratio under which an item is considered barely started.
const MinRatio = 0.05

// Candidate is the ranking view of an in-progress item.
type Candidate struct {
	ID        string
	MediaType string
	Position  float64  // seconds
	Runtime   float64  // seconds
	Progress  *float64 // percentage, used when runtime is unknown
}

// Rankable is implemented by items that can be ranked.
type Rankable interface {
	RankCandidate() Candidate
}

// Hints carries per-session state that influences ordering.
type Hints struct {
	NowPlayingID  string
	LastWatchedID string
}

// Ratio returns the completion ratio of c clamped to [0, 1].
func Ratio(c Candidate) float64 {
	var r float64
	switch {
	case c.Runtime > 0:
		r = c.Position / c.Runtime
	case c.Progress != nil:
		r = *c.Progress / 100
	}
	if r < 0 || math.IsNaN(r) {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

type scored[T any] struct {
	item  T
	tier  int
	ratio float64
}

// Rank filters out items without an id or media type and orders the rest:
// the now playing item first, then the last watched item, then items at or
// above MinRatio by descending ratio, then the barely started ones by
// descending ratio. Ties keep their input order, so ranking is idempotent.
func Rank[T Rankable](items []T, hints Hints) []T {
	nowPlaying := strings.TrimSpace(hints.NowPlayingID)
	lastWatched := strings.TrimSpace(hints.LastWatchedID)

	list := make([]scored[T], 0, len(items))
	for _, item := range items {
		c := item.RankCandidate()
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.MediaType) == "" {
			continue
		}
		ratio := Ratio(c)
		tier := 3
		switch {
		case nowPlaying != "" && c.ID == nowPlaying:
			tier = 0
		case lastWatched != "" && c.ID == lastWatched:
			tier = 1
		case ratio >= MinRatio:
			tier = 2
		}
		list = append(list, scored[T]{item: item, tier: tier, ratio: ratio})
	}

	slices.SortStableFunc(list, func(a, b scored[T]) int {
		if a.tier != b.tier {
			return a.tier - b.tier
		}
		switch {
		case a.ratio > b.ratio:
			return -1
		case a.ratio < b.ratio:
			return 1
		}
		return 0
	})

	out := make([]T, len(list))
	for i, s := range list {
		out[i] = s.item
	}
	return out
}
