package ranking_test

import (
	"testing"

	"jelly/internal/ranking"
)

type item struct {
	id        string
	mediaType string
	position  float64
	runtime   float64
	progress  *float64
}

func (i item) RankCandidate() ranking.Candidate {
	return ranking.Candidate{ID: i.id, MediaType: i.mediaType, Position: i.position, Runtime: i.runtime, Progress: i.progress}
}

func pct(v float64) *float64 { return &v }

func ids(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.id
	}
	return out
}

func assertOrder(t *testing.T, got []item, want ...string) {
	t.Helper()
	gotIDs := ids(got)
	if len(gotIDs) != len(want) {
		t.Fatalf("expected %v, got %v", want, gotIDs)
	}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, gotIDs)
		}
	}
}

func TestRatioUsesRuntimeThenProgress(t *testing.T) {
	cases := []struct {
		name string
		c    ranking.Candidate
		want float64
	}{
		{"runtime", ranking.Candidate{Position: 30, Runtime: 120}, 0.25},
		{"progress fallback", ranking.Candidate{Position: 30, Progress: pct(40)}, 0.4},
		{"clamped high", ranking.Candidate{Position: 200, Runtime: 100}, 1},
		{"clamped low", ranking.Candidate{Progress: pct(-10)}, 0},
		{"nothing known", ranking.Candidate{Position: 10}, 0},
	}
	for _, tc := range cases {
		if got := ranking.Ratio(tc.c); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestRankOrdersByDescendingRatio(t *testing.T) {
	items := []item{
		{id: "a", mediaType: "movie", position: 10, runtime: 100},
		{id: "b", mediaType: "movie", position: 80, runtime: 100},
		{id: "c", mediaType: "tv", progress: pct(50)},
	}
	assertOrder(t, ranking.Rank(items, ranking.Hints{}), "b", "c", "a")
}

func TestRankFiltersItemsWithoutIdentity(t *testing.T) {
	items := []item{
		{id: "", mediaType: "movie", position: 50, runtime: 100},
		{id: "x", mediaType: "", position: 50, runtime: 100},
		{id: "ok", mediaType: "movie", position: 50, runtime: 100},
	}
	assertOrder(t, ranking.Rank(items, ranking.Hints{}), "ok")
}

func TestRankPrioritisesSessionHints(t *testing.T) {
	items := []item{
		{id: "high", mediaType: "movie", position: 90, runtime: 100},
		{id: "last", mediaType: "tv", position: 20, runtime: 100},
		{id: "now", mediaType: "tv", position: 1, runtime: 100},
	}
	got := ranking.Rank(items, ranking.Hints{NowPlayingID: "now", LastWatchedID: "last"})
	assertOrder(t, got, "now", "last", "high")
}

func TestRankPushesBarelyStartedItemsLast(t *testing.T) {
	items := []item{
		{id: "barely", mediaType: "movie", position: 4, runtime: 100},
		{id: "started", mediaType: "movie", position: 6, runtime: 100},
		{id: "zero", mediaType: "movie", position: 0, runtime: 100},
	}
	assertOrder(t, ranking.Rank(items, ranking.Hints{}), "started", "barely", "zero")
}

func TestRankIsStableAndIdempotent(t *testing.T) {
	items := []item{
		{id: "first", mediaType: "movie", position: 50, runtime: 100},
		{id: "second", mediaType: "tv", progress: pct(50)},
		{id: "third", mediaType: "movie", position: 25, runtime: 50},
	}
	hints := ranking.Hints{LastWatchedID: "third"}
	once := ranking.Rank(items, hints)
	assertOrder(t, once, "third", "first", "second")

	twice := ranking.Rank(once, hints)
	assertOrder(t, twice, ids(once)...)
}

func TestRankEmptyInput(t *testing.T) {
	if got := ranking.Rank[item](nil, ranking.Hints{NowPlayingID: "x"}); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", ids(got))
	}
}

func TestRankTable(t *testing.T) {
	cases := []struct {
		name  string
		items []item
		hints ranking.Hints
		want  []string
	}{
		{
			name: "ratios without recency flags",
			items: []item{
				{id: "1", mediaType: "movie", position: 95, runtime: 100},
				{id: "2", mediaType: "movie", position: 10, runtime: 100},
				{id: "3", mediaType: "movie", position: 2, runtime: 100},
			},
			want: []string{"1", "2", "3"},
		},
		{
			name: "same ratios given in reverse",
			items: []item{
				{id: "3", mediaType: "tv", progress: pct(2)},
				{id: "2", mediaType: "tv", progress: pct(10)},
				{id: "1", mediaType: "tv", progress: pct(95)},
			},
			want: []string{"1", "2", "3"},
		},
		{
			name: "last watched beats the highest ratio",
			items: []item{
				{id: "1", mediaType: "movie", position: 95, runtime: 100},
				{id: "2", mediaType: "movie", position: 10, runtime: 100},
				{id: "3", mediaType: "movie", position: 2, runtime: 100},
			},
			hints: ranking.Hints{LastWatchedID: "2"},
			want:  []string{"2", "1", "3"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assertOrder(t, ranking.Rank(tc.items, tc.hints), tc.want...)
		})
	}
}
