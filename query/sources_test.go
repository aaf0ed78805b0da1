package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ragline/ragline/vector"
)

func TestAnnotateMarksCitedDocuments(t *testing.T) {
	var used = []vector.Match{
		{DocumentID: "doc-1", Score: 0.9, Version: 2},
		{DocumentID: "doc-2", Score: 0.5, Version: 1},
		{DocumentID: "doc-1", Score: 0.4, Version: 2},
	}

	var sources = annotate(used, []string{"doc-1"})
	require.Equal(t, []Source{
		{DocumentID: "doc-1", Score: 0.9, Version: 2, Cited: true},
		{DocumentID: "doc-2", Score: 0.5, Version: 1, Cited: false},
		{DocumentID: "doc-1", Score: 0.4, Version: 2, Cited: true},
	}, sources)
}

func TestFilterSources(t *testing.T) {
	var sources = []Source{
		{DocumentID: "cited-high", Score: 0.8, Cited: true},
		{DocumentID: "uncited-high", Score: 0.6, Cited: false},
		{DocumentID: "cited-low", Score: 0.1, Cited: true},
		{DocumentID: "uncited-floor", Score: 0.15, Cited: false},
	}

	var cases = []struct {
		name       string
		confidence float64
		isComplete bool
		want       []string
	}{
		{"zero confidence drops all", 0.0, true, []string{}},
		{"low confidence keeps cited above floor", 0.2, true, []string{"cited-high"}},
		{"incomplete keeps cited above floor", 0.5, false, []string{"cited-high"}},
		{"confident and complete keeps above floor", 0.5, true,
			[]string{"cited-high", "uncited-high", "uncited-floor"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var kept = filterSources(sources, tc.confidence, tc.isComplete)

			var ids = make([]string, 0, len(kept))
			for _, s := range kept {
				ids = append(ids, s.DocumentID)
			}
			require.Equal(t, tc.want, ids)
		})
	}
}

func TestPaginateSinglePageHasNoMetadata(t *testing.T) {
	var sources = make([]Source, 5)

	var paged, pagination = paginate(sources, 1, 10)
	require.Len(t, paged, 5)
	require.Nil(t, pagination)
}

func TestPaginateFullSetBoundary(t *testing.T) {
	// Exactly one page of sources still carries no metadata.
	var paged, pagination = paginate(make([]Source, 10), 1, 10)
	require.Len(t, paged, 10)
	require.Nil(t, pagination)
}

func TestPaginateMiddlePage(t *testing.T) {
	var sources = make([]Source, 25)
	for i := range sources {
		sources[i].Version = i
	}

	var paged, pagination = paginate(sources, 2, 10)
	require.Len(t, paged, 10)
	require.Equal(t, 10, paged[0].Version)
	require.Equal(t, 19, paged[9].Version)
	require.Equal(t, &Pagination{
		Page: 2, PageSize: 10, Total: 25, TotalPages: 3,
		HasNext: true, HasPrev: true,
	}, pagination)
}

func TestPaginateLastPage(t *testing.T) {
	var paged, pagination = paginate(make([]Source, 25), 3, 10)
	require.Len(t, paged, 5)
	require.False(t, pagination.HasNext)
	require.True(t, pagination.HasPrev)
}

func TestPaginateBeyondRange(t *testing.T) {
	var paged, pagination = paginate(make([]Source, 25), 9, 10)
	require.Empty(t, paged)
	require.NotNil(t, pagination)
	require.False(t, pagination.HasNext)
}
