package query

import "github.com/ragline/ragline/vector"

// annotate shapes consumed matches into sources, marking those whose
// document the LLM cited.
func annotate(used []vector.Match, citations []string) []Source {
	var cited = make(map[string]bool, len(citations))
	for _, c := range citations {
		cited[c] = true
	}

	var sources = make([]Source, len(used))
	for i, m := range used {
		sources[i] = Source{
			DocumentID: m.DocumentID,
			Score:      m.Score,
			Version:    m.Version,
			Cited:      cited[m.DocumentID],
		}
	}
	return sources
}

// filterSources applies the confidence gate: a zero-confidence answer
// keeps no sources, a low-confidence or incomplete answer keeps only
// cited sources above the similarity floor, and a confident complete
// answer keeps everything above the floor.
func filterSources(sources []Source, confidence float64, isComplete bool) []Source {
	if confidence == 0 {
		return []Source{}
	}
	var requireCited = confidence < 0.3 || !isComplete

	var kept = make([]Source, 0, len(sources))
	for _, s := range sources {
		if s.Score < MinSimilarityScore {
			continue
		} else if requireCited && !s.Cited {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// paginate slices sources for the requested 1-indexed page. Pagination
// metadata accompanies the slice only when the full set exceeds one
// page.
func paginate(sources []Source, page, pageSize int) ([]Source, *Pagination) {
	var total = len(sources)
	var start = (page - 1) * pageSize
	var end = start + pageSize
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	if end < start {
		end = start
	}
	if end > total {
		end = total
	}
	var paged = sources[start:end]

	if total <= pageSize {
		return paged, nil
	}
	return paged, &Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
		HasNext:    end < total,
		HasPrev:    page > 1,
	}
}
