package search

import (
	"sort"
)

// Hit is one matching document.
type Hit struct {
	Type   string         `json:"type"`
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Result is the outcome of a search over one or more content types.
type Result struct {
	Hits        []*Hit                    `json:"hits"`
	Total       uint64                    `json:"total"`
	Facets      map[string]map[string]int `json:"facets,omitempty"`
	Suggestions map[string]uint64         `json:"suggestions,omitempty"`
	// Types lists the content types that contributed.
	Types []string `json:"types,omitempty"`
	// Failed lists content types whose search failed and were skipped.
	Failed []string `json:"failed,omitempty"`
}

// NewResult returns an empty result for typeName.
func NewResult(typeName string) *Result {
	r := &Result{}
	if typeName != "" {
		r.Types = []string{typeName}
	}
	return r
}

// Merge combines results into a new one. Hits are unioned by (type, id)
// keeping the best score, counts are summed and type lists are unioned.
// Merge is associative and nil results are ignored.
func Merge(results ...*Result) *Result {
	out := &Result{Hits: []*Hit{}}
	seen := make(map[hitKey]*Hit)
	types := make(map[string]struct{})
	failed := make(map[string]struct{})

	for _, r := range results {
		if r == nil {
			continue
		}
		out.Total += r.Total
		for _, h := range r.Hits {
			k := hitKey{h.Type, h.ID}
			if prev, ok := seen[k]; ok {
				if h.Score > prev.Score {
					*prev = *h
				}
				continue
			}
			cp := *h
			seen[k] = &cp
			out.Hits = append(out.Hits, &cp)
		}
		for field, terms := range r.Facets {
			if out.Facets == nil {
				out.Facets = make(map[string]map[string]int)
			}
			dst := out.Facets[field]
			if dst == nil {
				dst = make(map[string]int)
				out.Facets[field] = dst
			}
			for term, n := range terms {
				dst[term] += n
			}
		}
		for term, n := range r.Suggestions {
			if out.Suggestions == nil {
				out.Suggestions = make(map[string]uint64)
			}
			out.Suggestions[term] += n
		}
		for _, t := range r.Types {
			types[t] = struct{}{}
		}
		for _, t := range r.Failed {
			failed[t] = struct{}{}
		}
	}

	sortHits(out.Hits)
	out.Types = sortedKeys(types)
	out.Failed = sortedKeys(failed)
	return out
}

// Page trims hits to the window [offset, offset+limit).
func (r *Result) Page(offset, limit int) *Result {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(r.Hits) {
		r.Hits = []*Hit{}
		return r
	}
	end := len(r.Hits)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	r.Hits = r.Hits[offset:end]
	return r
}

// TopSuggestions returns up to n suggested terms, most frequent first.
func (r *Result) TopSuggestions(n int) []string {
	terms := make([]string, 0, len(r.Suggestions))
	for t := range r.Suggestions {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		ci, cj := r.Suggestions[terms[i]], r.Suggestions[terms[j]]
		if ci != cj {
			return ci > cj
		}
		return terms[i] < terms[j]
	})
	if n > 0 && len(terms) > n {
		terms = terms[:n]
	}
	return terms
}

type hitKey struct {
	typ string
	id  string
}

func sortHits(hits []*Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LimitSuggestions keeps the n most frequent suggestions.
func (r *Result) LimitSuggestions(n int) *Result {
	if n <= 0 || len(r.Suggestions) <= n {
		return r
	}
	keep := make(map[string]uint64, n)
	for _, term := range r.TopSuggestions(n) {
		keep[term] = r.Suggestions[term]
	}
	r.Suggestions = keep
	return r
}
