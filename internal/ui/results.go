package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/search"
)

// maxFieldWidth truncates stored field values in text output.
const maxFieldWidth = 80

// ResultRenderer displays search results and directory entries.
type ResultRenderer struct {
	out    io.Writer
	styles Styles
}

// NewResultRenderer creates a result renderer.
func NewResultRenderer(out io.Writer, noColor bool) *ResultRenderer {
	return &ResultRenderer{out: out, styles: GetStyles(noColor)}
}

// RenderJSON writes v as indented JSON.
func (r *ResultRenderer) RenderJSON(v any) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// RenderSearch prints hits, suggestions and facets.
func (r *ResultRenderer) RenderSearch(res *search.Result) error {
	if res == nil {
		res = search.Merge()
	}
	if len(res.Suggestions) > 0 {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Label.Render("Did you mean:"),
			strings.Join(res.TopSuggestions(len(res.Suggestions)), ", "))
	}

	_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Header.Render(fmt.Sprintf("%d hits", res.Total)))
	for i, hit := range res.Hits {
		_, _ = fmt.Fprintf(r.out, "%3d. %s %s/%s\n", i+1,
			r.styles.Score.Render(fmt.Sprintf("%6.3f", hit.Score)), hit.Type, hit.ID)
		for _, name := range sortedFieldNames(hit.Fields) {
			_, _ = fmt.Fprintf(r.out, "       %s %s\n",
				r.styles.Label.Render(name+":"), truncate(fmt.Sprint(hit.Fields[name]), maxFieldWidth))
		}
	}

	for _, field := range sortedFacetNames(res.Facets) {
		_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Label.Render("facet "+field+":"))
		counts := res.Facets[field]
		terms := make([]string, 0, len(counts))
		for term := range counts {
			terms = append(terms, term)
		}
		sort.Slice(terms, func(i, j int) bool {
			if counts[terms[i]] != counts[terms[j]] {
				return counts[terms[i]] > counts[terms[j]]
			}
			return terms[i] < terms[j]
		})
		for _, term := range terms {
			_, _ = fmt.Fprintf(r.out, "  %-24s %d\n", term, counts[term])
		}
	}

	if len(res.Failed) > 0 {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", r.styles.Warning.Render("Failed types:"), strings.Join(res.Failed, ", "))
	}
	return nil
}

// RenderSuggestions prints suggestions in rank order, one per line.
func (r *ResultRenderer) RenderSuggestions(res *search.Result) error {
	if res == nil || len(res.Suggestions) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Dim.Render("no suggestions"))
		return nil
	}
	for _, s := range res.TopSuggestions(len(res.Suggestions)) {
		_, _ = fmt.Fprintf(r.out, "%-32s %s\n", s, r.styles.Dim.Render(fmt.Sprintf("%d", res.Suggestions[s])))
	}
	return nil
}

// RenderIdentities prints directory entries.
func (r *ResultRenderer) RenderIdentities(ids []identity.Identity) error {
	if len(ids) == 0 {
		_, _ = fmt.Fprintln(r.out, r.styles.Dim.Render("no matching identities"))
		return nil
	}
	for _, id := range ids {
		line := fmt.Sprintf("%6d  %s", id.ID, id.Name)
		if id.DisplayName != "" {
			line += " (" + id.DisplayName + ")"
		}
		if id.Email != "" {
			line += " <" + id.Email + ">"
		}
		if id.Restricted() {
			line += " " + r.styles.Dim.Render("[owner: "+id.Owner+"]")
		}
		_, _ = fmt.Fprintln(r.out, line)
	}
	return nil
}

func sortedFieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedFacetNames(facets map[string]map[string]int) []string {
	names := make([]string, 0, len(facets))
	for name := range facets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
