package indexable

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/store"
)

// Field kinds.
const (
	KindText    = "text"
	KindKeyword = "keyword"
	KindCode    = "code"
)

// FieldSpec describes one indexed field of a content type.
type FieldSpec struct {
	Name  string  `yaml:"name" json:"name"`
	Kind  string  `yaml:"kind" json:"kind"`
	Ngram bool    `yaml:"ngram" json:"ngram"`
	Facet bool    `yaml:"facet" json:"facet"`
	Store bool    `yaml:"store" json:"store"`
	Boost float64 `yaml:"boost" json:"boost"`
}

// TypeSpec describes a content type built from configuration.
type TypeSpec struct {
	Name         string      `yaml:"name" json:"name"`
	Priority     int         `yaml:"priority" json:"priority"`
	Fields       []FieldSpec `yaml:"fields" json:"fields"`
	SuggestField string      `yaml:"suggest_field" json:"suggest_field"`
}

// Validate checks a spec for missing names, unknown kinds and duplicates.
func (s TypeSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("content type name is required")
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("content type %q has no fields", s.Name)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("content type %q has a field without a name", s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("content type %q: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Kind {
		case "", KindText, KindKeyword, KindCode:
		default:
			return fmt.Errorf("content type %q: field %q has unknown kind %q", s.Name, f.Name, f.Kind)
		}
		if f.Boost < 0 {
			return fmt.Errorf("content type %q: field %q has negative boost", s.Name, f.Name)
		}
	}
	if s.SuggestField != "" && !seen[s.SuggestField] {
		return fmt.Errorf("content type %q: suggest_field %q is not a field", s.Name, s.SuggestField)
	}
	return nil
}

// FieldType is an Indexable whose schema comes from a TypeSpec.
type FieldType struct {
	spec   TypeSpec
	fields map[string]FieldSpec
	stored []string
	ngrams []string
}

// NewFieldType validates spec and returns its content type.
func NewFieldType(spec TypeSpec) (*FieldType, error) {
	if err := spec.Validate(); err != nil {
		return nil, errors.ConfigError("invalid content type", err)
	}
	ft := &FieldType{spec: spec, fields: make(map[string]FieldSpec, len(spec.Fields))}
	for _, f := range spec.Fields {
		if f.Kind == "" {
			f.Kind = KindText
		}
		if f.Boost == 0 {
			f.Boost = 1
		}
		ft.fields[f.Name] = f
		if f.Store || f.Facet {
			ft.stored = append(ft.stored, f.Name)
		}
		if f.Ngram {
			ft.ngrams = append(ft.ngrams, f.Name)
		}
	}
	sort.Strings(ft.stored)
	sort.Strings(ft.ngrams)
	return ft, nil
}

func (t *FieldType) Name() string  { return t.spec.Name }
func (t *FieldType) Priority() int { return t.spec.Priority }

// Schema returns a mapping that indexes only the configured fields.
func (t *FieldType) Schema() (mapping.IndexMapping, error) {
	m, err := store.NewMapping()
	if err != nil {
		return nil, err
	}
	doc := bleve.NewDocumentStaticMapping()
	for _, f := range t.fields {
		fm := store.FieldMapping(analyzerFor(f), f.Store || f.Facet)
		if f.Ngram {
			doc.AddFieldMappingsAt(f.Name, fm, store.NgramFieldMapping(f.Name))
		} else {
			doc.AddFieldMappingsAt(f.Name, fm)
		}
	}
	m.DefaultMapping = doc
	return m, nil
}

func analyzerFor(f FieldSpec) string {
	if f.Facet {
		return store.KeywordAnalyzer
	}
	switch f.Kind {
	case KindKeyword:
		return store.KeywordAnalyzer
	case KindCode:
		return store.CodeAnalyzer
	default:
		return store.TextAnalyzer
	}
}

// Index writes doc. Fields not in the schema are ignored; a document with
// no known field is rejected.
func (t *FieldType) Index(w DocWriter, doc Document) error {
	body, err := t.body(doc)
	if err != nil {
		return err
	}
	return w.Index(doc.ID, body)
}

// Update replaces doc.
func (t *FieldType) Update(w DocWriter, doc Document) error {
	return t.Index(w, doc)
}

// Delete removes doc by id.
func (t *FieldType) Delete(w DocWriter, doc Document) error {
	if doc.ID == "" {
		return errors.ValidationError("document id is required", nil)
	}
	w.Delete(doc.ID)
	return nil
}

func (t *FieldType) body(doc Document) (map[string]any, error) {
	if doc.ID == "" {
		return nil, errors.ValidationError("document id is required", nil)
	}
	body := make(map[string]any, len(t.fields))
	for name, v := range doc.Fields {
		if _, ok := t.fields[name]; !ok || v == nil {
			continue
		}
		body[name] = fieldValue(v)
	}
	if len(body) == 0 {
		return nil, errors.ValidationError(
			fmt.Sprintf("document %q has no %s fields", doc.ID, t.spec.Name), nil)
	}
	return body, nil
}

func fieldValue(v any) any {
	switch x := v.(type) {
	case string:
		return x
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return fmt.Sprint(x)
	}
}

// Search runs q against every field. Each word must match some field.
func (t *FieldType) Search(ctx context.Context, r store.Reader, q *search.Query) (*search.Result, error) {
	if q.Empty() {
		return search.NewResult(t.Name()), nil
	}
	var must []query.Query
	if q.MatchAll {
		must = append(must, bleve.NewMatchAllQuery())
	}
	for _, term := range q.Terms {
		must = append(must, t.anyField(func(f FieldSpec) query.Query {
			mq := bleve.NewMatchQuery(term)
			mq.SetField(f.Name)
			mq.SetBoost(f.Boost)
			return mq
		}))
	}
	for _, phrase := range q.Phrases {
		must = append(must, t.anyField(func(f FieldSpec) query.Query {
			pq := bleve.NewMatchPhraseQuery(phrase)
			pq.SetField(f.Name)
			pq.SetBoost(f.Boost)
			return pq
		}))
	}
	for _, prefix := range q.Prefixes {
		must = append(must, t.anyField(func(f FieldSpec) query.Query {
			pq := bleve.NewPrefixQuery(prefix)
			pq.SetField(f.Name)
			pq.SetBoost(f.Boost)
			return pq
		}))
	}
	var mustNot []query.Query
	for _, word := range q.Excluded {
		mustNot = append(mustNot, t.anyField(func(f FieldSpec) query.Query {
			mq := bleve.NewMatchQuery(word)
			mq.SetField(f.Name)
			return mq
		}))
	}
	return t.run(ctx, r, query.NewBooleanQuery(must, nil, mustNot), q)
}

// NgramSearch matches the raw input against the gram fields, so partial
// words anywhere in a value match. Types without gram fields fall back to
// Search.
func (t *FieldType) NgramSearch(ctx context.Context, r store.Reader, q *search.Query) (*search.Result, error) {
	if len(t.ngrams) == 0 {
		return t.Search(ctx, r, q)
	}
	text := strings.TrimSpace(strings.Trim(q.Raw, `"*`))
	if text == "" || q.MatchAll {
		return search.NewResult(t.Name()), nil
	}
	var should []query.Query
	for _, name := range t.ngrams {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(name + store.NgramSuffix)
		mq.SetOperator(query.MatchQueryOperatorAnd)
		mq.SetBoost(t.fields[name].Boost)
		should = append(should, mq)
	}
	return t.run(ctx, r, bleve.NewDisjunctionQuery(should...), q)
}

// Suggest completes the last word of q from the suggest field's terms.
func (t *FieldType) Suggest(_ context.Context, r store.Reader, q *search.Query) (*search.Result, error) {
	res := search.NewResult(t.Name())
	prefix := q.LastWord()
	if t.spec.SuggestField == "" || prefix == "" {
		return res, nil
	}
	dict, err := r.FieldDictPrefix(t.spec.SuggestField, []byte(prefix))
	if err != nil {
		return nil, err
	}
	defer func() { _ = dict.Close() }()

	suggestions := make(map[string]uint64)
	for {
		entry, err := dict.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		suggestions[entry.Term] += entry.Count
	}
	if len(suggestions) > 0 {
		top := (&search.Result{Suggestions: suggestions}).TopSuggestions(q.Options.Limit)
		res.Suggestions = make(map[string]uint64, len(top))
		for _, term := range top {
			res.Suggestions[term] = suggestions[term]
		}
	}
	return res, nil
}

// SuggestAndSearch returns suggestions together with search hits. When q
// finds nothing, the search is retried with the last word replaced by the
// best suggestion.
func (t *FieldType) SuggestAndSearch(ctx context.Context, r store.Reader, q *search.Query) (*search.Result, error) {
	sugg, err := t.Suggest(ctx, r, q)
	if err != nil {
		return nil, err
	}
	hits, err := t.Search(ctx, r, q)
	if err != nil {
		return nil, err
	}
	if hits.Total == 0 {
		if best := sugg.TopSuggestions(1); len(best) == 1 && best[0] != q.LastWord() {
			alt, err := q.WithLastWord(best[0])
			if err != nil {
				return nil, err
			}
			if hits, err = t.Search(ctx, r, alt); err != nil {
				return nil, err
			}
		}
	}
	return search.Merge(sugg, hits), nil
}

func (t *FieldType) anyField(build func(FieldSpec) query.Query) query.Query {
	names := make([]string, 0, len(t.fields))
	for name := range t.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	qs := make([]query.Query, 0, len(names))
	for _, name := range names {
		qs = append(qs, build(t.fields[name]))
	}
	return bleve.NewDisjunctionQuery(qs...)
}

func (t *FieldType) run(ctx context.Context, r store.Reader, q query.Query, sq *search.Query) (*search.Result, error) {
	size := sq.Options.Offset + sq.Options.Limit
	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.Fields = t.stored
	for _, name := range sq.Options.Facets {
		if f, ok := t.fields[name]; ok && f.Facet {
			req.AddFacet(name, bleve.NewFacetRequest(name, 10))
		}
	}

	res, err := r.Search(ctx, req)
	if err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "search "+t.Name(), err)
	}

	out := search.NewResult(t.Name())
	out.Total = res.Total
	out.Hits = make([]*search.Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, &search.Hit{
			Type:   t.Name(),
			ID:     h.ID,
			Score:  h.Score,
			Fields: h.Fields,
		})
	}
	for name, fr := range res.Facets {
		if fr == nil || fr.Terms == nil {
			continue
		}
		counts := make(map[string]int)
		for _, tf := range fr.Terms.Terms() {
			counts[tf.Term] = tf.Count
		}
		if out.Facets == nil {
			out.Facets = make(map[string]map[string]int)
		}
		out.Facets[name] = counts
	}
	return out, nil
}
