// Package search holds the query and result types shared by every content
// type, and the merge used to combine per-type results.
package search

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// Defaults for query options.
const (
	DefaultLimit          = 20
	MaxLimit              = 1000
	DefaultQueryCacheSize = 512
	maxQueryLength        = 1024
)

// Options narrows a search.
type Options struct {
	// Types restricts the content types searched. Empty means all.
	Types []string `json:"types,omitempty"`
	// Limit and Offset page the merged hits.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
	// Facets names facet fields to count.
	Facets []string `json:"facets,omitempty"`
}

// Query is a parsed search. Queries returned by Parser are shared and must
// not be modified.
type Query struct {
	Raw      string
	Terms    []string
	Phrases  []string
	Prefixes []string
	Excluded []string
	MatchAll bool
	Options  Options
}

// Empty reports whether the query matches nothing.
func (q *Query) Empty() bool {
	return !q.MatchAll && len(q.Terms) == 0 && len(q.Phrases) == 0 && len(q.Prefixes) == 0
}

// LastWord returns the final unquoted word of the raw input, without any
// trailing '*'. Suggestions complete this word.
func (q *Query) LastWord() string {
	fields := strings.Fields(q.Raw)
	if len(fields) == 0 {
		return ""
	}
	last := strings.Trim(fields[len(fields)-1], `"`)
	return strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(last, "-"), "*"))
}

// WithLastWord returns a copy of q whose final word is replaced by word.
func (q *Query) WithLastWord(word string) (*Query, error) {
	fields := strings.Fields(q.Raw)
	if len(fields) == 0 {
		return Parse(word, q.Options)
	}
	fields[len(fields)-1] = word
	return Parse(strings.Join(fields, " "), q.Options)
}

// Parse builds a Query from raw user input. Words are required terms,
// "double quoted" runs are phrases, a trailing '*' makes a prefix and a
// leading '-' excludes a word. A lone "*" matches everything.
func Parse(raw string, opts Options) (*Query, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) > maxQueryLength {
		return nil, errors.New(errors.ErrCodeInvalidQuery, "query too long", nil).
			WithDetail("length", strconv.Itoa(len(raw)))
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	q := &Query{Raw: raw, Options: opts}
	if raw == "*" {
		q.MatchAll = true
		return q, nil
	}

	rest := raw
	for {
		start := strings.IndexByte(rest, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start+1:], '"')
		if end < 0 {
			// Unbalanced quote: treat the remainder as plain words.
			rest = rest[:start] + " " + rest[start+1:]
			break
		}
		phrase := strings.TrimSpace(rest[start+1 : start+1+end])
		if phrase != "" {
			q.Phrases = append(q.Phrases, strings.ToLower(phrase))
		}
		rest = rest[:start] + " " + rest[start+end+2:]
	}

	for _, word := range strings.FieldsFunc(rest, unicode.IsSpace) {
		word = strings.ToLower(word)
		switch {
		case strings.HasPrefix(word, "-") && len(word) > 1:
			q.Excluded = append(q.Excluded, word[1:])
		case strings.HasSuffix(word, "*") && len(word) > 1:
			q.Prefixes = append(q.Prefixes, strings.TrimRight(word, "*"))
		case word != "*" && word != "-":
			q.Terms = append(q.Terms, word)
		}
	}
	return q, nil
}

// Parser memoizes Parse. Identical input and options yield the same *Query.
type Parser struct {
	cache *lru.Cache[string, *Query]
}

// NewParser creates a parser caching up to size queries.
func NewParser(size int) *Parser {
	if size <= 0 {
		size = DefaultQueryCacheSize
	}
	cache, _ := lru.New[string, *Query](size)
	return &Parser{cache: cache}
}

// Parse returns the cached query for raw and opts, parsing on a miss.
func (p *Parser) Parse(raw string, opts Options) (*Query, error) {
	key := cacheKey(raw, opts)
	if q, ok := p.cache.Get(key); ok {
		return q, nil
	}
	q, err := Parse(raw, opts)
	if err != nil {
		return nil, err
	}
	p.cache.Add(key, q)
	return q, nil
}

// Len returns the number of cached queries.
func (p *Parser) Len() int {
	return p.cache.Len()
}

func cacheKey(raw string, opts Options) string {
	types := append([]string(nil), opts.Types...)
	sort.Strings(types)
	facets := append([]string(nil), opts.Facets...)
	sort.Strings(facets)

	var sb strings.Builder
	sb.WriteString(raw)
	sb.WriteByte(0)
	sb.WriteString(strings.Join(types, ","))
	sb.WriteByte(0)
	sb.WriteString(strings.Join(facets, ","))
	sb.WriteByte(0)
	sb.WriteString(strconv.Itoa(opts.Limit))
	sb.WriteByte(0)
	sb.WriteString(strconv.Itoa(opts.Offset))

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}
