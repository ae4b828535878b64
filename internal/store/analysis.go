package store

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/token/ngram"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	unicodetok "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

// Analyzer names available on every mapping built by NewMapping.
const (
	// TextAnalyzer is bleve's standard analyzer (unicode words, lower-cased, stop words).
	TextAnalyzer = standard.Name

	// KeywordAnalyzer keeps the whole value as one lower-cased term.
	KeywordAnalyzer = "keyword_lower"

	// CodeAnalyzer splits camelCase / snake_case identifiers.
	CodeAnalyzer = "code_analyzer"

	// NgramAnalyzer emits 2-4 character grams of every word.
	NgramAnalyzer = "word_ngram"

	codeTokenizerName = "code_tokenizer"
	ngramFilterName   = "ngram_2_4"
)

// NgramSuffix names the companion field that holds grams of a field.
const NgramSuffix = "_ngram"

func init() {
	registry.RegisterTokenizer(codeTokenizerName, codeTokenizerConstructor)
}

// NewMapping returns an index mapping with the shared analyzers registered.
// Document mappings are added by the caller.
func NewMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()

	if err := m.AddCustomAnalyzer(KeywordAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, err
	}

	if err := m.AddCustomAnalyzer(CodeAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     codeTokenizerName,
		"token_filters": []string{lowercase.Name},
	}); err != nil {
		return nil, err
	}

	if err := m.AddCustomTokenFilter(ngramFilterName, map[string]interface{}{
		"type": ngram.Name,
		"min":  2.0,
		"max":  4.0,
	}); err != nil {
		return nil, err
	}
	if err := m.AddCustomAnalyzer(NgramAnalyzer, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicodetok.Name,
		"token_filters": []string{lowercase.Name, ngramFilterName},
	}); err != nil {
		return nil, err
	}

	m.DefaultAnalyzer = TextAnalyzer
	return m, nil
}

// FieldMapping returns a text field mapping using analyzer.
func FieldMapping(analyzer string, stored bool) *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = analyzer
	fm.Store = stored
	fm.IncludeTermVectors = true
	return fm
}

// NgramFieldMapping returns the companion gram field for field.
func NgramFieldMapping(field string) *mapping.FieldMapping {
	fm := bleve.NewTextFieldMapping()
	fm.Name = field + NgramSuffix
	fm.Analyzer = NgramAnalyzer
	fm.Store = false
	fm.IncludeTermVectors = false
	return fm
}

// tokenRegex matches alphanumeric sequences (including underscores for initial split).
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// TokenizeCode splits text with code-aware rules: camelCase, PascalCase and
// snake_case are broken into words, tokens shorter than 2 are dropped and
// everything is lower-cased.
func TokenizeCode(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, part := range strings.Split(word, "_") {
			for _, t := range splitCamelCase(part) {
				if len(t) >= 2 {
					tokens = append(tokens, strings.ToLower(t))
				}
			}
		}
	}
	return tokens
}

// splitCamelCase splits "parseHTTPRequest" into ["parse", "HTTP", "Request"].
func splitCamelCase(s string) []string {
	if s == "" {
		return nil
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func codeTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return codeTokenizer{}, nil
}

// codeTokenizer adapts TokenizeCode to bleve's analysis pipeline.
type codeTokenizer struct{}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	lower := strings.ToLower(text)
	tokens := TokenizeCode(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	offset := 0
	for pos, token := range tokens {
		start := strings.Index(lower[offset:], token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)
		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos + 1,
			Type:     analysis.AlphaNumeric,
		})
		if end <= len(text) {
			offset = end
		}
	}
	return result
}
