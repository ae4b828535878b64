package directory

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
)

// Predicate filters query results.
type Predicate func(identity.Identity) bool

var queryFields = []string{FieldEmail, FieldAlias, FieldDisplayName, FieldName}

// Query finds identities matching term in any indexed field. A term ending
// in '*' matches as a wildcard, a quoted or multi-word term as a phrase, and
// anything else as one exact lower-cased term. Restricted identities are
// returned only when restrictTo names their owner. pred, when set, filters
// the rest. Hits whose identity no longer exists are skipped.
func (d *Index) Query(ctx context.Context, term, restrictTo string, pred Predicate) ([]identity.Identity, error) {
	q := buildQuery(term)
	if q == nil {
		return nil, nil
	}

	idx, err := d.ensure(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = idx.Close() }()

	// Hits are read a page at a time until MaxHits identities pass the
	// filters or the matches run out.
	seen := make(map[int64]bool)
	var out []identity.Identity
	for from := 0; len(out) < d.opts.MaxHits; {
		req := bleve.NewSearchRequestOptions(q, d.opts.MaxHits, from, false)
		res, err := idx.Reader().Search(ctx, req)
		if err != nil {
			return nil, errors.New(errors.ErrCodeSearchFailed, "directory query", err)
		}

		for _, hit := range res.Hits {
			id, err := strconv.ParseInt(hit.ID, 10, 64)
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true

			i, err := d.source.ByID(ctx, id)
			if errors.Is(err, errors.ErrNotFound) {
				slog.Debug("directory_stale_hit", slog.Int64("id", id))
				continue
			}
			if err != nil {
				return nil, err
			}
			if !i.VisibleTo(restrictTo) {
				continue
			}
			if pred != nil && !pred(i) {
				continue
			}
			out = append(out, i)
			if len(out) == d.opts.MaxHits {
				break
			}
		}

		from += len(res.Hits)
		if len(res.Hits) < d.opts.MaxHits || uint64(from) >= res.Total {
			break
		}
	}
	return out, nil
}

func buildQuery(term string) query.Query {
	term = strings.TrimSpace(term)
	quoted := len(term) >= 2 && strings.HasPrefix(term, `"`) && strings.HasSuffix(term, `"`)
	if quoted {
		term = strings.TrimSpace(term[1 : len(term)-1])
	}
	if term == "" {
		return nil
	}
	lower := strings.ToLower(term)

	var build func(field string) query.Query
	switch {
	case quoted || len(strings.Fields(term)) > 1:
		build = func(field string) query.Query {
			q := bleve.NewMatchPhraseQuery(term)
			q.SetField(field)
			return q
		}
	case strings.HasSuffix(term, "*"):
		build = func(field string) query.Query {
			q := bleve.NewWildcardQuery(lower)
			q.SetField(field)
			return q
		}
	default:
		build = func(field string) query.Query {
			q := bleve.NewTermQuery(lower)
			q.SetField(field)
			return q
		}
	}

	qs := make([]query.Query, 0, len(queryFields))
	for _, f := range queryFields {
		qs = append(qs, build(f))
	}
	return bleve.NewDisjunctionQuery(qs...)
}
