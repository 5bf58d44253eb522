// Package search ranks library items and addon catalog entries against a
// free text query.
package search

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"github.com/mikey-austin/media_bridge/internal/ports"
	"github.com/mikey-austin/media_bridge/pkg/mb"
)

// SourceLibrary tags hits that come from the user library.
const SourceLibrary = "library"

const (
	defaultLimit    = 50
	defaultMinScore = 0.5
)

// Index searches the library and every addon catalog declaring the search
// extra.
type Index struct {
	Library  ports.LibraryStore
	Addons   ports.AddonTransport
	Limit    int
	MinScore float64
	Log      *zap.Logger
}

type candidate struct {
	hit   mb.SearchHit
	order int
}

// Search returns hits ordered by score, then source order, then name.
func (ix Index) Search(ctx context.Context, query string) ([]mb.SearchHit, error) {
	query = normalize(query)
	if query == "" {
		return []mb.SearchHit{}, nil
	}

	var found []candidate
	seen := map[string]bool{}
	add := func(source string, item mb.MetaPreview) {
		key := source + "\x00" + item.ID
		if seen[key] {
			return
		}
		score := Score(query, item.Name)
		if score < ix.minScore() {
			return
		}
		seen[key] = true
		found = append(found, candidate{
			hit:   mb.SearchHit{Source: source, Item: item, Score: score},
			order: len(found),
		})
	}

	if ix.Library != nil {
		items, err := ix.Library.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			add(SourceLibrary, mb.MetaPreview{
				ID:         item.ID,
				Type:       item.Type,
				Name:       item.Name,
				Poster:     item.Poster,
				DurationMS: item.DurationMS,
			})
		}
	}

	if ix.Addons != nil {
		for _, desc := range ix.Addons.Descriptors() {
			if !desc.SupportsSearch() {
				continue
			}
			catalog, err := ix.Addons.Catalog(ctx, desc.ID)
			if err != nil {
				ix.log().Warn("search skipped addon", zap.String("addon", desc.ID), zap.Error(err))
				continue
			}
			for _, page := range catalog.Pages {
				for _, meta := range page.Metas {
					add(desc.ID, meta)
				}
			}
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.hit.Score != b.hit.Score {
			return a.hit.Score > b.hit.Score
		}
		if a.order != b.order {
			return a.order < b.order
		}
		return a.hit.Item.Name < b.hit.Item.Name
	})

	limit := ix.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	hits := make([]mb.SearchHit, 0, min(limit, len(found)))
	for _, c := range found {
		if len(hits) == limit {
			break
		}
		hits = append(hits, c.hit)
	}
	return hits, nil
}

// Score rates name against an already normalized query in [0, 1]. Exact and
// substring matches rank above any fuzzy match.
func Score(query string, name string) float64 {
	name = normalize(name)
	if query == "" || name == "" {
		return 0
	}
	switch {
	case name == query:
		return 1
	case strings.HasPrefix(name, query):
		return 0.95
	case strings.Contains(name, query):
		return 0.9
	}

	best := similarity(query, name)
	for _, word := range strings.Fields(name) {
		if s := similarity(query, word); s > best {
			best = s
		}
	}
	return best * 0.85
}

func similarity(a string, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func (ix Index) minScore() float64 {
	if ix.MinScore <= 0 {
		return defaultMinScore
	}
	return ix.MinScore
}

func (ix Index) log() *zap.Logger {
	if ix.Log == nil {
		return zap.NewNop()
	}
	return ix.Log
}
