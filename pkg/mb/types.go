package mb

import (
	"encoding/json"
	"sort"
)

// AddonDescriptor describes a registered addon and what it may be asked to do.
type AddonDescriptor struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Version     string                     `json:"version,omitempty"`
	Description string                     `json:"description,omitempty"`
	Types       []string                   `json:"types,omitempty"`
	Resources   []string                   `json:"resources,omitempty"`
	Methods     []string                   `json:"methods"`
	Catalogs    []CatalogDescriptor        `json:"catalogs,omitempty"`
	ArgSchemas  map[string]json.RawMessage `json:"argSchemas,omitempty"`
}

// CatalogDescriptor declares a catalog served by an addon.
type CatalogDescriptor struct {
	Type  string   `json:"type"`
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Extra []string `json:"extra,omitempty"`
}

// HasMethod reports whether method is declared by the addon.
func (d AddonDescriptor) HasMethod(method string) bool {
	for _, m := range d.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// SupportsSearch reports whether any catalog accepts the search extra.
func (d AddonDescriptor) SupportsSearch() bool {
	for _, c := range d.Catalogs {
		for _, extra := range c.Extra {
			if extra == "search" {
				return true
			}
		}
	}
	return false
}

// Catalog is the structured catalog listing of an addon.
type Catalog struct {
	AddonID string        `json:"addonId"`
	Pages   []CatalogPage `json:"catalogs"`
}

// CatalogPage holds the items of one declared catalog.
type CatalogPage struct {
	Type  string        `json:"type"`
	ID    string        `json:"id"`
	Name  string        `json:"name,omitempty"`
	Metas []MetaPreview `json:"metas"`
}

// MetaPreview is a catalog or search entry.
type MetaPreview struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Poster      string `json:"poster,omitempty"`
	Description string `json:"description,omitempty"`
	ReleaseInfo string `json:"releaseInfo,omitempty"`
	DurationMS  int64  `json:"durationMs,omitempty"`
}

// LibraryItem is an entry of the user library.
type LibraryItem struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Name       string `json:"name"`
	Poster     string `json:"poster,omitempty"`
	TimeOffset int64  `json:"timeOffsetMs"`
	DurationMS int64  `json:"durationMs"`
	Watched    bool   `json:"watched"`
	UpdatedAt  int64  `json:"updatedAt"`
}

// SearchHit is a ranked search result.
type SearchHit struct {
	Source string      `json:"source"`
	Item   MetaPreview `json:"item"`
	Score  float64     `json:"score"`
}

// ErrorBody is the structured failure carried by every envelope.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope is returned by boundary operations that fail.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// InvocationResult is the encoded answer of an addon invocation.
type InvocationResult struct {
	ID     string     `json:"id"`
	OK     bool       `json:"ok"`
	Result any        `json:"result,omitempty"`
	Err    *ErrorBody `json:"error,omitempty"`
}

// ActionAck acknowledges a dispatched action.
type ActionAck struct {
	Success bool       `json:"success"`
	Err     *ErrorBody `json:"error,omitempty"`
}

// Accuracy tiers of skip-intro data.
const (
	AccuracyExact      = "exact"
	AccuracyByDuration = "byDuration"
	AccuracyNone       = "none"
)

// SkipInterval is a time range in milliseconds with To > From.
type SkipInterval struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// SkipIntroResult maps a playback duration key to an intro interval.
type SkipIntroResult struct {
	Accuracy string                 `json:"accuracy"`
	Intros   map[int64]SkipInterval `json:"intros"`
}

// Match picks the interval whose duration key is closest to durationMS
// within tolerance. Without a close key it falls back to the smallest key.
func (r SkipIntroResult) Match(durationMS int64, toleranceMS int64) (SkipInterval, bool) {
	if len(r.Intros) == 0 {
		return SkipInterval{}, false
	}

	keys := make([]int64, 0, len(r.Intros))
	for key := range r.Intros {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	best := int64(-1)
	var bestDiff int64
	for _, key := range keys {
		diff := key - durationMS
		if diff < 0 {
			diff = -diff
		}
		if diff > toleranceMS {
			continue
		}
		if best < 0 || diff < bestDiff {
			best = key
			bestDiff = diff
		}
	}
	if best < 0 {
		best = keys[0]
	}
	return r.Intros[best], true
}
