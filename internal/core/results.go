package core

import "github.com/mikey-austin/media_bridge/pkg/mb"

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []mb.Presence `json:"nodes"`
}

// AddonsResult lists the addons registered on a bridge.
type AddonsResult struct {
	BridgeID string               `json:"bridgeId"`
	Addons   []mb.AddonDescriptor `json:"addons"`
}

// CatalogResult holds an addon catalog.
type CatalogResult struct {
	Catalog mb.Catalog `json:"catalog"`
}

// LibraryResult holds the user library.
type LibraryResult struct {
	Items []mb.LibraryItem `json:"items"`
}

// SearchResult holds ranked search hits.
type SearchResult struct {
	Query string         `json:"query"`
	Hits  []mb.SearchHit `json:"hits"`
}

// InvokeResult holds an addon invocation answer.
type InvokeResult struct {
	AddonID string              `json:"addonId"`
	Method  string              `json:"method"`
	Result  mb.InvocationResult `json:"result"`
}

// DispatchResult acknowledges a dispatched action. Ack is nil when the
// action was sent without waiting.
type DispatchResult struct {
	Action string        `json:"action"`
	Ack    *mb.ActionAck `json:"ack,omitempty"`
}

// SkipIntroResult holds skip-intro data and the interval matching the
// requested duration.
type SkipIntroResult struct {
	ItemID     string             `json:"itemId"`
	DurationMS int64              `json:"durationMs"`
	Data       mb.SkipIntroResult `json:"data"`
	Match      *mb.SkipInterval   `json:"match,omitempty"`
}
