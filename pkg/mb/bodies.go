package mb

// SearchBody is the payload for bridge.search.
type SearchBody struct {
	Query string `json:"query"`
}

// AddonCatalogBody is the payload for bridge.getAddonCatalog.
type AddonCatalogBody struct {
	AddonID string `json:"addonId"`
}

// InvokeAddonBody is the payload for bridge.invokeAddon. Args is the
// addon argument text, passed through undecoded.
type InvokeAddonBody struct {
	AddonID string `json:"addonId"`
	Method  string `json:"method"`
	Args    string `json:"args"`
}

// DispatchActionBody is the payload for bridge.dispatchAction.
type DispatchActionBody struct {
	Action  string `json:"action"`
	Payload string `json:"payload"`
}

// SkipIntroBody is the payload for bridge.getSkipIntroData.
type SkipIntroBody struct {
	ItemID     string `json:"itemId"`
	DurationMS int64  `json:"durationMs"`
}
