package translator

import "recap-gateway/internal/provider"

// ProviderView is the public description of a vendor. It never carries credentials.
type ProviderView struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Endpoint  string `json:"endpoint"`
	Reasoning string `json:"reasoning"`
	MaxTokens int    `json:"max_tokens"`
	TimeoutMS int64  `json:"timeout_ms"`
	Usable    bool   `json:"usable"`
	Custom    bool   `json:"custom"`
	// Priority is the 1-based position in the preference order, or 0 when absent.
	Priority int `json:"priority"`
}

// ProviderViews describes vendors in registry order.
func ProviderViews(vendors []provider.Vendor, priority []string) []ProviderView {
	position := make(map[string]int, len(priority))
	for i, id := range priority {
		if _, seen := position[id]; !seen {
			position[id] = i + 1
		}
	}

	views := make([]ProviderView, 0, len(vendors))
	for _, v := range vendors {
		endpoint := ""
		if v.BaseURL != "" {
			endpoint = v.Endpoint()
		}
		views = append(views, ProviderView{
			ID:        v.ID,
			Model:     v.Model,
			Endpoint:  endpoint,
			Reasoning: string(v.Reasoning),
			MaxTokens: v.MaxTokens,
			TimeoutMS: v.Timeout.Milliseconds(),
			Usable:    v.Usable(),
			Custom:    v.Custom,
			Priority:  position[v.ID],
		})
	}
	return views
}
