package provider

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"recap-gateway/internal/config"
)

const chatCompletionsPath = "/chat/completions"

// Vendor is the resolved, read-only configuration of one provider.
type Vendor struct {
	ID        string
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
	Reasoning ReasoningMode
	// Custom is true for vendors declared only in configuration.
	Custom bool
}

// Usable reports whether credential, endpoint and model are all set.
func (v Vendor) Usable() bool {
	return strings.TrimSpace(v.APIKey) != "" &&
		strings.TrimSpace(v.BaseURL) != "" &&
		strings.TrimSpace(v.Model) != ""
}

// Endpoint returns the chat-completions URL. A base URL that already names the
// path is used verbatim.
func (v Vendor) Endpoint() string {
	if strings.Contains(v.BaseURL, chatCompletionsPath) {
		return v.BaseURL
	}
	return strings.TrimRight(v.BaseURL, "/") + chatCompletionsPath
}

// Registry maintains the vendors known to the gateway and their preference order.
// It is built once and only read afterwards, so concurrent lookups need no locking.
type Registry struct {
	vendors  map[string]Vendor
	priority []string
}

// NewRegistry merges the built-in catalog with configured overrides and custom vendors.
func NewRegistry(cfg config.Config) *Registry {
	r := &Registry{
		vendors:  make(map[string]Vendor, len(catalog)+len(cfg.Providers)),
		priority: append([]string(nil), cfg.Gateway.Priority...),
	}

	for _, entry := range catalog {
		r.vendors[entry.id] = Vendor{
			ID:        entry.id,
			BaseURL:   entry.baseURL,
			Model:     entry.model,
			MaxTokens: entry.maxTokens,
			Timeout:   entry.timeout,
			Reasoning: entry.reasoning,
		}
	}

	for id, pc := range cfg.Providers {
		id = strings.ToLower(strings.TrimSpace(id))
		v, known := r.vendors[id]
		if !known {
			v = Vendor{
				ID:        id,
				MaxTokens: defaultMaxTokens,
				Timeout:   defaultTimeout,
				Reasoning: ReasoningNone,
				Custom:    true,
			}
		}
		r.vendors[id] = merge(v, pc)
	}

	return r
}

func merge(v Vendor, pc config.ProviderConfig) Vendor {
	if pc.APIKey != "" {
		v.APIKey = pc.APIKey
	}
	if pc.BaseURL != "" {
		v.BaseURL = pc.BaseURL
	}
	if pc.Model != "" {
		v.Model = pc.Model
	}
	if pc.MaxTokens > 0 {
		v.MaxTokens = pc.MaxTokens
	}
	if pc.Timeout > 0 {
		v.Timeout = pc.Timeout
	}
	if pc.Reasoning != "" {
		v.Reasoning = ReasoningMode(pc.Reasoning)
	}
	return v
}

// Resolve returns the vendor configuration and whether it is usable. An unusable vendor
// is not an error; callers skip it.
func (r *Registry) Resolve(id string) (Vendor, bool, error) {
	v, ok := r.vendors[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Vendor{}, false, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return v, v.Usable(), nil
}

// Known reports whether id names a built-in or configured vendor.
func (r *Registry) Known(id string) bool {
	_, _, err := r.Resolve(id)
	return err == nil
}

// PriorityList returns the configured preference order, or the built-in default.
func (r *Registry) PriorityList() []string {
	if len(r.priority) == 0 {
		return DefaultPriority()
	}
	return append([]string(nil), r.priority...)
}

// Candidates returns the vendors to try, in order. An explicit vendor yields exactly
// that vendor. Otherwise the priority list is rotated to start after the vendor named
// by after, when it appears in the list.
func (r *Registry) Candidates(explicit, after string) ([]string, error) {
	if explicit = strings.ToLower(strings.TrimSpace(explicit)); explicit != "" {
		if !r.Known(explicit) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, explicit)
		}
		return []string{explicit}, nil
	}

	list := r.PriorityList()
	after = strings.ToLower(strings.TrimSpace(after))
	if after == "" {
		return list, nil
	}
	for i, id := range list {
		if id == after {
			rotated := make([]string, 0, len(list))
			rotated = append(rotated, list[i+1:]...)
			return append(rotated, list[:i+1]...), nil
		}
	}
	return list, nil
}

// Vendors lists every vendor: built-ins in catalog order, then custom vendors by id.
func (r *Registry) Vendors() []Vendor {
	out := make([]Vendor, 0, len(r.vendors))
	seen := make(map[string]bool, len(catalog))
	for _, entry := range catalog {
		out = append(out, r.vendors[entry.id])
		seen[entry.id] = true
	}

	custom := make([]Vendor, 0, len(r.vendors)-len(seen))
	for id, v := range r.vendors {
		if !seen[id] {
			custom = append(custom, v)
		}
	}
	sort.Slice(custom, func(i, j int) bool { return custom[i].ID < custom[j].ID })
	return append(out, custom...)
}
