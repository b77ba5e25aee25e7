package provider

import "fmt"

// NewRegistry builds the set of adapters enabled for a crawl window from
// configuration. An unknown provider name is silently omitted from the
// returned map — it has no case in the switch below — and later surfaces
// as a per-cell "provider %s not wired" error from the Domain Worker's
// dispatch loop. Lookup is the fail-loud check for callers, such as the
// startup probe, that need an error the moment a name doesn't resolve.
func NewRegistry(baseURLs map[string]string) map[string]Adapter {
	reg := make(map[string]Adapter, len(baseURLs))
	for name, baseURL := range baseURLs {
		switch name {
		case "openrouter":
			reg[name] = NewOpenRouterAdapter(baseURL)
		case "gemini":
			reg[name] = NewGeminiAdapter()
		}
	}
	return reg
}

// Lookup returns the adapter for a provider name or an error if it is not
// registered — a model identifier belongs to configuration and must
// resolve to a live adapter.
func Lookup(reg map[string]Adapter, name string) (Adapter, error) {
	a, ok := reg[name]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %q", name)
	}
	return a, nil
}
