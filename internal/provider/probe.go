package provider

import (
	"context"
	"fmt"
)

// CredentialFunc hands back one usable credential for a provider name, the
// same shape a Key Pool lookup provides, without this package needing to
// import the Key Pool itself.
type CredentialFunc func(ctx context.Context, providerName string) (string, error)

// ProbeModels issues one cheap call per configured (provider, model) pair
// and returns an error for the first one that resolves to no adapter, or
// whose response is permanent or malformed — the startup-time guard
// against a deprecated model identifier silently returning 200 with an
// empty body. A transient failure (the provider is momentarily
// unreachable) does not fail startup; it will be retried once the crawl
// is running.
func ProbeModels(ctx context.Context, reg map[string]Adapter, modelsByProvider map[string][]string, credential CredentialFunc) error {
	for providerName, models := range modelsByProvider {
		adapter, err := Lookup(reg, providerName)
		if err != nil {
			return err
		}

		key, err := credential(ctx, providerName)
		if err != nil {
			return fmt.Errorf("no credential available to probe provider %s: %w", providerName, err)
		}

		for _, model := range models {
			_, callErr := adapter.Call(ctx, key, model, "ping")
			if callErr == nil {
				continue
			}
			ce := AsCallError(callErr)
			if ce.Kind == KindPermanent || ce.Kind == KindMalformed {
				return fmt.Errorf("startup probe failed for %s/%s: %w", providerName, model, callErr)
			}
		}
	}
	return nil
}
