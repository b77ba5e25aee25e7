package rategovernor

import (
	"github.com/domaintensor/crawler/internal/config"
	"github.com/domaintensor/crawler/pkg/models"
)

// Registry holds one Governor per provider, shared process-wide.
type Registry struct {
	governors map[string]*Governor
}

// NewRegistryFromConfig builds a Governor per configured provider using
// its declared tier's pacing defaults.
func NewRegistryFromConfig(providers []config.ProviderConfig, rate config.RateConfig) *Registry {
	governors := make(map[string]*Governor, len(providers))
	for _, p := range providers {
		tier := models.Tier(p.Tier)
		tc := rate.ForTier(p.Tier)
		spacing := 0.0
		if tc.MinSpacing > 0 {
			spacing = 1.0 / tc.MinSpacing.Seconds()
		}
		governors[p.Name] = New(p.Name, tier, tc.MaxInFlight, spacing)
	}
	return &Registry{governors: governors}
}

func (r *Registry) For(providerName string) *Governor {
	return r.governors[providerName]
}
