package keypool

import (
	"time"

	"go.uber.org/zap"
)

// Registry holds one Pool per provider, built once at startup from
// configuration and shared by all Domain Workers. The Key Pool is
// process-wide, mutable under a mutex.
type Registry struct {
	pools map[string]*Pool
}

func NewRegistry(keysByProvider map[string][]string, quarantine, cooldown time.Duration, log *zap.Logger) *Registry {
	pools := make(map[string]*Pool, len(keysByProvider))
	for name, keys := range keysByProvider {
		pools[name] = New(name, keys, quarantine, cooldown, log)
	}
	return &Registry{pools: pools}
}

func (r *Registry) For(providerName string) *Pool {
	return r.pools[providerName]
}
