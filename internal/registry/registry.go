// Package registry holds immutable, versioned rate limit configs and swaps
// them atomically so config reloads never block in-flight evaluations.
package registry

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tripwise/gatekeeper/internal/ratelimit"
)

// Well-known config keys, checked in resolution order.
const (
	KeyGlobal  = "global"
	KeyDefault = "default"
)

// KeyForEndpoint builds the registry key for an endpoint-specific config.
func KeyForEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	return "endpoint:" + endpoint
}

// KeyForTier builds the registry key for a tier-specific config.
func KeyForTier(tier string) string {
	tier = strings.TrimSpace(tier)
	if tier == "" {
		return ""
	}
	return "tier:" + tier
}

// Snapshot is one immutable config generation. All reads during a single
// evaluation use one snapshot, never a mix of two.
type Snapshot struct {
	Generation int64
	configs    map[string]*ratelimit.Config
}

// Resolve picks the applicable config: endpoint-specific beats tier-specific
// beats scope default beats global default. Inactive configs are skipped.
func (s *Snapshot) Resolve(endpoint, tier string) *ratelimit.Config {
	if s == nil {
		return nil
	}
	for _, key := range []string{KeyForEndpoint(endpoint), KeyForTier(tier), KeyDefault, KeyGlobal} {
		if key == "" {
			continue
		}
		if cfg, ok := s.configs[key]; ok && cfg != nil && cfg.Active {
			return cfg
		}
	}
	return nil
}

// Lookup returns the config stored under an exact key.
func (s *Snapshot) Lookup(key string) *ratelimit.Config {
	if s == nil {
		return nil
	}
	return s.configs[key]
}

// Keys lists the config keys present in this snapshot.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.configs))
	for key := range s.configs {
		keys = append(keys, key)
	}
	return keys
}

// ErrMissingKey indicates a config load without a registry key.
var ErrMissingKey = errors.New("registry: missing config key")

// Registry stores the current snapshot behind an atomic pointer. Writers
// serialize on a mutex; readers never block.
type Registry struct {
	writeMu sync.Mutex
	snap    atomic.Pointer[Snapshot]
}

// New constructs an empty Registry at generation zero.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(&Snapshot{configs: map[string]*ratelimit.Config{}})
	return r
}

// Snapshot returns the current generation for lock-free reads.
func (r *Registry) Snapshot() *Snapshot {
	if r == nil {
		return nil
	}
	return r.snap.Load()
}

// Load validates the config and installs it under key in a fresh generation.
// Invalid configs are rejected eagerly and leave the registry untouched.
func (r *Registry) Load(key string, cfg *ratelimit.Config) error {
	if r == nil {
		return errors.New("registry: nil registry")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingKey
	}
	if errValidate := cfg.Validate(); errValidate != nil {
		return errValidate
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snap.Load()
	next := &Snapshot{
		Generation: current.Generation + 1,
		configs:    make(map[string]*ratelimit.Config, len(current.configs)+1),
	}
	for k, v := range current.configs {
		next.configs[k] = v
	}
	next.configs[key] = cfg
	r.snap.Store(next)
	return nil
}

// Remove deletes the config under key, installing a fresh generation.
func (r *Registry) Remove(key string) bool {
	if r == nil {
		return false
	}
	key = strings.TrimSpace(key)

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current := r.snap.Load()
	if _, ok := current.configs[key]; !ok {
		return false
	}
	next := &Snapshot{
		Generation: current.Generation + 1,
		configs:    make(map[string]*ratelimit.Config, len(current.configs)-1),
	}
	for k, v := range current.configs {
		if k != key {
			next.configs[k] = v
		}
	}
	r.snap.Store(next)
	return true
}
