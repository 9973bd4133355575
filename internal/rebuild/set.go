// Package rebuild reacts to config store updates by reconstructing the
// components whose settings changed: STT providers are rebuilt into a shared
// [ProviderSet], and the OpenClaw session client is swapped inside a
// [ClientSlot]. Turns in flight keep the instances they already resolved;
// only subsequent turns see the replacements.
package rebuild

import (
	"sync"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/provider/stt"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/pkg/types"
)

// ProviderSet is the live set of constructed STT providers, keyed by id.
// Safe for concurrent use. A provider id with no entry means its config is
// incomplete; resolution fails with MISSING_CONFIG at turn time.
type ProviderSet struct {
	mu        sync.RWMutex
	providers map[types.ProviderId]stt.Provider
}

// NewProviderSet returns an empty set.
func NewProviderSet() *ProviderSet {
	return &ProviderSet{providers: make(map[types.ProviderId]stt.Provider)}
}

// Get returns the provider for id, if one is installed.
func (s *ProviderSet) Get(id types.ProviderId) (stt.Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	return p, ok
}

// Put installs p for id, replacing any previous instance. A nil p removes
// the entry.
func (s *ProviderSet) Put(id types.ProviderId, p stt.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		delete(s.providers, id)
		return
	}
	s.providers[id] = p
}
