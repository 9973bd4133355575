package config

import "sync"

// Listener observes config updates. It is called synchronously after every
// [Store.Update] with the applied patch and the merged config snapshot.
type Listener func(patch Patch, cfg GatewayConfig)

// Store owns the live gateway configuration. Snapshots handed out by [Get]
// and [GetSafe] are deep copies and are never mutated by later updates.
// Safe for concurrent use.
type Store struct {
	// updateMu serialises Update calls end to end, including listener
	// fanout, so listeners observe updates in a total order.
	updateMu sync.Mutex

	mu        sync.RWMutex
	cfg       GatewayConfig
	listeners []Listener
}

// NewStore creates a Store seeded with cfg.
func NewStore(cfg GatewayConfig) *Store {
	return &Store{cfg: cfg.Clone()}
}

// Get returns a snapshot of the current config.
func (s *Store) Get() GatewayConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// GetSafe returns a snapshot with all secret fields masked.
func (s *Store) GetSafe() GatewayConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Masked()
}

// Update applies a validated patch and fans it out to every registered
// listener in registration order. Fanout is synchronous: when Update
// returns, every listener has observed the new config. An empty patch still
// fires listeners exactly once.
func (s *Store) Update(p Patch) GatewayConfig {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.Lock()
	p.Apply(&s.cfg)
	merged := s.cfg.Clone()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	// Fanout outside the read/write lock so listeners can call Get.
	for _, l := range listeners {
		l(p, merged.Clone())
	}
	return merged
}

// OnChange registers a listener. Listeners added after an update do not see
// it retroactively.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}
