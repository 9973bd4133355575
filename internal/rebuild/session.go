package rebuild

import (
	"log/slog"
	"sync"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/config"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/openclaw"
)

// ClientSlot holds the current OpenClaw session client. Turns resolve the
// client once at their start; a swap mid-turn affects only later turns.
type ClientSlot struct {
	mu     sync.RWMutex
	client openclaw.Session
}

// NewClientSlot returns a slot holding client.
func NewClientSlot(client openclaw.Session) *ClientSlot {
	return &ClientSlot{client: client}
}

// Get returns the current client.
func (s *ClientSlot) Get() openclaw.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Swap installs next and returns the previous client.
func (s *ClientSlot) Swap(next openclaw.Session) openclaw.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.client
	s.client = next
	return prev
}

// ClientFactory builds a session client for a gateway URL and token.
type ClientFactory func(url, token string) openclaw.Session

// Session returns a store listener that hot-swaps the session client when
// the gateway URL or token changes. The old client is disconnected, which
// rejects its pending turns with user-safe errors; the new client dials
// lazily on the next turn.
func Session(slot *ClientSlot, factory ClientFactory, logger *slog.Logger) config.Listener {
	return func(patch config.Patch, cfg config.GatewayConfig) {
		if !patch.TouchesGateway() {
			return
		}

		next := factory(cfg.OpenclawGatewayURL, cfg.OpenclawGatewayToken)
		prev := slot.Swap(next)
		if prev != nil {
			if err := prev.Disconnect(); err != nil {
				logger.Warn("disconnecting replaced session client", "err", err)
			}
		}
		logger.Info("session client replaced", "url", cfg.OpenclawGatewayURL)
	}
}
