// Package app wires the voice gateway subsystems into a running process.
//
// New constructs everything from a boot configuration: the runtime config
// store, the STT provider set, the OpenClaw session client, the turn
// orchestrator, and the HTTP plane. Run serves until the context is
// cancelled, then drains: the readiness gate closes, in-flight requests get
// a bounded grace period, and the agent session is torn down last.
//
// For testing, inject doubles via functional options (WithSessionFactory,
// WithListener). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/config"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/health"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/httpapi"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/observe"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/openclaw"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/orchestrator"
	"github.com/gideonheart/openclaw-even-g2-voice-gateway-sub000/internal/rebuild"
)

const (
	// defaultShutdownTimeout bounds the drain: requests still running after
	// this are cut off when the HTTP server closes.
	defaultShutdownTimeout = 10 * time.Second

	// preflightTimeout bounds the boot pre-checks. Pre-check failures are
	// logged, not fatal; the gateway starts degraded and recovers per turn.
	preflightTimeout = 10 * time.Second

	// readHeaderTimeout guards against slow-header connections holding
	// sockets open.
	readHeaderTimeout = 10 * time.Second
)

// App owns the subsystem lifetimes of one gateway process.
type App struct {
	store   *config.Store
	logger  *slog.Logger
	metrics *observe.Metrics

	providers *rebuild.ProviderSet
	slot      *rebuild.ClientSlot
	gate      *health.Gate
	server    *httpapi.Server
	httpSrv   *http.Server

	factory         rebuild.ClientFactory
	listener        net.Listener
	shutdownTimeout time.Duration
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSessionFactory replaces the OpenClaw client constructor. The factory
// is used for the boot client and for every hot-swap after a gateway
// settings change.
func WithSessionFactory(f rebuild.ClientFactory) Option {
	return func(a *App) { a.factory = f }
}

// WithListener serves on ln instead of binding the configured host and port.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithShutdownTimeout overrides the drain grace period.
func WithShutdownTimeout(d time.Duration) Option {
	return func(a *App) { a.shutdownTimeout = d }
}

// New wires all subsystems from the boot configuration. Construction is
// synchronous and cannot fail; backends that are misconfigured or down
// surface per request, never at wiring time.
func New(cfg config.GatewayConfig, logger *slog.Logger, metrics *observe.Metrics, opts ...Option) *App {
	a := &App{
		store:           config.NewStore(cfg),
		logger:          logger,
		metrics:         metrics,
		providers:       rebuild.NewProviderSet(),
		gate:            health.NewGate(),
		shutdownTimeout: defaultShutdownTimeout,
		factory: func(url, token string) openclaw.Session {
			return openclaw.NewClient(url, token,
				openclaw.WithLogger(logger),
				openclaw.WithMetrics(metrics),
			)
		},
	}
	for _, o := range opts {
		o(a)
	}

	rebuild.SeedProviders(cfg, a.providers, logger)
	a.slot = rebuild.NewClientSlot(a.factory(cfg.OpenclawGatewayURL, cfg.OpenclawGatewayToken))

	a.store.OnChange(rebuild.Providers(a.providers, logger))
	a.store.OnChange(rebuild.Session(a.slot, a.factory, logger))

	orch := orchestrator.New(a.store, a.providers, a.slot, metrics, logger)
	probes := health.New(a.gate,
		health.Checker{Name: "stt", Check: a.checkSTT},
		health.Checker{Name: "openclaw", Check: a.checkAgent},
	)
	a.server = httpapi.New(a.store, orch, probes, a.gate, metrics, logger)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	a.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a
}

// Handler exposes the full HTTP plane, mainly for tests that drive the app
// through httptest instead of a real socket.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Store exposes the runtime config store.
func (a *App) Store() *config.Store { return a.store }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled, then drains and returns. The
// readiness gate opens only after the boot pre-checks have run.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.httpSrv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.httpSrv.Addr, err)
		}
	}

	a.preflight(ctx)
	a.gate.Open()
	a.logger.Info("gateway ready", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.server.RunPruner(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return a.drain()
	})
	return g.Wait()
}

// preflight probes the active STT backend and dials the agent gateway so
// the first turn does not pay the connection cost. Failures are logged and
// boot continues; both paths recover on later turns.
func (a *App) preflight(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()

	cfg := a.store.Get()
	if p, ok := a.providers.Get(cfg.SttProvider); ok {
		if h := p.HealthCheck(ctx); h.Healthy {
			a.logger.Info("stt backend reachable", "provider", cfg.SttProvider, "latency", h.Latency)
		} else {
			a.logger.Warn("stt backend unreachable at boot", "provider", cfg.SttProvider, "detail", h.Message)
		}
	} else {
		a.logger.Warn("active stt provider is not configured", "provider", cfg.SttProvider)
	}

	if client := a.slot.Get(); client != nil {
		if err := client.Connect(ctx); err != nil {
			a.logger.Warn("agent gateway connect failed at boot, will retry on first turn", "err", err)
		} else {
			a.logger.Info("agent gateway connected")
		}
	}
}

// drain closes the readiness gate, gives in-flight requests a bounded grace
// period, and disconnects the agent session last so running turns can still
// finish against it.
func (a *App) drain() error {
	a.gate.Close()
	a.logger.Info("draining", "grace", a.shutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	err := a.httpSrv.Shutdown(ctx)
	if err != nil {
		a.logger.Warn("drain deadline exceeded, closing remaining connections", "err", err)
		err = fmt.Errorf("app: shutdown: %w", err)
	}

	if client := a.slot.Get(); client != nil {
		if derr := client.Disconnect(); derr != nil {
			a.logger.Warn("disconnecting agent session", "err", derr)
		}
	}
	return err
}

// ─── Readiness checks ────────────────────────────────────────────────────────

// checkSTT probes the currently selected transcription backend.
func (a *App) checkSTT(ctx context.Context) error {
	cfg := a.store.Get()
	p, ok := a.providers.Get(cfg.SttProvider)
	if !ok {
		return fmt.Errorf("provider %q is not configured", cfg.SttProvider)
	}
	if h := p.HealthCheck(ctx); !h.Healthy {
		if h.Message != "" {
			return errors.New(h.Message)
		}
		return errors.New("backend unhealthy")
	}
	return nil
}

// checkAgent reports whether a READY agent session exists. A disconnected
// session is not ready even though the next turn would redial: probes must
// reflect the state now, not the recovery path.
func (a *App) checkAgent(_ context.Context) error {
	client := a.slot.Get()
	if client == nil {
		return errors.New("no session client")
	}
	if !client.Healthy() {
		return errors.New("no ready session")
	}
	return nil
}
