package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/redeliver/internal/core/config"
	"github.com/vietddude/redeliver/internal/core/critical"
	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/endpoint"
	"github.com/vietddude/redeliver/internal/health"
	redisclient "github.com/vietddude/redeliver/internal/infra/redis"
	"github.com/vietddude/redeliver/internal/infra/storage"
	"github.com/vietddude/redeliver/internal/infra/storage/postgres"
	"github.com/vietddude/redeliver/internal/notify"
	"github.com/vietddude/redeliver/internal/recovery"
	"github.com/vietddude/redeliver/internal/relay"
	"github.com/vietddude/redeliver/internal/transport"
)

// Options overrides parts of the endpoint that are normally built from config.
type Options struct {
	// Handler processes received messages. Defaults to the configured webhook.
	Handler endpoint.MessageHandler
	// Transport replaces the configured queue transport.
	Transport transport.Transport
	// Store replaces the configured timeout store.
	Store storage.TimeoutStore
	// Critical is invoked after a critical error was logged.
	Critical critical.Action
	Log      *slog.Logger
}

// Endpoint is the running application: receive pump, optional timeout relay
// and health server.
type Endpoint struct {
	cfg        *config.AppConfig
	mode       domain.TransactionMode
	bus        *notify.Bus
	crit       *critical.CriticalError
	tr         transport.Transport
	dispatcher *transport.Mux
	store      storage.TimeoutStore
	pump       *endpoint.Pump
	relay      *relay.Relay
	health     *health.Server
	db         *postgres.DB
	redis      *redisclient.Client
	closers    []func() error
	log        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds the endpoint from configuration.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*Endpoint, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("endpoint", cfg.Endpoint.Name)

	mode, err := domain.ParseTransactionMode(cfg.Endpoint.TransactionMode)
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		cfg:  cfg,
		mode: mode,
		bus:  notify.NewBus(log),
		crit: critical.New(log, opts.Critical),
		log:  log,
	}

	// 1. Transport and dispatch routing
	if err := e.initTransport(ctx, opts.Transport); err != nil {
		e.close()
		return nil, err
	}

	// 2. Timeout store
	if opts.Store != nil {
		e.store = opts.Store
	} else if e.store, err = e.openStore(ctx); err != nil {
		e.close()
		return nil, err
	}

	// 3. Recoverability
	settings := BuildSettings(cfg.Recoverability, mode)
	hostID := cfg.Endpoint.HostID
	if hostID == "" {
		hostID = deterministicHostID(cfg.Endpoint.Name)
	}
	mover := recovery.NewMoveToErrorsExecutor(
		e.dispatcher,
		cfg.Endpoint.ErrorAddress,
		recovery.FaultMetadata(cfg.Endpoint.InputAddress, cfg.Endpoint.Name, hostID, cfg.Endpoint.HostDisplayName),
	)

	var delayedDispatcher transport.Dispatcher = e.dispatcher
	if cfg.Timeouts.ForceRelay {
		delayedDispatcher = withoutDelayedDelivery{e.dispatcher}
	}
	delayed := recovery.NewDelayedRetryExecutor(
		cfg.Endpoint.InputAddress,
		delayedDispatcher,
		cfg.Timeouts.Address,
		recovery.WithEndpointName(cfg.Endpoint.Name),
	)
	executor := recovery.NewExecutor(settings, nil, delayed, mover, log)

	// 4. Timeout relay, only when delayed retries cannot be deferred natively
	if settings.DelayedRetriesEnabled && !delayed.Native() {
		e.relay, err = relay.New(relay.Config{
			Address:              cfg.Timeouts.Address,
			OwningEndpoint:       cfg.Endpoint.Name,
			TransactionMode:      mode,
			PollInterval:         cfg.Timeouts.PollInterval,
			BatchSize:            cfg.Timeouts.BatchSize,
			MaxFailures:          settings.SatelliteMaxFailures,
			FailureCacheCapacity: settings.FailureCacheCapacity,
		}, e.tr, e.dispatcher, e.store, mover, e.crit, log)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("failed to create timeout relay: %w", err)
		}
		log.Info("Delayed retries routed through timeout relay", "address", cfg.Timeouts.Address)
	}

	// 5. Handler and receive pump
	handler := opts.Handler
	if handler == nil {
		wh, err := endpoint.NewWebhook(cfg.Handler)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("failed to create webhook handler: %w", err)
		}
		handler = wh
	}

	subscribeBuiltins(e.bus, cfg.Endpoint.Name, log)

	e.pump = endpoint.NewPump(endpoint.PumpConfig{
		Name:           cfg.Endpoint.Name,
		Receiver:       e.tr.Receiver(cfg.Endpoint.InputAddress, mode),
		Flush:          e.dispatcher,
		Handler:        handler,
		Recoverability: executor,
		Notifier:       e.bus,
		Critical:       e.crit,
		Concurrency:    cfg.Endpoint.Concurrency,
		Log:            log,
	})

	// 6. Health
	var serverOpts []health.ServerOption
	if e.store != nil {
		serverOpts = append(serverOpts, health.WithDueTimeouts(e.store))
	}
	e.health = health.NewServer(e.healthMonitor(), cfg.Server.Port, serverOpts...)

	return e, nil
}

// Bus returns the notification bus so callers can subscribe before Start.
func (e *Endpoint) Bus() *notify.Bus { return e.bus }

// Dispatcher returns the routed dispatcher used for every outgoing message.
func (e *Endpoint) Dispatcher() transport.Dispatcher { return e.dispatcher }

// Store returns the timeout store.
func (e *Endpoint) Store() storage.TimeoutStore { return e.store }

// RelayEnabled reports whether the timeout relay runs.
func (e *Endpoint) RelayEnabled() bool { return e.relay != nil }

// Health returns the health server's routes.
func (e *Endpoint) Health() http.Handler { return e.health.Handler() }

// Critical returns the critical error signal.
func (e *Endpoint) Critical() *critical.CriticalError { return e.crit }

// Start starts the pump, the relay and the health server. It does not block.
func (e *Endpoint) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.group != nil {
		return fmt.Errorf("endpoint already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	e.cancel = cancel
	e.group = g

	// Start Health Server
	go func() {
		if err := e.health.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("Health server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if e.db != nil {
		e.db.StartMetricsCollector(gctx)
	}

	if e.relay != nil {
		g.Go(func() error { return e.relay.Run(gctx) })
	}
	g.Go(func() error { return e.pump.Run(gctx) })

	e.log.Info("Endpoint started",
		"input", e.cfg.Endpoint.InputAddress,
		"transaction_mode", e.mode,
		"relay", e.relay != nil,
	)
	return nil
}

// Wait blocks until the endpoint stops and returns the first failure.
func (e *Endpoint) Wait() error {
	e.mu.Lock()
	g := e.group
	e.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop stops receiving, waits for in-flight messages and releases resources.
func (e *Endpoint) Stop(ctx context.Context) error {
	e.log.Info("Stopping endpoint...")

	e.mu.Lock()
	cancel, g := e.cancel, e.group
	e.mu.Unlock()

	var errs []error
	if cancel != nil {
		cancel()
		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("timed out waiting for in-flight messages: %w", ctx.Err()))
		}
		if err := e.health.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop health server: %w", err))
		}
	}

	if err := e.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Endpoint) close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *Endpoint) healthMonitor() *health.Monitor {
	checks := []health.Check{}
	if p, ok := e.tr.(transport.Pinger); ok {
		checks = append(checks, health.Check{Name: "transport", Ping: p.Ping, Required: true})
	}
	if hc, ok := e.store.(storage.HealthChecker); ok {
		checks = append(checks, health.Check{Name: "timeout_store", Ping: hc.Health, Required: e.relay != nil})
	}

	opts := []health.MonitorOption{health.WithCritical(e.crit)}
	if e.relay != nil {
		opts = append(opts, health.WithTimeouts(e.store, 10*e.cfg.Timeouts.BatchSize))
	}
	return health.NewMonitor(checks, opts...)
}

// withoutDelayedDelivery hides native deferral so delayed retries use the relay.
type withoutDelayedDelivery struct {
	transport.Dispatcher
}

func deterministicHostID(endpointName string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host+"/"+endpointName)).String()
}
