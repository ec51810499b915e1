package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/redeliver/internal/core/critical"
	"github.com/vietddude/redeliver/internal/core/domain"
	"github.com/vietddude/redeliver/internal/infra/storage"
	"github.com/vietddude/redeliver/internal/recovery"
	"github.com/vietddude/redeliver/internal/transport"
)

// Config holds timeout relay configuration.
type Config struct {
	// Address receives relay requests. Due timeouts are released through
	// Address + ".dispatcher".
	Address              string
	OwningEndpoint       string
	TransactionMode      domain.TransactionMode
	PollInterval         time.Duration
	BatchSize            int
	MaxFailures          int
	FailureCacheCapacity int
}

// DispatcherAddress is the queue of the dispatch satellite.
func (c Config) DispatcherAddress() string {
	return c.Address + ".dispatcher"
}

// Relay holds delayed retries for transports without native deferred delivery.
type Relay struct {
	cfg      Config
	store    storage.TimeoutStore
	poller   *Poller
	storer   *Loop
	releaser *Loop
}

// New wires the store satellite, the poller and the dispatch satellite.
func New(
	cfg Config,
	tr transport.Transport,
	dispatcher transport.Dispatcher,
	store storage.TimeoutStore,
	mover recovery.ErrorQueueMover,
	crit *critical.CriticalError,
	log *slog.Logger,
) (*Relay, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("timeout relay address is required")
	}

	storeFailures, err := recovery.NewFailureInfoCache(cfg.Address, cfg.FailureCacheCapacity)
	if err != nil {
		return nil, err
	}
	dispatchFailures, err := recovery.NewFailureInfoCache(cfg.DispatcherAddress(), cfg.FailureCacheCapacity)
	if err != nil {
		return nil, err
	}

	log = log.With("component", "timeout_relay")
	return &Relay{
		cfg:   cfg,
		store: store,
		poller: NewPoller(store, dispatcher, cfg.DispatcherAddress(), cfg.PollInterval, cfg.BatchSize,
			log.With("satellite", "poller")),
		storer: NewLoop("store_timeout",
			tr.Receiver(cfg.Address, cfg.TransactionMode),
			StoreTimeout(store, cfg.OwningEndpoint),
			NewSatelliteRecoverability(storeFailures, cfg.MaxFailures, mover, dispatcher, crit, log),
			log),
		releaser: NewLoop("dispatch_timeout",
			tr.Receiver(cfg.DispatcherAddress(), cfg.TransactionMode),
			DispatchTimeout(store, dispatcher, nil),
			NewSatelliteRecoverability(dispatchFailures, cfg.MaxFailures, mover, dispatcher, crit, log),
			log),
	}, nil
}

// Store returns the timeout store.
func (r *Relay) Store() storage.TimeoutStore { return r.store }

// Run blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.storer.Run(ctx) })
	g.Go(func() error { return r.releaser.Run(ctx) })
	g.Go(func() error { return r.poller.Start(ctx) })
	return g.Wait()
}
