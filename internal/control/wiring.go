package control

import (
	"context"
	"fmt"

	"github.com/vietddude/redeliver/internal/infra/amqp"
	"github.com/vietddude/redeliver/internal/infra/kafka"
	redisclient "github.com/vietddude/redeliver/internal/infra/redis"
	"github.com/vietddude/redeliver/internal/infra/storage"
	"github.com/vietddude/redeliver/internal/infra/storage/memory"
	"github.com/vietddude/redeliver/internal/infra/storage/postgres"
	"github.com/vietddude/redeliver/internal/infra/storage/sqlstore"
	memtransport "github.com/vietddude/redeliver/internal/infra/transport/memory"
	"github.com/vietddude/redeliver/internal/transport"
)

func (e *Endpoint) initTransport(ctx context.Context, override transport.Transport) error {
	switch {
	case override != nil:
		e.tr = override
	case e.cfg.Transport.Kind == "redis":
		client, err := e.redisClient()
		if err != nil {
			return err
		}
		e.tr = redisclient.NewTransport(client,
			redisclient.WithPollWindow(e.cfg.Transport.PollWindow),
			redisclient.WithLease(e.cfg.Transport.Lease),
		)
		e.log.Info("Using Redis transport")
	default:
		e.tr = memtransport.New(memtransport.WithPollWindow(e.cfg.Transport.PollWindow))
		e.log.Info("Using Memory transport")
	}

	e.dispatcher = transport.NewMux(e.tr)

	if len(e.cfg.Kafka.Brokers) > 0 && len(e.cfg.Kafka.Topics) > 0 {
		sink, err := kafka.New(e.cfg.Kafka)
		if err != nil {
			return fmt.Errorf("failed to create kafka sink: %w", err)
		}
		e.closers = append(e.closers, sink.Close)
		for address := range e.cfg.Kafka.Topics {
			e.dispatcher.Route(address, sink)
			e.log.Info("Routing address to Kafka", "address", address, "topic", sink.Topic(address))
		}
	}

	if e.cfg.AMQP.URL != "" && len(e.cfg.AMQP.RoutingKeys) > 0 {
		sink, err := amqp.Dial(e.cfg.AMQP)
		if err != nil {
			return fmt.Errorf("failed to create amqp sink: %w", err)
		}
		e.closers = append(e.closers, sink.Close)
		for address := range e.cfg.AMQP.RoutingKeys {
			e.dispatcher.Route(address, sink)
			e.log.Info("Routing address to RabbitMQ", "address", address, "exchange", e.cfg.AMQP.Exchange, "key", sink.RoutingKey(address))
		}
	}
	return nil
}

func (e *Endpoint) openStore(ctx context.Context) (storage.TimeoutStore, error) {
	switch e.cfg.Timeouts.Store {
	case "redis":
		client, err := e.redisClient()
		if err != nil {
			return nil, err
		}
		e.log.Info("Using Redis timeout store")
		return redisclient.NewTimeoutStore(client), nil

	case "postgres":
		db, err := postgres.NewDB(ctx, e.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		e.closers = append(e.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		e.db = db
		e.log.Info("Using PostgreSQL timeout store")
		return postgres.NewTimeoutRepo(db), nil

	case "sqlite":
		store, err := sqlstore.OpenSQLite(ctx, sqlstore.SQLiteConfig{Path: e.cfg.Timeouts.SQLitePath})
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store.Close)
		e.log.Info("Using SQLite timeout store", "path", e.cfg.Timeouts.SQLitePath)
		return store, nil

	case "mysql":
		store, err := sqlstore.OpenMySQL(ctx, e.cfg.MySQL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, store.Close)
		e.log.Info("Using MySQL timeout store")
		return store, nil

	default:
		e.log.Info("Using Memory timeout store")
		return memory.NewTimeoutStore(), nil
	}
}

// redisClient connects once and shares the client between transport and store.
func (e *Endpoint) redisClient() (*redisclient.Client, error) {
	if e.redis != nil {
		return e.redis, nil
	}
	client, err := redisclient.NewClient(e.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	e.closers = append(e.closers, client.Close)
	e.redis = client
	return client, nil
}
