package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BearBump/ParcelPoll/config"
	"github.com/BearBump/ParcelPoll/internal/broker/kafka"
	"github.com/BearBump/ParcelPoll/internal/broker/messages"
	"github.com/BearBump/ParcelPoll/internal/cache/rediscache"
	"github.com/BearBump/ParcelPoll/internal/integrations/upstream"
	"github.com/BearBump/ParcelPoll/internal/integrations/upstream/legacyjsonp"
	"github.com/BearBump/ParcelPoll/internal/integrations/upstream/parcelapp"
	"github.com/BearBump/ParcelPoll/internal/models"
	"github.com/BearBump/ParcelPoll/internal/services/poller"
	"github.com/BearBump/ParcelPoll/internal/transport/httpclient"
	"github.com/pkg/errors"
)

const defaultDeliveriesTopic = "parcelpoll.deliveries.updated"

type redisDeps struct {
	cache poller.SnapshotCache
	rl    poller.RateLimiter
	lease poller.Lease
}

type refreshConsumer interface {
	Consume(ctx context.Context, onRefresh func(ctx context.Context, req messages.RefreshRequested) error) error
	Close() error
}

type workerFactories struct {
	newTransport       func(cfg *config.Config) poller.Transport
	newAdapter         func(cfg *config.Config) (upstream.Adapter, error)
	newRedis           func(cfg *config.Config) (deps redisDeps, closeFn func(), err error)
	newProducer        func(cfg *config.Config) (producer poller.Producer, closeFn func())
	newRefreshConsumer func(cfg *config.Config) refreshConsumer
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newTransport: func(cfg *config.Config) poller.Transport {
			return httpclient.New(cfg.ParcelPoll.RequestTimeout(), cfg.ParcelPoll.UserAgent)
		},
		newAdapter: func(cfg *config.Config) (upstream.Adapter, error) {
			switch models.UpstreamKind(cfg.ParcelPoll.UpstreamKind) {
			case models.UpstreamStructured:
				return parcelapp.New(cfg.ParcelPoll.StructuredBaseURL, cfg.ParcelPoll.Credential), nil
			case models.UpstreamLegacy:
				return legacyjsonp.New(cfg.ParcelPoll.LegacyEndpointURL, cfg.ParcelPoll.LegacySessionToken), nil
			default:
				return nil, errors.Errorf("unknown upstream kind %q", cfg.ParcelPoll.UpstreamKind)
			}
		},
		newRedis: func(cfg *config.Config) (redisDeps, func(), error) {
			if !cfg.Redis.Enabled() {
				return redisDeps{}, func() {}, nil
			}
			c := rediscache.NewClient(rediscache.Options{
				Addr:     cfg.Redis.Addr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			closeFn := func() { _ = c.Close() }

			deps := redisDeps{lease: rediscache.NewLease(c)}
			if cfg.ParcelPoll.SnapshotTTLSeconds > 0 {
				deps.cache = rediscache.New(c)
			}
			if cfg.ParcelPoll.RequestBudgetPerMinute > 0 {
				deps.rl = rediscache.NewRateLimiter(c)
			}
			return deps, closeFn, nil
		},
		newProducer: func(cfg *config.Config) (poller.Producer, func()) {
			if !cfg.Kafka.Enabled() {
				return nil, func() {}
			}
			p := kafka.NewProducer(cfg.Kafka.Brokers())
			return p, func() { _ = p.Close() }
		},
		newRefreshConsumer: func(cfg *config.Config) refreshConsumer {
			if !cfg.Kafka.Enabled() || cfg.Kafka.RefreshRequestsTopicName == "" {
				return nil
			}
			// older requests are covered by the regular schedule
			return kafka.NewRefreshConsumer(cfg.Kafka.Brokers(), cfg.Kafka.RefreshRequestsTopicName, cfg.Kafka.ConsumerGroup).
				WithMaxAge(cfg.ParcelPoll.PollInterval())
		},
	}
}

func sessionCredential(cfg *config.Config) string {
	if models.UpstreamKind(cfg.ParcelPoll.UpstreamKind) == models.UpstreamLegacy {
		return cfg.ParcelPoll.LegacySessionToken
	}
	return cfg.ParcelPoll.Credential
}

func RunParcelWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	adapter, err := f.newAdapter(cfg)
	if err != nil {
		return err
	}

	session := poller.NewSession(adapter.Kind(), sessionCredential(cfg))
	backoff := poller.NewBackoff(poller.BackoffConfig{
		Base:       time.Duration(cfg.ParcelPoll.RateLimitBaseSeconds) * time.Second,
		Cap:        time.Duration(cfg.ParcelPoll.RateLimitCapSeconds) * time.Second,
		MaxRetries: cfg.ParcelPoll.RateLimitMaxRetries,
	}, nil)
	cycle := poller.NewCycle(f.newTransport(cfg), adapter, backoff)

	rd, closeRedis, err := f.newRedis(cfg)
	if err != nil {
		return err
	}
	defer closeRedis()
	if rd.rl != nil {
		cycle.WithRequestBudget(rd.rl, int64(cfg.ParcelPoll.RequestBudgetPerMinute))
	}

	p := poller.New(session, cycle).WithSettings(cfg.ParcelPoll.PollInterval())
	if rd.cache != nil {
		p.WithSnapshotCache(rd.cache, time.Duration(cfg.ParcelPoll.SnapshotTTLSeconds)*time.Second)
	}
	if rd.lease != nil {
		p.WithLease(rd.lease, time.Duration(cfg.ParcelPoll.LeaseSeconds)*time.Second)
	}

	producer, closeProducer := f.newProducer(cfg)
	defer closeProducer()
	if producer != nil {
		topic := cfg.Kafka.DeliveriesUpdatedTopicName
		if topic == "" {
			topic = defaultDeliveriesTopic
		}
		p.WithPublisher(producer, topic)
	}

	slog.Info("parcel worker starting",
		"session", session.ID(), "kind", string(session.Kind()),
		"poll_interval", cfg.ParcelPoll.PollInterval().String())

	var wg sync.WaitGroup
	if c := f.newRefreshConsumer(cfg); c != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { _ = c.Close() }()
			consumeRefreshRequests(ctx, c, p)
		}()
	}

	swaggerPath := cfg.ParcelPoll.SwaggerPath
	if swaggerPath == "" {
		swaggerPath = os.Getenv("swaggerPath")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.ParcelPoll.WorkerHTTPAddr,
			swaggerPath: swaggerPath,
			poller:      p,
			cfg:         cfg,
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("worker http server", "error", err.Error())
		}
	}()

	err = p.Run(ctx)
	wg.Wait()
	return err
}

func consumeRefreshRequests(ctx context.Context, c refreshConsumer, p *poller.Poller) {
	err := c.Consume(ctx, func(ctx context.Context, req messages.RefreshRequested) error {
		slog.Info("refresh requested", "session", p.Session().ID(), "reason", req.Reason)
		p.Trigger()
		return nil
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("consume refresh requests", "error", err.Error())
	}
}
