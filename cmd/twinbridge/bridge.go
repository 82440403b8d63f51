package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/twinbridge/config"
	"github.com/c360/twinbridge/health"
	"github.com/c360/twinbridge/input/subscriber"
	"github.com/c360/twinbridge/link"
	"github.com/c360/twinbridge/message"
	"github.com/c360/twinbridge/metric"
	"github.com/c360/twinbridge/natsclient"
	"github.com/c360/twinbridge/output/websocket"
	"github.com/c360/twinbridge/pkg/queue"
	"github.com/c360/twinbridge/pkg/tlsutil"
	"github.com/c360/twinbridge/processor/synchronizer"
	"github.com/c360/twinbridge/twinstore"
)

// bridge owns every long-running component of the process.
type bridge struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	subscriber *subscriber.Subscriber
	store      *twinstore.Client
	feed       *twinstore.Feed
	hub        *websocket.Hub
	queue      *queue.Queue[message.InboundEvent]
	sync       *synchronizer.Synchronizer
	reporter   *synchronizer.Reporter
	metrics    *metric.Server
}

func newBridge(cfg *config.Config, logger *slog.Logger) (*bridge, error) {
	b := &bridge{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}
	core := b.registry.CoreMetrics()

	broker, err := newBrokerClient(cfg.Broker, logger, b.registry)
	if err != nil {
		return nil, err
	}
	b.subscriber, err = subscriber.New(subscriber.Config{
		Root:           cfg.Broker.TopicRoot,
		Stream:         cfg.Broker.Stream,
		Consumer:       cfg.Broker.Consumer,
		ReconnectDelay: cfg.Reconnect.Delay,
		MaxAttempts:    cfg.Reconnect.MaxAttempts,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
		OnStateChange:  b.trackLink(subscriber.LinkName),
	}, broker, logger, core)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}

	storeCfg, err := storeConfig(cfg.TwinStore)
	if err != nil {
		return nil, err
	}
	b.store, err = twinstore.NewClient(storeCfg, logger, core)
	if err != nil {
		return nil, fmt.Errorf("create twin store client: %w", err)
	}

	var publisher synchronizer.Publisher
	if cfg.Observers.Enabled {
		b.hub, err = websocket.NewHub(websocket.Config{
			Port: cfg.Observers.Port,
			Path: cfg.Observers.Path,
		}, logger, b.registry)
		if err != nil {
			return nil, fmt.Errorf("create observer hub: %w", err)
		}
		publisher = b.hub

		// the change feed only feeds observers
		b.feed, err = twinstore.NewFeed(twinstore.FeedConfig{
			Store:          storeCfg,
			ReconnectDelay: cfg.Reconnect.Delay,
			MaxAttempts:    cfg.Reconnect.MaxAttempts,
			ConnectTimeout: cfg.Broker.ConnectTimeout,
			OnStateChange:  b.trackLink(twinstore.FeedLinkName),
		}, logger, core)
		if err != nil {
			return nil, fmt.Errorf("create twin change feed: %w", err)
		}
	}

	b.queue, err = queue.New[message.InboundEvent](queue.Config{
		Capacity:         cfg.Queue.Capacity,
		Tick:             cfg.Queue.Tick,
		OverflowStrategy: cfg.Queue.OverflowStrategy,
	}, logger, b.registry)
	if err != nil {
		return nil, fmt.Errorf("create delivery queue: %w", err)
	}

	b.sync, err = synchronizer.New(synchronizer.Config{
		Namespace: cfg.TwinStore.Namespace,
		CacheSize: cfg.Cache.Twins,
		CacheTTL:  cfg.Cache.TTL,
	}, b.store, publisher, logger, b.registry)
	if err != nil {
		return nil, fmt.Errorf("create synchronizer: %w", err)
	}
	b.reporter = synchronizer.NewReporter(b.sync.Stats(), b.queue, cfg.Stats.Interval, logger)

	if cfg.Metrics.Enabled {
		b.metrics = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, b.registry, b.monitor)
	}
	return b, nil
}

func newBrokerClient(cfg config.BrokerConfig, logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*natsclient.Client, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("load broker TLS: %w", err)
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithTimeout(cfg.ConnectTimeout),
		natsclient.WithTLS(tlsConfig),
		natsclient.WithClientName(fmt.Sprintf("%s-%s", appName, uuid.NewString()[:8])),
		natsclient.WithMetrics(registry),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(natsclient.URLFor(cfg.Host, cfg.Port, cfg.TLS.Enabled), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

func storeConfig(cfg config.TwinStoreConfig) (twinstore.Config, error) {
	tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return twinstore.Config{}, fmt.Errorf("load twin store TLS: %w", err)
	}
	return twinstore.Config{
		Endpoint:       twinstore.Endpoint(cfg.Host, cfg.Port, cfg.TLS.Enabled),
		APIVersion:     cfg.APIVersion,
		Username:       cfg.Username,
		Password:       cfg.Password,
		Namespace:      cfg.Namespace,
		RequestTimeout: cfg.RequestTimeout,
		MessageTimeout: cfg.MessageTimeout,
		TLS:            tlsConfig,
	}, nil
}

// trackLink mirrors link transitions into the health monitor.
func (b *bridge) trackLink(name string) func(from, to link.State) {
	b.monitor.UpdateDegraded(name, link.Disconnected.String())
	return func(_, to link.State) {
		switch to {
		case link.Connected:
			b.monitor.UpdateHealthy(name, "connected")
		case link.Exhausted:
			b.monitor.UpdateUnhealthy(name, "reconnect attempts exhausted")
		default:
			b.monitor.UpdateDegraded(name, to.String())
		}
	}
}

// run connects the links and runs every component until ctx is done or
// the broker link is exhausted. The change feed giving up only stops
// twin_changed broadcasts.
func (b *bridge) run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := b.subscriber.Connect(ctx); err != nil {
		b.logger.Warn("Initial broker connection failed, reconnecting", "error", err)
	}
	if err := b.store.EnsurePolicy(ctx); err != nil {
		b.logger.Warn("Could not ensure twin policy, will retry on first twin", "error", err)
	}
	if b.feed != nil {
		if err := b.feed.Connect(ctx); err != nil {
			b.logger.Warn("Initial twin feed connection failed, reconnecting", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := b.subscriber.Run(gctx)
		if err != nil {
			b.monitor.Update(subscriber.LinkName, health.FromError(subscriber.LinkName, err))
		}
		return err
	})
	g.Go(func() error {
		for ev := range b.subscriber.Events(gctx) {
			if err := b.queue.Enqueue(ev); err != nil {
				b.logger.Debug("Event not queued", "topic", ev.Topic, "error", err)
			}
		}
		return nil
	})
	g.Go(func() error {
		return b.queue.Run(gctx, b.sync.Handle)
	})
	g.Go(func() error {
		return b.reporter.Run(gctx)
	})

	if b.hub != nil {
		g.Go(func() error {
			return b.hub.Start(gctx)
		})
		g.Go(func() error {
			if err := b.feed.Run(gctx); err != nil {
				b.logger.Error("Twin change feed stopped", "error", err)
				b.monitor.Update(twinstore.FeedLinkName, health.FromError(twinstore.FeedLinkName, err))
			}
			return nil
		})
		g.Go(func() error {
			return b.hub.ForwardChanges(gctx, b.feed.Changes(gctx))
		})
	}
	if b.metrics != nil {
		g.Go(func() error {
			return b.metrics.Start(gctx)
		})
		b.logger.Info("Metrics available", "address", b.metrics.Address())
	}

	b.logger.Info("twinbridge started",
		"broker_root", b.cfg.Broker.TopicRoot,
		"namespace", b.cfg.TwinStore.Namespace,
		"observers", b.cfg.Observers.Enabled)

	<-gctx.Done()
	b.logger.Info("Shutting down")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var runErr error
	select {
	case runErr = <-done:
	case <-shutdownCtx.Done():
		runErr = fmt.Errorf("graceful shutdown timed out after %s", shutdownTimeout)
	}

	b.close(shutdownCtx)
	return runErr
}

func (b *bridge) close(ctx context.Context) {
	states := []any{"broker", b.subscriber.State().String()}
	if b.feed != nil {
		states = append(states, "twin_feed", b.feed.State().String())
	}
	b.logger.Info("Closing links", states...)

	if err := b.subscriber.Disconnect(ctx); err != nil {
		b.logger.Warn("Broker disconnect failed", "error", err)
	}
	if b.feed != nil {
		_ = b.feed.Close()
	}
	if b.hub != nil {
		_ = b.hub.Stop()
	}
	if b.metrics != nil {
		_ = b.metrics.Stop()
	}
}
