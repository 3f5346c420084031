package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"payflow/pkg/config"
	"payflow/pkg/dashboard"
	"payflow/pkg/gateway"
	"payflow/pkg/idempotency"
	"payflow/pkg/logging"
	promMetrics "payflow/pkg/metrics/prometheus"
	"payflow/pkg/resilience"
	"payflow/pkg/store"
	"payflow/pkg/store/memory"
	"payflow/pkg/store/postgres"
	"payflow/pkg/store/redis"
	"payflow/pkg/tracker"
	"payflow/pkg/writer"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app holds the wired components of one payflow process.
type app struct {
	config    config.Config
	logger    *logging.Logger
	registry  *prometheus.Registry
	metrics   *promMetrics.PrometheusCollector
	payments  *resilience.PaymentService
	payouts   *gateway.CoalescingPayoutFeed
	store     store.Store
	writer    *writer.SnapshotWriter
	tracker   *tracker.Tracker
	dashboard *dashboard.Builder

	closeOnce sync.Once
	closeErr  error
}

// newApp wires the upstream clients, breakers, snapshot persistence and
// tracker. observer may be nil.
func newApp(ctx context.Context, cfg config.Config, observer tracker.Observer) (*app, error) {
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logging.SetGlobal(logger)

	a := &app{
		config:   cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		metrics:  promMetrics.NewPrometheusCollector(cfg.Metrics.Namespace),
	}
	if err := a.metrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	rcfg := resilience.DefaultResilientConfig().
		WithTimeout(cfg.Upstream.Timeout).
		WithCircuitBreakerTimeout(cfg.Upstream.BreakerTimeout)

	a.payments = resilience.NewPaymentServiceWithMetrics(
		gateway.NewPaymentClient(gateway.ClientConfig{BaseURL: cfg.Upstream.PaymentURL, Timeout: cfg.Upstream.Timeout}),
		rcfg, a.metrics)
	a.payouts = gateway.NewCoalescingPayoutFeed(
		resilience.NewPayoutFeedWithMetrics(
			gateway.NewPayoutClient(gateway.ClientConfig{BaseURL: cfg.Upstream.PayoutURL, Timeout: cfg.Upstream.Timeout}),
			rcfg, a.metrics),
		cfg.Upstream.FeedTimeout)

	a.store, err = openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	logger.Info("snapshot store ready", zap.String("backend", a.store.Name()))

	journal, err := openJournal(ctx, cfg.Journal)
	if err != nil {
		a.store.Close()
		return nil, err
	}

	a.writer = writer.NewSnapshotWriterWithMetrics(a.store, cfg.Writer, a.metrics)
	a.tracker, err = tracker.New(a.payments, a.payouts, a.store, a.writer, tracker.Config{
		Reconcile: cfg.Reconcile,
		Journal:   journal,
		Observer:  observer,
		Metrics:   a.metrics,
	})
	if err != nil {
		a.writer.Close()
		a.store.Close()
		journal.Close()
		return nil, err
	}
	a.dashboard = dashboard.NewBuilder(a.payments, a.payouts)
	return a, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreRedis:
		rc := redis.DefaultRedisStoreConfig()
		rc.Addr = cfg.RedisAddr
		rc.KeyPrefix = cfg.RedisKeyPrefix
		rc.RetainStopped = cfg.RetainStopped
		s, err := redis.NewRedisStore(rc)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, nil
	case config.StorePostgres:
		s, err := postgres.NewPostgresStore(postgres.Config{DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		return memory.NewMemoryStore(memory.MemoryStoreConfig{RetainStopped: cfg.RetainStopped}), nil
	}
}

func openJournal(ctx context.Context, cfg config.JournalConfig) (idempotency.Journal, error) {
	if cfg.Path == "" {
		return idempotency.NewMemoryJournal(), nil
	}
	j, err := idempotency.OpenSQLiteJournal(ctx, idempotency.SQLiteJournalConfig{Path: cfg.Path})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return j, nil
}

// Close stops every session, drains snapshot writes and releases the store.
// Safe to call more than once.
func (a *app) Close() error {
	a.closeOnce.Do(func() {
		a.closeErr = errors.Join(a.tracker.Close(), a.writer.Close(), a.store.Close())
		a.logger.Sync()
	})
	return a.closeErr
}
