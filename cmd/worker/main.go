// main wires the outreach engine: one process hosts the assignment worker,
// the dispatcher, the outcome reconciler, the treatment refresher, and the
// ops HTTP endpoint. Business logic lives in the internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"leadflow/internal/assign"
	assignmetrics "leadflow/internal/assign/metrics"
	"leadflow/internal/deadletter"
	"leadflow/internal/dispatch"
	"leadflow/internal/dispatch/messenger"
	dispatchmetrics "leadflow/internal/dispatch/metrics"
	"leadflow/internal/lead"
	leadmemory "leadflow/internal/lead/store/memory"
	leadpg "leadflow/internal/lead/store/postgres"
	"leadflow/internal/ledger"
	ledgermemory "leadflow/internal/ledger/store/memory"
	ledgerpg "leadflow/internal/ledger/store/postgres"
	ledgerredis "leadflow/internal/ledger/store/redis"
	"leadflow/internal/platform/config"
	"leadflow/internal/platform/httpserver"
	"leadflow/internal/platform/kafka"
	"leadflow/internal/platform/kafka/consumer"
	"leadflow/internal/platform/kafka/producer"
	"leadflow/internal/platform/logger"
	"leadflow/internal/platform/postgres"
	"leadflow/internal/platform/redis"
	"leadflow/internal/policy"
	policymetrics "leadflow/internal/policy/metrics"
	"leadflow/internal/policy/seed"
	policymemory "leadflow/internal/policy/store/memory"
	policypg "leadflow/internal/policy/store/postgres"
	"leadflow/internal/reconcile"
	reconcilemetrics "leadflow/internal/reconcile/metrics"
)

const unresolvedGaugeInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "leadflow: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	var policyStore policy.Store
	var leadStore lead.Store
	if db != nil {
		policyStore = policypg.New(db)
		leadStore = leadpg.New(db)
	} else {
		log.Warn("no postgres configured, policy and lead state is in-memory")
		policyStore = policymemory.NewInMemoryStore()
		leadStore = leadmemory.NewInMemoryStore()
	}

	ledgerStore, err := buildLedger(cfg, db, redisClient)
	if err != nil {
		return err
	}

	if cfg.Kafka.BootstrapTopics {
		topics := []string{
			cfg.Kafka.ScoredLeadsTopic,
			cfg.Kafka.AssignmentsTopic,
			cfg.Kafka.OutcomesTopic,
			cfg.Kafka.OutreachEventsTopic,
			cfg.Kafka.ScoredLeadsTopic + deadletter.Suffix,
			cfg.Kafka.AssignmentsTopic + deadletter.Suffix,
			cfg.Kafka.OutcomesTopic + deadletter.Suffix,
		}
		if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers,
			cfg.Kafka.BootstrapPartitions, cfg.Kafka.BootstrapReplicas, topics...); err != nil {
			return err
		}
		log.Info("kafka topics ensured", "topics", topics)
	}

	prod, err := producer.New(producer.Config{Brokers: cfg.Kafka.Brokers}, log)
	if err != nil {
		return err
	}
	defer prod.Close()
	dlq := deadletter.New(prod, log)

	assignWorker, err := assign.NewWorker(
		policyStore, ledgerStore, leadStore, prod, dlq,
		cfg.Kafka.AssignmentsTopic, log,
		assign.WithMinScore(cfg.MinScore),
		assign.WithMetrics(assignmetrics.New()),
	)
	if err != nil {
		return err
	}

	dispatchWorker, err := dispatch.NewWorker(
		ledgerStore, policyStore, leadStore,
		buildMessenger(cfg.Dispatch), prod, dlq,
		cfg.Kafka.OutreachEventsTopic,
		dispatch.Config{
			SendTimeout: cfg.Dispatch.SendTimeout,
			MaxAttempts: cfg.Dispatch.MaxAttempts,
			BackoffBase: cfg.Dispatch.BackoffBase,
			BackoffCap:  cfg.Dispatch.BackoffCap,
		},
		log,
		dispatch.WithMetrics(dispatchmetrics.New()),
	)
	if err != nil {
		return err
	}

	reconcileWorker, err := reconcile.NewWorker(
		ledgerStore, policyStore, leadStore, dlq, log,
		reconcile.WithMetrics(reconcilemetrics.New()),
		reconcile.WithPolicyMetrics(policymetrics.New()),
	)
	if err != nil {
		return err
	}

	refresher := seed.NewRefresher(cfg.TreatmentsFile, cfg.TreatmentRefreshInterval, policyStore, log)

	checks := map[string]httpserver.HealthCheck{
		"ledger": func(ctx context.Context) error {
			_, err := ledgerStore.UnresolvedCount(ctx)
			return err
		},
	}
	if db != nil {
		checks["postgres"] = db.PingContext
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}
	srv := httpserver.New(cfg.HTTPAddr, httpserver.NewRouter(checks))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runConsumer(ctx, consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.ConsumerGroup + "-assign",
			Topics:  []string{cfg.Kafka.ScoredLeadsTopic},
		}, assignWorker, log)
	})
	g.Go(func() error {
		return runConsumer(ctx, consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.ConsumerGroup + "-dispatch",
			Topics:  []string{cfg.Kafka.AssignmentsTopic},
		}, dispatchWorker, log)
	})
	g.Go(func() error {
		return runConsumer(ctx, consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			Group:   cfg.Kafka.ConsumerGroup + "-reconcile",
			Topics:  []string{cfg.Kafka.OutcomesTopic},
		}, reconcileWorker, log)
	})

	g.Go(func() error {
		if err := refresher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		reconcileWorker.RunUnresolvedGauge(ctx, unresolvedGaugeInterval)
		return nil
	})

	g.Go(func() error {
		log.Info("ops endpoint listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("leadflow worker started",
		"brokers", cfg.Kafka.Brokers,
		"ledger_backend", cfg.LedgerBackend,
		"dispatch_mode", cfg.Dispatch.Mode,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("leadflow worker stopped")
	return nil
}

func buildLedger(cfg config.Config, db *sql.DB, redisClient *redis.Client) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case "memory":
		return ledgermemory.NewInMemoryStore(), nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("ledger backend %q requires LEADFLOW_POSTGRES_URL", cfg.LedgerBackend)
		}
		return ledgerpg.New(db), nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("ledger backend %q requires LEADFLOW_REDIS_URL", cfg.LedgerBackend)
		}
		return ledgerredis.New(redisClient.Client), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func buildMessenger(cfg config.Dispatch) messenger.Messenger {
	if cfg.Mode == "provider" {
		return messenger.NewHTTPProvider(cfg.ProviderURL, cfg.ProviderKey, cfg.SendTimeout)
	}
	return messenger.NewHeuristic()
}

func runConsumer(ctx context.Context, cfg consumer.Config, handler consumer.Handler, log *slog.Logger) error {
	c, err := consumer.New(cfg, handler, log.With("group", cfg.Group))
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
