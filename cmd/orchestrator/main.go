// Command orchestrator runs the task orchestration engine as a
// single process: it loads configuration, wires the planner, selector,
// executor, registry, state store, and workflow engine together, and
// starts the ambient background loop (stale-agent sweep). No cron
// scheduler is started here.
//
// # Configuration
//
// Environment variables:
//
//	ORCHESTRATOR_CONFIG - path to a YAML config file (optional; falls back
//	                      to config.Default() when unset; a set path that
//	                      cannot be read or parsed stops startup)
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	temporalclient "go.temporal.io/sdk/client"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/taskmesh/orchestrator/internal/a2a"
	"github.com/taskmesh/orchestrator/internal/config"
	"github.com/taskmesh/orchestrator/internal/engine"
	"github.com/taskmesh/orchestrator/internal/engine/inmem"
	"github.com/taskmesh/orchestrator/internal/engine/temporal"
	"github.com/taskmesh/orchestrator/internal/events"
	"github.com/taskmesh/orchestrator/internal/executor"
	"github.com/taskmesh/orchestrator/internal/orchestrator"
	"github.com/taskmesh/orchestrator/internal/planner"
	"github.com/taskmesh/orchestrator/internal/registry"
	"github.com/taskmesh/orchestrator/internal/resilience/breaker"
	"github.com/taskmesh/orchestrator/internal/resilience/retry"
	"github.com/taskmesh/orchestrator/internal/selector"
	"github.com/taskmesh/orchestrator/internal/snapshot"
	"github.com/taskmesh/orchestrator/internal/state"
	"github.com/taskmesh/orchestrator/internal/state/memstore"
	"github.com/taskmesh/orchestrator/internal/state/mongostore"
	"github.com/taskmesh/orchestrator/internal/state/redisstore"
	"github.com/taskmesh/orchestrator/internal/telemetry"
	"github.com/taskmesh/orchestrator/internal/templates"
	"github.com/taskmesh/orchestrator/internal/validate"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()
	if path := os.Getenv("ORCHESTRATOR_CONFIG"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	triplet := telemetry.NewClueTriplet("taskmesh.orchestrator")

	stateStore, cleanup, err := buildStateStore(ctx, cfg.State)
	if err != nil {
		return fmt.Errorf("build state store: %w", err)
	}
	defer cleanup()

	agents := registry.New()
	sel := selector.New(agents, nil, nil, cfg.Selector.ToWeights())
	breakers := breaker.NewRegistry(cfg.CircuitBreaker.ToBreakerConfig()).WithMetrics(triplet.Metrics)
	invoker := a2a.NewClient(a2a.ClientOptions{})
	// cfg.Retry becomes the executor's catch-all ("" key) retry policy; no
	// per-agent-type retry or fallback overrides are registered here.
	retries := map[string]retry.Policy{"": cfg.Retry.ToPolicy()}
	exec := executor.New(sel, agents, invoker, breakers, nil, retries, nil, triplet)

	lib := planner.NewLibrary()
	templates.RegisterDefaults(lib)
	plan := planner.New(lib)

	eng, err := buildEngine(cfg.Engine, triplet)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var publisher *events.Publisher
	if cfg.State.Backend == config.StateBackendRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.State.Redis.Addr, Password: cfg.State.Redis.Password, DB: cfg.State.Redis.DB})
		publisher, err = events.NewPublisher(events.PublisherOptions{Redis: rdb})
		if err != nil {
			return fmt.Errorf("build event publisher: %w", err)
		}
	}

	o, err := orchestrator.New(ctx, orchestrator.Options{
		Planner:   plan,
		Executor:  exec,
		Registry:  agents,
		States:    stateStore,
		Snapshots: snapshot.New(stateStore, snapshot.NewMemoryStore()),
		Engine:    eng,
		Validator: validate.NewSchemaSet(),
		Publisher: publisher,
		Triplet:   triplet,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	o.StartStaleSweep(ctx, time.Minute, cfg.StaleAgentAfter)

	triplet.Logger.Info(ctx, "orchestrator started", "engine_backend", string(cfg.Engine.Backend), "state_backend", string(cfg.State.Backend))
	<-ctx.Done()
	triplet.Logger.Info(ctx, "orchestrator shutting down")
	return nil
}

func buildStateStore(ctx context.Context, cfg config.State) (state.Store, func(), error) {
	switch cfg.Backend {
	case config.StateBackendRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		return redisstore.New(rdb, cfg.Redis.Prefix), func() { _ = rdb.Close() }, nil
	case config.StateBackendMongo:
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mongo: %w", err)
		}
		db := client.Database(cfg.Mongo.Database)
		store := mongostore.New(db.Collection("state_versions"), db.Collection("state_locks"))
		return store, func() { _ = client.Disconnect(ctx) }, nil
	default:
		return memstore.New(), func() {}, nil
	}
}

func buildEngine(cfg config.Engine, triplet telemetry.Triplet) (engine.Engine, error) {
	switch cfg.Backend {
	case config.EngineBackendTemporal:
		return temporal.New(temporal.Options{
			ClientOptions: &temporalclient.Options{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace},
			WorkerOptions: temporal.WorkerOptions{TaskQueue: cfg.Temporal.TaskQueue},
			Triplet:       triplet,
		})
	default:
		return inmem.New(triplet), nil
	}
}
