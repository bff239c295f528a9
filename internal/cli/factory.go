package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/caretree/internal/config"
	"github.com/aretw0/caretree/internal/logging"
	"github.com/aretw0/caretree/pkg/adapters/file"
	httpadapter "github.com/aretw0/caretree/pkg/adapters/http"
	"github.com/aretw0/caretree/pkg/adapters/loam"
	"github.com/aretw0/caretree/pkg/adapters/memory"
	"github.com/aretw0/caretree/pkg/adapters/redis"
	"github.com/aretw0/caretree/pkg/engine"
	"github.com/aretw0/caretree/pkg/observability"
	"github.com/aretw0/caretree/pkg/offline"
	"github.com/aretw0/caretree/pkg/persistence/middleware"
	"github.com/aretw0/caretree/pkg/ports"
	"github.com/aretw0/caretree/pkg/reconcile"
	"github.com/aretw0/caretree/pkg/session"
)

// NewLogger builds the application logger from the log settings.
func NewLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}
	return logging.NewWith(stderr, level, format), nil
}

// ServerStack is everything the server side needs, wired from the configuration.
type ServerStack struct {
	Versions   ports.VersionRepository
	Store      ports.SessionStore
	Sessions   *session.Manager
	Reconciler *reconcile.Service
	Metrics    *observability.Metrics

	closers []func() error
}

// Close releases the store connections.
func (s *ServerStack) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// BuildServer wires the session manager and reconciliation service on the configured backend.
func BuildServer(cfg config.Config, logger *slog.Logger) (*ServerStack, error) {
	versions, err := OpenVersions(context.Background(), cfg.Store)
	if err != nil {
		return nil, err
	}

	stack := &ServerStack{Versions: versions, Metrics: observability.NewMetrics()}
	eng := engine.New(engine.WithMaxHops(cfg.Engine.MaxHops))
	hooks := stack.Metrics.Hooks().Merge(observability.LoggingHooks(logger))

	managerOpts := []session.Option{
		session.WithMachine(session.NewMachine(session.WithEngine(eng))),
		session.WithLogger(logger),
		session.WithHooks(hooks),
	}
	if cfg.Server.RejectConcurrent {
		managerOpts = append(managerOpts, session.WithRejectConcurrent())
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		stack.Store = memory.NewStore()
	case config.BackendFile:
		stack.Store = file.NewStore(cfg.Store.Dir)
	case config.BackendRedis:
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithTTL(cfg.Redis.TTL),
		)
		if err := store.Client().Ping(context.Background()).Err(); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
		}
		stack.Store = store
		stack.closers = append(stack.closers, store.Close)
		managerOpts = append(managerOpts,
			session.WithLocker(redis.NewLocker(store.Client(), cfg.Redis.Prefix)),
			session.WithLockTTL(cfg.Redis.LockTTL),
		)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	stack.Sessions = session.NewManager(stack.Store, versions, managerOpts...)
	stack.Reconciler = reconcile.NewService(versions, stack.Store,
		reconcile.WithEngine(eng),
		reconcile.WithMaxBatch(cfg.Server.MaxBatch),
		reconcile.WithHooks(hooks),
		reconcile.WithLogger(logger),
	)
	logger.Debug("server stack ready", "backend", cfg.Store.Backend, "protocol_dir", cfg.Store.ProtocolDir)
	return stack, nil
}

// OfflineStack is the replica side: cache, durable queue and, when a server is
// configured, the syncer that drains the queue.
type OfflineStack struct {
	Cache    *offline.Cache
	Queue    ports.OfflineQueue
	Replica  *offline.Replica
	Upstream ports.Upstream
	Syncer   *offline.Syncer
}

// Close abandons unfinished work into the queue and closes it.
func (s *OfflineStack) Close(ctx context.Context) error {
	return s.Replica.Close(ctx)
}

// OpenOffline opens the replica state under cfg.Offline.Dir.
func OpenOffline(cfg config.Config, logger *slog.Logger) (*OfflineStack, error) {
	if cfg.Offline.OperatorID == "" {
		return nil, errors.New("offline.operator_id is required (flag --operator or CARETREE_OFFLINE_OPERATOR_ID)")
	}

	cache, err := offline.OpenCache(filepath.Join(cfg.Offline.Dir, "protocols"), offline.WithCacheLogger(logger))
	if err != nil {
		return nil, err
	}
	q, err := offline.OpenQueue(filepath.Join(cfg.Offline.Dir, "queue.jsonl"), offline.WithQueueLogger(logger))
	if err != nil {
		return nil, err
	}

	var queue ports.OfflineQueue = q
	enc, encrypted, err := cfg.Offline.Encryption()
	if err != nil {
		q.Close()
		return nil, err
	}
	if encrypted {
		queue = middleware.Chain(queue, middleware.NewEncryptionMiddleware(enc))
	}

	eng := engine.New(engine.WithMaxHops(cfg.Engine.MaxHops))
	stack := &OfflineStack{
		Cache: cache,
		Queue: queue,
		Replica: offline.NewReplica(cache, queue, cfg.Offline.OperatorID,
			offline.WithMachine(session.NewMachine(session.WithEngine(eng))),
			offline.WithReplicaLogger(logger),
			offline.WithReplicaHooks(observability.LoggingHooks(logger)),
		),
	}

	if cfg.Offline.Server != "" {
		stack.Upstream = httpadapter.NewClient(cfg.Offline.Server, cfg.Offline.OperatorID,
			httpadapter.WithTimeout(cfg.Offline.SyncTimeout),
		)
		stack.Syncer = offline.NewSyncer(queue, stack.Upstream,
			offline.WithSyncTimeout(cfg.Offline.SyncTimeout),
			offline.WithTriggerInterval(cfg.Offline.TriggerInterval),
			offline.WithSyncLogger(logger),
		)
	}
	return stack, nil
}

// OpenVersions reads the protocol directory with the configured source.
func OpenVersions(ctx context.Context, cfg config.StoreConfig) (ports.VersionRepository, error) {
	switch cfg.ProtocolSource {
	case config.SourceLoam:
		return loam.Open(ctx, cfg.ProtocolDir)
	case config.SourceFile, "":
		return file.NewVersionRepository(cfg.ProtocolDir)
	}
	return nil, fmt.Errorf("unknown protocol source %q", cfg.ProtocolSource)
}

// SeedCache copies the active versions of a local protocol directory into the cache,
// for replicas that have never been connected.
func SeedCache(ctx context.Context, cache *offline.Cache, cfg config.StoreConfig) (int, error) {
	repo, err := OpenVersions(ctx, cfg)
	if err != nil {
		return 0, err
	}
	versions, err := repo.ListVersions(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range versions {
		if !v.Active {
			continue
		}
		if err := cache.Put(v); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
