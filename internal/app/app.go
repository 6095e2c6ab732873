// Package app wires configuration, storage, caching, metrics and the HTTP
// and gRPC servers into one runnable dissolve service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	grpcapi "github.com/arkilian/dissolve/internal/api/grpc"
	httpapi "github.com/arkilian/dissolve/internal/api/http"
	"github.com/arkilian/dissolve/internal/cache"
	"github.com/arkilian/dissolve/internal/config"
	"github.com/arkilian/dissolve/internal/dissolve"
	"github.com/arkilian/dissolve/internal/geometry"
	"github.com/arkilian/dissolve/internal/logging"
	"github.com/arkilian/dissolve/internal/observability"
	"github.com/arkilian/dissolve/internal/server"
	"github.com/arkilian/dissolve/internal/service"
	"github.com/arkilian/dissolve/internal/storage"
)

// usageWindow bounds how long an unused key stays in the usage statistics.
const usageWindow = 24 * time.Hour

// App manages the dissolve service lifecycle.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Shared resources
	store    storage.ObjectStorage
	cache    cache.Cache
	metrics  *observability.Metrics
	usage    *observability.UsageStats
	service  *service.Service
	shutdown *server.ShutdownManager

	// Servers
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	mu      sync.Mutex
	running bool
}

// Option configures an App.
type Option func(*App)

// WithLogger overrides the logger built from the log configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithStore overrides the object store built from the storage configuration.
func WithStore(s storage.ObjectStorage) Option {
	return func(a *App) { a.store = s }
}

// New validates cfg and builds every component. Servers are created but
// not started.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		level, err := logging.ParseLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		a.logger = logging.New(level, cfg.Log.Format)
	}

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: cfg.HTTP.WriteTimeout,
		Logger:          a.logger,
	})

	if err := a.initSharedResources(ctx); err != nil {
		return nil, err
	}
	a.initServers()
	return a, nil
}

func (a *App) initSharedResources(ctx context.Context) error {
	if a.store == nil {
		switch a.cfg.Storage.Type {
		case "local":
			if err := a.cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("failed to create directories: %w", err)
			}
			local, err := storage.NewLocalStorage(a.cfg.Storage.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			a.store = local
		case "s3":
			s3Store, err := storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Storage())
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			a.store = s3Store
		default:
			return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
		}
		a.logger.Info("storage initialized",
			"type", a.cfg.Storage.Type,
			"path", a.cfg.Storage.Path,
			"bucket", a.cfg.Storage.S3.Bucket)
	}

	if a.cfg.Cache.Enabled {
		a.cache = a.newCache(ctx)
	}

	a.metrics = observability.NewMetrics()
	a.usage = observability.NewUsageStats(usageWindow)

	engine := dissolve.New(geometry.NewBackend(), dissolve.WithLogger(a.logger))
	svcOpts := []service.Option{
		service.WithStore(a.store),
		service.WithMetrics(a.metrics),
		service.WithUsage(a.usage),
		service.WithDefaults(a.cfg.Dissolve),
		service.WithLogger(a.logger),
	}
	if a.cache != nil {
		svcOpts = append(svcOpts, service.WithCache(a.cache))
	}
	a.service = service.New(engine, svcOpts...)
	return nil
}

// newCache builds the Redis cache when an address is configured and the
// in-process cache otherwise. An unreachable Redis is logged, not fatal:
// lookups then miss and the service computes every result.
func (a *App) newCache(ctx context.Context) cache.Cache {
	cc := a.cfg.Cache
	if cc.RedisAddr == "" {
		a.logger.Info("result cache initialized", "backend", "memory", "max_bytes", cc.MemoryBytes)
		return cache.NewMemoryCache(cc.MemoryBytes)
	}

	rc := cache.NewRedisCache(cc.RedisAddr, cc.RedisPassword, cc.RedisDB,
		cache.WithTTL(cc.TTL), cache.WithPrefix(cc.Prefix))
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx); err != nil {
		a.logger.Warn("redis unreachable, cache lookups will miss", "addr", cc.RedisAddr, "error", err)
	} else {
		a.logger.Info("result cache initialized", "backend", "redis", "addr", cc.RedisAddr, "ttl", cc.TTL)
	}
	a.shutdown.RegisterCloser("redis", rc)
	return rc
}

func (a *App) initServers() {
	a.httpServer = &http.Server{
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Service:      a.service,
			Metrics:      a.metrics,
			Logger:       a.logger,
			MaxBodyBytes: a.cfg.HTTP.MaxBodyBytes,
			Middleware:   []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
		}),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	if a.cfg.GRPC.Enabled {
		a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
			server.UnaryShutdownInterceptor(a.shutdown),
			grpcapi.RecoveryInterceptor(a.logger),
		))
		grpcapi.RegisterDissolveServer(a.grpcServer, grpcapi.NewServer(a.service, a.logger))
	}
}

// Listen binds the configured addresses. Run calls it when needed; calling
// it first lets callers learn the bound addresses.
func (a *App) Listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpListener != nil {
		return nil
	}

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	if a.grpcServer != nil {
		glis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			lis.Close()
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
		}
		a.grpcListener = glis
	}
	a.httpListener = lis
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" before Listen.
func (a *App) HTTPAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (a *App) GRPCAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Run serves until ctx is done or a server fails, then shuts down
// gracefully.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	if err := a.Listen(); err != nil {
		return err
	}

	// Closers run in reverse order: servers stop before the cache closes.
	a.shutdown.RegisterCloser("http", server.CloserFunc(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.WriteTimeout)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	}))
	if a.grpcServer != nil {
		a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
			a.grpcServer.GracefulStop()
			return nil
		}))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server listening", "addr", a.httpListener.Addr().String())
		if err := a.httpServer.Serve(a.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.grpcServer != nil {
		g.Go(func() error {
			a.logger.Info("grpc server listening", "addr", a.grpcListener.Addr().String())
			if err := a.grpcServer.Serve(a.grpcListener); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		reason := "context done"
		if cause := context.Cause(gctx); cause != nil && !errors.Is(cause, context.Canceled) {
			reason = cause.Error()
		}
		return a.shutdown.Shutdown(context.Background(), reason)
	})
	return g.Wait()
}

// Service returns the dissolve service shared by both transports.
func (a *App) Service() *service.Service {
	return a.service
}
