// Package main is the entry point for the cerebro server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Set up logging and tracing.
//  3. Connect to PostgreSQL via pgxpool and apply goose migrations.
//  4. Create the repository and service (eagerly loading every namespace).
//  5. Start the HTTP server and gRPC server, plus the read-only tailnet
//     listener when TS_HOSTNAME is set.
//  6. Wait for SIGINT/SIGTERM, then gracefully shut everything down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"tailscale.com/tsnet"

	"github.com/matt-riley/cerebro/internal/config"
	"github.com/matt-riley/cerebro/internal/loader"
	"github.com/matt-riley/cerebro/internal/logging"
	"github.com/matt-riley/cerebro/internal/metrics"
	"github.com/matt-riley/cerebro/internal/middleware"
	"github.com/matt-riley/cerebro/internal/repository"
	"github.com/matt-riley/cerebro/internal/server"
	"github.com/matt-riley/cerebro/internal/service"
	"github.com/matt-riley/cerebro/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool, log); err != nil {
		return err
	}

	repo := repository.NewPostgresRepository(pool,
		repository.WithEventBatchSize(cfg.EventBatchSize),
		repository.WithNotifyChannel(cfg.NotifyChannel),
	)

	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	serviceOpts := []service.Option{
		service.WithLogger(log),
		service.WithActor(middleware.Actor),
		service.WithCacheMetrics(m.IncCacheLoads, m.IncCacheInvalidations, m.ResetCacheSize, m.SetCacheSize),
		service.WithResolveObserver(m.ObserveResolve),
		service.WithCacheResyncInterval(cfg.CacheResyncInterval),
	}
	if cfg.SchemaPath != "" {
		validator, err := loadSchemaValidator(cfg.SchemaPath)
		if err != nil {
			return err
		}
		serviceOpts = append(serviceOpts, service.WithValidator(validator))
	}

	svc, err := service.New(ctx, repo, serviceOpts...)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer rateLimiter.Stop()

	authOpts := []middleware.AuthOption{
		middleware.WithOnAuthFailure(func() { m.AuthFailuresTotal.Inc() }),
		middleware.WithRateLimiter(rateLimiter),
	}
	tokenValidator := &apiKeyTokenValidator{lookup: repo}

	apiHandler := server.NewHTTPHandler(svc,
		server.WithStreamPollInterval(cfg.StreamPollInterval),
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		server.WithMetrics(m),
	)
	httpHandler := middleware.HTTPRequestLogging(log)(newHTTPHandler(apiHandler, tokenValidator, authOpts...))

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "cerebro-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			middleware.UnaryBearerAuthInterceptor(tokenValidator, authOpts...),
			m.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamRequestLoggingInterceptor(log),
			middleware.StreamBearerAuthInterceptor(tokenValidator, authOpts...),
			m.StreamServerInterceptor(),
		),
	)
	server.RegisterSettingServiceServer(grpcServer, server.NewGRPCServer(svc,
		server.WithGRPCStreamPollInterval(cfg.StreamPollInterval),
		server.WithGRPCMetrics(m),
	))

	var tsServer *tsnet.Server
	if cfg.TailnetEnabled() {
		tsServer, err = startTailnetListener(ctx, cfg, svc, log)
		if err != nil {
			return err
		}
		defer tsServer.Close()
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	defer grpcListener.Close()

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr, "grpc_addr", cfg.GRPCAddr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	httpShutdownCtx, cancelHTTP := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		grpcServer.Stop()
	}

	return serveErr
}

// startTailnetListener serves a read-only copy of the API on the tailnet.
// Callers name the namespace with ?namespace= instead of an API key.
func startTailnetListener(ctx context.Context, cfg config.Config, svc *service.Service, log *slog.Logger) (*tsnet.Server, error) {
	if err := os.MkdirAll(cfg.TSStateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create ts-state dir: %w", err)
	}

	tsServer := &tsnet.Server{
		Hostname: cfg.TSHostname,
		AuthKey:  cfg.TSAuthKey,
		Dir:      cfg.TSStateDir,
		Logf:     func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...), "component", "tailscale") },
	}

	listener, err := tsServer.Listen("tcp", ":80")
	if err != nil {
		_ = tsServer.Close()
		return nil, fmt.Errorf("listen tailnet: %w", err)
	}
	log.Info("read-only listener started", "hostname", cfg.TSHostname, "transport", "tailscale")

	readOnly := &http.Server{
		Handler: middleware.HTTPRequestLogging(log.With("listener", "tailnet"))(server.NewHTTPHandler(svc,
			server.WithReadOnly(),
			server.WithStreamPollInterval(cfg.StreamPollInterval),
			server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		)),
		ReadHeaderTimeout: httpReadHeaderTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := readOnly.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("read-only server shutdown error", "error", err)
		}
	}()
	go func() {
		if err := readOnly.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("read-only server error", "error", err)
		}
	}()

	return tsServer, nil
}

func loadSchemaValidator(path string) (*loader.Validator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	validator, err := loader.NewValidator(data)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", path, err)
	}
	return validator, nil
}

func newHTTPHandler(apiHandler http.Handler, tokenValidator middleware.TokenValidator, opts ...middleware.AuthOption) http.Handler {
	protectedAPIHandler := middleware.HTTPBearerAuthMiddleware(tokenValidator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return mux
}

type apiKeyHashLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (string, string, error)
}

// apiKeyTokenValidator accepts "keyID.secret" tokens and returns the
// namespace the key belongs to.
type apiKeyTokenValidator struct {
	lookup apiKeyHashLookup
}

func (v *apiKeyTokenValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v == nil || v.lookup == nil {
		return "", errors.New("api key validator is nil")
	}

	keyID, secret, ok := middleware.SplitAPIKey(token)
	if !ok {
		return "", errors.New("invalid token format")
	}

	keyHash, namespaceID, err := v.lookup.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup key hash: %w", err)
	}
	if !middleware.APIKeyMatchesHash(keyHash, secret) {
		return "", errors.New("invalid token")
	}

	return namespaceID, nil
}
