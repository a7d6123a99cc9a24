package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/caroauth/internal/db"
	"github.com/nkiryanov/caroauth/internal/handlers"
	"github.com/nkiryanov/caroauth/internal/handlers/signaling"
	"github.com/nkiryanov/caroauth/internal/logger"
	"github.com/nkiryanov/caroauth/internal/metrics"
	"github.com/nkiryanov/caroauth/internal/repository"
	"github.com/nkiryanov/caroauth/internal/repository/postgres"
	"github.com/nkiryanov/caroauth/internal/repository/redisstore"
	"github.com/nkiryanov/caroauth/internal/service/auth"
	"github.com/nkiryanov/caroauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/caroauth/internal/service/sweeper"
	"github.com/nkiryanov/caroauth/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper *sweeper.Sweeper
	logger  logger.Logger
	closers []func()
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: l}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	app.closers = append(app.closers, pool.Close)

	// Initialize repositories
	storage, err := app.newStorage(ctx, c, pool)
	if err != nil {
		return nil, err
	}

	// Initialize services
	m := metrics.New()

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		Issuer:     c.Issuer,
		AccessTTL:  c.AccessTTL(),
		RefreshTTL: c.RefreshTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}
	userService := user.NewService(user.DefaultHasher, storage.User())
	authService, err := auth.NewService(auth.Config{Logger: l, Metrics: m}, tokenManager, storage, userService)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.sweeper, err = sweeper.New(sweeper.Config{
		Interval: c.SweepInterval,
		Logger:   l.With("component", "sweeper"),
		Metrics:  m,
		Now:      tokenManager.Now,
	}, storage.Refresh())
	if err != nil {
		return nil, fmt.Errorf("error while creating sweeper. Err: %w", err)
	}

	// Initialize handlers
	gateway := signaling.NewGateway(
		signaling.GatewayConfig{AllowedOrigins: c.WSAllowedOrigins},
		authService,
		signaling.NewHub(m),
		l.With("component", "signaling"),
	)

	app.Handler = handlers.NewRouter(handlers.RouterConfig{
		Auth:      authService,
		Users:     userService,
		Signaling: gateway,
		Metrics:   m.Handler(),
		Logger:    l,
	})

	return app, nil
}

// Refresh tokens go to redis if configured, users always stay in postgres
func (s *ServerApp) newStorage(ctx context.Context, c *Config, pool *pgxpool.Pool) (repository.Storage, error) {
	pgStorage := postgres.NewStorage(pool)
	if c.RedisURL == "" {
		s.logger.Info("Refresh tokens are stored in postgres")
		return pgStorage, nil
	}

	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url. Err: %w", err)
	}

	client := redis.NewClient(opts)
	s.closers = append(s.closers, func() { _ = client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
	}

	s.logger.Info("Refresh tokens are stored in redis", "addr", opts.Addr)
	return redisstore.NewStorage(client, pgStorage.User()), nil
}

func (s *ServerApp) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Run starts http server and sweeper and closes them gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := s.sweeper.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}
