package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/caroauth/internal/handlers/middleware"
	"github.com/nkiryanov/caroauth/internal/logger"
	"github.com/nkiryanov/caroauth/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	Auth  authService
	Users userService

	// Call signaling websocket, authenticates handshake itself
	Signaling http.Handler

	// Prometheus exposition
	Metrics http.Handler

	Logger logger.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	mux := http.NewServeMux()

	mux.Handle("POST /api/auth/register", handleRegister(cfg.Auth, l))
	mux.Handle("POST /api/auth/login", handleLogin(cfg.Auth, l))
	mux.Handle("POST /api/auth/refresh", handleRefresh(cfg.Auth, l))

	mux.Handle("GET /api/users/me", middleware.RequireAuth(handleUserMe(cfg.Users, l)))

	if cfg.Signaling != nil {
		mux.Handle("GET /ws", cfg.Signaling)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	return chain(mux,
		middleware.LoggerMiddleware(l),
		middleware.Authenticate(cfg.Auth),
	)
}

type authService interface {
	// Register user and start its session
	// Has to return apperrors.ErrUserAlreadyExists if username or email is taken
	Register(ctx context.Context, username string, email string, password string) (models.TokenPair, error)

	// Has to return apperrors.ErrInvalidCredentials if login or password is wrong
	Login(ctx context.Context, login string, password string) (models.TokenPair, error)

	// Exchange refresh token for a new pair
	// Every rejection has to match apperrors.ErrUnauthorized
	Rotate(ctx context.Context, refresh string) (models.TokenPair, error)

	// Principal of request access token, false for anonymous
	AuthenticateRequest(bearer string) (models.Principal, bool)
}

type userService interface {
	GetUser(ctx context.Context, identity models.Identity) (models.User, error)
}
