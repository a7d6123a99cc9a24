package e2e

import (
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/caroauth/internal/handlers"
	"github.com/nkiryanov/caroauth/internal/handlers/signaling"
	"github.com/nkiryanov/caroauth/internal/metrics"
	"github.com/nkiryanov/caroauth/internal/repository/postgres"
	"github.com/nkiryanov/caroauth/internal/service/auth"
	"github.com/nkiryanov/caroauth/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/caroauth/internal/service/user"
	"github.com/nkiryanov/caroauth/internal/testutil"
)

type Services struct {
	AuthService *auth.AuthService
	UserService *user.UserService
	Hub         *signaling.Hub
}

// Create db transaction and run server in with that connection (one connection cause one transaction)
// The created transaction passed to inner function: so, you can safely use testutil.WithTx with it
func ServeWithTx(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, srvURL string, services Services)) {
	testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
		// Initialize storage
		storage := postgres.NewStorage(tx)

		// Initialize services
		tokenManager, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret"})
		require.NoError(t, err, "token manager should be created without errors")

		m := metrics.New()
		us := user.NewService(user.BcryptHasher{Cost: bcrypt.MinCost}, storage.User())
		as, err := auth.NewService(auth.Config{Metrics: m}, tokenManager, storage, us)
		require.NoError(t, err, "auth service starting error")

		hub := signaling.NewHub(m)

		// Complete all together as router
		router := handlers.NewRouter(handlers.RouterConfig{
			Auth:      as,
			Users:     us,
			Signaling: signaling.NewGateway(signaling.GatewayConfig{}, as, hub, nil),
			Metrics:   m.Handler(),
		})

		// Run http server with the router in transaction
		srv := httptest.NewServer(router)
		defer srv.Close()

		fn(tx, srv.URL, Services{
			AuthService: as,
			UserService: us,
			Hub:         hub,
		})
	})
}
