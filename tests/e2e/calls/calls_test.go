package calls

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/caroauth/internal/handlers/signaling"
	"github.com/nkiryanov/caroauth/internal/testutil"
	"github.com/nkiryanov/caroauth/tests/e2e"
)

func dial(t *testing.T, srvURL string, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srvURL, "http") + "/ws"
	return websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
}

func Test_Calls(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	e2e.ServeWithTx(pg.Pool, t, func(tx pgx.Tx, srvURL string, s e2e.Services) {
		t.Run("invite relayed to callee", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				caller, err := s.AuthService.Register(t.Context(), "caller", "caller@example.com", "StrongEnoughPassword")
				require.NoError(t, err)
				callee, err := s.AuthService.Register(t.Context(), "callee", "callee@example.com", "StrongEnoughPassword")
				require.NoError(t, err)
				calleeUser, err := s.UserService.CheckCredentials(t.Context(), "callee", "StrongEnoughPassword")
				require.NoError(t, err)

				callerConn, _, err := dial(t, srvURL, caller.Access.Value)
				require.NoError(t, err)
				defer callerConn.CloseNow() // nolint:errcheck
				calleeConn, _, err := dial(t, srvURL, callee.Access.Value)
				require.NoError(t, err)
				defer calleeConn.CloseNow() // nolint:errcheck

				invite, err := json.Marshal(signaling.Envelope{
					Type:    signaling.TypeInvite,
					CallID:  "call-1",
					To:      calleeUser.Identity().String(),
					Payload: json.RawMessage(`{"media":"audio"}`),
				})
				require.NoError(t, err)
				require.NoError(t, callerConn.Write(t.Context(), websocket.MessageText, invite))

				ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
				defer cancel()
				_, data, err := calleeConn.Read(ctx)
				require.NoError(t, err)

				var got signaling.Envelope
				require.NoError(t, json.Unmarshal(data, &got))
				require.Equal(t, signaling.TypeInvite, got.Type)
				require.Equal(t, "call-1", got.CallID)
				require.Equal(t, "caller", got.FromUsername)
				require.NotEmpty(t, got.From)
			})
		})

		t.Run("refresh token can't open connection", func(t *testing.T) {
			testutil.WithTx(tx, t, func(_ pgx.Tx) {
				pair, err := s.AuthService.Register(t.Context(), "caller", "caller@example.com", "StrongEnoughPassword")
				require.NoError(t, err)

				_, resp, err := dial(t, srvURL, pair.Refresh.Value)

				require.Error(t, err)
				require.NotNil(t, resp)
				require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			})
		})
	})
}
