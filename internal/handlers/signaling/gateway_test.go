package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/metrics"
	"github.com/nkiryanov/caroauth/internal/models"
)

var (
	alice = models.Principal{Identity: models.NewIdentity(uuid.New()), Username: "alice"}
	bob   = models.Principal{Identity: models.NewIdentity(uuid.New()), Username: "bob"}
)

// Token is the username
type authFunc func(bearer string) (models.Principal, error)

func (f authFunc) AuthenticateHandshake(bearer string) (models.Principal, error) {
	return f(bearer)
}

var testAuth = authFunc(func(bearer string) (models.Principal, error) {
	switch bearer {
	case "alice":
		return alice, nil
	case "bob":
		return bob, nil
	default:
		return models.Principal{}, apperrors.ErrHandshakeRefused
	}
})

func startGateway(t *testing.T) (string, *Hub, *metrics.Metrics) {
	t.Helper()

	m := metrics.NewNoOp()
	hub := NewHub(m)
	srv := httptest.NewServer(NewGateway(GatewayConfig{}, testAuth, hub, nil))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub, m
}

func dial(t *testing.T, url string, token string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err, "handshake should succeed")
	t.Cleanup(func() { _ = conn.CloseNow() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, env any) {
	t.Helper()

	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, conn.Write(t.Context(), websocket.MessageText, data))
}

func receive(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func errorCode(t *testing.T, env Envelope) string {
	t.Helper()

	require.Equal(t, TypeError, env.Type)
	var p ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p.Code
}

func TestGateway_Handshake(t *testing.T) {
	url, _, _ := startGateway(t)

	tests := []struct {
		name   string
		header http.Header
	}{
		{"no token", nil},
		{"refused token", http.Header{"Authorization": []string{"Bearer refresh-token"}}},
		{"not bearer", http.Header{"Authorization": []string{"Basic alice"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.Dial(t.Context(), url, &websocket.DialOptions{HTTPHeader: tt.header})

			require.Error(t, err, "handshake must be refused")
			require.NotNil(t, resp)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "connection must not be upgraded")
		})
	}

	t.Run("token in query", func(t *testing.T) {
		conn, _, err := websocket.Dial(t.Context(), url+"?access_token=alice", nil)
		require.NoError(t, err)
		_ = conn.CloseNow()
	})
}

func TestGateway_Relay(t *testing.T) {
	url, hub, m := startGateway(t)
	aliceConn := dial(t, url, "alice")
	bobConn := dial(t, url, "bob")

	t.Run("connections tracked", func(t *testing.T) {
		require.Equal(t, 1, hub.Connections(alice.Identity))
		require.Equal(t, 1, hub.Connections(bob.Identity))
		require.InDelta(t, 2, testutil.ToFloat64(m.SignalingConnections), 0)
	})

	t.Run("sender stamped by server", func(t *testing.T) {
		send(t, aliceConn, map[string]any{
			"type":         TypeInvite,
			"callId":       "call-1",
			"to":           bob.Identity.String(),
			"from":         uuid.NewString(), // spoofed
			"fromUsername": "mallory",
			"payload":      map[string]string{"media": "video"},
		})

		got := receive(t, bobConn)

		assert.Equal(t, TypeInvite, got.Type)
		assert.Equal(t, "call-1", got.CallID)
		assert.Equal(t, alice.Identity.String(), got.From)
		assert.Equal(t, "alice", got.FromUsername)
		assert.JSONEq(t, `{"media": "video"}`, string(got.Payload))
	})

	t.Run("every call type relayed", func(t *testing.T) {
		for _, typ := range []string{TypeAccept, TypeReject, TypeOffer, TypeAnswer, TypeICE, TypeHangup} {
			send(t, bobConn, Envelope{Type: typ, CallID: "call-1", To: alice.Identity.String()})

			got := receive(t, aliceConn)
			require.Equal(t, typ, got.Type)
			require.Equal(t, bob.Identity.String(), got.From)
		}
	})

	t.Run("errors go back to sender", func(t *testing.T) {
		tests := []struct {
			name    string
			message string
			code    string
		}{
			{"bad json", `{"type":`, CodeBadJSON},
			{"unknown type", `{"type":"chat.message","callId":"c","to":"` + bob.Identity.String() + `"}`, CodeUnsupported},
			{"bad recipient", `{"type":"call.invite","callId":"c","to":"bob"}`, CodeBadEnvelope},
			{"no call id", `{"type":"call.invite","to":"` + bob.Identity.String() + `"}`, CodeBadEnvelope},
			{"recipient offline", `{"type":"call.invite","callId":"c","to":"` + uuid.NewString() + `"}`, CodePeerUnavailable},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				require.NoError(t, aliceConn.Write(t.Context(), websocket.MessageText, []byte(tt.message)))

				require.Equal(t, tt.code, errorCode(t, receive(t, aliceConn)))
			})
		}
	})

	t.Run("connection removed on close", func(t *testing.T) {
		require.NoError(t, bobConn.Close(websocket.StatusNormalClosure, ""))

		require.Eventually(t, func() bool {
			return hub.Connections(bob.Identity) == 0
		}, 2*time.Second, 10*time.Millisecond)
		require.InDelta(t, 1, testutil.ToFloat64(m.SignalingConnections), 0)
	})
}

func TestHub(t *testing.T) {
	t.Run("deliver to every connection of identity", func(t *testing.T) {
		hub := NewHub(nil)
		first, second := NewClient(alice, 1), NewClient(alice, 1)
		hub.Register(first)
		hub.Register(second)
		hub.Register(first)

		delivered := hub.Send(alice.Identity, Envelope{Type: TypeInvite})

		require.Equal(t, 2, delivered)
		require.Equal(t, 2, hub.Connections(alice.Identity))
	})

	t.Run("full queue drops envelope", func(t *testing.T) {
		hub := NewHub(nil)
		c := NewClient(alice, 1)
		hub.Register(c)

		require.Equal(t, 1, hub.Send(alice.Identity, Envelope{Type: TypeInvite}))
		require.Equal(t, 0, hub.Send(alice.Identity, Envelope{Type: TypeInvite}))
	})

	t.Run("closed client gets nothing", func(t *testing.T) {
		hub := NewHub(nil)
		c := NewClient(alice, 1)
		hub.Register(c)
		c.Close()
		c.Close()

		require.Equal(t, 0, hub.Send(alice.Identity, Envelope{Type: TypeInvite}))
	})

	t.Run("unregister", func(t *testing.T) {
		hub := NewHub(nil)
		c := NewClient(alice, 1)
		hub.Register(c)
		hub.Unregister(c)
		hub.Unregister(c)

		require.Equal(t, 0, hub.Connections(alice.Identity))
		require.Equal(t, 0, hub.Send(alice.Identity, Envelope{Type: TypeInvite}))
	})
}

func TestEnvelope_recipient(t *testing.T) {
	_, err := Envelope{Type: "call.unknown", CallID: "c", To: bob.Identity.String()}.recipient()
	require.True(t, errors.Is(err, errUnsupportedType))

	to, err := Envelope{Type: TypeICE, CallID: "c", To: bob.Identity.String()}.recipient()
	require.NoError(t, err)
	require.Equal(t, bob.Identity, to)

	_, err = Envelope{Type: TypeICE, CallID: "c", To: uuid.Nil.String()}.recipient()
	require.Error(t, err)
}
