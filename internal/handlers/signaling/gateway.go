// Package signaling relays WebRTC call signaling between authenticated users over websocket.
//
// The handshake must carry a valid access token, either as 'Authorization: Bearer' header
// or as 'access_token' query parameter for browsers that can't set headers.
// Refused handshake is answered with 401 and the connection is never upgraded.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/nkiryanov/caroauth/internal/handlers/middleware"
	"github.com/nkiryanov/caroauth/internal/handlers/render"
	"github.com/nkiryanov/caroauth/internal/logger"
	"github.com/nkiryanov/caroauth/internal/models"
)

const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 5 * time.Second
	defaultPingInterval  = 30 * time.Second

	// SDP offers are a few kilobytes
	maxMessageBytes = 64 << 10
)

type authenticator interface {
	AuthenticateHandshake(bearer string) (models.Principal, error)
}

type GatewayConfig struct {
	// Host patterns of cross-origin pages allowed to connect, e.g. 'app.example.com' or '*.example.com'.
	// Same-origin requests are always allowed
	AllowedOrigins []string

	SendQueueSize int
	WriteTimeout  time.Duration
	PingInterval  time.Duration
}

type Gateway struct {
	auth   authenticator
	hub    *Hub
	logger logger.Logger
	cfg    GatewayConfig
}

func NewGateway(cfg GatewayConfig, auth authenticator, hub *Hub, l logger.Logger) *Gateway {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Gateway{auth: auth, hub: hub, logger: l, cfg: cfg}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := g.auth.AuthenticateHandshake(handshakeToken(r))
	if err != nil {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	client := NewClient(principal, g.cfg.SendQueueSize)

	// Registered before upgrade: the peer is reachable as soon as its handshake completes
	g.hub.Register(client)
	defer g.hub.Unregister(client)
	defer client.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.cfg.AllowedOrigins})
	if err != nil {
		g.logger.Info("websocket accept failed", "error", err, "origin", r.Header.Get("Origin"))
		return
	}
	defer conn.CloseNow() // nolint:errcheck

	conn.SetReadLimit(maxMessageBytes)

	l := g.logger.With("identity", principal.Identity.String())
	l.Debug("signaling connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.writeLoop(ctx, cancel, conn, client, l)
	go g.pingLoop(ctx, cancel, conn)

	g.readLoop(ctx, conn, client, l)

	l.Debug("signaling connection closed")
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, l logger.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				l.Debug("signaling read failed", "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			client.enqueue(newError("", CodeBadJSON, "invalid JSON"))
			continue
		}

		g.relay(client, env)
	}
}

func (g *Gateway) relay(client *Client, env Envelope) {
	to, err := env.recipient()
	switch {
	case errors.Is(err, errUnsupportedType):
		client.enqueue(newError(env.CallID, CodeUnsupported, err.Error()))
		return
	case err != nil:
		client.enqueue(newError(env.CallID, CodeBadEnvelope, err.Error()))
		return
	}

	// Sender can't be spoofed
	env.From = client.Principal.Identity.String()
	env.FromUsername = client.Principal.Username

	if g.hub.Send(to, env) == 0 {
		client.enqueue(newError(env.CallID, CodePeerUnavailable, "recipient is not connected"))
	}
}

func (g *Gateway) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *Client, l logger.Logger) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case env := <-client.send:
			if err := g.write(ctx, conn, env); err != nil {
				l.Debug("signaling write failed", "error", err)
				return
			}
		}
	}
}

func (g *Gateway) write(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}

func (g *Gateway) pingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	t := time.NewTicker(g.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()

			if err != nil {
				cancel()
				return
			}
		}
	}
}

func handshakeToken(r *http.Request) string {
	if token := middleware.BearerToken(r); token != "" {
		return token
	}
	return r.URL.Query().Get("access_token")
}
