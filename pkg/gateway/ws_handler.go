package gateway

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/dispatch"
	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleDuplexConnect serves GET /ws: the auth_token query
// parameter is verified before any upgrade happens. A missing or
// invalid token never reaches the WebSocket handshake at all, so the
// caller sees a plain HTTP rejection rather than a channel that opens
// and immediately closes.
func (g *Gateway) handleDuplexConnect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("auth_token")
	if token == "" {
		fragerrors.WriteHTTPError(w, fragerrors.NewAuthError("missing auth_token", nil), "")
		return
	}

	claims, err := g.tokens.verify(token)
	if err != nil {
		fragerrors.WriteHTTPError(w, fragerrors.NewAuthError("invalid auth_token", err), "")
		return
	}

	if _, ok := g.registry.LookupByID(claims.UUID); !ok {
		fragerrors.WriteHTTPError(w, fragerrors.NewAuthError("unknown session", nil), "")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// The session outlives the HTTP request that carried the upgrade, so
	// the loop runs under a connection-scoped context rather than
	// r.Context(); per-call deadlines come from the engine's execute
	// timeout, and the loop exits when the socket closes.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatch.Loop(ctx, conn, claims.UUID, r.UserAgent(), remoteAddr(r), g.registry, g.engine, g.auditLog, g.logger)
}

// remoteAddr prefers a reverse-proxy header over the raw socket peer. Its
// value is the client origin shown in the session snapshot and carried in
// a minted token's ip_address claim.
func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
