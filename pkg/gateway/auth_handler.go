package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/httputil"
)

type authResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// handleAuth serves POST /api/auth. A presented bearer token is
// honored as-is only if it verifies against the configured secret, has
// not expired, and its uuid claim still names a registered session; any
// other case mints a fresh session and token, with placement defaulted
// from the catalog.
func (g *Gateway) handleAuth(w http.ResponseWriter, r *http.Request) {
	if presented := httputil.ExtractBearerToken(r); presented != "" {
		if claims, err := g.tokens.verify(presented); err == nil {
			if _, ok := g.registry.LookupByID(claims.UUID); ok {
				httputil.WriteJSON(w, http.StatusOK, authResponse{Token: presented, SessionID: claims.UUID})
				return
			}
		}
	}

	sessionID := uuid.NewString()
	token, err := g.tokens.mint(sessionID, r.UserAgent(), remoteAddr(r))
	if err != nil {
		g.logger.Error("failed to mint session token", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to mint session token")
		return
	}

	g.registry.Register(sessionID, token)

	httputil.WriteJSON(w, http.StatusCreated, authResponse{Token: token, SessionID: sessionID})
}
