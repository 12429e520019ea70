package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/contracts"
	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
	"github.com/poudelpratik/fragmentrt/pkg/httputil"
)

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !g.ready {
		httputil.WriteError(w, http.StatusServiceUnavailable, "catalog not loaded")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleListClients serves GET /api/clients: a snapshot of every
// session.
func (g *Gateway) handleListClients(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, g.registry.SnapshotAll())
}

// handleGetClient serves GET /api/client/{id}.
func (g *Gateway) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := g.registry.LookupByID(id)
	if !ok {
		fragerrors.WriteHTTPError(w, fragerrors.NewNotFoundError("session", id), "")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// handleUpdateClient serves PUT /api/client/{id}: apply a placement
// delta via the session registry.
func (g *Gateway) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var delta []contracts.PlacementEntry
	if err := httputil.DecodeJSON(r, &delta); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "malformed placement delta")
		return
	}

	if err := g.registry.UpdatePlacement(id, delta); err != nil {
		fragerrors.WriteHTTPError(w, err, "")
		return
	}

	snap, _ := g.registry.LookupByID(id)
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// handleListInvocations serves GET /api/client/{id}/invocations: the
// audit trail for one session, newest first.
func (g *Gateway) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := httputil.QueryParamInt(r, "limit", 50)
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	records, err := g.auditLog.Recent(r.Context(), id, limit)
	if err != nil {
		g.logger.Error("failed to query invocation records", zap.String("session_id", id), zap.Error(err))
		fragerrors.WriteHTTPError(w, fragerrors.NewInternalError("failed to query invocation records", err), "")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, records)
}
