// Package gateway wires the fragment runtime's external surfaces
// together: the admin HTTP API and the duplex WebSocket handshake that
// hands connections off to pkg/dispatch. Gateway owns every long-lived
// dependency constructed at bootstrap and is the single thing
// cmd/gateway builds.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/audit"
	"github.com/poudelpratik/fragmentrt/pkg/config"
	"github.com/poudelpratik/fragmentrt/pkg/fragment"
	"github.com/poudelpratik/fragmentrt/pkg/session"
	"github.com/poudelpratik/fragmentrt/pkg/wasmengine"
)

// Gateway holds every long-lived component the bootstrap constructs,
// in dependency order: catalog before engine, registry before the
// session loop, audit before anything that writes to it.
type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger

	runtime  wazero.Runtime
	catalog  *fragment.Catalog
	registry *session.Registry
	engine   *wasmengine.Engine
	auditLog *audit.Store
	tokens   *tokenIssuer

	startedAt time.Time
	ready     bool
}

// New constructs a Gateway from cfg. Catalog loading is fatal on
// failure: the process refuses to serve without its full fragment set.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	runtime := wazero.NewRuntime(ctx)

	catalog, err := fragment.Load(ctx, runtime, cfg.FragmentsDir, logger)
	if err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	auditLog, err := audit.Open(cfg.AuditLogPath, logger)
	if err != nil {
		catalog.Close(ctx)
		runtime.Close(ctx)
		return nil, err
	}

	registry := session.New(catalog)
	engine := wasmengine.New(runtime, catalog, time.Duration(cfg.ExecuteTimeoutSeconds)*time.Second, logger)
	tokens := newTokenIssuer(cfg.JWTSecret, time.Duration(cfg.JWTTTLSeconds)*time.Second)

	return &Gateway{
		cfg:       cfg,
		logger:    logger,
		runtime:   runtime,
		catalog:   catalog,
		registry:  registry,
		engine:    engine,
		auditLog:  auditLog,
		tokens:    tokens,
		startedAt: time.Now(),
		ready:     true,
	}, nil
}

// Close releases every resource New acquired. Safe to call once, at
// process shutdown.
func (g *Gateway) Close(ctx context.Context) error {
	g.auditLog.Close()
	g.catalog.Close(ctx)
	return g.runtime.Close(ctx)
}

// Routes returns the http.Handler serving both the admin surface and
// the duplex channel handshake.
func (g *Gateway) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", g.handleHealthz)

	// No Timeout middleware on /ws: the duplex channel is long-lived and
	// must not inherit a request deadline that would cancel every
	// fragment call once it expires.
	r.Get("/ws", g.handleDuplexConnect)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))
		r.Use(g.requireAPIKey)
		r.Post("/auth", g.handleAuth)
		r.Get("/clients", g.handleListClients)
		r.Get("/client/{id}", g.handleGetClient)
		r.Put("/client/{id}", g.handleUpdateClient)
		r.Get("/client/{id}/invocations", g.handleListInvocations)
	})

	return r
}
