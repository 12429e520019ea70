package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/audit"
	"github.com/poudelpratik/fragmentrt/pkg/config"
	"github.com/poudelpratik/fragmentrt/pkg/contracts"
	"github.com/poudelpratik/fragmentrt/pkg/session"
)

// stubCatalog supplies a fixed fragment list without compiling any WASM,
// so gateway-level handler tests never need real fragment modules.
type stubCatalog struct {
	fragments []contracts.Fragment
}

func (c *stubCatalog) Get(id string) (contracts.ModuleHandle, error) {
	return nil, nil
}

func (c *stubCatalog) Fragments() []contracts.Fragment { return c.fragments }

// newTestGateway builds a Gateway with a real session registry and a
// real (tempdir-backed) audit store, but without the wazero runtime or
// engine, since the admin and auth surfaces never touch either.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()

	catalog := &stubCatalog{fragments: []contracts.Fragment{
		{ID: "fibonacci", InitialLocation: contracts.LocationServer},
	}}

	dbPath := filepath.Join(t.TempDir(), "audit.db")
	auditLog, err := audit.Open(dbPath, zap.NewNop())
	if err != nil {
		t.Fatalf("audit.Open failed: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })

	cfg := config.DefaultConfig()
	cfg.APIKey = "test-api-key"
	cfg.JWTSecret = "test-jwt-secret"
	cfg.JWTTTLSeconds = 3600

	return &Gateway{
		cfg:       cfg,
		logger:    zap.NewNop(),
		registry:  session.New(catalog),
		auditLog:  auditLog,
		tokens:    newTokenIssuer(cfg.JWTSecret, time.Duration(cfg.JWTTTLSeconds)*time.Second),
		startedAt: time.Now(),
		ready:     true,
	}
}

func mustAuditLog(t *testing.T, g *Gateway, sessionID string) {
	t.Helper()
	g.auditLog.Log(context.Background(), contracts.InvocationRecord{
		ID:           "rec-1",
		SessionID:    sessionID,
		FragmentID:   "fibonacci",
		FunctionName: "fibonacci",
		StartedAt:    time.Now(),
		DurationMS:   5,
		Status:       "ok",
	})
}
