package contracts

import (
	"context"
	"time"
)

// ExecutionLocation identifies which side of a connection runs a
// fragment: the server process itself, or the connected client.
type ExecutionLocation string

const (
	LocationServer ExecutionLocation = "Server"
	LocationClient ExecutionLocation = "Client"
)

// Fragment is an immutable catalog entry: a fragment's identity also
// names the WASM file backing it (<id>.wasm in the fragments directory).
type Fragment struct {
	ID              string            `json:"id"`
	InitialLocation ExecutionLocation `json:"execution_location"`
}

// PlacementEntry is one row of a session's placement map, naming where
// a single fragment currently executes for that session.
type PlacementEntry struct {
	FragmentID string            `json:"id"`
	Location   ExecutionLocation `json:"execution_location"`
}

// FragmentCatalog resolves fragment ids to compiled module handles.
// Implementations are built once at startup; a load failure during
// construction is fatal to the process. Afterward the only failure is a
// lookup of an id the catalog does not hold.
type FragmentCatalog interface {
	// Get returns the module handle for a fragment id, or a NotFound
	// error if the catalog has no such fragment.
	Get(id string) (ModuleHandle, error)

	// Fragments returns every fragment known to the catalog, in the
	// order the manifest declared them.
	Fragments() []Fragment
}

// ModuleHandle is a compiled, shared, read-only WASM module. A single
// handle backs every concurrent invocation of its fragment; each call
// derives its own instance from the handle.
type ModuleHandle interface {
	// FragmentID is the catalog id this handle was compiled for.
	FragmentID() string
}

// ExecutionEngine runs one fragment function call end to end: argument
// packing, guest invocation, and result decoding, against the fixed
// host/guest ABI.
type ExecutionEngine interface {
	// Execute invokes functionName on the fragment identified by
	// fragmentID with the given JSON-typed parameters, and returns the
	// JSON-text result. ctx bounds the call's execution timeout.
	Execute(ctx context.Context, fragmentID, functionName string, parameters []any) (string, error)
}

// SessionRegistry tracks connected clients by session id: their
// current placement map and their live outbound message sink.
type SessionRegistry interface {
	// Register creates or replaces a session with the given token and
	// a placement map defaulted from the catalog's initial locations.
	Register(sessionID, token string) SessionSnapshot

	// LookupByID returns the session for an id, or ok=false.
	LookupByID(sessionID string) (SessionSnapshot, bool)

	// LookupByToken returns the session owning a token, or ok=false.
	LookupByToken(token string) (SessionSnapshot, bool)

	// UpdatePlacement merges delta into a session's placement map.
	// Entries naming unknown fragment ids are ignored, not errors.
	UpdatePlacement(sessionID string, delta []PlacementEntry) error

	// SnapshotAll returns a point-in-time copy of every session, for
	// the admin listing endpoint.
	SnapshotAll() []SessionSnapshot
}

// SessionSnapshot is a point-in-time, read-only view of a session.
type SessionSnapshot struct {
	SessionID  string           `json:"session_id"`
	Token      string           `json:"-"`
	Placement  []PlacementEntry `json:"placement"`
	Connected  bool             `json:"connected"`
	UserAgent  string           `json:"user_agent,omitempty"`
	RemoteAddr string           `json:"remote_addr,omitempty"`
}

// InvocationRecord is one audit-trail row for one ExecuteFunction call,
// written regardless of the call's outcome.
type InvocationRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	FragmentID   string    `json:"fragment_id"`
	FunctionName string    `json:"function_name"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	Status       string    `json:"status"`
	ErrorKind    string    `json:"error_kind,omitempty"`
}

// InvocationLogger persists invocation records off the response path
// and answers audit-trail queries for the admin surface.
type InvocationLogger interface {
	// Log records the outcome of one ExecuteFunction call. Called after
	// the engine returns; must never block the caller on a slow store.
	Log(ctx context.Context, record InvocationRecord)

	// Recent returns up to limit invocation records for a session,
	// newest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]InvocationRecord, error)
}
