// Package fragment implements the fragment catalog: discovery of fragment
// files under a configured directory, one-time compilation of each into a
// wazero module handle, and an immutable, concurrency-safe lookup surface
// for the execution engine.
package fragment

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/contracts"
	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
)

// manifestFile is the fixed name of the placement manifest inside a
// fragments directory.
const manifestFile = "executable_fragments.json"

// manifestEntry is one row of the on-disk manifest.
type manifestEntry struct {
	ID                string `json:"id"`
	ExecutionLocation string `json:"execution_location"`
}

// Handle is the engine-specific module handle for one fragment: a compiled,
// shared, read-only wazero module. Every call against this fragment
// derives its own instance from compiled.
type Handle struct {
	fragmentID string
	compiled   wazero.CompiledModule
}

var _ contracts.ModuleHandle = (*Handle)(nil)

// FragmentID returns the catalog id this handle was compiled for.
func (h *Handle) FragmentID() string { return h.fragmentID }

// Compiled returns the underlying compiled module, for the execution engine.
func (h *Handle) Compiled() wazero.CompiledModule { return h.compiled }

// Catalog is an immutable, process-lifetime map from fragment id to
// compiled module handle. It is built once at startup by Load and never
// mutated afterward: once startup succeeds, Get fails only for an id the
// manifest did not list.
type Catalog struct {
	fragments []contracts.Fragment
	handles   map[string]*Handle
}

var _ contracts.FragmentCatalog = (*Catalog)(nil)

// Load reads the manifest and every fragment's .wasm file from dir,
// compiling each against runtime. Any missing file, unparsable module, or
// malformed manifest entry is fatal: Load returns a *errors.StartupError
// and the caller must refuse to serve.
func Load(ctx context.Context, runtime wazero.Runtime, dir string, logger *zap.Logger) (*Catalog, error) {
	manifestPath := filepath.Join(dir, manifestFile)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fragerrors.NewStartupError(fmt.Sprintf("failed to read fragment manifest %s", manifestPath), err)
	}

	var entries []manifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fragerrors.NewStartupError(fmt.Sprintf("failed to parse fragment manifest %s", manifestPath), err)
	}

	fragments := make([]contracts.Fragment, 0, len(entries))
	handles := make(map[string]*Handle, len(entries))

	for _, entry := range entries {
		if entry.ID == "" {
			return nil, fragerrors.NewStartupError("manifest entry missing id", nil)
		}

		loc := contracts.ExecutionLocation(entry.ExecutionLocation)
		if loc != contracts.LocationClient && loc != contracts.LocationServer {
			return nil, fragerrors.NewStartupError(
				fmt.Sprintf("fragment %q has invalid execution_location %q", entry.ID, entry.ExecutionLocation), nil)
		}

		wasmPath := filepath.Join(dir, entry.ID+".wasm")
		wasmBytes, err := os.ReadFile(wasmPath)
		if err != nil {
			return nil, fragerrors.NewStartupError(fmt.Sprintf("failed to read fragment module %s", wasmPath), err)
		}

		compiled, err := runtime.CompileModule(ctx, wasmBytes)
		if err != nil {
			return nil, fragerrors.NewStartupError(fmt.Sprintf("failed to compile fragment module %q", entry.ID), err)
		}

		fragments = append(fragments, contracts.Fragment{ID: entry.ID, InitialLocation: loc})
		handles[entry.ID] = &Handle{fragmentID: entry.ID, compiled: compiled}

		logger.Info("fragment loaded",
			zap.String("fragment_id", entry.ID),
			zap.String("initial_location", string(loc)),
		)
	}

	return &Catalog{fragments: fragments, handles: handles}, nil
}

// Get returns the module handle for a fragment id, or a NotFoundError if
// the catalog has no such fragment.
func (c *Catalog) Get(id string) (contracts.ModuleHandle, error) {
	h, ok := c.handles[id]
	if !ok {
		return nil, fragerrors.NewNotFoundError("fragment", id)
	}
	return h, nil
}

// Fragments returns every fragment known to the catalog, in manifest order.
func (c *Catalog) Fragments() []contracts.Fragment {
	out := make([]contracts.Fragment, len(c.fragments))
	copy(out, c.fragments)
	return out
}

// Close releases every compiled module. Intended for graceful shutdown and
// tests; the catalog is not usable afterward.
func (c *Catalog) Close(ctx context.Context) error {
	var firstErr error
	for id, h := range c.handles {
		if err := h.compiled.Close(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing fragment %q: %w", id, err)
		}
	}
	return firstErr
}
