package fragment

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
)

// nopWasm is a minimal valid WASM module with no exports, sufficient to
// compile but not to execute (no alloc/dealloc/execute__... exports).
var nopWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
}

func writeManifest(t *testing.T, dir string, entries []manifestEntry) {
	t.Helper()
	raw, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), raw, 0o644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

func TestLoad_Success(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, []manifestEntry{
		{ID: "fibonacci", ExecutionLocation: "Server"},
		{ID: "factorial", ExecutionLocation: "Client"},
	})
	for _, id := range []string{"fibonacci", "factorial"} {
		if err := os.WriteFile(filepath.Join(dir, id+".wasm"), nopWasm, 0o644); err != nil {
			t.Fatalf("failed to write %s.wasm: %v", id, err)
		}
	}

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	catalog, err := Load(ctx, runtime, dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	fragments := catalog.Fragments()
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}

	handle, err := catalog.Get("fibonacci")
	if err != nil {
		t.Fatalf("Get(fibonacci) failed: %v", err)
	}
	if handle.FragmentID() != "fibonacci" {
		t.Errorf("expected fragment id fibonacci, got %s", handle.FragmentID())
	}

	// Get is stable across repeated calls.
	again, err := catalog.Get("fibonacci")
	if err != nil {
		t.Fatalf("second Get(fibonacci) failed: %v", err)
	}
	if handle != again {
		t.Error("expected the same handle instance on repeated Get calls")
	}
}

func TestLoad_MissingManifest(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	_, err := Load(ctx, runtime, dir, zap.NewNop())
	if !fragerrors.IsStartupError(err) {
		t.Fatalf("expected StartupError for missing manifest, got %v", err)
	}
}

func TestLoad_MissingWasmFile(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, []manifestEntry{{ID: "ghost", ExecutionLocation: "Server"}})

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	_, err := Load(ctx, runtime, dir, zap.NewNop())
	if !fragerrors.IsStartupError(err) {
		t.Fatalf("expected StartupError for missing wasm file, got %v", err)
	}
}

func TestLoad_InvalidExecutionLocation(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, []manifestEntry{{ID: "bad", ExecutionLocation: "Moon"}})
	if err := os.WriteFile(filepath.Join(dir, "bad.wasm"), nopWasm, 0o644); err != nil {
		t.Fatalf("failed to write bad.wasm: %v", err)
	}

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	_, err := Load(ctx, runtime, dir, zap.NewNop())
	if !fragerrors.IsStartupError(err) {
		t.Fatalf("expected StartupError for invalid execution_location, got %v", err)
	}
}

func TestCatalog_GetUnknownFragment(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, []manifestEntry{})

	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	catalog, err := Load(ctx, runtime, dir, zap.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := catalog.Get("missing"); !fragerrors.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}
