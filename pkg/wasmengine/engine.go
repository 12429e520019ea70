// Package wasmengine implements the fixed host/guest ABI that every
// fragment module speaks: MessagePack argument packing into linear
// memory, the alloc/execute__.../dealloc call sequence, and result
// decoding. The fragment generator emits the guest side of this
// contract into every module; the two must match bit for bit.
package wasmengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/poudelpratik/fragmentrt/pkg/contracts"
	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
)

const wasmPageSize = 65536

// Engine runs fragment calls against wazero module handles under the
// fixed host/guest ABI. Module handles are shared and immutable;
// every call derives its own instance with an empty import set and
// releases it before returning, success or failure.
type Engine struct {
	runtime        wazero.Runtime
	catalog        contracts.FragmentCatalog
	executeTimeout time.Duration
	logger         *zap.Logger
}

var _ contracts.ExecutionEngine = (*Engine)(nil)

// New creates an Engine. executeTimeout bounds every call; a value of
// zero disables the timeout.
func New(runtime wazero.Runtime, catalog contracts.FragmentCatalog, executeTimeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		runtime:        runtime,
		catalog:        catalog,
		executeTimeout: executeTimeout,
		logger:         logger,
	}
}

// Execute runs functionName on fragmentID with parameters and returns
// the JSON-text result.
func (e *Engine) Execute(ctx context.Context, fragmentID, functionName string, parameters []any) (string, error) {
	handle, err := e.catalog.Get(fragmentID)
	if err != nil {
		return "", err
	}

	compiledHandle, ok := handle.(interface{ Compiled() wazero.CompiledModule })
	if !ok {
		return "", fragerrors.NewInternalError(fmt.Sprintf("fragment %q handle has no compiled module", fragmentID), nil)
	}

	if e.executeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.executeTimeout)
		defer cancel()
	}

	packed, argCount, err := packArguments(parameters)
	if err != nil {
		return "", fragerrors.NewCodecError("failed to encode arguments", err)
	}

	e.logger.Debug("executing fragment function",
		zap.String("fragment_id", fragmentID),
		zap.String("function_name", functionName),
		zap.Int("argument_count", argCount),
	)

	// Step 1: fresh instance, empty import set, released on every exit path.
	instance, err := e.runtime.InstantiateModule(ctx, compiledHandle.Compiled(), wazero.NewModuleConfig().WithName(""))
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fragerrors.NewTimeoutError(fmt.Sprintf("%s.%s", fragmentID, functionName), e.executeTimeout.String())
		}
		return "", fragerrors.NewGuestTrapError(fragmentID, functionName, err)
	}
	defer instance.Close(ctx)

	result, err := e.invoke(ctx, instance, fragmentID, functionName, packed, argCount)
	// A call that outlived its deadline is reported as Timeout and its
	// result discarded, whether or not the guest returned successfully.
	if ctx.Err() == context.DeadlineExceeded {
		return "", fragerrors.NewTimeoutError(fmt.Sprintf("%s.%s", fragmentID, functionName), e.executeTimeout.String())
	}
	if err != nil {
		return "", err
	}

	return result, nil
}

func (e *Engine) invoke(ctx context.Context, instance api.Module, fragmentID, functionName string, packed []byte, argCount int) (string, error) {
	memory := instance.Memory()
	if memory == nil {
		return "", fragerrors.NewABIError(fragmentID, "memory", nil)
	}

	allocFn := instance.ExportedFunction("alloc")
	if allocFn == nil {
		return "", fragerrors.NewABIError(fragmentID, "alloc", nil)
	}
	deallocFn := instance.ExportedFunction("dealloc")
	if deallocFn == nil {
		return "", fragerrors.NewABIError(fragmentID, "dealloc", nil)
	}
	exportName := "execute__" + functionName
	executeFn := instance.ExportedFunction(exportName)
	if executeFn == nil {
		return "", fragerrors.NewABIError(fragmentID, exportName, nil)
	}

	n := uint32(len(packed))

	// Step 2: grow memory by ceil(N/65536) pages, best-effort additive.
	if n > 0 {
		pages := (n + wasmPageSize - 1) / wasmPageSize
		if _, ok := memory.Grow(pages); !ok {
			return "", fragerrors.NewMemoryError(fragmentID, fmt.Sprintf("failed to grow memory by %d pages", pages), nil)
		}
	}

	// Step 3+4: alloc(N) and copy the packed buffer into guest memory.
	allocResults, err := allocFn.Call(ctx, uint64(n))
	if err != nil {
		return "", fragerrors.NewGuestTrapError(fragmentID, functionName, err)
	}
	p := uint32(allocResults[0])

	if n > 0 && !memory.Write(p, packed) {
		return "", fragerrors.NewMemoryError(fragmentID, "failed to write argument block to guest memory", nil)
	}

	// Step 5: execute__<function_name>(p, argument_count) -> q.
	execResults, err := executeFn.Call(ctx, uint64(p), uint64(argCount))
	if err != nil {
		return "", fragerrors.NewGuestTrapError(fragmentID, functionName, err)
	}
	if len(execResults) == 0 {
		return "", fragerrors.NewABIError(fragmentID, exportName, fmt.Errorf("export returned no values"))
	}
	q := uint32(execResults[0])

	// Step 6: dealloc(p, N). A trap here fails the whole call with a
	// GuestTrapError, even though execute__ has already returned.
	if _, err := deallocFn.Call(ctx, uint64(p), uint64(n)); err != nil {
		return "", fragerrors.NewGuestTrapError(fragmentID, functionName, err)
	}

	// Step 7: read 4 little-endian bytes at q -> result length R.
	lenBytes, ok := memory.Read(q, 4)
	if !ok {
		return "", fragerrors.NewMemoryError(fragmentID, "result length prefix out of bounds", nil)
	}
	resultLen := binary.LittleEndian.Uint32(lenBytes)

	// Step 8: read R bytes at q+4.
	resultBytes, ok := memory.Read(q+4, resultLen)
	if !ok {
		return "", fragerrors.NewMemoryError(fragmentID, "result payload out of bounds", nil)
	}

	// Step 9: decode as MessagePack; the decoded value is a UTF-8 string.
	var result string
	if err := msgpack.Unmarshal(resultBytes, &result); err != nil {
		return "", fragerrors.NewCodecError("failed to decode result", err)
	}

	return result, nil
}

// packArguments encodes each argument independently to MessagePack (named
// mode for maps) and assembles the 4-byte-aligned, length-prefixed
// argument block the guest expects: each encoded argument is padded to
// the next 4-byte boundary, then written as a little-endian u32 length
// followed by its payload.
func packArguments(parameters []any) ([]byte, int, error) {
	var buf []byte

	for _, arg := range parameters {
		encoded, err := encodeNamed(arg)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding argument: %w", err)
		}

		// Pad the current buffer to the next 4-byte boundary.
		for len(buf)%4 != 0 {
			buf = append(buf, 0)
		}

		lengthPrefix := make([]byte, 4)
		binary.LittleEndian.PutUint32(lengthPrefix, uint32(len(encoded)))
		buf = append(buf, lengthPrefix...)
		buf = append(buf, encoded...)
	}

	return buf, len(parameters), nil
}

// encodeNamed encodes v to msgpack in "named" mode: maps keep their string
// keys (msgpack's default map encoding, as opposed to encoding a struct
// positionally as an array). Values arrive as the `any` result of decoding
// a request envelope's `parameters` field with encoding/json, so they are
// plain maps/slices/scalars with numbers carried as json.Number. Integers
// take their smallest msgpack form (10 encodes as the fixint 0x0a).
func encodeNamed(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(coerceNumbers(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// coerceNumbers rewrites json.Number values, including those nested in
// maps and slices, into int64/uint64 (float64 only for fractional or
// exponent forms) so whole JSON numbers encode as msgpack integers.
// The guest deserializes each argument against a concrete integer type,
// which rejects a msgpack double; encoding 10 as a float would trap the
// call before the fragment function ever runs.
func coerceNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return u
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = coerceNumbers(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = coerceNumbers(e)
		}
		return out
	default:
		return v
	}
}
