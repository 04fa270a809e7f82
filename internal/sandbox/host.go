// Package sandbox implements the transform host: it loads a single
// sandboxed artifact, exposes the host-call surface the artifact imports,
// and runs its process_block/rollback entry points deterministically. The
// guest sees no wall clock, no randomness, and no upstream state beyond
// what the host calls pin to the block being processed.
package sandbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"

	"cdcbridge/internal/upstream"
	"cdcbridge/pkg/cdc"
)

// lengthPrefixSize is the width of the little-endian length header preceding
// every byte-carrying value crossing the host/guest boundary.
const lengthPrefixSize = 4

// wasmPageSize is the WebAssembly linear-memory page size in bytes.
const wasmPageSize = 64 * 1024

// Limits bounds the sandbox's resource consumption. A breach surfaces
// ErrResourceExhausted, which the driver treats the same as ErrFault.
type Limits struct {
	// MaxMemoryPages caps the guest's linear memory, in 64 KiB pages.
	// Zero means "use the Wasmer engine default".
	MaxMemoryPages uint32
}

// Host runs one loaded transform artifact. It is not safe for concurrent
// entry-point invocation: the guest declares a single module-scope instance
// and the driver must serialise calls into it.
type Host struct {
	client upstream.Client
	state  *cdc.TransformState
	logger *logrus.Logger
	limits Limits

	engine *wasmer.Engine
	store  *wasmer.Store
	module guestModule
	memory *wasmer.Memory

	ctx       context.Context
	curHeight uint32
	curHash   []byte
	deferred  []byte
	callErr   error

	lastHeight    uint32
	heightTracked bool
}

// New returns a Host with no artifact loaded yet. state is the canonical
// TransformState the host mutates via get_state/set_state/delete_state;
// callers restore it from a cache snapshot before re-entry following a
// rollback.
func New(client upstream.Client, state *cdc.TransformState, logger *logrus.Logger, limits Limits) *Host {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Host{client: client, state: state, logger: logger, limits: limits}
}

// Load compiles and instantiates artifact, resolving its imports against
// the host-call surface and locating its exported "memory". Load may be
// called again to hot-swap the artifact; a prior instance is discarded.
func (h *Host) Load(artifact []byte) error {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)

	mod, err := wasmer.NewModule(store, artifact)
	if err != nil {
		return fmt.Errorf("sandbox: compile artifact: %w", err)
	}

	imports := h.registerImports(store)
	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return fmt.Errorf("sandbox: instantiate artifact: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return fmt.Errorf("sandbox: artifact does not export memory: %w", err)
	}
	if h.limits.MaxMemoryPages > 0 && uint32(mem.Size()) > h.limits.MaxMemoryPages {
		return fmt.Errorf("sandbox: %w: artifact declares %d pages, limit %d", ErrResourceExhausted, uint32(mem.Size()), h.limits.MaxMemoryPages)
	}

	h.engine = engine
	h.store = store
	h.memory = mem
	h.module = &wasmerModule{instance: instance, memory: mem}
	return nil
}

// ProcessBlock invokes the artifact's process_block entry point with
// height() and block_hash() pinned to (height, hash).
func (h *Host) ProcessBlock(ctx context.Context, height uint32, hash []byte) (cdc.Batch, error) {
	return h.invoke(ctx, "process_block", height, hash)
}

// Rollback invokes the artifact's rollback entry point with height()
// already pinned to the post-unwind target height.
func (h *Host) Rollback(ctx context.Context, targetHeight uint32, hash []byte) (cdc.Batch, error) {
	return h.invoke(ctx, "rollback", targetHeight, hash)
}

func (h *Host) invoke(ctx context.Context, export string, height uint32, hash []byte) (cdc.Batch, error) {
	if h.module == nil {
		return nil, fmt.Errorf("sandbox: %w: no artifact loaded", ErrFault)
	}
	if export == "process_block" && h.heightTracked && height != h.lastHeight+1 {
		h.logger.WithFields(logrus.Fields{
			"height": height, "last_height": h.lastHeight, "component": "sandbox",
		}).Warn("process_block invoked at non-sequential height")
	}
	h.ctx = ctx
	h.curHeight = height
	h.curHash = hash
	h.deferred = nil
	h.callErr = nil

	ptr, err := h.module.CallExport(export)
	if err != nil {
		return nil, err
	}
	if h.callErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFault, export, h.callErr)
	}
	if err := h.checkMemoryLimit(); err != nil {
		return nil, err
	}
	if ptr < 0 {
		return nil, fmt.Errorf("sandbox: %w: %s returned %d", ErrFault, export, ptr)
	}
	batch, err := h.collectBatch(ptr)
	if err == nil {
		h.lastHeight = height
		h.heightTracked = true
	}
	return batch, err
}

// checkMemoryLimit enforces Limits.MaxMemoryPages after each entry-point
// invocation: growth past the configured cap fails the block with
// ErrResourceExhausted, which the driver treats the same as a fault.
func (h *Host) checkMemoryLimit() error {
	if h.limits.MaxMemoryPages == 0 {
		return nil
	}
	pages := uint32(len(h.module.Memory()) / wasmPageSize)
	if pages > h.limits.MaxMemoryPages {
		return fmt.Errorf("sandbox: %w: memory grew to %d pages, limit %d", ErrResourceExhausted, pages, h.limits.MaxMemoryPages)
	}
	return nil
}

// collectBatch reads a length-prefixed, JSON-serialised cdc.Batch from the
// guest's memory starting at ptr and takes ownership of the decoded copy.
func (h *Host) collectBatch(ptr int32) (cdc.Batch, error) {
	mem := h.module.Memory()
	if int(ptr)+lengthPrefixSize > len(mem) {
		return nil, fmt.Errorf("sandbox: %w: batch pointer out of bounds", ErrFault)
	}
	length := binary.LittleEndian.Uint32(mem[ptr : int(ptr)+lengthPrefixSize])
	start := int(ptr) + lengthPrefixSize
	end := start + int(length)
	if end > len(mem) {
		return nil, fmt.Errorf("sandbox: %w: batch length exceeds memory", ErrFault)
	}
	if length == 0 {
		return cdc.Batch{}, nil
	}

	var batch cdc.Batch
	if err := json.Unmarshal(mem[start:end], &batch); err != nil {
		return nil, fmt.Errorf("sandbox: %w: decode batch: %v", ErrFault, err)
	}
	for i := range batch {
		// A JSON null decodes into a RawMessage holding "null"; treat it as
		// an absent before/after image.
		if string(batch[i].Payload.Before) == "null" {
			batch[i].Payload.Before = nil
		}
		if string(batch[i].Payload.After) == "null" {
			batch[i].Payload.After = nil
		}
		if err := batch[i].Payload.Validate(); err != nil {
			return nil, fmt.Errorf("sandbox: %w: %v", ErrFault, err)
		}
	}
	return batch, nil
}

// Close releases the loaded artifact and its engine. A Host with a nil
// module is idle and Close is a no-op.
func (h *Host) Close() {
	h.module = nil
	h.memory = nil
	h.store = nil
	h.engine = nil
}
