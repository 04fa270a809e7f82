package sandbox

import (
	"encoding/binary"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// registerImports builds the nine-call host surface under the "env"
// namespace. Byte-producing calls return only a length; the guest allocates
// a buffer and fetches the payload with load, so the host never retains
// guest pointers across calls.
func (h *Host) registerImports(store *wasmer.Store) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()

	i32 := wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32))
	i32i32 := wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32))
	i32x4 := wasmer.NewValueTypes(
		wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32),
		wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32),
	)
	none := wasmer.NewValueTypes()

	read := func(ptr, ln int32) []byte {
		data := h.memory.Data()
		out := make([]byte, ln)
		copy(out, data[ptr:int(ptr)+int(ln)])
		return out
	}
	write := func(ptr int32, b []byte) {
		copy(h.memory.Data()[ptr:], b)
	}
	readLengthPrefixed := func(ptr int32) []byte {
		data := h.memory.Data()
		length := binary.LittleEndian.Uint32(data[ptr : int(ptr)+lengthPrefixSize])
		return read(ptr+lengthPrefixSize, int32(length))
	}

	height := wasmer.NewFunction(store, wasmer.NewFunctionType(none, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			return []wasmer.Value{wasmer.NewI32(int32(h.curHeight))}, nil
		},
	)

	blockHash := wasmer.NewFunction(store, wasmer.NewFunctionType(none, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			h.deferred = h.curHash
			return []wasmer.Value{wasmer.NewI32(int32(len(h.deferred)))}, nil
		},
	)

	view := wasmer.NewFunction(store, wasmer.NewFunctionType(i32x4, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			namePtr, nameLen := args[0].I32(), args[1].I32()
			inputPtr, inputLen := args[2].I32(), args[3].I32()
			name := string(read(namePtr, nameLen))
			input := read(inputPtr, inputLen)

			atHeight := h.curHeight
			result, err := h.client.CallView(h.ctx, name, input, &atHeight)
			if err != nil {
				h.callErr = err
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.deferred = result
			return []wasmer.Value{wasmer.NewI32(int32(len(result)))}, nil
		},
	)

	load := wasmer.NewFunction(store, wasmer.NewFunctionType(i32, none),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			write(args[0].I32(), h.deferred)
			h.deferred = nil
			return []wasmer.Value{}, nil
		},
	)

	stdout := wasmer.NewFunction(store, wasmer.NewFunctionType(i32, none),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			h.logger.WithField("component", "transform-stdout").Info(string(readLengthPrefixed(args[0].I32())))
			return []wasmer.Value{}, nil
		},
	)

	stderr := wasmer.NewFunction(store, wasmer.NewFunctionType(i32, none),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			h.logger.WithField("component", "transform-stderr").Warn(string(readLengthPrefixed(args[0].I32())))
			return []wasmer.Value{}, nil
		},
	)

	getState := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key := read(args[0].I32(), args[1].I32())
			val, ok := h.state.Get(key)
			if !ok {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			h.deferred = val
			return []wasmer.Value{wasmer.NewI32(int32(len(val)))}, nil
		},
	)

	setState := wasmer.NewFunction(store, wasmer.NewFunctionType(i32x4, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key := read(args[0].I32(), args[1].I32())
			val := read(args[2].I32(), args[3].I32())
			h.state.Set(key, val)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	deleteState := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			key := read(args[0].I32(), args[1].I32())
			h.state.Delete(key)
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		},
	)

	imports.Register("env", map[string]wasmer.IntoExtern{
		"height":       height,
		"block_hash":   blockHash,
		"view":         view,
		"load":         load,
		"stdout":       stdout,
		"stderr":       stderr,
		"get_state":    getState,
		"set_state":    setState,
		"delete_state": deleteState,
	})

	return imports
}
