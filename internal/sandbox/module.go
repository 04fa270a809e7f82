package sandbox

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// guestModule abstracts the compiled transform artifact so Host's
// batch-decoding logic (collectBatch) can be unit tested against a fake
// without linking a real Wasmer instance. Production always uses
// wasmerModule.
type guestModule interface {
	// Memory returns the live backing slice of the guest's linear memory.
	// Implementations must return the same backing array across calls so
	// writes performed by host-call closures are visible to later reads.
	Memory() []byte
	// CallExport invokes a zero-argument export returning one i32.
	CallExport(name string) (int32, error)
}

type wasmerModule struct {
	instance *wasmer.Instance
	memory   *wasmer.Memory
}

func (w *wasmerModule) Memory() []byte { return w.memory.Data() }

func (w *wasmerModule) CallExport(name string) (int32, error) {
	fn, err := w.instance.Exports.GetFunction(name)
	if err != nil {
		return 0, fmt.Errorf("%w: export %q missing: %v", ErrFault, name, err)
	}
	res, err := fn()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFault, err)
	}
	ptr, ok := res.(int32)
	if !ok {
		return 0, fmt.Errorf("%w: export %q returned non-i32 result", ErrFault, name)
	}
	return ptr, nil
}
