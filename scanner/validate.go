package scanner

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm2env/errors"
)

// Validator checks that core modules compile under wazero. Compilation
// validates the whole module, which the scanner's own parser does not.
type Validator struct {
	runtime wazero.Runtime
}

// NewValidator creates a validator. Threads are enabled so modules using
// shared memory and atomics are accepted.
func NewValidator(ctx context.Context) *Validator {
	cfg := wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	return &Validator{runtime: wazero.NewRuntimeWithConfig(ctx, cfg)}
}

// Close releases the underlying runtime.
func (v *Validator) Close(ctx context.Context) error {
	return v.runtime.Close(ctx)
}

// Validate parses data like the scanner does and compiles every core
// module. Parse errors are returned unchanged; compile failures are
// errors of kind invalid in the validate phase.
func (v *Validator) Validate(ctx context.Context, data []byte) error {
	units, err := parse(data)
	if err != nil {
		return err
	}
	for _, u := range units {
		compiled, err := v.runtime.CompileModule(ctx, u.data)
		if err != nil {
			return errors.InvalidWasm(u.offset, err)
		}
		if err := compiled.Close(ctx); err != nil {
			return errors.InvalidWasm(u.offset, err)
		}
	}
	return nil
}

// Validate is a one-shot Validator.
func Validate(ctx context.Context, data []byte) error {
	v := NewValidator(ctx)
	defer v.Close(ctx)
	return v.Validate(ctx, data)
}
