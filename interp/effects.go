package interp

import "github.com/wippyai/wasm2env/wasm"

// effect is the stack arity of an instruction whose result is never
// tracked: it pops pop values and pushes push Unknowns.
type effect struct {
	pop, push int8
	known     bool
}

// effects covers every single-byte opcode that needs no special handling.
// Opcodes absent from the table and from the interpreter's switch fall
// back to a depth-preserving reset.
var effects = buildEffects()

func buildEffects() [256]effect {
	var t [256]effect
	set := func(lo, hi byte, pop, push int8) {
		for op := int(lo); op <= int(hi); op++ {
			t[op] = effect{pop: pop, push: push, known: true}
		}
	}

	set(wasm.OpNop, wasm.OpNop, 0, 0)
	set(wasm.OpGlobalSet, wasm.OpGlobalSet, 1, 0)
	set(wasm.OpTableGet, wasm.OpTableGet, 1, 1)
	set(wasm.OpTableSet, wasm.OpTableSet, 2, 0)

	set(wasm.OpI32Load, wasm.OpI64Load32U, 1, 1)
	set(wasm.OpI32Store, wasm.OpI64Store32, 2, 0)
	set(wasm.OpMemorySize, wasm.OpMemorySize, 0, 1)
	set(wasm.OpMemoryGrow, wasm.OpMemoryGrow, 1, 1)

	// Floats are not tracked
	set(wasm.OpF32Const, wasm.OpF64Const, 0, 1)

	set(wasm.OpI32Eqz, wasm.OpI32Eqz, 1, 1)
	set(wasm.OpI32Eq, wasm.OpI32GeU, 2, 1)
	set(wasm.OpI64Eqz, wasm.OpI64Eqz, 1, 1)
	set(wasm.OpI64Eq, wasm.OpI64GeU, 2, 1)
	set(wasm.OpF32Eq, wasm.OpF64Ge, 2, 1)

	set(wasm.OpI32Clz, wasm.OpI32Popcnt, 1, 1)
	set(wasm.OpI32Add, wasm.OpI32Rotr, 2, 1)
	set(wasm.OpI64Clz, wasm.OpI64Popcnt, 1, 1)
	set(wasm.OpI64Add, wasm.OpI64Rotr, 2, 1)
	set(wasm.OpF32Abs, wasm.OpF32Sqrt, 1, 1)
	set(wasm.OpF32Add, wasm.OpF32Copysign, 2, 1)
	set(wasm.OpF64Abs, wasm.OpF64Sqrt, 1, 1)
	set(wasm.OpF64Add, wasm.OpF64Copysign, 2, 1)

	set(wasm.OpI32WrapI64, wasm.OpF64ReinterpretI64, 1, 1)
	set(wasm.OpI32Extend8S, wasm.OpI64Extend32S, 1, 1)

	set(wasm.OpRefNull, wasm.OpRefNull, 0, 1)
	set(wasm.OpRefIsNull, wasm.OpRefIsNull, 1, 1)
	set(wasm.OpRefFunc, wasm.OpRefFunc, 0, 1)
	set(wasm.OpRefAsNonNull, wasm.OpRefAsNonNull, 1, 1)
	set(wasm.OpRefEq, wasm.OpRefEq, 2, 1)
	return t
}

// miscEffect returns the arity of a 0xFC instruction.
func miscEffect(sub uint32) (effect, bool) {
	switch sub {
	case wasm.MiscI32TruncSatF32S, wasm.MiscI32TruncSatF32U, wasm.MiscI32TruncSatF64S, wasm.MiscI32TruncSatF64U,
		wasm.MiscI64TruncSatF32S, wasm.MiscI64TruncSatF32U, wasm.MiscI64TruncSatF64S, wasm.MiscI64TruncSatF64U:
		return effect{pop: 1, push: 1, known: true}, true
	case wasm.MiscMemoryInit, wasm.MiscMemoryCopy, wasm.MiscMemoryFill,
		wasm.MiscTableInit, wasm.MiscTableCopy, wasm.MiscTableFill:
		return effect{pop: 3, known: true}, true
	case wasm.MiscDataDrop, wasm.MiscElemDrop:
		return effect{known: true}, true
	case wasm.MiscTableGrow:
		return effect{pop: 2, push: 1, known: true}, true
	case wasm.MiscTableSize:
		return effect{push: 1, known: true}, true
	case wasm.MiscMemoryDiscard:
		return effect{pop: 2, known: true}, true
	}
	return effect{}, false
}
