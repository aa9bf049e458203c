package interp

import (
	"fmt"

	"github.com/wippyai/wasm2env/wasm"
)

// Kind tags an abstract value.
type Kind uint8

const (
	KindUnknown Kind = iota // top of the lattice: any value
	KindI32                 // a proven i32 constant
	KindI64                 // a proven i64 constant
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an abstract runtime value. The zero Value is Unknown.
// Constants are only ever produced from literals, constant globals and
// folding of other constants; they are never guessed.
type Value struct {
	bits uint64
	Kind Kind
}

// Unknown is the top element.
var Unknown = Value{}

// I32 returns the constant i32 value v.
func I32(v int32) Value {
	return Value{Kind: KindI32, bits: uint64(uint32(v))}
}

// I64 returns the constant i64 value v.
func I64(v int64) Value {
	return Value{Kind: KindI64, bits: uint64(v)}
}

// IsConst reports whether v is a proven constant.
func (v Value) IsConst() bool {
	return v.Kind != KindUnknown
}

// AsI32 returns the constant when v is a ConstI32.
func (v Value) AsI32() (int32, bool) {
	if v.Kind != KindI32 {
		return 0, false
	}
	return int32(uint32(v.bits)), true
}

// AsI64 returns the constant when v is a ConstI64.
func (v Value) AsI64() (int64, bool) {
	if v.Kind != KindI64 {
		return 0, false
	}
	return int64(v.bits), true
}

func (v Value) String() string {
	switch v.Kind {
	case KindI32:
		return fmt.Sprintf("i32(%d)", int32(uint32(v.bits)))
	case KindI64:
		return fmt.Sprintf("i64(%d)", int64(v.bits))
	default:
		return "unknown"
	}
}

// Meet combines two values reaching the same program point: equal
// constants survive, anything else is Unknown.
func Meet(a, b Value) Value {
	if a.Kind == KindUnknown || a != b {
		return Unknown
	}
	return a
}

// Fold evaluates a binary integer instruction over constant operands with
// the wraparound semantics of its width. Any other combination is Unknown.
func Fold(op byte, a, b Value) Value {
	switch op {
	case wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul:
		x, ok1 := a.AsI32()
		y, ok2 := b.AsI32()
		if !ok1 || !ok2 {
			return Unknown
		}
		switch op {
		case wasm.OpI32Add:
			return I32(x + y)
		case wasm.OpI32Sub:
			return I32(x - y)
		default:
			return I32(x * y)
		}
	case wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul:
		x, ok1 := a.AsI64()
		y, ok2 := b.AsI64()
		if !ok1 || !ok2 {
			return Unknown
		}
		switch op {
		case wasm.OpI64Add:
			return I64(x + y)
		case wasm.OpI64Sub:
			return I64(x - y)
		default:
			return I64(x * y)
		}
	}
	return Unknown
}

// Convert evaluates the integer width conversions i32.wrap_i64,
// i64.extend_i32_s and i64.extend_i32_u.
func Convert(op byte, v Value) Value {
	switch op {
	case wasm.OpI32WrapI64:
		if x, ok := v.AsI64(); ok {
			return I32(int32(x))
		}
	case wasm.OpI64ExtendI32S:
		if x, ok := v.AsI32(); ok {
			return I64(int64(x))
		}
	case wasm.OpI64ExtendI32U:
		if x, ok := v.AsI32(); ok {
			return I64(int64(uint32(x)))
		}
	}
	return Unknown
}
