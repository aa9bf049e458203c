package memory

import (
	"github.com/wippyai/wasm2env/interp"
	"github.com/wippyai/wasm2env/wasm"
)

// Globals holds the resolved initial value of every global in the module's
// global index space, imports first.
type Globals struct {
	values  []interp.Value
	mutable []bool
}

// Len returns the size of the global index space.
func (g *Globals) Len() int {
	return len(g.values)
}

// Initial returns the value a global holds at instantiation, or Unknown.
func (g *Globals) Initial(idx uint32) interp.Value {
	if int(idx) >= len(g.values) {
		return interp.Unknown
	}
	return g.values[idx]
}

// Const returns the value of an immutable global, or Unknown. Mutable
// globals can change at run time and never resolve.
func (g *Globals) Const(idx uint32) interp.Value {
	if int(idx) >= len(g.values) || g.mutable[idx] {
		return interp.Unknown
	}
	return g.values[idx]
}

// Consts returns the immutable-global table consumed by the interpreter.
func (g *Globals) Consts() []interp.Value {
	out := make([]interp.Value, len(g.values))
	for i := range g.values {
		if !g.mutable[i] {
			out[i] = g.values[i]
		}
	}
	return out
}

// Segment describes what Build did with one data segment.
type Segment struct {
	Reason  string // why an active segment was not applied
	Offset  uint64
	Size    int
	Index   int
	MemIdx  uint32
	Passive bool
	Applied bool
}

// Snapshot is the initial memory model of a module.
type Snapshot struct {
	Image    *Image
	Globals  *Globals
	Segments []Segment
}

// Unapplied returns the number of active segments left out of the image.
func (s *Snapshot) Unapplied() int {
	n := 0
	for _, seg := range s.Segments {
		if !seg.Passive && !seg.Applied {
			n++
		}
	}
	return n
}

// Build resolves globals and applies active data segments for memory 0 in
// declaration order. It never fails: anything it cannot prove constant is
// left Unknown or unapplied.
func Build(m *wasm.Module) *Snapshot {
	g := buildGlobals(m)
	s := &Snapshot{Image: &Image{}, Globals: g}

	for i, d := range m.Data {
		seg := Segment{Index: i, MemIdx: d.MemIdx, Size: len(d.Init), Passive: d.Passive()}
		if seg.Passive {
			s.Segments = append(s.Segments, seg)
			continue
		}

		off, ok := offsetOf(EvalConstExpr(d.Offset, g, uint32(g.Len())))
		switch {
		case !ok:
			seg.Reason = "offset is not a constant"
		case d.MemIdx != 0:
			seg.Offset = off
			seg.Reason = "segment targets a memory other than 0"
		default:
			seg.Offset = off
			seg.Applied = s.Image.Write(off, d.Init)
			if !seg.Applied {
				seg.Reason = "segment wraps the address space"
			}
		}
		s.Segments = append(s.Segments, seg)
	}
	s.Image.settle()
	return s
}

func offsetOf(v interp.Value) (uint64, bool) {
	if x, ok := v.AsI32(); ok {
		return uint64(uint32(x)), true
	}
	if x, ok := v.AsI64(); ok {
		return uint64(x), true
	}
	return 0, false
}

func buildGlobals(m *wasm.Module) *Globals {
	n := m.NumImportedGlobals() + len(m.Globals)
	g := &Globals{
		values:  make([]interp.Value, n),
		mutable: make([]bool, n),
	}

	// Imported globals are supplied by the host and stay Unknown.
	i := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindGlobal {
			continue
		}
		g.mutable[i] = imp.Desc.Global != nil && imp.Desc.Global.Mutable
		i++
	}

	// A defined global may only read globals before it, which makes cycles
	// impossible: a forward reference evaluates to Unknown.
	for j, def := range m.Globals {
		idx := i + j
		g.mutable[idx] = def.Type.Mutable
		g.values[idx] = EvalConstExpr(def.Init, g, uint32(idx))
	}
	return g
}

// EvalConstExpr evaluates a constant expression. global.get resolves only
// immutable globals with index below limit; extended-const add, sub and mul
// fold. Anything else yields Unknown.
func EvalConstExpr(expr []byte, g *Globals, limit uint32) interp.Value {
	instrs, err := wasm.DecodeInstructions(expr, 0)
	if err != nil {
		return interp.Unknown
	}

	var stack []interp.Value
	pop := func() interp.Value {
		if len(stack) == 0 {
			return interp.Unknown
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for _, in := range instrs {
		switch in.Opcode {
		case wasm.OpI32Const:
			stack = append(stack, interp.I32(in.Imm.(wasm.I32Imm).Value))
		case wasm.OpI64Const:
			stack = append(stack, interp.I64(in.Imm.(wasm.I64Imm).Value))
		case wasm.OpGlobalGet:
			idx := in.Imm.(wasm.GlobalImm).GlobalIdx
			if idx < limit {
				stack = append(stack, g.Const(idx))
			} else {
				stack = append(stack, interp.Unknown)
			}
		case wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul,
			wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul:
			b, a := pop(), pop()
			stack = append(stack, interp.Fold(in.Opcode, a, b))
		case wasm.OpEnd:
			if len(stack) != 1 {
				return interp.Unknown
			}
			return stack[0]
		default:
			// Float, reference and vector constants are not tracked.
			stack = append(stack, interp.Unknown)
		}
	}
	return interp.Unknown
}
