package interp

import (
	"sort"

	"github.com/wippyai/wasm2env/wasm"
)

// loopWrites maps the instruction index of every loop to the locals
// written anywhere inside it, nested loops included. One linear pass.
func loopWrites(instrs []wasm.Instruction) map[int][]uint32 {
	type open struct {
		writes map[uint32]struct{}
		idx    int
	}
	var ctl []*open // one entry per structured instruction; nil for non-loops
	var loops []*open
	out := make(map[int][]uint32)

	closeLoop := func(l *open) {
		ws := make([]uint32, 0, len(l.writes))
		for w := range l.writes {
			ws = append(ws, w)
		}
		sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
		out[l.idx] = ws
	}

	for i := range instrs {
		switch instrs[i].Opcode {
		case wasm.OpBlock, wasm.OpIf, wasm.OpTry, wasm.OpTryTable:
			ctl = append(ctl, nil)
		case wasm.OpLoop:
			l := &open{idx: i, writes: make(map[uint32]struct{})}
			ctl = append(ctl, l)
			loops = append(loops, l)
		case wasm.OpLocalSet, wasm.OpLocalTee:
			if len(loops) > 0 {
				idx := instrs[i].Imm.(wasm.LocalImm).LocalIdx
				loops[len(loops)-1].writes[idx] = struct{}{}
			}
		case wasm.OpEnd, wasm.OpDelegate:
			if len(ctl) == 0 {
				continue
			}
			l := ctl[len(ctl)-1]
			ctl = ctl[:len(ctl)-1]
			if l == nil {
				continue
			}
			loops = loops[:len(loops)-1]
			closeLoop(l)
			if len(loops) > 0 {
				parent := loops[len(loops)-1]
				for w := range l.writes {
					parent.writes[w] = struct{}{}
				}
			}
		}
	}

	// Loops left open by a body that failed to decode
	for len(loops) > 0 {
		l := loops[len(loops)-1]
		loops = loops[:len(loops)-1]
		closeLoop(l)
		if len(loops) > 0 {
			for w := range l.writes {
				loops[len(loops)-1].writes[w] = struct{}{}
			}
		}
	}
	return out
}
