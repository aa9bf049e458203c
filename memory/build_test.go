package memory_test

import (
	"testing"
	"time"

	"github.com/wippyai/wasm2env/internal/wasmtest"
	"github.com/wippyai/wasm2env/interp"
	"github.com/wippyai/wasm2env/memory"
	"github.com/wippyai/wasm2env/wasm"
)

func TestBuildAppliesSegmentsInOrder(t *testing.T) {
	b := wasmtest.New()
	b.Memory(1)
	b.Data(0, []byte("DATABASE_URL"))
	b.Data(0, []byte("REDIS"))
	b.PassiveData([]byte("PASSIVE_KEY"))

	s := memory.Build(b.Parse())
	got, ok := s.Image.Read(0, 12)
	if !ok || string(got) != "REDISASE_URL" {
		t.Errorf("image = %q, %v", got, ok)
	}
	if len(s.Segments) != 3 || !s.Segments[2].Passive || s.Segments[2].Applied {
		t.Errorf("segments = %+v", s.Segments)
	}
	if s.Unapplied() != 0 {
		t.Errorf("Unapplied = %d", s.Unapplied())
	}
}

func TestBuildImportedGlobalOffsetNotApplied(t *testing.T) {
	b := wasmtest.New()
	base := b.ImportGlobal("env", "__memory_base", wasm.ValI32, false)
	b.Memory(1)
	b.DataExpr(wasmtest.GlobalExpr(base), []byte("SECRET_KEY"))

	s := memory.Build(b.Parse())
	if s.Image.Size() != 0 {
		t.Errorf("unresolved segment was applied: %d bytes", s.Image.Size())
	}
	if s.Unapplied() != 1 || s.Segments[0].Reason == "" {
		t.Errorf("segments = %+v", s.Segments)
	}
}

func TestBuildResolvesGlobals(t *testing.T) {
	b := wasmtest.New()
	imp := b.ImportGlobal("env", "g", wasm.ValI32, false)
	c := b.Global(wasm.ValI32, false, wasmtest.I32Expr(1024))
	ref := b.Global(wasm.ValI32, false, wasmtest.GlobalExpr(c))
	mut := b.Global(wasm.ValI32, true, wasmtest.I32Expr(7))
	wide := b.Global(wasm.ValI64, false, wasmtest.I64Expr(-5))
	fromImp := b.Global(wasm.ValI32, false, wasmtest.GlobalExpr(imp))
	b.Memory(1)
	b.DataExpr(wasmtest.GlobalExpr(ref), []byte("X"))

	s := memory.Build(b.Parse())
	g := s.Globals

	tests := []struct {
		name string
		idx  uint32
		want interp.Value
	}{
		{"import", imp, interp.Unknown},
		{"literal", c, interp.I32(1024)},
		{"reference", ref, interp.I32(1024)},
		{"mutable", mut, interp.Unknown},
		{"i64", wide, interp.I64(-5)},
		{"from import", fromImp, interp.Unknown},
		{"out of range", 99, interp.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.Const(tt.idx); got != tt.want {
				t.Errorf("Const(%d) = %v, want %v", tt.idx, got, tt.want)
			}
		})
	}
	if got := g.Initial(mut); got != interp.I32(7) {
		t.Errorf("Initial(mutable) = %v", got)
	}
	if consts := g.Consts(); len(consts) != g.Len() || consts[mut] != interp.Unknown {
		t.Errorf("Consts = %v", consts)
	}
	if ch, ok := s.Image.ByteAt(1024); !ok || ch != 'X' {
		t.Error("segment at a global-derived offset was not applied")
	}
}

func TestEvalConstExprExtended(t *testing.T) {
	expr := wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 4096}},
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: 16}},
		{Opcode: wasm.OpI32Add},
		{Opcode: wasm.OpEnd},
	})
	if got := memory.EvalConstExpr(expr, &memory.Globals{}, 0); got != interp.I32(4112) {
		t.Errorf("got %v", got)
	}

	// Forward references never resolve.
	if got := memory.EvalConstExpr(wasmtest.GlobalExpr(0), &memory.Globals{}, 0); got != interp.Unknown {
		t.Errorf("forward reference = %v", got)
	}
	if got := memory.EvalConstExpr([]byte{0xFF}, &memory.Globals{}, 0); got != interp.Unknown {
		t.Errorf("garbage = %v", got)
	}
}

func TestBuildOtherMemoryNotApplied(t *testing.T) {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1}}, {Limits: wasm.Limits{Min: 1}}},
		Data: []wasm.DataSegment{{
			Flags:  2,
			MemIdx: 1,
			Offset: wasmtest.I32Expr(0),
			Init:   []byte("OTHER_MEMORY"),
		}},
	}
	s := memory.Build(m)
	if s.Image.Size() != 0 || s.Unapplied() != 1 {
		t.Errorf("segment for memory 1 applied: size=%d", s.Image.Size())
	}
}

func TestBuildManySegments(t *testing.T) {
	const n = 50000
	b := wasmtest.New()
	b.Memory(1)
	for i := n - 1; i >= 0; i-- {
		b.Data(int32(i), []byte{'K'})
	}
	m := b.Parse()

	start := time.Now()
	s := memory.Build(m)
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("Build of %d segments took %v", n, d)
	}
	if s.Image.Size() != n || s.Unapplied() != 0 {
		t.Errorf("Size = %d, Unapplied = %d", s.Image.Size(), s.Unapplied())
	}
	if c, ok := s.Image.ByteAt(n - 1); !ok || c != 'K' {
		t.Errorf("ByteAt(%d) = %q, %v", n-1, c, ok)
	}
}
