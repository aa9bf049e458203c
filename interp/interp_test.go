package interp_test

import (
	"errors"
	"math"
	"testing"

	"github.com/wippyai/wasm2env/internal/wasmtest"
	"github.com/wippyai/wasm2env/interp"
	"github.com/wippyai/wasm2env/wasm"
)

var (
	i32  = []wasm.ValType{wasm.ValI32}
	pair = []wasm.ValType{wasm.ValI32, wasm.ValI32}
)

// fixture builds a module importing env.getenv(i32, i32) as function 0
// and defining one function of type (i32) -> () with two extra i32 locals.
func fixture(code *wasmtest.Code) (*wasm.Module, uint32) {
	b := wasmtest.New()
	getenv := b.Type(pair, nil)
	b.ImportFunc("env", "getenv", getenv)
	produce := b.Type(nil, i32)
	b.ImportFunc("env", "produce", produce)
	b.Memory(1)
	fn := b.Func(b.Type(i32, nil), []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI32}}, code)
	return b.Parse(), fn
}

func analyze(m *wasm.Module, idx uint32, opts interp.Options) interp.Result {
	body := &m.Code[int(idx)-m.NumImportedFuncs()]
	return interp.Analyze(m, interp.Function{Index: idx, Type: m.GetFuncType(idx), Body: body}, opts)
}

func run(t *testing.T, code *wasmtest.Code) interp.Result {
	t.Helper()
	m, fn := fixture(code)
	res := analyze(m, fn, interp.Options{})
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	return res
}

func wantArgs(t *testing.T, res interp.Result, call int, want ...interp.Value) {
	t.Helper()
	if call >= len(res.Calls) {
		t.Fatalf("only %d calls recorded, want call %d", len(res.Calls), call)
	}
	got := res.Calls[call].Args
	if len(got) != len(want) {
		t.Fatalf("call %d args = %v, want %v", call, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d arg %d = %v, want %v", call, i, got[i], want[i])
		}
	}
}

func TestAnalyzeDirectCall(t *testing.T) {
	res := run(t, wasmtest.NewCode().I32(1024).I32(12).Call(0))

	wantArgs(t, res, 0, interp.I32(1024), interp.I32(12))
	c := res.Calls[0]
	if !c.Direct || c.Callee != 0 || c.Caller != 2 {
		t.Errorf("call site = %+v", c)
	}
	if c.Offset <= 0 {
		t.Errorf("offset = %d", c.Offset)
	}
	if res.Instructions != 4 {
		t.Errorf("instructions = %d", res.Instructions)
	}
}

func TestAnalyzeLocals(t *testing.T) {
	tests := []struct {
		name string
		code *wasmtest.Code
		want []interp.Value
	}{
		{
			"set and get",
			wasmtest.NewCode().I32(100).LocalSet(1).LocalGet(1).I32(12).Call(0),
			[]interp.Value{interp.I32(100), interp.I32(12)},
		},
		{
			"tee keeps value on stack",
			wasmtest.NewCode().I32(100).LocalTee(1).LocalGet(1).Call(0),
			[]interp.Value{interp.I32(100), interp.I32(100)},
		},
		{
			"parameter is unknown",
			wasmtest.NewCode().LocalGet(0).I32(3).Call(0),
			[]interp.Value{interp.Unknown, interp.I32(3)},
		},
		{
			"overwritten by unknown",
			wasmtest.NewCode().I32(100).LocalSet(1).LocalGet(0).LocalSet(1).LocalGet(1).I32(3).Call(0),
			[]interp.Value{interp.Unknown, interp.I32(3)},
		},
		{
			"folded address",
			wasmtest.NewCode().I32(1000).I32(24).Op(wasm.OpI32Add).I32(5).Call(0),
			[]interp.Value{interp.I32(1024), interp.I32(5)},
		},
		{
			"folding wraps",
			wasmtest.NewCode().I32(math.MaxInt32).I32(1).Op(wasm.OpI32Add).I32(5).Call(0),
			[]interp.Value{interp.I32(math.MinInt32), interp.I32(5)},
		},
		{
			"wrapped i64",
			wasmtest.NewCode().I64(1<<32 + 64).Op(wasm.OpI32WrapI64).I32(5).Call(0),
			[]interp.Value{interp.I32(64), interp.I32(5)},
		},
		{
			"untracked arithmetic",
			wasmtest.NewCode().I32(64).I32(2).Op(wasm.OpI32Shl).I32(5).Call(0),
			[]interp.Value{interp.Unknown, interp.I32(5)},
		},
		{
			"memory load is unknown",
			wasmtest.NewCode().I32(8).Load(wasm.OpI32Load, 0).I32(5).Call(0),
			[]interp.Value{interp.Unknown, interp.I32(5)},
		},
		{
			"select of equal constants",
			wasmtest.NewCode().I32(9).I32(9).LocalGet(0).Op(wasm.OpSelect).I32(5).Call(0),
			[]interp.Value{interp.I32(9), interp.I32(5)},
		},
		{
			"select of different constants",
			wasmtest.NewCode().I32(9).I32(10).LocalGet(0).Op(wasm.OpSelect).I32(5).Call(0),
			[]interp.Value{interp.Unknown, interp.I32(5)},
		},
		{
			"call result is unknown",
			wasmtest.NewCode().Call(1).I32(5).Call(0),
			[]interp.Value{interp.Unknown, interp.I32(5)},
		},
		{
			"empty stack",
			wasmtest.NewCode().Call(0),
			[]interp.Value{interp.Unknown, interp.Unknown},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := run(t, tt.code)
			last := len(res.Calls) - 1
			if last < 0 {
				t.Fatal("no calls recorded")
			}
			wantArgs(t, res, last, tt.want...)
		})
	}
}

func TestAnalyzeIfElse(t *testing.T) {
	arms := func(a, b int32) *wasmtest.Code {
		return wasmtest.NewCode().
			LocalGet(0).If(wasm.BlockTypeVoid).
			I32(a).LocalSet(1).
			Else().
			I32(b).LocalSet(1).
			End().
			LocalGet(1).I32(5).Call(0)
	}

	wantArgs(t, run(t, arms(100, 100)), 0, interp.I32(100), interp.I32(5))
	wantArgs(t, run(t, arms(100, 200)), 0, interp.Unknown, interp.I32(5))
}

func TestAnalyzeIfWithoutElse(t *testing.T) {
	touched := wasmtest.NewCode().
		I32(100).LocalSet(1).
		LocalGet(0).If(wasm.BlockTypeVoid).I32(200).LocalSet(1).End().
		LocalGet(1).I32(5).Call(0)
	wantArgs(t, run(t, touched), 0, interp.Unknown, interp.I32(5))

	untouched := wasmtest.NewCode().
		I32(100).LocalSet(1).
		LocalGet(0).If(wasm.BlockTypeVoid).I32(200).LocalSet(2).End().
		LocalGet(1).I32(5).Call(0)
	wantArgs(t, run(t, untouched), 0, interp.I32(100), interp.I32(5))
}

func TestAnalyzeIfResult(t *testing.T) {
	code := wasmtest.NewCode().
		LocalGet(0).If(wasm.BlockTypeI32).I32(64).Else().I32(64).End().
		I32(5).Call(0)
	wantArgs(t, run(t, code), 0, interp.I32(64), interp.I32(5))
}

func TestAnalyzeBlockBranchResult(t *testing.T) {
	code := wasmtest.NewCode().
		Block(wasm.BlockTypeI32).
		I32(7).LocalGet(0).BrIf(0).
		Drop().I32(7).
		End().
		I32(1).Call(0)
	wantArgs(t, run(t, code), 0, interp.I32(7), interp.I32(1))

	differ := wasmtest.NewCode().
		Block(wasm.BlockTypeI32).
		I32(7).LocalGet(0).BrIf(0).
		Drop().I32(8).
		End().
		I32(1).Call(0)
	wantArgs(t, run(t, differ), 0, interp.Unknown, interp.I32(1))
}

func TestAnalyzeBranchMergesLocals(t *testing.T) {
	code := wasmtest.NewCode().
		I32(100).LocalSet(1).
		Block(wasm.BlockTypeVoid).
		LocalGet(0).BrIf(0).
		I32(200).LocalSet(1).
		End().
		LocalGet(1).I32(5).Call(0)
	wantArgs(t, run(t, code), 0, interp.Unknown, interp.I32(5))
}

func TestAnalyzeUnreachableSkipped(t *testing.T) {
	code := wasmtest.NewCode().
		Block(wasm.BlockTypeVoid).
		Br(0).
		I32(1).I32(2).Call(0).
		End().
		I32(3).I32(4).Call(0)
	res := run(t, code)
	if len(res.Calls) != 1 {
		t.Fatalf("calls = %+v", res.Calls)
	}
	wantArgs(t, res, 0, interp.I32(3), interp.I32(4))
}

func TestAnalyzeUnreachableAfterReturn(t *testing.T) {
	code := wasmtest.NewCode().
		LocalGet(0).If(wasm.BlockTypeVoid).
		I32(100).LocalSet(1).Return().
		Else().
		I32(200).LocalSet(1).
		End().
		LocalGet(1).I32(5).Call(0)
	// Only the else arm reaches the call.
	wantArgs(t, run(t, code), 0, interp.I32(200), interp.I32(5))
}

func TestAnalyzeLoop(t *testing.T) {
	code := wasmtest.NewCode().
		I32(100).LocalSet(1).
		I32(300).LocalSet(2).
		Loop(wasm.BlockTypeVoid).
		LocalGet(1).LocalGet(2).Call(0).
		I32(200).LocalSet(1).
		LocalGet(0).BrIf(0).
		End().
		LocalGet(1).I32(5).Call(0)
	res := run(t, code)
	if len(res.Calls) != 2 {
		t.Fatalf("calls = %+v", res.Calls)
	}
	// Local 1 is written inside the loop; local 2 is not.
	wantArgs(t, res, 0, interp.Unknown, interp.I32(300))
	wantArgs(t, res, 1, interp.I32(200), interp.I32(5))
}

func TestAnalyzeBrTable(t *testing.T) {
	code := wasmtest.NewCode().
		I32(100).LocalSet(1).
		Block(wasm.BlockTypeVoid).
		Block(wasm.BlockTypeVoid).
		LocalGet(0).BrTable(1, 0).
		End().
		I32(200).LocalSet(1).
		End().
		LocalGet(1).I32(5).Call(0)
	wantArgs(t, run(t, code), 0, interp.Unknown, interp.I32(5))
}

func TestAnalyzeTryCatch(t *testing.T) {
	code := wasmtest.NewCode().
		I32(100).LocalSet(1).
		Instr(wasm.OpTry, wasm.BlockImm{Type: wasm.BlockTypeVoid}).
		I32(100).LocalSet(1).
		Instr(wasm.OpCatchAll, nil).
		End().
		LocalGet(1).I32(5).Call(0)
	// A handler can start from any point of the body.
	wantArgs(t, run(t, code), 0, interp.Unknown, interp.I32(5))
}

func TestAnalyzeCallIndirect(t *testing.T) {
	b := wasmtest.New()
	getenv := b.Type(pair, nil)
	b.ImportFunc("env", "getenv", getenv)
	b.Memory(1)
	fn := b.Func(b.Type(nil, nil), nil,
		wasmtest.NewCode().I32(64).I32(3).I32(0).CallIndirect(getenv))
	m := b.Parse()

	res := analyze(m, fn, interp.Options{})
	wantArgs(t, res, 0, interp.I32(64), interp.I32(3))
	c := res.Calls[0]
	if c.Direct || c.TypeIdx != getenv {
		t.Errorf("call site = %+v", c)
	}
}

func TestAnalyzeUnresolvableCallee(t *testing.T) {
	code := wasmtest.NewCode().
		I32(64).I32(3).
		Call(99).
		I32(5).I32(6).Call(0)
	res := run(t, code)
	if len(res.Calls) != 1 {
		t.Fatalf("calls = %+v", res.Calls)
	}
	wantArgs(t, res, 0, interp.I32(5), interp.I32(6))
}

func TestAnalyzeUnknownPrefixResets(t *testing.T) {
	// An atomic instruction is not modeled: everything below it is forgotten.
	code := wasmtest.NewCode().
		I32(64).I32(3).
		Prefixed(wasm.OpPrefixAtomic, 0x03, 0x00).
		Call(0)
	wantArgs(t, run(t, code), 0, interp.Unknown, interp.Unknown)
}

func TestAnalyzeMemoryCopyArity(t *testing.T) {
	code := wasmtest.NewCode().
		I32(64).
		I32(0).I32(0).I32(0).
		Prefixed(wasm.OpPrefixMisc, wasm.MiscMemoryCopy, 0x00, 0x00).
		I32(5).Call(0)
	wantArgs(t, run(t, code), 0, interp.I32(64), interp.I32(5))
}

func TestAnalyzeGlobals(t *testing.T) {
	m, fn := fixture(wasmtest.NewCode().GlobalGet(0).GlobalGet(1).Call(0))
	res := analyze(m, fn, interp.Options{Globals: []interp.Value{interp.I32(1024)}})
	wantArgs(t, res, 0, interp.I32(1024), interp.Unknown)
}

func TestAnalyzeInstructionCap(t *testing.T) {
	m, fn := fixture(wasmtest.NewCode().I32(1).I32(2).Call(0))
	res := analyze(m, fn, interp.Options{MaxInstructions: 2})
	if !res.Capped || res.Instructions != 2 || len(res.Calls) != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestAnalyzeDecodeErrorKeepsPrefix(t *testing.T) {
	m, fn := fixture(wasmtest.NewCode().I32(1).I32(2).Call(0).Raw(0x27))
	res := analyze(m, fn, interp.Options{})

	var de *wasm.DecodeError
	if !errors.As(res.Err, &de) || de.Opcode != 0x27 {
		t.Fatalf("err = %v", res.Err)
	}
	wantArgs(t, res, 0, interp.I32(1), interp.I32(2))
}

func TestAnalyzeNilBody(t *testing.T) {
	res := interp.Analyze(&wasm.Module{}, interp.Function{}, interp.Options{})
	if res.Err != nil || len(res.Calls) != 0 {
		t.Errorf("result = %+v", res)
	}
}
