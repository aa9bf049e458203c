package interp

import (
	"github.com/wippyai/wasm2env/wasm"
)

// Signatures resolves the parameter counts needed at call sites.
// *wasm.Module implements it.
type Signatures interface {
	GetFuncType(funcIdx uint32) *wasm.FuncType
	TypeAt(typeIdx uint32) *wasm.FuncType
}

// Function is one defined function to simulate.
type Function struct {
	Type  *wasm.FuncType
	Body  *wasm.FuncBody
	Index uint32 // index in the module's function index space
}

// CallSite is the abstract argument list observed at one call instruction.
type CallSite struct {
	Args    []Value // in declaration order: Args[0] is the first parameter
	Offset  int     // absolute offset of the call instruction
	Caller  uint32
	Callee  uint32 // valid when Direct
	TypeIdx uint32 // callee type for indirect calls
	Direct  bool
}

// Options tunes a simulation.
type Options struct {
	// Globals holds the constant value of each immutable global by index.
	Globals []Value
	// MaxInstructions stops the simulation after this many instructions.
	// Zero means no limit.
	MaxInstructions int
}

// Result is the outcome of simulating one function.
type Result struct {
	Err          error // decode failure that ended the simulation early
	Calls        []CallSite
	Instructions int
	Capped       bool // stopped by MaxInstructions
}

type frameKind uint8

const (
	frameFunc frameKind = iota
	frameBlock
	frameLoop
	frameIf
	frameTry
)

type frame struct {
	merged      *branchState
	entryLocals map[uint32]Value
	params      []Value
	height      int
	nResults    int
	kind        frameKind
	sawElse     bool
	unreachable bool // the rest of the current arm cannot execute
	deadEntry   bool // the frame was entered from unreachable code
}

// branchState is the meet of every path reaching a frame's end.
type branchState struct {
	locals  map[uint32]Value
	results []Value
}

type machine struct {
	sigs    Signatures
	globals []Value
	loops   map[int][]uint32
	locals  map[uint32]Value // constant locals only; absence means Unknown
	stack   []Value
	frames  []*frame
	calls   []CallSite
	caller  uint32
}

// Analyze walks a function body once over the abstract domain and returns
// the arguments seen at every call. It never fails: an undecodable opcode
// ends the walk and is reported in Result.Err alongside the call sites
// recorded before it.
//
// Control flow is approximated in a single pass. Paths meeting at the end
// of a block are combined with Meet, the else arm of an if restarts from
// the state at the if, and locals written anywhere inside a loop are
// Unknown from the loop's entry on. Branches back to a loop header add
// nothing, so no fixed-point iteration is needed.
func Analyze(sigs Signatures, fn Function, opts Options) Result {
	var res Result
	if fn.Body == nil {
		return res
	}

	instrs, err := wasm.DecodeInstructions(fn.Body.Code, fn.Body.Offset)
	res.Err = err

	nResults := 0
	if fn.Type != nil {
		nResults = len(fn.Type.Results)
	}

	m := &machine{
		sigs:    sigs,
		globals: opts.Globals,
		loops:   loopWrites(instrs),
		locals:  make(map[uint32]Value),
		caller:  fn.Index,
		frames:  []*frame{{kind: frameFunc, nResults: nResults}},
	}

	for i := range instrs {
		if opts.MaxInstructions > 0 && res.Instructions >= opts.MaxInstructions {
			res.Capped = true
			break
		}
		res.Instructions++
		if done := m.step(i, &instrs[i]); done {
			break
		}
	}

	res.Calls = m.calls
	return res
}

func (m *machine) top() *frame {
	return m.frames[len(m.frames)-1]
}

func (m *machine) push(v Value) {
	m.stack = append(m.stack, v)
}

// pop never reaches below the current frame; values the frame did not
// push are Unknown.
func (m *machine) pop() Value {
	f := m.top()
	if len(m.stack) <= f.height {
		return Unknown
	}
	v := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	return v
}

// popN removes n values and returns them bottom first.
func (m *machine) popN(n int) []Value {
	out := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = m.pop()
	}
	return out
}

// peekN copies the top n values of the current frame, bottom first.
func (m *machine) peekN(n int) []Value {
	out := make([]Value, n)
	avail := len(m.stack) - m.top().height
	for i := 0; i < n && i < avail; i++ {
		out[n-1-i] = m.stack[len(m.stack)-1-i]
	}
	return out
}

// reset forgets every stack value but keeps the depth.
func (m *machine) reset() {
	for i := range m.stack {
		m.stack[i] = Unknown
	}
}

func (m *machine) local(idx uint32) Value {
	return m.locals[idx]
}

func (m *machine) setLocal(idx uint32, v Value) {
	if v.IsConst() {
		m.locals[idx] = v
	} else {
		delete(m.locals, idx)
	}
}

func copyLocals(src map[uint32]Value) map[uint32]Value {
	out := make(map[uint32]Value, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// contribute meets a path's state into a frame's end state.
func contribute(f *frame, locals map[uint32]Value, results []Value) {
	if f.merged == nil {
		f.merged = &branchState{locals: copyLocals(locals), results: append([]Value(nil), results...)}
		return
	}
	for k, v := range f.merged.locals {
		if Meet(v, locals[k]) == Unknown {
			delete(f.merged.locals, k)
		}
	}
	for i := range f.merged.results {
		var r Value
		if i < len(results) {
			r = results[i]
		}
		f.merged.results[i] = Meet(f.merged.results[i], r)
	}
}

// target returns the frame a branch to label l lands on, or nil for a
// branch that leaves the function.
func (m *machine) target(l uint32) *frame {
	if int(l) >= len(m.frames)-1 {
		return nil
	}
	return m.frames[len(m.frames)-1-int(l)]
}

func (m *machine) branch(l uint32) {
	t := m.target(l)
	if t == nil || t.kind == frameLoop {
		return
	}
	contribute(t, m.locals, m.peekN(t.nResults))
}

// branchLossy records a jump whose carried values are not tracked. With
// keepLocals false every local is also treated as Unknown.
func (m *machine) branchLossy(l uint32, keepLocals bool) {
	t := m.target(l)
	if t == nil || t.kind == frameLoop {
		return
	}
	locals := m.locals
	if !keepLocals {
		locals = nil
	}
	contribute(t, locals, make([]Value, t.nResults))
}

func (m *machine) blockArity(imm wasm.BlockImm) (params, results int) {
	switch {
	case imm.Type == wasm.BlockTypeVoid:
		return 0, 0
	case imm.Type < 0:
		return 0, 1
	}
	ft := m.sigs.TypeAt(uint32(imm.Type))
	if ft == nil {
		return 0, 0
	}
	return len(ft.Params), len(ft.Results)
}

func (m *machine) enter(kind frameKind, idx int, imm wasm.BlockImm) {
	nParams, nResults := m.blockArity(imm)
	params := m.popN(nParams)
	f := &frame{kind: kind, height: len(m.stack), nResults: nResults}

	switch kind {
	case frameIf, frameTry:
		f.entryLocals = copyLocals(m.locals)
		f.params = params
	case frameLoop:
		for i := range params {
			params[i] = Unknown
		}
		for _, l := range m.loops[idx] {
			delete(m.locals, l)
		}
	}

	m.frames = append(m.frames, f)
	m.stack = append(m.stack, params...)
}

// end closes the innermost frame and reports whether it was the function's.
func (m *machine) end() bool {
	f := m.top()

	if !f.deadEntry {
		if !f.unreachable {
			contribute(f, m.locals, m.peekN(f.nResults))
		}
		// An if without else falls through with its entry state.
		if f.kind == frameIf && !f.sawElse {
			results := make([]Value, f.nResults)
			if len(f.params) == f.nResults {
				copy(results, f.params)
			}
			contribute(f, f.entryLocals, results)
		}
	}

	m.frames = m.frames[:len(m.frames)-1]
	if len(m.frames) == 0 {
		return true
	}
	if len(m.stack) > f.height {
		m.stack = m.stack[:f.height]
	}

	parent := m.top()
	if f.deadEntry {
		return false
	}
	if f.merged == nil {
		// No path reaches the end of this frame.
		parent.unreachable = true
		return false
	}
	m.locals = f.merged.locals
	m.stack = append(m.stack, f.merged.results...)
	return false
}

// restart begins a new arm of an if or try frame after else or catch.
func (m *machine) restart(locals map[uint32]Value) {
	f := m.top()
	if !f.unreachable && !f.deadEntry {
		contribute(f, m.locals, m.peekN(f.nResults))
	}
	if len(m.stack) > f.height {
		m.stack = m.stack[:f.height]
	}
	f.unreachable = f.deadEntry
	m.locals = locals
}

func (m *machine) call(in *wasm.Instruction, sig *wasm.FuncType, site CallSite) {
	if sig == nil {
		m.reset()
		return
	}
	site.Args = m.popN(len(sig.Params))
	site.Offset = in.Offset
	site.Caller = m.caller
	m.calls = append(m.calls, site)
	for range sig.Results {
		m.push(Unknown)
	}
}

func (m *machine) apply(e effect) {
	for i := 0; i < int(e.pop); i++ {
		m.pop()
	}
	for i := 0; i < int(e.push); i++ {
		m.push(Unknown)
	}
}

// step simulates one instruction and reports whether the function ended.
func (m *machine) step(idx int, in *wasm.Instruction) bool {
	f := m.top()

	if f.unreachable {
		// Only structure matters until the arm ends.
		switch in.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpTry, wasm.OpTryTable:
			m.frames = append(m.frames, &frame{
				kind:        frameBlock,
				height:      len(m.stack),
				unreachable: true,
				deadEntry:   true,
			})
		case wasm.OpElse:
			f.sawElse = true
			m.restart(copyLocals(f.entryLocals))
			m.stack = append(m.stack, f.params...)
		case wasm.OpCatch, wasm.OpCatchAll:
			m.restart(make(map[uint32]Value))
		case wasm.OpEnd, wasm.OpDelegate:
			return m.end()
		}
		return false
	}

	switch in.Opcode {
	case wasm.OpUnreachable, wasm.OpReturn, wasm.OpThrow, wasm.OpThrowRef, wasm.OpRethrow:
		f.unreachable = true

	case wasm.OpBlock:
		m.enter(frameBlock, idx, in.Imm.(wasm.BlockImm))
	case wasm.OpLoop:
		m.enter(frameLoop, idx, in.Imm.(wasm.BlockImm))
	case wasm.OpIf:
		m.pop()
		m.enter(frameIf, idx, in.Imm.(wasm.BlockImm))
	case wasm.OpTry:
		m.enter(frameTry, idx, in.Imm.(wasm.BlockImm))
	case wasm.OpTryTable:
		imm := in.Imm.(wasm.TryTableImm)
		// A throw can reach a handler from any point of the body.
		for _, c := range imm.Catches {
			m.branchLossy(c.LabelIdx, false)
		}
		m.enter(frameBlock, idx, imm.BlockType)

	case wasm.OpElse:
		f.sawElse = true
		m.restart(copyLocals(f.entryLocals))
		m.stack = append(m.stack, f.params...)
	case wasm.OpCatch, wasm.OpCatchAll:
		m.restart(make(map[uint32]Value))
	case wasm.OpEnd, wasm.OpDelegate:
		return m.end()

	case wasm.OpBr:
		m.branch(in.Imm.(wasm.BranchImm).LabelIdx)
		f.unreachable = true
	case wasm.OpBrIf:
		m.pop()
		m.branch(in.Imm.(wasm.BranchImm).LabelIdx)
	case wasm.OpBrTable:
		imm := in.Imm.(wasm.BrTableImm)
		m.pop()
		for _, l := range imm.Labels {
			m.branch(l)
		}
		m.branch(imm.Default)
		f.unreachable = true
	case wasm.OpBrOnNull:
		m.pop()
		m.branchLossy(in.Imm.(wasm.BranchImm).LabelIdx, true)
		m.push(Unknown)
	case wasm.OpBrOnNonNull:
		m.branchLossy(in.Imm.(wasm.BranchImm).LabelIdx, true)
		m.pop()

	case wasm.OpCall, wasm.OpReturnCall:
		callee := in.Imm.(wasm.CallImm).FuncIdx
		m.call(in, m.sigs.GetFuncType(callee), CallSite{Callee: callee, Direct: true})
		if in.Opcode == wasm.OpReturnCall {
			f.unreachable = true
		}
	case wasm.OpCallIndirect, wasm.OpReturnCallIndirect:
		typeIdx := in.Imm.(wasm.CallIndirectImm).TypeIdx
		m.pop() // table slot
		m.call(in, m.sigs.TypeAt(typeIdx), CallSite{TypeIdx: typeIdx})
		if in.Opcode == wasm.OpReturnCallIndirect {
			f.unreachable = true
		}
	case wasm.OpCallRef, wasm.OpReturnCallRef:
		typeIdx := in.Imm.(wasm.CallRefImm).TypeIdx
		m.pop() // function reference
		m.call(in, m.sigs.TypeAt(typeIdx), CallSite{TypeIdx: typeIdx})
		if in.Opcode == wasm.OpReturnCallRef {
			f.unreachable = true
		}

	case wasm.OpDrop:
		m.pop()
	case wasm.OpSelect, wasm.OpSelectType:
		m.pop()
		b := m.pop()
		a := m.pop()
		m.push(Meet(a, b))

	case wasm.OpLocalGet:
		m.push(m.local(in.Imm.(wasm.LocalImm).LocalIdx))
	case wasm.OpLocalSet:
		m.setLocal(in.Imm.(wasm.LocalImm).LocalIdx, m.pop())
	case wasm.OpLocalTee:
		v := m.pop()
		m.setLocal(in.Imm.(wasm.LocalImm).LocalIdx, v)
		m.push(v)
	case wasm.OpGlobalGet:
		idx := in.Imm.(wasm.GlobalImm).GlobalIdx
		if int(idx) < len(m.globals) {
			m.push(m.globals[idx])
		} else {
			m.push(Unknown)
		}

	case wasm.OpI32Const:
		m.push(I32(in.Imm.(wasm.I32Imm).Value))
	case wasm.OpI64Const:
		m.push(I64(in.Imm.(wasm.I64Imm).Value))

	case wasm.OpI32Add, wasm.OpI32Sub, wasm.OpI32Mul,
		wasm.OpI64Add, wasm.OpI64Sub, wasm.OpI64Mul:
		b := m.pop()
		a := m.pop()
		m.push(Fold(in.Opcode, a, b))
	case wasm.OpI32WrapI64, wasm.OpI64ExtendI32S, wasm.OpI64ExtendI32U:
		m.push(Convert(in.Opcode, m.pop()))

	case wasm.OpPrefixMisc:
		if e, ok := miscEffect(in.Imm.(wasm.PrefixImm).SubOpcode); ok {
			m.apply(e)
		} else {
			m.reset()
		}
	case wasm.OpPrefixSIMD:
		if in.Imm.(wasm.PrefixImm).SubOpcode == wasm.SimdV128Const {
			m.push(Unknown)
		} else {
			m.reset()
		}

	default:
		if e := effects[in.Opcode]; e.known {
			m.apply(e)
		} else {
			m.reset()
		}
	}
	return false
}
