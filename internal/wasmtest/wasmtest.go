// Package wasmtest assembles small WebAssembly modules for tests.
package wasmtest

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm2env/wasm"
)

// Code accumulates the instructions of one function body.
type Code struct {
	instrs []wasm.Instruction
}

// NewCode returns an empty body.
func NewCode() *Code {
	return &Code{}
}

func (c *Code) add(op byte, imm interface{}) *Code {
	c.instrs = append(c.instrs, wasm.Instruction{Opcode: op, Imm: imm})
	return c
}

// Instr appends an instruction with an arbitrary immediate.
func (c *Code) Instr(op byte, imm interface{}) *Code { return c.add(op, imm) }

// Op appends an instruction without immediates.
func (c *Code) Op(op byte) *Code { return c.add(op, nil) }

func (c *Code) I32(v int32) *Code { return c.add(wasm.OpI32Const, wasm.I32Imm{Value: v}) }
func (c *Code) I64(v int64) *Code { return c.add(wasm.OpI64Const, wasm.I64Imm{Value: v}) }
func (c *Code) F32(v float32) *Code {
	return c.add(wasm.OpF32Const, wasm.F32Imm{Value: v})
}

func (c *Code) LocalGet(i uint32) *Code  { return c.add(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: i}) }
func (c *Code) LocalSet(i uint32) *Code  { return c.add(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: i}) }
func (c *Code) LocalTee(i uint32) *Code  { return c.add(wasm.OpLocalTee, wasm.LocalImm{LocalIdx: i}) }
func (c *Code) GlobalGet(i uint32) *Code { return c.add(wasm.OpGlobalGet, wasm.GlobalImm{GlobalIdx: i}) }
func (c *Code) GlobalSet(i uint32) *Code { return c.add(wasm.OpGlobalSet, wasm.GlobalImm{GlobalIdx: i}) }

func (c *Code) Call(f uint32) *Code { return c.add(wasm.OpCall, wasm.CallImm{FuncIdx: f}) }
func (c *Code) CallIndirect(typeIdx uint32) *Code {
	return c.add(wasm.OpCallIndirect, wasm.CallIndirectImm{TypeIdx: typeIdx})
}

// Block, Loop and If open a structured instruction with block type bt
// (wasm.BlockTypeVoid, wasm.BlockTypeI32, ... or a type index).
func (c *Code) Block(bt int64) *Code { return c.add(wasm.OpBlock, wasm.BlockImm{Type: bt}) }
func (c *Code) Loop(bt int64) *Code  { return c.add(wasm.OpLoop, wasm.BlockImm{Type: bt}) }
func (c *Code) If(bt int64) *Code    { return c.add(wasm.OpIf, wasm.BlockImm{Type: bt}) }
func (c *Code) Else() *Code          { return c.Op(wasm.OpElse) }
func (c *Code) End() *Code           { return c.Op(wasm.OpEnd) }
func (c *Code) Drop() *Code          { return c.Op(wasm.OpDrop) }
func (c *Code) Return() *Code        { return c.Op(wasm.OpReturn) }

func (c *Code) Br(l uint32) *Code   { return c.add(wasm.OpBr, wasm.BranchImm{LabelIdx: l}) }
func (c *Code) BrIf(l uint32) *Code { return c.add(wasm.OpBrIf, wasm.BranchImm{LabelIdx: l}) }
func (c *Code) BrTable(def uint32, labels ...uint32) *Code {
	return c.add(wasm.OpBrTable, wasm.BrTableImm{Labels: labels, Default: def})
}

// Load appends a memory load with the given offset.
func (c *Code) Load(op byte, offset uint64) *Code {
	return c.add(op, wasm.MemoryImm{Offset: offset})
}

// Prefixed appends a 0xFB-0xFE instruction with raw immediate bytes.
func (c *Code) Prefixed(prefix byte, sub uint32, raw ...byte) *Code {
	return c.add(prefix, wasm.PrefixImm{SubOpcode: sub, Raw: raw})
}

// Raw appends already encoded bytes. It is for deliberately broken bodies.
func (c *Code) Raw(b ...byte) *Code {
	for _, x := range b {
		c.instrs = append(c.instrs, wasm.Instruction{Opcode: x})
	}
	return c
}

// Bytes encodes the body and appends the function's final end.
func (c *Code) Bytes() []byte {
	return wasm.EncodeInstructions(append(c.instrs[:len(c.instrs):len(c.instrs)], wasm.Instruction{Opcode: wasm.OpEnd}))
}

// I32Expr returns a constant expression pushing v.
func I32Expr(v int32) []byte {
	return wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}},
		{Opcode: wasm.OpEnd},
	})
}

// I64Expr returns a constant expression pushing v.
func I64Expr(v int64) []byte {
	return wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: v}},
		{Opcode: wasm.OpEnd},
	})
}

// GlobalExpr returns a constant expression reading global idx.
func GlobalExpr(idx uint32) []byte {
	return wasm.EncodeInstructions([]wasm.Instruction{
		{Opcode: wasm.OpGlobalGet, Imm: wasm.GlobalImm{GlobalIdx: idx}},
		{Opcode: wasm.OpEnd},
	})
}

// Builder assembles a module. Imports must be declared before any
// defined function or global so indices stay stable.
type Builder struct {
	m          wasm.Module
	numImpFunc uint32
	numImpGlob uint32
}

// New returns an empty module builder.
func New() *Builder {
	return &Builder{}
}

// Type adds a function type, reusing an identical existing one.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	for i, ft := range b.m.Types {
		if equalTypes(ft.Params, params) && equalTypes(ft.Results, results) {
			return uint32(i)
		}
	}
	b.m.Types = append(b.m.Types, wasm.FuncType{Params: params, Results: results})
	return uint32(len(b.m.Types) - 1)
}

func equalTypes(a, b []wasm.ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ImportFunc imports a function and returns its function index.
func (b *Builder) ImportFunc(module, name string, typeIdx uint32) uint32 {
	if len(b.m.Funcs) > 0 {
		panic("wasmtest: ImportFunc after Func")
	}
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: typeIdx},
	})
	b.numImpFunc++
	return b.numImpFunc - 1
}

// ImportGlobal imports a global and returns its global index.
func (b *Builder) ImportGlobal(module, name string, vt wasm.ValType, mutable bool) uint32 {
	if len(b.m.Globals) > 0 {
		panic("wasmtest: ImportGlobal after Global")
	}
	b.m.Imports = append(b.m.Imports, wasm.Import{
		Module: module,
		Name:   name,
		Desc: wasm.ImportDesc{
			Kind:   wasm.KindGlobal,
			Global: &wasm.GlobalType{ValType: vt, Mutable: mutable},
		},
	})
	b.numImpGlob++
	return b.numImpGlob - 1
}

// Memory declares the module's linear memory with min pages.
func (b *Builder) Memory(min uint64) *Builder {
	b.m.Memories = append(b.m.Memories, wasm.MemoryType{Limits: wasm.Limits{Min: min}})
	return b
}

// Global defines a global and returns its global index.
func (b *Builder) Global(vt wasm.ValType, mutable bool, init []byte) uint32 {
	b.m.Globals = append(b.m.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: vt, Mutable: mutable},
		Init: init,
	})
	return b.numImpGlob + uint32(len(b.m.Globals)) - 1
}

// Func defines a function and returns its function index.
func (b *Builder) Func(typeIdx uint32, locals []wasm.LocalEntry, code *Code) uint32 {
	b.m.Funcs = append(b.m.Funcs, typeIdx)
	b.m.Code = append(b.m.Code, wasm.FuncBody{Locals: locals, Code: code.Bytes()})
	return b.numImpFunc + uint32(len(b.m.Funcs)) - 1
}

// Export exports a function by index.
func (b *Builder) Export(name string, funcIdx uint32) *Builder {
	b.m.Exports = append(b.m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: funcIdx})
	return b
}

// Data adds an active segment for memory 0 at a constant offset.
func (b *Builder) Data(offset int32, data []byte) *Builder {
	return b.DataExpr(I32Expr(offset), data)
}

// DataExpr adds an active segment with an arbitrary offset expression.
func (b *Builder) DataExpr(offset []byte, data []byte) *Builder {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Offset: offset, Init: data})
	return b
}

// PassiveData adds a passive segment.
func (b *Builder) PassiveData(data []byte) *Builder {
	b.m.Data = append(b.m.Data, wasm.DataSegment{Flags: 1, Init: data})
	return b
}

// Custom appends a custom section.
func (b *Builder) Custom(name string, data []byte) *Builder {
	b.m.CustomSections = append(b.m.CustomSections, wasm.CustomSection{Name: name, Data: data})
	return b
}

// Module returns the assembled module.
func (b *Builder) Module() *wasm.Module {
	m := b.m
	return &m
}

// Bytes encodes the assembled module.
func (b *Builder) Bytes() []byte {
	return b.m.Encode()
}

// Parse encodes and re-parses the module, failing loudly on error.
func (b *Builder) Parse() *wasm.Module {
	m, err := wasm.ParseModule(b.Bytes())
	if err != nil {
		panic(fmt.Sprintf("wasmtest: built module does not parse: %v", err))
	}
	return m
}

// NameSection encodes a "name" custom section payload holding function
// names in index order.
func NameSection(names map[uint32]string) []byte {
	var idxs []uint32
	for idx := range names {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	sub := leb(uint64(len(idxs)))
	for _, idx := range idxs {
		sub = append(sub, leb(uint64(idx))...)
		sub = append(sub, leb(uint64(len(names[idx])))...)
		sub = append(sub, names[idx]...)
	}
	out := []byte{0x01}
	out = append(out, leb(uint64(len(sub)))...)
	return append(out, sub...)
}

func leb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// ComponentSection encodes one component-model section.
func ComponentSection(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, leb(uint64(len(body)))...)
	return append(out, body...)
}

// Component wraps encoded sections in a component-model header.
func Component(sections ...[]byte) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}
