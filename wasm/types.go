package wasm

// Module represents a parsed WebAssembly module.
// Byte slices (code, init expressions, data) alias the input buffer, which
// must not be modified while the module is in use.
type Module struct {
	Types    []FuncType // Flat type index space; non-function GC types hold an empty FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Code     []FuncBody
	Data     []DataSegment

	// Opaque holds sections the scanner does not interpret (table, start,
	// element, data count, tag and unknown future ids), in input order.
	Opaque []OpaqueSection

	CustomSections []CustomSection

	// nonFunc marks type indices that are GC struct/array types
	nonFunc map[uint32]bool

	// funcImports holds the type index of each imported function. The
	// parser fills it; hand-built modules leave it nil and fall back to
	// walking Imports.
	funcImports []uint32
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// ValType represents a WebAssembly value type.
// See constants.go for ValI32, ValI64, ValF32, ValF64, etc.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	case ValRefNull:
		return "ref null"
	case ValRef:
		return "ref"
	default:
		return "unknown"
	}
}

// Import represents an imported function, table, memory, global, or tag.
type Import struct {
	Desc   ImportDesc
	Module string
	Name   string
}

// ImportDesc describes an imported item.
// Kind uses KindFunc, KindTable, KindMemory, KindGlobal, or KindTag constants.
type ImportDesc struct {
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32 // function or tag type index
	Kind    byte
}

// MemoryType describes a linear memory with size limits.
type MemoryType struct {
	Limits Limits
}

// Limits describes size constraints for tables and memories.
type Limits struct {
	Max      *uint64
	Min      uint64
	Shared   bool
	Memory64 bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global represents a global variable with type and initialization.
type Global struct {
	Type GlobalType
	Init []byte // Raw init expression bytes, including the final end opcode
}

// Export describes an exported item.
// Kind uses KindFunc, KindTable, KindMemory, KindGlobal, or KindTag constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// FuncBody represents a function's local declarations and bytecode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte // Raw code bytes including end opcode
	Offset int    // Absolute offset of Code[0] in the input
}

// NumLocals returns the total number of declared locals (parameters excluded).
func (b *FuncBody) NumLocals() int {
	n := 0
	for _, l := range b.Locals {
		n += int(l.Count)
	}
	return n
}

// LocalEntry represents a group of local variables with the same type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment represents a data segment.
// Flags determine the format:
//   - 0: active, memIdx=0, offset expr, vec(byte)
//   - 1: passive, vec(byte)
//   - 2: active, memIdx, offset expr, vec(byte)
type DataSegment struct {
	Offset []byte
	Init   []byte
	Flags  uint32
	MemIdx uint32
}

// Passive reports whether the segment is only copied in by memory.init.
func (d *DataSegment) Passive() bool {
	return d.Flags == 1
}

// CustomSection holds a named custom section's data.
type CustomSection struct {
	Name string
	Data []byte
}

// OpaqueSection holds the raw payload of a section that is not decoded.
type OpaqueSection struct {
	Data []byte
	ID   byte
}

// NumImportedFuncs returns the number of imported functions
func (m *Module) NumImportedFuncs() int {
	if m.funcImports != nil {
		return len(m.funcImports)
	}
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			count++
		}
	}
	return count
}

// NumImportedGlobals returns the number of imported globals
func (m *Module) NumImportedGlobals() int {
	count := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			count++
		}
	}
	return count
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// GetFuncType returns the type of a function by its index, or nil when the
// index is out of range.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	if m.funcImports != nil {
		n := uint32(len(m.funcImports))
		if funcIdx < n {
			return m.TypeAt(m.funcImports[funcIdx])
		}
		return m.definedFuncType(funcIdx - n)
	}
	if imp, ok := m.ImportedFunc(funcIdx); ok {
		return m.TypeAt(imp.Desc.TypeIdx)
	}
	return m.definedFuncType(funcIdx - uint32(m.NumImportedFuncs()))
}

func (m *Module) definedFuncType(localIdx uint32) *FuncType {
	if int(localIdx) >= len(m.Funcs) {
		return nil
	}
	return m.TypeAt(m.Funcs[localIdx])
}

// indexImports records the type of every imported function so lookups by
// function index do not walk Imports.
func (m *Module) indexImports() {
	m.funcImports = make([]uint32, 0, len(m.Imports))
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			m.funcImports = append(m.funcImports, imp.Desc.TypeIdx)
		}
	}
}

// TypeAt returns the function type at a type index, or nil if the index is
// out of range or names a non-function GC type.
func (m *Module) TypeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) || m.nonFunc[typeIdx] {
		return nil
	}
	return &m.Types[typeIdx]
}

// ImportedFunc returns the import that defines function index funcIdx.
func (m *Module) ImportedFunc(funcIdx uint32) (Import, bool) {
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if funcIdx == 0 {
			return imp, true
		}
		funcIdx--
	}
	return Import{}, false
}
