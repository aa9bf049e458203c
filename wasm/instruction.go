package wasm

import (
	"encoding/binary"
	"fmt"
	"math"

	wbin "github.com/wippyai/wasm2env/wasm/internal/binary"
)

// Opcode constants are defined in constants.go

// Instruction represents a decoded WebAssembly instruction
type Instruction struct {
	Imm    interface{}
	Offset int // Absolute offset of the opcode byte in the input
	Opcode byte
}

// BlockImm holds the block type for block, loop, if, and try instructions.
type BlockImm struct {
	Type     int64 // Block type: -64=void, -1=i32, -2=i64, -3=f32, -4=f64, >=0=type index
	HeapType int64 // Heap type when Type is BlockTypeRef or BlockTypeRefNull
}

// BranchImm holds the label index for br, br_if and similar instructions.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table instruction.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call and return_call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect instruction.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// CallRefImm holds type index for call_ref and return_call_ref
type CallRefImm struct {
	TypeIdx uint32
}

// LocalImm holds the local index for local.get, local.set, local.tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get and global.set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds memory access parameters for load and store instructions.
type MemoryImm struct {
	Offset uint64
	Align  uint32
	MemIdx uint32
}

// IndexImm holds a single index immediate (memory.size, table.get, ref.func, throw, ...).
type IndexImm struct {
	Idx uint32
}

// I32Imm holds the constant value for i32.const instruction.
type I32Imm struct {
	Value int32
}

// I64Imm holds the constant value for i64.const instruction.
type I64Imm struct {
	Value int64
}

// F32Imm holds the constant value for f32.const instruction.
type F32Imm struct {
	Value float32
}

// F64Imm holds the constant value for f64.const instruction.
type F64Imm struct {
	Value float64
}

// RefNullImm holds the heap type for ref.null
type RefNullImm struct {
	HeapType int64
}

// SelectTypeImm holds value types for typed select
type SelectTypeImm struct {
	Types []ValType
}

// CatchClause represents a single catch clause in try_table
type CatchClause struct {
	Kind     byte   // 0=catch, 1=catch_ref, 2=catch_all, 3=catch_all_ref
	TagIdx   uint32 // Only for Kind 0, 1
	LabelIdx uint32
}

// TryTableImm holds immediates for try_table instruction
type TryTableImm struct {
	Catches   []CatchClause
	BlockType BlockImm
}

// PrefixImm holds a prefixed (0xFB-0xFE) instruction. Raw is the immediate
// bytes following the sub-opcode, kept verbatim.
type PrefixImm struct {
	Raw       []byte
	SubOpcode uint32
}

// GetCallTarget returns the call target if this is a direct call instruction
func (i Instruction) GetCallTarget() (uint32, bool) {
	if i.Opcode == OpCall || i.Opcode == OpReturnCall {
		if imm, ok := i.Imm.(CallImm); ok {
			return imm.FuncIdx, true
		}
	}
	return 0, false
}

// DecodeError reports an instruction that could not be decoded. Instructions
// decoded before it are still returned by DecodeInstructions.
type DecodeError struct {
	Err    error
	Offset int
	Opcode byte
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode opcode 0x%02x at offset %d: %v", e.Opcode, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeInstructions decodes a function body's instruction bytes. base is the
// absolute offset of code[0]. On failure it returns the instructions decoded
// so far together with a *DecodeError.
func DecodeInstructions(code []byte, base int) ([]Instruction, error) {
	r := wbin.NewReader(code, base)
	// Pre-allocate based on estimation: roughly 2 bytes per instruction on average
	instrs := make([]Instruction, 0, len(code)/2)

	for !r.EOF() {
		pos := r.Position()
		op, _ := r.ReadByte()
		imm, err := decodeImmediate(r, op)
		if err != nil {
			return instrs, &DecodeError{Opcode: op, Offset: pos, Err: err}
		}
		instrs = append(instrs, Instruction{Opcode: op, Offset: pos, Imm: imm})
	}
	return instrs, nil
}

func decodeImmediate(r *wbin.Reader, op byte) (interface{}, error) {
	switch op {
	case OpBlock, OpLoop, OpIf, OpTry:
		return readBlockType(r)

	case OpTryTable:
		bt, err := readBlockType(r)
		if err != nil {
			return nil, err
		}
		n, err := r.ReadCount(2)
		if err != nil {
			return nil, err
		}
		imm := TryTableImm{BlockType: bt, Catches: make([]CatchClause, n)}
		for i := range imm.Catches {
			c := &imm.Catches[i]
			if c.Kind, err = r.ReadByte(); err != nil {
				return nil, err
			}
			if c.Kind == CatchKindCatch || c.Kind == CatchKindCatchRef {
				if c.TagIdx, err = r.ReadU32(); err != nil {
					return nil, err
				}
			}
			if c.LabelIdx, err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		return imm, nil

	case OpBr, OpBrIf, OpRethrow, OpDelegate, OpBrOnNull, OpBrOnNonNull:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return BranchImm{LabelIdx: idx}, nil

	case OpBrTable:
		n, err := r.ReadCount(1)
		if err != nil {
			return nil, err
		}
		labels := make([]uint32, n)
		for i := range labels {
			if labels[i], err = r.ReadU32(); err != nil {
				return nil, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return BrTableImm{Labels: labels, Default: def}, nil

	case OpCall, OpReturnCall:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return CallImm{FuncIdx: idx}, nil

	case OpCallIndirect, OpReturnCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}, nil

	case OpCallRef, OpReturnCallRef:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return CallRefImm{TypeIdx: idx}, nil

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return LocalImm{LocalIdx: idx}, nil

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return GlobalImm{GlobalIdx: idx}, nil

	case OpTableGet, OpTableSet, OpMemorySize, OpMemoryGrow, OpRefFunc, OpCatch, OpThrow:
		idx, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		return IndexImm{Idx: idx}, nil

	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return nil, err
		}
		return I32Imm{Value: v}, nil

	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return nil, err
		}
		return I64Imm{Value: v}, nil

	case OpF32Const:
		b, err := r.ReadBytes(4)
		if err != nil {
			return nil, err
		}
		return F32Imm{Value: math.Float32frombits(binary.LittleEndian.Uint32(b))}, nil

	case OpF64Const:
		b, err := r.ReadBytes(8)
		if err != nil {
			return nil, err
		}
		return F64Imm{Value: math.Float64frombits(binary.LittleEndian.Uint64(b))}, nil

	case OpRefNull:
		ht, err := r.ReadS64()
		if err != nil {
			return nil, err
		}
		return RefNullImm{HeapType: ht}, nil

	case OpSelectType:
		n, err := r.ReadCount(1)
		if err != nil {
			return nil, err
		}
		types := make([]ValType, n)
		for i := range types {
			if types[i], err = readValType(r); err != nil {
				return nil, err
			}
		}
		return SelectTypeImm{Types: types}, nil

	case OpPrefixMisc, OpPrefixSIMD, OpPrefixAtomic, OpPrefixGC:
		return decodePrefixImmediate(r, op)
	}

	if op >= OpI32Load && op <= OpI64Store32 {
		return readMemArg(r)
	}
	if hasNoImmediate(op) {
		return nil, nil
	}
	return nil, fmt.Errorf("unknown opcode")
}

// readBlockType reads an s33 block type. (ref ht) and (ref null ht) carry
// a heap type after the type byte.
func readBlockType(r *wbin.Reader) (BlockImm, error) {
	bt, err := r.ReadS64()
	if err != nil {
		return BlockImm{}, err
	}
	imm := BlockImm{Type: bt}
	if bt == BlockTypeRef || bt == BlockTypeRefNull {
		if imm.HeapType, err = r.ReadS64(); err != nil {
			return BlockImm{}, err
		}
	}
	return imm, nil
}

// hasNoImmediate reports whether op is a known single-byte instruction
// without immediates.
func hasNoImmediate(op byte) bool {
	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect,
		OpRefIsNull, OpRefAsNonNull, OpRefEq, OpCatchAll, OpThrowRef:
		return true
	}
	// Numeric instructions: comparisons through sign extension
	return op >= OpI32Eqz && op <= OpI64Extend32S
}

// decodePrefixImmediate reads the sub-opcode and skips its immediates,
// keeping them verbatim.
func decodePrefixImmediate(r *wbin.Reader, prefix byte) (PrefixImm, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return PrefixImm{}, err
	}
	mark := r.Remaining()

	switch prefix {
	case OpPrefixMisc:
		err = skipMisc(r, sub)
	case OpPrefixSIMD:
		err = skipSIMD(r, sub)
	case OpPrefixAtomic:
		if sub == AtomicFence {
			_, err = r.ReadByte()
		} else {
			_, err = readMemArg(r)
		}
	case OpPrefixGC:
		err = skipGC(r, sub)
	}
	if err != nil {
		return PrefixImm{}, err
	}

	return PrefixImm{SubOpcode: sub, Raw: r.Consumed(mark - r.Remaining())}, nil
}

func skipU32s(r *wbin.Reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func skipMisc(r *wbin.Reader, sub uint32) error {
	switch sub {
	case MiscI32TruncSatF32S, MiscI32TruncSatF32U, MiscI32TruncSatF64S, MiscI32TruncSatF64U,
		MiscI64TruncSatF32S, MiscI64TruncSatF32U, MiscI64TruncSatF64S, MiscI64TruncSatF64U:
		return nil
	case MiscMemoryInit, MiscMemoryCopy, MiscTableInit, MiscTableCopy:
		return skipU32s(r, 2)
	case MiscDataDrop, MiscMemoryFill, MiscElemDrop, MiscTableGrow, MiscTableSize,
		MiscTableFill, MiscMemoryDiscard:
		return skipU32s(r, 1)
	}
	return fmt.Errorf("unknown 0xFC sub-opcode: 0x%02x", sub)
}

func skipSIMD(r *wbin.Reader, sub uint32) error {
	switch {
	case sub <= SimdV128Load64Splat || sub == SimdV128Store,
		sub == SimdV128Load32Zero || sub == SimdV128Load64Zero:
		_, err := readMemArg(r)
		return err
	case sub == SimdV128Const || sub == SimdI8x16Shuffle:
		_, err := r.ReadBytes(16)
		return err
	case sub >= SimdI8x16ExtractLaneS && sub <= SimdF64x2ReplaceLane:
		_, err := r.ReadByte()
		return err
	case sub >= SimdV128Load8Lane && sub <= SimdV128Store64Lane:
		if _, err := readMemArg(r); err != nil {
			return err
		}
		_, err := r.ReadByte()
		return err
	}
	// Most SIMD instructions have no immediates
	return nil
}

func skipGC(r *wbin.Reader, sub uint32) error {
	switch sub {
	case GCStructNew, GCStructNewDefault, GCArrayNew, GCArrayNewDefault,
		GCArrayGet, GCArrayGetS, GCArrayGetU, GCArraySet, GCArrayFill:
		return skipU32s(r, 1)
	case GCStructGet, GCStructGetS, GCStructGetU, GCStructSet,
		GCArrayNewFixed, GCArrayNewData, GCArrayInitData,
		GCArrayNewElem, GCArrayInitElem, GCArrayCopy:
		return skipU32s(r, 2)
	case GCRefTest, GCRefTestNull, GCRefCast, GCRefCastNull:
		_, err := r.ReadS64()
		return err
	case GCBrOnCast, GCBrOnCastFail:
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		if _, err := r.ReadU32(); err != nil {
			return err
		}
		if _, err := r.ReadS64(); err != nil {
			return err
		}
		_, err := r.ReadS64()
		return err
	case GCArrayLen, GCAnyConvertExtern, GCExternConvertAny, GCRefI31, GCI31GetS, GCI31GetU:
		return nil
	}
	return fmt.Errorf("unknown 0xFB sub-opcode: 0x%02x", sub)
}

// Multi-memory memarg bit flag
const memArgMultiMemBit = 0x40

// readMemArg reads a memarg with multi-memory support.
// If bit 6 of align is set, a separate memidx LEB128 follows.
func readMemArg(r *wbin.Reader) (MemoryImm, error) {
	alignRaw, err := r.ReadU32()
	if err != nil {
		return MemoryImm{}, err
	}

	var memIdx uint32
	if alignRaw&memArgMultiMemBit != 0 {
		memIdx, err = r.ReadU32()
		if err != nil {
			return MemoryImm{}, err
		}
	}

	offset, err := r.ReadU64()
	if err != nil {
		return MemoryImm{}, err
	}

	return MemoryImm{
		Align:  alignRaw &^ uint32(memArgMultiMemBit),
		Offset: offset,
		MemIdx: memIdx,
	}, nil
}

// EncodeInstructions encodes instructions to bytes. It is the inverse of
// DecodeInstructions and is used to assemble test modules.
func EncodeInstructions(instrs []Instruction) []byte {
	w := wbin.NewWriter()
	for i := range instrs {
		encodeInstruction(w, &instrs[i])
	}
	return w.Bytes()
}

func encodeInstruction(w *wbin.Writer, instr *Instruction) {
	w.Byte(instr.Opcode)

	switch imm := instr.Imm.(type) {
	case nil:
	case BlockImm:
		writeBlockType(w, imm)
	case TryTableImm:
		writeBlockType(w, imm.BlockType)
		w.WriteU32(uint32(len(imm.Catches)))
		for _, c := range imm.Catches {
			w.Byte(c.Kind)
			if c.Kind == CatchKindCatch || c.Kind == CatchKindCatchRef {
				w.WriteU32(c.TagIdx)
			}
			w.WriteU32(c.LabelIdx)
		}
	case BranchImm:
		w.WriteU32(imm.LabelIdx)
	case BrTableImm:
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case CallIndirectImm:
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(imm.TableIdx)
	case CallRefImm:
		w.WriteU32(imm.TypeIdx)
	case LocalImm:
		w.WriteU32(imm.LocalIdx)
	case GlobalImm:
		w.WriteU32(imm.GlobalIdx)
	case IndexImm:
		w.WriteU32(imm.Idx)
	case MemoryImm:
		writeMemArg(w, imm)
	case I32Imm:
		w.WriteS64(int64(imm.Value))
	case I64Imm:
		w.WriteS64(imm.Value)
	case F32Imm:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(imm.Value))
		w.WriteBytes(b[:])
	case F64Imm:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(imm.Value))
		w.WriteBytes(b[:])
	case RefNullImm:
		w.WriteS64(imm.HeapType)
	case SelectTypeImm:
		w.WriteU32(uint32(len(imm.Types)))
		for _, t := range imm.Types {
			w.Byte(byte(t))
		}
	case PrefixImm:
		w.WriteU32(imm.SubOpcode)
		w.WriteBytes(imm.Raw)
	}
}

func writeBlockType(w *wbin.Writer, imm BlockImm) {
	w.WriteS64(imm.Type)
	if imm.Type == BlockTypeRef || imm.Type == BlockTypeRefNull {
		w.WriteS64(imm.HeapType)
	}
}

// writeMemArg writes a memarg with multi-memory support.
func writeMemArg(w *wbin.Writer, imm MemoryImm) {
	alignRaw := imm.Align
	if imm.MemIdx != 0 {
		alignRaw |= memArgMultiMemBit
	}
	w.WriteU32(alignRaw)
	if imm.MemIdx != 0 {
		w.WriteU32(imm.MemIdx)
	}
	w.WriteU64(imm.Offset)
}
