package wasm

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm2env/errors"
	"github.com/wippyai/wasm2env/wasm/internal/binary"
)

// Header is the fixed eight-byte preamble shared by core modules and
// component-model binaries.
type Header struct {
	Version uint32 // version and layer words read as one little-endian u32
}

// IsComponent reports whether the header announces a component binary.
func (h Header) IsComponent() bool {
	return h.Version == ComponentVersion
}

// ReadHeader checks the magic number and returns the version word.
// Versions other than core 1 and the component layer fail with BadVersion.
func ReadHeader(data []byte) (Header, error) {
	r := binary.NewReader(data, 0)
	magic, err := r.ReadU32LE()
	if err != nil {
		return Header{}, errors.BadMagic(data)
	}
	if magic != Magic {
		return Header{}, errors.BadMagic(data[:4])
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return Header{}, errors.Truncated("header", r.Position(), err)
	}
	if version != Version && version != ComponentVersion {
		return Header{}, errors.BadVersion(version)
	}
	return Header{Version: version}, nil
}

// ParseModule parses a WebAssembly binary module.
//
// Every failure is an *errors.Error of kind BadMagic, BadVersion, Truncated
// or Malformed. Slices in the returned Module alias data.
func ParseModule(data []byte) (*Module, error) {
	return parseModuleAt(data, 0)
}

// ParseModuleAt parses a core module embedded at absolute offset base of a
// larger input, so error offsets point into the enclosing binary.
func ParseModuleAt(data []byte, base int) (*Module, error) {
	return parseModuleAt(data, base)
}

func parseModuleAt(data []byte, base int) (*Module, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, rebase(err, base)
	}
	if h.IsComponent() {
		e := errors.BadVersion(h.Version)
		e.Detail = "component binary, not a core module"
		return nil, rebase(e, base)
	}

	r := binary.NewReader(data[8:], base+8)
	m := &Module{}

	// Track section ordering using canonical order, not section IDs
	var lastSectionOrder int
	var codeSeen, funcSeen bool

	for !r.EOF() {
		headerPos := r.Position()
		sectionID, _ := r.ReadByte()

		sectionSize, err := r.ReadU32()
		if err != nil {
			if stderrors.Is(err, io.ErrUnexpectedEOF) {
				return nil, errors.Truncated(SectionName(sectionID), headerPos, err)
			}
			return nil, errors.Malformed(SectionName(sectionID), headerPos, "invalid section size", err)
		}
		if uint64(sectionSize) > uint64(r.Remaining()) {
			e := errors.Truncated(SectionName(sectionID), r.Position(), io.ErrUnexpectedEOF)
			e.Detail = fmt.Sprintf("section declares %d bytes, %d remain", sectionSize, r.Remaining())
			return nil, e
		}
		contentPos := r.Position()
		sectionData, _ := r.ReadBytes(int(sectionSize))

		// Custom sections can appear anywhere; unknown ids are kept opaque
		known := sectionOrder(sectionID) > 0
		if sectionID != SectionCustom && known {
			order := sectionOrder(sectionID)
			if order <= lastSectionOrder {
				return nil, errors.Malformed(SectionName(sectionID), headerPos,
					fmt.Sprintf("section %d appears out of order", sectionID), nil)
			}
			lastSectionOrder = order
		}

		sr := binary.NewReader(sectionData, contentPos)

		switch sectionID {
		case SectionCustom:
			err = parseCustomSection(sr, m)
		case SectionType:
			err = parseTypeSection(sr, m)
		case SectionImport:
			err = parseImportSection(sr, m)
		case SectionFunction:
			funcSeen = true
			err = parseFunctionSection(sr, m)
		case SectionMemory:
			err = parseMemorySection(sr, m)
		case SectionGlobal:
			err = parseGlobalSection(sr, m)
		case SectionExport:
			err = parseExportSection(sr, m)
		case SectionCode:
			codeSeen = true
			err = parseCodeSection(sr, m)
		case SectionData:
			err = parseDataSection(sr, m)
		default:
			// Table, start, element, data count, tag and future sections
			// carry nothing the scanner reads.
			m.Opaque = append(m.Opaque, OpaqueSection{ID: sectionID, Data: sectionData})
			continue
		}
		if err != nil {
			return nil, sectionError(SectionName(sectionID), sr, err)
		}
		if !sr.EOF() {
			return nil, errors.Malformed(SectionName(sectionID), sr.Position(),
				fmt.Sprintf("%d trailing bytes after section content", sr.Remaining()), nil)
		}
	}

	if len(m.Funcs) != len(m.Code) {
		name := SectionName(SectionCode)
		if !codeSeen && funcSeen {
			name = SectionName(SectionFunction)
		}
		return nil, errors.Malformed(name, r.Position(),
			fmt.Sprintf("function section declares %d functions, code section has %d bodies", len(m.Funcs), len(m.Code)), nil)
	}

	m.indexImports()
	return m, nil
}

// sectionError converts a decode failure inside a fully present section.
// Running out of bytes there means a length field lied, which is malformed
// rather than truncated input.
func sectionError(section string, r *binary.Reader, err error) error {
	var e *errors.Error
	if stderrors.As(err, &e) {
		return e
	}
	detail := err.Error()
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		detail = "content ends before a declared length"
	}
	return errors.Malformed(section, r.Position(), detail, err)
}

func rebase(err error, base int) error {
	var e *errors.Error
	if base != 0 && stderrors.As(err, &e) && e.Offset >= 0 {
		e.Offset += base
	}
	return err
}

// SectionName returns the conventional name for a section id.
func SectionName(id byte) string {
	switch id {
	case SectionCustom:
		return "custom"
	case SectionType:
		return "type"
	case SectionImport:
		return "import"
	case SectionFunction:
		return "function"
	case SectionTable:
		return "table"
	case SectionMemory:
		return "memory"
	case SectionGlobal:
		return "global"
	case SectionExport:
		return "export"
	case SectionStart:
		return "start"
	case SectionElement:
		return "element"
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionDataCount:
		return "data count"
	case SectionTag:
		return "tag"
	default:
		return fmt.Sprintf("unknown(%d)", id)
	}
}

// sectionOrder returns the canonical ordering for a section ID, or 0 for
// ids this decoder does not know.
// Canonical order: Type(1), Import(2), Function(3), Table(4), Memory(5),
// Tag(13), Global(6), Export(7), Start(8), Element(9), DataCount(12), Code(10), Data(11)
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	case SectionCustom:
		return 100
	default:
		return 0
	}
}

func parseCustomSection(r *binary.Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	m.CustomSections = append(m.CustomSections, CustomSection{
		Name: name,
		Data: r.ReadRemaining(),
	})
	return nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form == RecTypeByte {
			recCount, err := r.ReadCount(1)
			if err != nil {
				return err
			}
			for j := uint32(0); j < recCount; j++ {
				sub, err := r.ReadByte()
				if err != nil {
					return err
				}
				if err := readSubType(r, m, sub); err != nil {
					return err
				}
			}
			continue
		}
		if err := readSubType(r, m, form); err != nil {
			return err
		}
	}
	return nil
}

// readSubType appends one entry to the flat type index space.
func readSubType(r *binary.Reader, m *Module, form byte) error {
	if form == SubTypeByte || form == SubFinalByte {
		parents, err := r.ReadCount(1)
		if err != nil {
			return err
		}
		for i := uint32(0); i < parents; i++ {
			if _, err := r.ReadU32(); err != nil {
				return err
			}
		}
		form, err = r.ReadByte()
		if err != nil {
			return err
		}
	}

	switch form {
	case FuncTypeByte:
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
		return nil
	case StructTypeByte:
		fields, err := r.ReadCount(2)
		if err != nil {
			return err
		}
		for i := uint32(0); i < fields; i++ {
			if err := skipFieldType(r); err != nil {
				return err
			}
		}
	case ArrayTypeByte:
		if err := skipFieldType(r); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported type form 0x%02x", form)
	}

	if m.nonFunc == nil {
		m.nonFunc = make(map[uint32]bool)
	}
	m.nonFunc[uint32(len(m.Types))] = true
	m.Types = append(m.Types, FuncType{})
	return nil
}

func skipFieldType(r *binary.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch b {
	case PackedI8, PackedI16:
	default:
		if _, err := readValTypeByte(r, b); err != nil {
			return err
		}
	}
	_, err = r.ReadByte() // mutability
	return err
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadCount(1)
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := uint32(0); i < count; i++ {
		if types[i], err = readValType(r); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func readValType(r *binary.Reader) (ValType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return readValTypeByte(r, b)
}

// readValTypeByte finishes a value type whose first byte is b, consuming
// the heap type of (ref ht) and (ref null ht).
func readValTypeByte(r *binary.Reader, b byte) (ValType, error) {
	switch ValType(b) {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExtern,
		ValNullFuncRef, ValNullExternRef, ValNullRef, ValEqRef, ValI31Ref,
		ValStructRef, ValArrayRef, ValAnyRef:
		return ValType(b), nil
	case ValRefNull, ValRef:
		if _, err := r.ReadS64(); err != nil {
			return 0, err
		}
		return ValType(b), nil
	default:
		return 0, fmt.Errorf("invalid value type 0x%02x", b)
	}
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(4)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		var imp Import
		if imp.Module, err = r.ReadName(); err != nil {
			return err
		}
		if imp.Name, err = r.ReadName(); err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp.Desc.Kind = kind

		switch kind {
		case KindFunc:
			if imp.Desc.TypeIdx, err = readTypeIdx(r, m); err != nil {
				return err
			}
		case KindTable:
			if _, err := readValType(r); err != nil {
				return err
			}
			if _, err := readLimits(r); err != nil {
				return err
			}
		case KindMemory:
			memory, err := readMemoryType(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &memory
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		case KindTag:
			if _, err := r.ReadByte(); err != nil {
				return err
			}
			if imp.Desc.TypeIdx, err = r.ReadU32(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}

		m.Imports[i] = imp
	}
	return nil
}

// readTypeIdx reads a type index and checks it names a function type.
func readTypeIdx(r *binary.Reader, m *Module) (uint32, error) {
	pos := r.Position()
	idx, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if m.TypeAt(idx) == nil {
		return 0, fmt.Errorf("at position %d: type index %d out of range (%d types)", pos, idx, len(m.Types))
	}
	return idx, nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		if m.Funcs[i], err = readTypeIdx(r, m); err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		m.Memories[i], err = readMemoryType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := uint32(0); i < count; i++ {
		globalType, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readInitExpr(r)
		if err != nil {
			return err
		}
		m.Globals[i] = Global{
			Type: globalType,
			Init: init,
		}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindTag {
			return fmt.Errorf("invalid export kind: 0x%02x", kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func parseCodeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	m.Code = make([]FuncBody, count)
	for i := uint32(0); i < count; i++ {
		bodySize, err := r.ReadU32()
		if err != nil {
			return err
		}
		base := r.Position()
		bodyData, err := r.ReadBytes(int(bodySize))
		if err != nil {
			return err
		}

		br := binary.NewReader(bodyData, base)

		localCount, err := br.ReadCount(2)
		if err != nil {
			return err
		}
		locals := make([]LocalEntry, 0, localCount)
		total := 0
		for j := uint32(0); j < localCount; j++ {
			n, err := br.ReadU32()
			if err != nil {
				return err
			}
			total += int(n)
			if total > MaxLocals {
				return fmt.Errorf("function %d declares more than %d locals", i, MaxLocals)
			}
			t, err := readValType(br)
			if err != nil {
				return err
			}
			locals = append(locals, LocalEntry{Count: n, ValType: t})
		}

		offset := br.Position()
		m.Code[i] = FuncBody{Locals: locals, Code: br.ReadRemaining(), Offset: offset}
	}
	return nil
}

func parseDataSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	m.Data = make([]DataSegment, count)
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU32()
		if err != nil {
			return err
		}
		if flags > 2 {
			return fmt.Errorf("invalid data segment flags: %d", flags)
		}

		seg := DataSegment{Flags: flags}

		if flags == 2 {
			seg.MemIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		}

		if flags != 1 {
			seg.Offset, err = readInitExpr(r)
			if err != nil {
				return err
			}
		}

		initLen, err := r.ReadU32()
		if err != nil {
			return err
		}
		if uint64(initLen) > uint64(r.Remaining()) {
			return io.ErrUnexpectedEOF
		}
		seg.Init, err = r.ReadBytes(int(initLen))
		if err != nil {
			return err
		}

		m.Data[i] = seg
	}
	return nil
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}

	memory64 := flags&LimitsMemory64 != 0
	l := Limits{
		Shared:   flags&LimitsShared != 0,
		Memory64: memory64,
	}

	if memory64 {
		l.Min, err = r.ReadU64()
		if err != nil {
			return Limits{}, err
		}
		if flags&LimitsHasMax != 0 {
			maxVal, err := r.ReadU64()
			if err != nil {
				return Limits{}, err
			}
			l.Max = &maxVal
		}
	} else {
		minVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		l.Min = uint64(minVal)
		if flags&LimitsHasMax != 0 {
			maxVal, err := r.ReadU32()
			if err != nil {
				return Limits{}, err
			}
			max64 := uint64(maxVal)
			l.Max = &max64
		}
	}

	if l.Max != nil && l.Min > *l.Max {
		return Limits{}, fmt.Errorf("limits min (%d) exceeds max (%d)", l.Min, *l.Max)
	}

	return l, nil
}

func readMemoryType(r *binary.Reader) (MemoryType, error) {
	limits, err := readLimits(r)
	if err != nil {
		return MemoryType{}, err
	}
	return MemoryType{Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	valType, err := readValType(r)
	if err != nil {
		return GlobalType{}, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid global mutability 0x%02x", mut)
	}
	return GlobalType{ValType: valType, Mutable: mut == 1}, nil
}

// readInitExpr returns the raw bytes of a constant expression up to and
// including its end opcode.
func readInitExpr(r *binary.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf.WriteByte(b)
		if b == OpEnd {
			break
		}
		if err := copyInitExprImmediate(r, &buf, b); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func copyInitExprImmediate(r *binary.Reader, buf *bytes.Buffer, opcode byte) error {
	switch opcode {
	case OpI32Const, OpI64Const, OpGlobalGet, OpRefNull, OpRefFunc:
		_, err := copyLEB128(r, buf)
		return err
	case OpF32Const:
		return copyBytes(r, buf, 4)
	case OpF64Const:
		return copyBytes(r, buf, 8)
	// Extended-const proposal: arithmetic in init expressions
	case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		return nil
	case OpPrefixSIMD:
		subOp, err := copyLEB128(r, buf)
		if err != nil {
			return err
		}
		if uint32(subOp) == SimdV128Const {
			return copyBytes(r, buf, 16)
		}
		return fmt.Errorf("simd opcode 0x%x not allowed in constant expression", subOp)
	case OpPrefixGC:
		subOp, err := copyLEB128(r, buf)
		if err != nil {
			return err
		}
		switch uint32(subOp) {
		case GCStructNew, GCStructNewDefault, GCArrayNew, GCArrayNewDefault:
			_, err = copyLEB128(r, buf)
			return err
		case GCArrayNewFixed, GCArrayNewData, GCArrayNewElem:
			if _, err := copyLEB128(r, buf); err != nil {
				return err
			}
			_, err = copyLEB128(r, buf)
			return err
		case GCAnyConvertExtern, GCExternConvertAny, GCRefI31:
			return nil
		}
		return fmt.Errorf("gc opcode 0x%x not allowed in constant expression", subOp)
	}
	return fmt.Errorf("opcode 0x%02x not allowed in constant expression", opcode)
}

// copyLEB128 copies one LEB128 value verbatim and returns its unsigned value.
func copyLEB128(r *binary.Reader, buf *bytes.Buffer) (uint64, error) {
	var v uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf.WriteByte(b)
		if shift < 64 {
			v |= uint64(b&0x7f) << shift
		}
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
		if shift >= 70 {
			return 0, binary.ErrOverflow
		}
	}
}

func copyBytes(r *binary.Reader, buf *bytes.Buffer, n int) error {
	data, err := r.ReadBytes(n)
	if err != nil {
		return err
	}
	buf.Write(data)
	return nil
}
