package component

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/wippyai/wasm2env/errors"
	"github.com/wippyai/wasm2env/wasm"
)

// MaxDepth bounds how deeply components may nest.
const MaxDepth = 16

// maxSections bounds the section count of one component
const maxSections = 100000

// Component section ids read by the walk
const (
	SectionCustom     byte = 0x00
	SectionCoreModule byte = 0x01
	SectionComponent  byte = 0x04
)

// CoreModule is one core module found inside a component.
type CoreModule struct {
	Data   []byte // complete module binary, aliasing the input
	Offset int    // absolute offset of Data in the outermost binary
	Depth  int    // 0 for modules of the outermost component
}

// IsComponent reports whether data starts with a component-model header.
func IsComponent(data []byte) bool {
	h, err := wasm.ReadHeader(data)
	return err == nil && h.IsComponent()
}

// CoreModules returns the core modules of a component binary in the order
// they appear, nested components expanded in place.
//
// Failures are *errors.Error values of the parse phase: Truncated when a
// section runs past the end of its container, Malformed for bad section
// sizes, non-component nested payloads or nesting beyond MaxDepth.
func CoreModules(data []byte) ([]CoreModule, error) {
	var out []CoreModule
	if err := walk(data, 0, 0, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func walk(data []byte, base, depth int, out *[]CoreModule) error {
	if depth > MaxDepth {
		return errors.New(errors.PhaseParse, errors.KindMalformed).
			Section("component").
			Offset(base).
			Detail("components nested deeper than %d", MaxDepth).
			Build()
	}

	h, err := wasm.ReadHeader(data)
	if err != nil {
		return rebase(err, base)
	}
	if !h.IsComponent() {
		e := errors.BadVersion(h.Version)
		e.Detail = "core module, not a component"
		return rebase(e, base)
	}

	r := getReader(data[8:])
	defer putReader(r)

	for count := 0; ; count++ {
		if count >= maxSections {
			return errors.Malformed("component", base+8+consumed(r), fmt.Sprintf("more than %d sections", maxSections), nil)
		}

		headerPos := base + 8 + consumed(r)
		id, err := r.ReadByte()
		if stderrors.Is(err, io.EOF) {
			return nil
		}

		size, err := readLEB128(r)
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return errors.Truncated("component", headerPos, io.ErrUnexpectedEOF)
			}
			return errors.Malformed("component", headerPos, "invalid section size", err)
		}
		if int64(size) > int64(r.Len()) {
			e := errors.Truncated("component", base+8+consumed(r), io.ErrUnexpectedEOF)
			e.Detail = fmt.Sprintf("section declares %d bytes, %d remain", size, r.Len())
			return e
		}

		start := 8 + consumed(r)
		body := data[start : start+int(size)]
		if _, err := r.Seek(int64(size), io.SeekCurrent); err != nil {
			return errors.Malformed("component", headerPos, "seek past section", err)
		}

		switch id {
		case SectionCoreModule:
			*out = append(*out, CoreModule{Data: body, Offset: base + start, Depth: depth})
		case SectionComponent:
			if err := walk(body, base+start, depth+1, out); err != nil {
				return err
			}
		}
	}
}

func consumed(r *bytes.Reader) int {
	return int(r.Size()) - r.Len()
}

// rebase shifts the offset of a header error found in an embedded binary.
func rebase(err error, base int) error {
	var e *errors.Error
	if base == 0 || !stderrors.As(err, &e) || e.Offset < 0 {
		return err
	}
	c := *e
	c.Offset += base
	return &c
}

func readLEB128(r io.ByteReader) (uint32, error) {
	var result uint32
	var shift uint
	for i := 0; i < 5; i++ { // Max 5 bytes for uint32
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if i == 4 && b&0x70 != 0 {
			return 0, fmt.Errorf("LEB128 value too large")
		}
		result |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("LEB128 encoding exceeded maximum length")
}
