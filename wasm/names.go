package wasm

import (
	"fmt"

	"github.com/wippyai/wasm2env/wasm/internal/binary"
)

// Name section subsection ids
const (
	nameSubModule   byte = 0
	nameSubFunction byte = 1
)

// FuncNames decodes the function-name map of the "name" custom section.
// The section is debug information, so a malformed one yields whatever was
// decoded before the damage rather than an error.
func (m *Module) FuncNames() map[uint32]string {
	names := make(map[uint32]string)
	for _, cs := range m.CustomSections {
		if cs.Name != "name" {
			continue
		}
		r := binary.NewReader(cs.Data, 0)
		for !r.EOF() {
			id, err := r.ReadByte()
			if err != nil {
				return names
			}
			size, err := r.ReadU32()
			if err != nil {
				return names
			}
			payload, err := r.ReadBytes(int(size))
			if err != nil {
				return names
			}
			if id != nameSubFunction {
				continue
			}
			readNameMap(binary.NewReader(payload, 0), names)
		}
	}
	return names
}

func readNameMap(r *binary.Reader, into map[uint32]string) {
	count, err := r.ReadCount(2)
	if err != nil {
		return
	}
	for i := uint32(0); i < count; i++ {
		idx, err := r.ReadU32()
		if err != nil {
			return
		}
		name, err := r.ReadName()
		if err != nil {
			return
		}
		into[idx] = name
	}
}

// FuncLabels returns a display label for every function index: the name
// section entry, else the first export name, else "module.field" for
// imports, else "func[N]".
func (m *Module) FuncLabels() []string {
	labels := make([]string, m.NumFuncs())
	names := m.FuncNames()

	exported := make(map[uint32]string)
	for _, e := range m.Exports {
		if e.Kind != KindFunc {
			continue
		}
		if _, ok := exported[e.Idx]; !ok {
			exported[e.Idx] = e.Name
		}
	}

	var fi uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			labels[fi] = imp.Module + "." + imp.Name
			fi++
		}
	}

	for i := range labels {
		idx := uint32(i)
		if n, ok := names[idx]; ok && n != "" {
			labels[i] = n
			continue
		}
		if n, ok := exported[idx]; ok {
			labels[i] = n
			continue
		}
		if labels[i] == "" {
			labels[i] = fmt.Sprintf("func[%d]", idx)
		}
	}
	return labels
}
