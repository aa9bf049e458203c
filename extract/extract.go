package extract

import (
	"bytes"
	"fmt"

	"github.com/wippyai/wasm2env/interp"
	"github.com/wippyai/wasm2env/memory"
)

// DefaultMaxLength bounds recovered strings when Options.MaxLength is zero.
const DefaultMaxLength = 4096

// Path names the recovery rule that produced a candidate.
type Path uint8

const (
	PathPair    Path = iota // adjacent (pointer, length) arguments
	PathCString             // NUL-terminated string at an unpaired pointer
)

func (p Path) String() string {
	switch p {
	case PathPair:
		return "pair"
	case PathCString:
		return "cstring"
	default:
		return fmt.Sprintf("path(%d)", uint8(p))
	}
}

// Candidate is a byte string recovered from memory and where it came from.
type Candidate struct {
	Data    []byte
	Addr    uint64 // address the string was read from
	Offset  int    // offset of the call instruction
	Arg     int    // argument position of the pointer
	Func    uint32 // function containing the call
	Callee  uint32 // called function when Direct
	TypeIdx uint32 // callee type when not Direct
	Direct  bool
	Path    Path
}

// Options tunes recovery.
type Options struct {
	// MaxLength is the longest string accepted on either path.
	MaxLength int
	// CStrings enables the NUL-terminated secondary path.
	CStrings bool
}

// Recover reads candidate strings for every call site. Every adjacent
// argument pair (i, i+1) is tried as (pointer, length). A pair is used
// only if both values are i32 constants, the length is between 1 and
// MaxLength and every byte of the range is present in the image.
//
// A pair whose bytes contain no NUL claims both arguments. Unclaimed i32
// arguments are then tried as NUL-terminated strings, which recovers the
// name in calls like getenv_r(name, buf, buflen) where the name pointer
// also pairs with the buffer pointer.
func Recover(sites []interp.CallSite, img *memory.Image, opts Options) []Candidate {
	limit := opts.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLength
	}

	var out []Candidate
	for _, site := range sites {
		claimed := make([]bool, len(site.Args))

		for i := 0; i+1 < len(site.Args); i++ {
			ptr, ok1 := site.Args[i].AsI32()
			n, ok2 := site.Args[i+1].AsI32()
			if !ok1 || !ok2 || n < 1 || int64(n) > int64(limit) {
				continue
			}
			addr := uint64(uint32(ptr))
			data, ok := img.Read(addr, int(n))
			if !ok {
				continue
			}
			out = append(out, newCandidate(site, i, addr, data, PathPair))
			if bytes.IndexByte(data, 0) < 0 {
				claimed[i], claimed[i+1] = true, true
			}
		}

		if !opts.CStrings {
			continue
		}
		for i, arg := range site.Args {
			ptr, ok := arg.AsI32()
			if claimed[i] || !ok {
				continue
			}
			addr := uint64(uint32(ptr))
			data, ok := img.CString(addr, limit)
			if !ok || len(data) == 0 {
				continue
			}
			out = append(out, newCandidate(site, i, addr, data, PathCString))
		}
	}
	return out
}

func newCandidate(site interp.CallSite, arg int, addr uint64, data []byte, path Path) Candidate {
	return Candidate{
		Data:    data,
		Addr:    addr,
		Offset:  site.Offset,
		Arg:     arg,
		Func:    site.Caller,
		Callee:  site.Callee,
		TypeIdx: site.TypeIdx,
		Direct:  site.Direct,
		Path:    path,
	}
}
