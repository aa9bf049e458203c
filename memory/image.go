package memory

import (
	"bytes"
	"container/heap"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

// Image is a sparse, read-only snapshot of initial linear memory.
//
// Writes are only recorded; the extents are resolved in one sweep on the
// first read after a write. Reads may run concurrently once writing is
// done.
type Image struct {
	mu      sync.Mutex
	dirty   atomic.Bool
	pending []span
	extents []extent // sorted by addr, non-overlapping
}

type extent struct {
	data []byte
	addr uint64
}

func (e extent) end() uint64 {
	return e.addr + uint64(len(e.data))
}

// span is a recorded write; seq orders writes so later ones win.
type span struct {
	extent
	seq int
}

// Write applies data at addr. Bytes already present in the range are
// overwritten, so later writes win. data is retained, not copied.
// Writes that would wrap the address space are ignored and reported false.
func (im *Image) Write(addr uint64, data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if addr+uint64(len(data)) < addr {
		return false
	}
	im.mu.Lock()
	im.pending = append(im.pending, span{extent: extent{addr: addr, data: data}})
	im.dirty.Store(true)
	im.mu.Unlock()
	return true
}

// settle folds pending writes into the extents.
func (im *Image) settle() {
	if !im.dirty.Load() {
		return
	}
	im.mu.Lock()
	defer im.mu.Unlock()
	if !im.dirty.Load() {
		return
	}

	spans := make([]span, 0, len(im.extents)+len(im.pending))
	for _, e := range im.extents {
		spans = append(spans, span{extent: e, seq: len(spans)})
	}
	for _, p := range im.pending {
		p.seq = len(spans)
		spans = append(spans, p)
	}
	im.extents = sweep(spans)
	im.pending = nil
	im.dirty.Store(false)
}

// sweep resolves overlapping spans into sorted, non-overlapping extents
// where every byte comes from the highest-seq span covering it. It runs in
// O(n log n).
func sweep(spans []span) []extent {
	sort.Slice(spans, func(i, j int) bool { return spans[i].addr < spans[j].addr })

	bounds := make([]uint64, 0, 2*len(spans))
	for _, s := range spans {
		bounds = append(bounds, s.addr, s.end())
	}
	slices.Sort(bounds)
	bounds = slices.Compact(bounds)

	var (
		out  []extent
		live spanHeap
		next int
		last = -1 // seq of the span that produced out's final extent
	)
	for bi := 0; bi+1 < len(bounds); bi++ {
		lo, hi := bounds[bi], bounds[bi+1]
		for next < len(spans) && spans[next].addr <= lo {
			heap.Push(&live, spans[next])
			next++
		}
		for live.Len() > 0 && live[0].end() <= lo {
			heap.Pop(&live)
		}
		if live.Len() == 0 {
			continue
		}
		// top starts at or before lo and ends at a bound after lo, so it
		// covers [lo, hi)
		top := live[0]
		if n := len(out); n > 0 && last == top.seq && out[n-1].end() == lo {
			out[n-1].data = top.data[out[n-1].addr-top.addr : hi-top.addr]
			continue
		}
		out = append(out, extent{addr: lo, data: top.data[lo-top.addr : hi-top.addr]})
		last = top.seq
	}
	return out
}

// spanHeap is a max-heap on seq.
type spanHeap []span

func (h spanHeap) Len() int           { return len(h) }
func (h spanHeap) Less(i, j int) bool { return h[i].seq > h[j].seq }
func (h spanHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *spanHeap) Push(x any)        { *h = append(*h, x.(span)) }
func (h *spanHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// find returns the index of the extent containing addr, or -1.
func (im *Image) find(addr uint64) int {
	im.settle()
	i := sort.Search(len(im.extents), func(i int) bool { return im.extents[i].end() > addr })
	if i < len(im.extents) && im.extents[i].addr <= addr {
		return i
	}
	return -1
}

// ByteAt returns the byte at addr if some segment wrote it.
func (im *Image) ByteAt(addr uint64) (byte, bool) {
	i := im.find(addr)
	if i < 0 {
		return 0, false
	}
	e := im.extents[i]
	return e.data[addr-e.addr], true
}

// Read returns a copy of [addr, addr+n) when every byte in it is present.
func (im *Image) Read(addr uint64, n int) ([]byte, bool) {
	if n < 0 || addr+uint64(n) < addr {
		return nil, false
	}
	out := make([]byte, 0, n)
	i := im.find(addr)
	if i < 0 {
		return nil, n == 0
	}
	cur := addr
	for len(out) < n {
		if i >= len(im.extents) || im.extents[i].addr != cur && len(out) > 0 {
			return nil, false
		}
		e := im.extents[i]
		chunk := e.data[cur-e.addr:]
		if need := n - len(out); len(chunk) > need {
			chunk = chunk[:need]
		}
		out = append(out, chunk...)
		cur += uint64(len(chunk))
		i++
	}
	return out, true
}

// CString returns the bytes from addr up to (not including) the first NUL,
// provided a NUL appears within max bytes and no byte before it is absent.
func (im *Image) CString(addr uint64, max int) ([]byte, bool) {
	i := im.find(addr)
	if i < 0 {
		return nil, false
	}
	var out []byte
	cur := addr
	for len(out) <= max {
		if i >= len(im.extents) || im.extents[i].addr > cur {
			return nil, false
		}
		e := im.extents[i]
		chunk := e.data[cur-e.addr:]
		if limit := max + 1 - len(out); len(chunk) > limit {
			chunk = chunk[:limit]
		}
		if nul := bytes.IndexByte(chunk, 0); nul >= 0 {
			if len(out)+nul > max {
				return nil, false
			}
			return append(out, chunk[:nul]...), true
		}
		out = append(out, chunk...)
		cur += uint64(len(chunk))
		i++
	}
	return nil, false
}

// Size returns the number of bytes present.
func (im *Image) Size() int {
	im.settle()
	n := 0
	for _, e := range im.extents {
		n += len(e.data)
	}
	return n
}

// Range is one contiguous run of present bytes.
type Range struct {
	Start, End uint64
}

// Ranges returns the present address ranges in ascending order, with
// touching extents coalesced.
func (im *Image) Ranges() []Range {
	im.settle()
	var out []Range
	for _, e := range im.extents {
		if n := len(out); n > 0 && out[n-1].End == e.addr {
			out[n-1].End = e.end()
			continue
		}
		out = append(out, Range{Start: e.addr, End: e.end()})
	}
	return out
}
