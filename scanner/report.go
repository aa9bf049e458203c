package scanner

import (
	"fmt"
	"strconv"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"github.com/wippyai/wasm2env/classify"
	"github.com/wippyai/wasm2env/extract"
)

// Report is the full outcome of a scan.
type Report struct {
	Names      []string    `json:"names"`
	Candidates []Candidate `json:"candidates"`
	Stats      Stats       `json:"stats"`
}

// Candidate is one recovered string with its provenance and verdict.
type Candidate struct {
	Value     string `json:"value"`
	Caller    string `json:"caller"`
	Callee    string `json:"callee"`
	Path      string `json:"path"`
	Reason    string `json:"reason,omitempty"`
	Addr      uint64 `json:"addr"`
	Offset    int    `json:"offset"`
	Module    int    `json:"module"`
	Arg       int    `json:"arg"`
	CallerIdx uint32 `json:"caller_index"`
	CalleeIdx uint32 `json:"callee_index"`
	Direct    bool   `json:"direct"`
	Accepted  bool   `json:"accepted"`
}

// Stats counts what the scan looked at.
type Stats struct {
	Modules           int `json:"modules"`
	Functions         int `json:"functions"`
	Instructions      int `json:"instructions"`
	CallSites         int `json:"call_sites"`
	Candidates        int `json:"candidates"`
	Accepted          int `json:"accepted"`
	Names             int `json:"names"`
	UnappliedSegments int `json:"unapplied_segments"`
	Capped            int `json:"capped_functions"`
	DecodeErrors      int `json:"decode_errors"`
}

func newCandidate(module int, c extract.Candidate, v classify.Verdict, labels []string) Candidate {
	callee := label(labels, c.Callee)
	if !c.Direct {
		callee = fmt.Sprintf("call_indirect(type %d)", c.TypeIdx)
	}
	return Candidate{
		Value:     string(c.Data),
		Caller:    label(labels, c.Func),
		Callee:    callee,
		Path:      c.Path.String(),
		Reason:    v.Reason,
		Addr:      c.Addr,
		Offset:    c.Offset,
		Module:    module,
		Arg:       c.Arg,
		CallerIdx: c.Func,
		CalleeIdx: c.Callee,
		Direct:    c.Direct,
		Accepted:  v.Accept,
	}
}

// Accepted returns the candidates that passed classification, in scan order.
func (r *Report) Accepted() []Candidate {
	var out []Candidate
	for _, c := range r.Candidates {
		if c.Accepted {
			out = append(out, c)
		}
	}
	return out
}

// CallGraph links every function that passed an accepted name to its
// callee, and every such callee to the quoted names it received.
func (r *Report) CallGraph() *lattice.Graph {
	g := &lattice.Graph{}
	seen := make(map[string]bool)
	node := func(n string) {
		if !seen[n] {
			seen[n] = true
			g.Nodes = append(g.Nodes, n)
		}
	}
	for _, c := range r.Accepted() {
		name := strconv.Quote(c.Value)
		node(c.Caller)
		node(c.Callee)
		node(name)
		g.Edges = append(g.Edges,
			lattice.Edge{Caller: c.Caller, Callee: c.Callee},
			lattice.Edge{Caller: c.Callee, Callee: name})
	}
	g.Dedup()
	return g
}

// CFG summarizes each calling function as a single block listing the
// callees it passes names to and the names themselves.
func (r *Report) CFG() *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	byCaller := make(map[string]*lattice.FuncCFG)
	seen := make(map[string]bool)

	for _, c := range r.Accepted() {
		fn, ok := byCaller[c.Caller]
		if !ok {
			fn = &lattice.FuncCFG{Name: c.Caller}
			fn.Blocks = append(fn.Blocks, &lattice.BasicBlock{ID: 0, Start: 0, End: 1, Term: true})
			byCaller[c.Caller] = fn
			cg.Funcs = append(cg.Funcs, fn)
		}
		b := fn.Blocks[0]
		for _, callee := range []string{c.Callee, strconv.Quote(c.Value)} {
			key := c.Caller + "\x00" + callee
			if seen[key] {
				continue
			}
			seen[key] = true
			b.Calls = append(b.Calls, lattice.CallSite{Offset: len(b.Calls), Callee: callee})
		}
	}
	return cg
}

// DOT renders CFG as Graphviz source.
func (r *Report) DOT(title string) string {
	return render.DOTCFG(r.CFG(), title)
}
