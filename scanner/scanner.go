package scanner

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/wasm2env/classify"
	"github.com/wippyai/wasm2env/component"
	"github.com/wippyai/wasm2env/errors"
	"github.com/wippyai/wasm2env/extract"
	"github.com/wippyai/wasm2env/interp"
	"github.com/wippyai/wasm2env/memory"
	"github.com/wippyai/wasm2env/wasm"
)

// Scanner holds the analysis configuration. It keeps no state between
// scans and is safe for concurrent use.
type Scanner struct {
	log             *zap.Logger
	classifier      *classify.Classifier
	workers         int
	maxInstructions int
	maxStringLength int
	cstrings        bool
}

// New returns a scanner with default rules, a no-op logger and the
// NUL-terminated recovery path enabled.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		log:        zap.NewNop(),
		classifier: classify.Default(),
		cstrings:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = runtime.GOMAXPROCS(0)
	}
	return s
}

// Logger returns the scanner's logger.
func (s *Scanner) Logger() *zap.Logger {
	return s.log
}

// ScanBytes returns the environment variable names read by the module
// or component in data, sorted and without duplicates.
func (s *Scanner) ScanBytes(ctx context.Context, data []byte) ([]string, error) {
	rep, err := s.Analyze(ctx, data)
	if err != nil {
		return nil, err
	}
	return rep.Names, nil
}

// Analyze is ScanBytes with provenance: every recovered candidate,
// accepted or not, and counters for the whole scan.
//
// A context that ends before the scan finishes yields an error of kind
// canceled and no report.
func (s *Scanner) Analyze(ctx context.Context, data []byte) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Canceled(err)
	}

	units, err := parse(data)
	if err != nil {
		s.log.Debug("parse failed", zap.Error(err))
		return nil, err
	}

	rep := &Report{}
	rep.Stats.Modules = len(units)
	for i, u := range units {
		if err := s.scanModule(ctx, i, len(units) > 1, u, rep); err != nil {
			return nil, err
		}
	}

	var names []string
	for i := range rep.Candidates {
		if rep.Candidates[i].Accepted {
			names = append(names, rep.Candidates[i].Value)
		}
	}
	rep.Names = classify.Dedup(names)
	if rep.Names == nil {
		rep.Names = []string{}
	}
	rep.Stats.Names = len(rep.Names)

	s.log.Debug("scan complete",
		zap.Int("modules", rep.Stats.Modules),
		zap.Int("functions", rep.Stats.Functions),
		zap.Int("call_sites", rep.Stats.CallSites),
		zap.Int("candidates", rep.Stats.Candidates),
		zap.Int("names", rep.Stats.Names))
	return rep, nil
}

// unit is one parsed core module and where it sits in the input.
type unit struct {
	mod    *wasm.Module
	data   []byte
	offset int
}

// parse returns the core modules of data: the module itself, or every
// module embedded in a component.
func parse(data []byte) ([]unit, error) {
	h, err := wasm.ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if !h.IsComponent() {
		m, err := wasm.ParseModule(data)
		if err != nil {
			return nil, err
		}
		return []unit{{mod: m, data: data}}, nil
	}

	cms, err := component.CoreModules(data)
	if err != nil {
		return nil, err
	}
	units := make([]unit, 0, len(cms))
	for _, cm := range cms {
		m, err := wasm.ParseModuleAt(cm.Data, cm.Offset)
		if err != nil {
			return nil, err
		}
		units = append(units, unit{mod: m, data: cm.Data, offset: cm.Offset})
	}
	return units, nil
}

type funcResult struct {
	cands []extract.Candidate
	res   interp.Result
}

func (s *Scanner) scanModule(ctx context.Context, mi int, qualify bool, u unit, rep *Report) error {
	m := u.mod
	snap := memory.Build(m)
	labels := m.FuncLabels()
	if qualify {
		for i := range labels {
			labels[i] = fmt.Sprintf("m%d:%s", mi, labels[i])
		}
	}

	s.log.Debug("module",
		zap.Int("module", mi),
		zap.Int("offset", u.offset),
		zap.Int("functions", len(m.Code)),
		zap.Int("segments", len(snap.Segments)),
		zap.Int("image_bytes", snap.Image.Size()))
	for _, seg := range snap.Segments {
		if !seg.Passive && !seg.Applied {
			s.log.Debug("segment not applied",
				zap.Int("module", mi),
				zap.Int("segment", seg.Index),
				zap.String("reason", seg.Reason))
		}
	}
	rep.Stats.UnappliedSegments += snap.Unapplied()

	globals := snap.Globals.Consts()
	nImported := uint32(m.NumImportedFuncs())
	results := make([]funcResult, len(m.Code))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range m.Code {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			idx := nImported + uint32(i)
			res := interp.Analyze(m, interp.Function{
				Index: idx,
				Type:  m.GetFuncType(idx),
				Body:  &m.Code[i],
			}, interp.Options{
				Globals:         globals,
				MaxInstructions: s.maxInstructions,
			})
			results[i] = funcResult{
				res: res,
				cands: extract.Recover(res.Calls, snap.Image, extract.Options{
					MaxLength: s.maxStringLength,
					CStrings:  s.cstrings,
				}),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Canceled(err)
	}

	for i, fr := range results {
		idx := nImported + uint32(i)
		rep.Stats.Functions++
		rep.Stats.Instructions += fr.res.Instructions
		rep.Stats.CallSites += len(fr.res.Calls)
		if fr.res.Capped {
			rep.Stats.Capped++
		}
		if fr.res.Err != nil {
			rep.Stats.DecodeErrors++
			s.log.Debug("function decode stopped early",
				zap.Uint32("func", idx),
				zap.Error(fr.res.Err))
		}
		if len(fr.res.Calls) > 0 || fr.res.Capped {
			s.log.Debug("function analyzed",
				zap.Uint32("func", idx),
				zap.String("name", label(labels, idx)),
				zap.Int("instructions", fr.res.Instructions),
				zap.Int("call_sites", len(fr.res.Calls)),
				zap.Int("candidates", len(fr.cands)),
				zap.Bool("capped", fr.res.Capped))
		}

		for _, c := range fr.cands {
			v := s.classifier.Check(c.Data)
			cand := newCandidate(mi, c, v, labels)
			rep.Candidates = append(rep.Candidates, cand)
			rep.Stats.Candidates++
			if v.Accept {
				rep.Stats.Accepted++
				s.log.Debug("candidate accepted",
					zap.String("value", cand.Value),
					zap.String("caller", cand.Caller),
					zap.String("callee", cand.Callee),
					zap.Int("offset", cand.Offset))
			} else {
				s.log.Debug("candidate rejected",
					zap.String("value", cand.Value),
					zap.String("reason", v.Reason),
					zap.Int("offset", cand.Offset))
			}
		}
	}
	return nil
}

func label(labels []string, idx uint32) string {
	if int(idx) < len(labels) {
		return labels[idx]
	}
	return fmt.Sprintf("func[%d]", idx)
}
