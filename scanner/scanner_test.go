package scanner_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm2env/classify"
	"github.com/wippyai/wasm2env/component"
	wasmerrors "github.com/wippyai/wasm2env/errors"
	"github.com/wippyai/wasm2env/internal/wasmtest"
	"github.com/wippyai/wasm2env/scanner"
	"github.com/wippyai/wasm2env/wasm"
)

var (
	i32  = []wasm.ValType{wasm.ValI32}
	pair = []wasm.ValType{wasm.ValI32, wasm.ValI32}
)

// lookup is one getenv(ptr, len) call against a string placed at addr.
type lookup struct {
	name string
	addr int32
}

// envModule builds a module importing env.getenv(i32, i32) and env.log(i32).
// Every lookup gets its own data segment and one call in the exported
// function "run".
func envModule(lookups ...lookup) []byte {
	b := wasmtest.New()
	getenv := b.ImportFunc("env", "getenv", b.Type(pair, nil))
	b.ImportFunc("env", "log", b.Type(i32, nil))
	b.Memory(1)

	code := wasmtest.NewCode()
	for _, l := range lookups {
		b.Data(l.addr, append([]byte(l.name), 0))
		code.I32(l.addr).I32(int32(len(l.name))).Call(getenv)
	}
	fn := b.Func(b.Type(nil, nil), nil, code)
	b.Export("run", fn)
	return b.Bytes()
}

func scan(t *testing.T, data []byte, opts ...scanner.Option) *scanner.Report {
	t.Helper()
	rep, err := scanner.New(opts...).Analyze(context.Background(), data)
	require.NoError(t, err)
	return rep
}

func TestScanRecoversPair(t *testing.T) {
	rep := scan(t, envModule(lookup{"DATABASE_URL", 0}))

	assert.Equal(t, []string{"DATABASE_URL"}, rep.Names)
	require.Len(t, rep.Candidates, 1)
	c := rep.Candidates[0]
	assert.True(t, c.Accepted)
	assert.Equal(t, "run", c.Caller)
	assert.Equal(t, "env.getenv", c.Callee)
	assert.Equal(t, "pair", c.Path)
	assert.Equal(t, uint64(0), c.Addr)
	assert.Equal(t, uint32(2), c.CallerIdx)
	assert.True(t, c.Direct)
	assert.Greater(t, c.Offset, 0)

	assert.Equal(t, 1, rep.Stats.Modules)
	assert.Equal(t, 1, rep.Stats.Functions)
	assert.Equal(t, 1, rep.Stats.CallSites)
	assert.Equal(t, 1, rep.Stats.Accepted)
	assert.Equal(t, 1, rep.Stats.Names)
}

func TestScanRejections(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		reason string
	}{
		{"too short", "AB", classify.ReasonLength},
		{"space", "API KEY", classify.ReasonCharset},
		{"denied literal", "HTTP", classify.ReasonDenied},
		{"denied runtime variable", "RUST_BACKTRACE", classify.ReasonDeniedSubstr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := scan(t, envModule(lookup{tt.value, 16}))

			assert.Empty(t, rep.Names)
			assert.NotNil(t, rep.Names)
			require.Len(t, rep.Candidates, 1)
			assert.False(t, rep.Candidates[0].Accepted)
			assert.Equal(t, tt.reason, rep.Candidates[0].Reason)
		})
	}
}

func TestScanDeduplicates(t *testing.T) {
	rep := scan(t, envModule(lookup{"API_KEY", 0}, lookup{"API_KEY", 64}))

	assert.Equal(t, []string{"API_KEY"}, rep.Names)
	assert.Equal(t, 2, rep.Stats.Candidates)
	assert.Equal(t, 2, rep.Stats.Accepted)
}

func TestScanSortsNames(t *testing.T) {
	rep := scan(t, envModule(
		lookup{"STRIPE_SECRET", 0},
		lookup{"DATABASE_URL", 32},
		lookup{"API_KEY", 64},
	))
	assert.Equal(t, []string{"API_KEY", "DATABASE_URL", "STRIPE_SECRET"}, rep.Names)
}

func TestScanImportedGlobalOffset(t *testing.T) {
	b := wasmtest.New()
	getenv := b.ImportFunc("env", "getenv", b.Type(pair, nil))
	base := b.ImportGlobal("env", "memory_base", wasm.ValI32, false)
	b.Memory(1)
	b.DataExpr(wasmtest.GlobalExpr(base), []byte("DATABASE_URL"))
	b.Func(b.Type(nil, nil), nil, wasmtest.NewCode().I32(0).I32(12).Call(getenv))

	rep := scan(t, b.Bytes())
	assert.Empty(t, rep.Names)
	assert.Empty(t, rep.Candidates)
	assert.Equal(t, 1, rep.Stats.UnappliedSegments)
}

func TestScanDeterministic(t *testing.T) {
	data := envModule(
		lookup{"OPENAI_API_KEY", 0},
		lookup{"REDIS_URL", 32},
		lookup{"JWT_SECRET", 64},
		lookup{"HTTP", 96},
	)
	first := scan(t, data)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scan(t, data))
	}
}

func TestScanWorkersDoNotChangeResult(t *testing.T) {
	b := wasmtest.New()
	getenv := b.ImportFunc("env", "getenv", b.Type(pair, nil))
	b.Memory(1)
	names := []string{"AWS_ACCESS_KEY", "AWS_SECRET_KEY", "GITHUB_TOKEN", "SENTRY_URL", "SMTP_PASSWORD", "DB_HOST_PORT"}
	for i, n := range names {
		addr := int32(i * 32)
		b.Data(addr, []byte(n))
		b.Func(b.Type(nil, nil), nil, wasmtest.NewCode().I32(addr).I32(int32(len(n))).Call(getenv))
	}
	data := b.Bytes()

	serial := scan(t, data, scanner.WithWorkers(1))
	parallel := scan(t, data, scanner.WithWorkers(4))
	assert.Equal(t, serial, parallel)
	assert.Len(t, serial.Names, len(names))
	assert.Equal(t, len(names), serial.Stats.Functions)
}

func TestScanCString(t *testing.T) {
	b := wasmtest.New()
	b.ImportFunc("env", "getenv", b.Type(pair, nil))
	logf := b.ImportFunc("env", "log", b.Type(i32, nil))
	b.Memory(1)
	b.Data(64, []byte("SECRET_TOKEN\x00"))
	b.Func(b.Type(nil, nil), nil, wasmtest.NewCode().I32(64).Call(logf))
	data := b.Bytes()

	rep := scan(t, data)
	assert.Equal(t, []string{"SECRET_TOKEN"}, rep.Names)
	require.Len(t, rep.Candidates, 1)
	assert.Equal(t, "cstring", rep.Candidates[0].Path)
	assert.Equal(t, "env.log", rep.Candidates[0].Callee)

	rep = scan(t, data, scanner.WithCStrings(false))
	assert.Empty(t, rep.Names)
}

// getenv_r(name, buf, len) passes a C string then a buffer pair.
func TestScanNameBeforeBuffer(t *testing.T) {
	b := wasmtest.New()
	getenvR := b.ImportFunc("env", "getenv_r", b.Type([]wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}, nil))
	b.Memory(1)
	b.Data(0, append([]byte("API_KEY\x00"), make([]byte, 64)...))
	b.Func(b.Type(nil, nil), nil, wasmtest.NewCode().I32(0).I32(16).I32(64).Call(getenvR))

	rep := scan(t, b.Bytes())
	assert.Equal(t, []string{"API_KEY"}, rep.Names)
}

func TestScanMaxInstructions(t *testing.T) {
	rep := scan(t, envModule(lookup{"DATABASE_URL", 0}), scanner.WithMaxInstructions(2))

	assert.Empty(t, rep.Names)
	assert.Equal(t, 1, rep.Stats.Capped)
	assert.Equal(t, 2, rep.Stats.Instructions)
}

func TestScanMaxStringLength(t *testing.T) {
	rep := scan(t, envModule(lookup{"DATABASE_URL", 0}), scanner.WithMaxStringLength(8))
	assert.Empty(t, rep.Candidates)
}

func TestScanCustomRules(t *testing.T) {
	rules := classify.DefaultRules()
	rules.DenyExact = append(rules.DenyExact, "DATABASE_URL")

	rep := scan(t, envModule(lookup{"DATABASE_URL", 0}), scanner.WithRules(rules))
	assert.Empty(t, rep.Names)
}

func TestScanIndirectCall(t *testing.T) {
	b := wasmtest.New()
	sig := b.Type(pair, nil)
	b.ImportFunc("env", "getenv", sig)
	b.Memory(1)
	b.Data(0, []byte("DATABASE_URL"))
	b.Func(b.Type(nil, nil), nil, wasmtest.NewCode().I32(0).I32(12).I32(0).CallIndirect(sig))

	rep := scan(t, b.Bytes())
	assert.Equal(t, []string{"DATABASE_URL"}, rep.Names)
	require.Len(t, rep.Candidates, 1)
	assert.False(t, rep.Candidates[0].Direct)
	assert.Equal(t, "call_indirect(type 0)", rep.Candidates[0].Callee)
}

func TestScanBadMagic(t *testing.T) {
	_, err := scanner.New().ScanBytes(context.Background(), []byte("\x7fELF\x02\x01\x01\x00"))
	assert.True(t, errors.Is(err, wasmerrors.ErrBadMagic), "err = %v", err)

	_, err = scanner.New().ScanBytes(context.Background(), nil)
	assert.True(t, errors.Is(err, wasmerrors.ErrBadMagic), "err = %v", err)
}

// sectionBoundaries returns every offset where a core module section starts
// or the module ends.
func sectionBoundaries(t *testing.T, data []byte) map[int]bool {
	t.Helper()
	out := map[int]bool{8: true}
	pos := 8
	for pos < len(data) {
		pos++
		var size, shift uint
		for {
			b := data[pos]
			pos++
			size |= uint(b&0x7f) << shift
			shift += 7
			if b&0x80 == 0 {
				break
			}
		}
		pos += int(size)
		out[pos] = true
	}
	require.Equal(t, len(data), pos)
	return out
}

func TestScanTruncated(t *testing.T) {
	data := envModule(lookup{"DATABASE_URL", 0}, lookup{"API_KEY", 32})
	boundaries := sectionBoundaries(t, data)
	s := scanner.New()

	for n := 4; n < len(data); n++ {
		if boundaries[n] {
			continue
		}
		_, err := s.ScanBytes(context.Background(), data[:n])
		assert.True(t, errors.Is(err, wasmerrors.ErrTruncated), "cut at %d: err = %v", n, err)
	}
}

func TestScanCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := scanner.New().Analyze(ctx, envModule(lookup{"DATABASE_URL", 0}))
	assert.Nil(t, rep)
	assert.True(t, errors.Is(err, wasmerrors.ErrCanceled), "err = %v", err)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
}

func TestScanComponent(t *testing.T) {
	inner := wasmtest.Component(
		wasmtest.ComponentSection(component.SectionCoreModule, envModule(lookup{"REDIS_URL", 0})),
	)
	data := wasmtest.Component(
		wasmtest.ComponentSection(component.SectionCoreModule, envModule(lookup{"DATABASE_URL", 0}, lookup{"HTTP", 32})),
		wasmtest.ComponentSection(component.SectionComponent, inner),
	)

	rep := scan(t, data)
	assert.Equal(t, []string{"DATABASE_URL", "REDIS_URL"}, rep.Names)
	assert.Equal(t, 2, rep.Stats.Modules)
	for _, c := range rep.Candidates {
		assert.True(t, strings.HasPrefix(c.Caller, "m"), "caller %q", c.Caller)
	}
	assert.Equal(t, 0, rep.Candidates[0].Module)
	assert.Equal(t, 1, rep.Candidates[len(rep.Candidates)-1].Module)
}

func TestScanComponentTruncated(t *testing.T) {
	data := wasmtest.Component(
		wasmtest.ComponentSection(component.SectionCoreModule, envModule(lookup{"DATABASE_URL", 0})),
	)
	_, err := scanner.New().ScanBytes(context.Background(), data[:len(data)-3])
	assert.True(t, errors.Is(err, wasmerrors.ErrTruncated), "err = %v", err)
}

func TestScanLogsDecisions(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := scanner.New(scanner.WithLogger(zap.New(core)))

	_, err := s.ScanBytes(context.Background(), envModule(lookup{"DATABASE_URL", 0}, lookup{"HTTP", 32}))
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("candidate accepted").Len())
	rejected := logs.FilterMessage("candidate rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, "HTTP", rejected[0].ContextMap()["value"])
	assert.Equal(t, 1, logs.FilterMessage("scan complete").Len())
}

func TestNilLoggerIgnored(t *testing.T) {
	s := scanner.New(scanner.WithLogger(nil))
	assert.NotNil(t, s.Logger())
}
