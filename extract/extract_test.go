package extract_test

import (
	"testing"

	"github.com/wippyai/wasm2env/extract"
	"github.com/wippyai/wasm2env/interp"
	"github.com/wippyai/wasm2env/memory"
)

func image() *memory.Image {
	img := &memory.Image{}
	img.Write(0, []byte("DATABASE_URL"))
	img.Write(64, []byte("API_KEY\x00"))
	img.Write(128, []byte("NOT_TERMINATED"))
	return img
}

func site(args ...interp.Value) interp.CallSite {
	return interp.CallSite{Args: args, Offset: 40, Caller: 3, Callee: 1, Direct: true}
}

func strs(cs []extract.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c.Data)
	}
	return out
}

func TestRecover(t *testing.T) {
	i32 := interp.I32
	tests := []struct {
		name  string
		sites []interp.CallSite
		opts  extract.Options
		want  []string
	}{
		{"pair", []interp.CallSite{site(i32(0), i32(12))}, extract.Options{}, []string{"DATABASE_URL"}},
		{"pair prefix", []interp.CallSite{site(i32(0), i32(8))}, extract.Options{}, []string{"DATABASE"}},
		{"pair after leading arg", []interp.CallSite{site(interp.Unknown, i32(64), i32(7))}, extract.Options{}, []string{"API_KEY"}},
		{"range runs into gap", []interp.CallSite{site(i32(0), i32(13))}, extract.Options{}, nil},
		{"zero length", []interp.CallSite{site(i32(0), i32(0))}, extract.Options{}, nil},
		{"negative length", []interp.CallSite{site(i32(0), i32(-1))}, extract.Options{}, nil},
		{"over bound", []interp.CallSite{site(i32(0), i32(12))}, extract.Options{MaxLength: 8}, nil},
		{"unknown length", []interp.CallSite{site(i32(0), interp.Unknown)}, extract.Options{}, nil},
		{"i64 pair ignored", []interp.CallSite{site(interp.I64(0), interp.I64(12))}, extract.Options{}, nil},
		{"two pairs", []interp.CallSite{site(i32(0), i32(12), i32(64), i32(7))}, extract.Options{}, []string{"DATABASE_URL", "API_KEY"}},
		{"overlapping pairs", []interp.CallSite{site(i32(64), i32(7), i32(5))}, extract.Options{}, []string{"API_KEY", "E_URL"}},
		{"duplicates kept", []interp.CallSite{site(i32(0), i32(12)), site(i32(0), i32(12))}, extract.Options{}, []string{"DATABASE_URL", "DATABASE_URL"}},
		{"cstring", []interp.CallSite{site(i32(64))}, extract.Options{CStrings: true}, []string{"API_KEY"}},
		{"cstring disabled", []interp.CallSite{site(i32(64))}, extract.Options{}, nil},
		{"cstring without terminator", []interp.CallSite{site(i32(128))}, extract.Options{CStrings: true}, nil},
		{"cstring too long", []interp.CallSite{site(i32(64))}, extract.Options{CStrings: true, MaxLength: 4}, nil},
		{"cstring empty", []interp.CallSite{site(i32(71))}, extract.Options{CStrings: true}, nil},
		{"paired pointer not reread", []interp.CallSite{site(i32(64), i32(3))}, extract.Options{CStrings: true}, []string{"API"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strs(extract.Recover(tt.sites, image(), tt.opts))
			if len(got) != len(tt.want) {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %q, want %q", got, tt.want)
				}
			}
		})
	}
}

func TestRecoverNameBeforeBuffer(t *testing.T) {
	// getenv_r(name, buf, buflen) with a zeroed buffer right after the name
	img := &memory.Image{}
	img.Write(0, append([]byte("API_KEY\x00"), make([]byte, 64)...))

	got := extract.Recover([]interp.CallSite{site(interp.I32(0), interp.I32(16), interp.I32(64))},
		img, extract.Options{CStrings: true})

	var cstrings []string
	for _, c := range got {
		if c.Path == extract.PathCString {
			cstrings = append(cstrings, string(c.Data))
			if c.Arg != 0 || c.Addr != 0 {
				t.Errorf("cstring = %+v", c)
			}
		}
	}
	if len(cstrings) != 1 || cstrings[0] != "API_KEY" {
		t.Errorf("cstring candidates = %q, all = %q", cstrings, strs(got))
	}
}

func TestRecoverProvenance(t *testing.T) {
	got := extract.Recover([]interp.CallSite{
		site(interp.Unknown, interp.I32(0), interp.I32(12)),
		{Args: []interp.Value{interp.I32(64)}, Offset: 90, Caller: 4, TypeIdx: 2},
	}, image(), extract.Options{CStrings: true})

	if len(got) != 2 {
		t.Fatalf("candidates = %+v", got)
	}
	pair := got[0]
	if pair.Path != extract.PathPair || pair.Arg != 1 || pair.Addr != 0 ||
		pair.Offset != 40 || pair.Func != 3 || pair.Callee != 1 || !pair.Direct {
		t.Errorf("pair = %+v", pair)
	}
	cs := got[1]
	if cs.Path != extract.PathCString || cs.Addr != 64 || cs.Func != 4 || cs.Direct || cs.TypeIdx != 2 {
		t.Errorf("cstring = %+v", cs)
	}
	if extract.PathPair.String() != "pair" || extract.PathCString.String() != "cstring" {
		t.Error("Path.String")
	}
}
