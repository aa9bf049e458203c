package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse    Phase = "parse"    // binary container decoding
	PhaseIO       Phase = "io"       // reading the module from disk
	PhaseScan     Phase = "scan"     // analysis pipeline
	PhaseConfig   Phase = "config"   // classifier rule overrides
	PhaseValidate Phase = "validate" // compiling modules with wazero
)

// Kind categorizes the error
type Kind string

const (
	KindBadMagic   Kind = "bad_magic"
	KindBadVersion Kind = "bad_version"
	KindTruncated  Kind = "truncated"
	KindMalformed  Kind = "malformed"
	KindIO         Kind = "io"
	KindCanceled   Kind = "canceled"
	KindInvalid    Kind = "invalid"
)

// Sentinels for errors.Is. They compare by Phase and Kind only.
var (
	ErrBadMagic     = &Error{Phase: PhaseParse, Kind: KindBadMagic, Offset: -1}
	ErrBadVersion   = &Error{Phase: PhaseParse, Kind: KindBadVersion, Offset: -1}
	ErrTruncated    = &Error{Phase: PhaseParse, Kind: KindTruncated, Offset: -1}
	ErrMalformed    = &Error{Phase: PhaseParse, Kind: KindMalformed, Offset: -1}
	ErrIO           = &Error{Phase: PhaseIO, Kind: KindIO, Offset: -1}
	ErrCanceled     = &Error{Phase: PhaseScan, Kind: KindCanceled, Offset: -1}
	ErrInvalidRules = &Error{Phase: PhaseConfig, Kind: KindInvalid, Offset: -1}
	ErrInvalidWasm  = &Error{Phase: PhaseValidate, Kind: KindInvalid, Offset: -1}
)

// Error is the structured error type used throughout wasm2env
type Error struct {
	Value   any
	Cause   error
	Phase   Phase
	Kind    Kind
	Section string
	Path    string
	Detail  string
	Offset  int // byte offset into the input, -1 when not applicable
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Section != "" {
		b.WriteString(" in ")
		b.WriteString(e.Section)
		b.WriteString(" section")
	}
	if e.Offset >= 0 && (e.Phase == PhaseParse || e.Phase == PhaseValidate) {
		b.WriteString(" at offset ")
		b.WriteString(strconv.Itoa(e.Offset))
	}
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			Offset: -1,
		},
	}
}

// Section sets the section being decoded
func (b *Builder) Section(name string) *Builder {
	b.err.Section = name
	return b
}

// Offset sets the byte offset into the input
func (b *Builder) Offset(off int) *Builder {
	b.err.Offset = off
	return b
}

// Path sets the file path
func (b *Builder) Path(path string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// BadMagic creates an error for input that does not start with "\0asm"
func BadMagic(got []byte) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindBadMagic,
		Offset: 0,
		Detail: fmt.Sprintf("expected 00 61 73 6d, got % x", got),
		Value:  got,
	}
}

// BadVersion creates an error for an unsupported binary version
func BadVersion(version uint32) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindBadVersion,
		Offset: 4,
		Detail: fmt.Sprintf("unsupported version 0x%08x", version),
		Value:  version,
	}
}

// Truncated creates an error for input that ends before a declared length
func Truncated(section string, offset int, cause error) *Error {
	return &Error{
		Phase:   PhaseParse,
		Kind:    KindTruncated,
		Section: section,
		Offset:  offset,
		Detail:  "unexpected end of input",
		Cause:   cause,
	}
}

// Malformed creates an error for a structurally invalid encoding
func Malformed(section string, offset int, detail string, cause error) *Error {
	return &Error{
		Phase:   PhaseParse,
		Kind:    KindMalformed,
		Section: section,
		Offset:  offset,
		Detail:  detail,
		Cause:   cause,
	}
}

// IO creates an error for a failed file read
func IO(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseIO,
		Kind:   KindIO,
		Path:   path,
		Offset: -1,
		Detail: "read module",
		Cause:  cause,
	}
}

// Canceled creates an error for a scan stopped by its context
func Canceled(cause error) *Error {
	return &Error{
		Phase:  PhaseScan,
		Kind:   KindCanceled,
		Offset: -1,
		Detail: "scan stopped before completion",
		Cause:  cause,
	}
}

// InvalidRules creates an error for a rule override that cannot be used
func InvalidRules(path, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalid,
		Path:   path,
		Offset: -1,
		Detail: detail,
		Cause:  cause,
	}
}

// InvalidWasm creates an error for a module wazero refused to compile.
// offset locates the module inside the input.
func InvalidWasm(offset int, cause error) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindInvalid,
		Offset: offset,
		Detail: "module failed to compile",
		Cause:  cause,
	}
}
