package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in loading the error occurred
type Phase string

const (
	PhaseHeader   Phase = "header"   // container header gate
	PhaseBytecode Phase = "bytecode" // bytecode container decoding
	PhaseNative   Phase = "native"   // native blob decoding and relocation
	PhaseObject   Phase = "object"   // ELF object-file module loading
	PhaseSave     Phase = "save"     // container writing
)

// Kind categorizes the error. Every loading failure falls into exactly one
// of these, so callers can tell "this file is corrupt" (format/structural)
// apart from "this file references something we don't provide" (relocation)
// and "the host ran out of room" (resource).
type Kind string

const (
	// KindFormat covers bad magic/version/flags/ISA bytes, truncated
	// streams and unterminated blocks.
	KindFormat Kind = "format"

	// KindResource covers allocation failures and over-ceiling code sizes.
	KindResource Kind = "resource"

	// KindRelocation covers unknown target selectors, unsupported
	// relocation-type codes, misaligned offsets and post-commit address
	// mismatches.
	KindRelocation Kind = "relocation"

	// KindStructural covers object files missing required sections,
	// non-contiguous read-only regions and missing or ambiguous export
	// descriptor symbols.
	KindStructural Kind = "structural"

	// KindUnsupported covers operations the writer cannot perform, such
	// as saving a native raw code.
	KindUnsupported Kind = "unsupported"
)

// Error is the structured error type used throughout the loader
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
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

// WithCause attaches an underlying error and returns the receiver, for
// chaining off the convenience constructors.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// Is reports whether target matches this error. A target with an empty
// Phase matches any phase, so errors.Is(err, &Error{Kind: KindFormat})
// tests the kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase != "" && e.Phase != t.Phase {
			return false
		}
		return e.Kind == t.Kind
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
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
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

// Format creates a format error
func Format(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFormat,
		Detail: sprintf(detail, args),
	}
}

// Truncated creates a format error for an input that ended early
func Truncated(phase Phase, what string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindFormat,
		Detail: fmt.Sprintf("truncated input reading %s", what),
		Cause:  cause,
	}
}

// Resource creates a resource error
func Resource(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindResource,
		Detail: sprintf(detail, args),
	}
}

// CodeTooBig creates a resource error for an over-ceiling code segment
func CodeTooBig(phase Phase, size, ceiling int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindResource,
		Detail: fmt.Sprintf("code too big: %d bytes (ceiling %d)", size, ceiling),
	}
}

// Relocation creates a relocation error
func Relocation(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRelocation,
		Detail: sprintf(detail, args),
	}
}

// UnknownSelector creates a relocation error for a target selector outside
// the fixed host function table
func UnknownSelector(phase Phase, selector, tableLen int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRelocation,
		Detail: fmt.Sprintf("unknown target selector %d (host table has %d entries)", selector, tableLen),
	}
}

// UnknownSymbol creates a relocation error for a name missing from the
// host whitelist
func UnknownSymbol(name string) *Error {
	return &Error{
		Phase:  PhaseObject,
		Kind:   KindRelocation,
		Detail: fmt.Sprintf("relocation failed: unknown symbol %s", name),
	}
}

// CommitMismatch creates a relocation error for a commit that landed at a
// different address than relocations were computed against
func CommitMismatch(phase Phase, want, got uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRelocation,
		Detail: fmt.Sprintf("code address after commit is wrong: want %#x, got %#x", want, got),
	}
}

// Structural creates a structural error
func Structural(detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseObject,
		Kind:   KindStructural,
		Detail: sprintf(detail, args),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

func sprintf(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
