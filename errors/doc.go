// Package errors provides structured error types for the persisted-code
// loader.
//
// Errors are categorized by Phase (which loader produced the error) and
// Kind (the failure class from the container format's point of view).
// Every loading failure is fatal and propagates to the import call site;
// nothing in this package is retried or recovered locally.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseNative, errors.KindRelocation).
//		Path("reloc", "7").
//		Detail("misaligned patch offset %#x", off).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Format(errors.PhaseHeader, "incompatible container")
//	err := errors.UnknownSymbol("mp_obj_new_float")
//
// All errors implement the standard error interface and support
// errors.Is/As. Matching ignores the Phase when the target leaves it
// empty, so a caller can test for a Kind across all phases.
package errors
