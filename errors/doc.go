// Package errors provides structured error types for wasm2env.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// Parse errors also carry the byte offset and section where decoding stopped.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseParse, errors.KindMalformed).
//		Section("code").
//		Offset(812).
//		Detail("type index %d out of range", idx).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Truncated("data", 31, io.ErrUnexpectedEOF)
//	err := errors.IO("/tmp/app.wasm", cause)
//
// Sentinels (ErrBadMagic, ErrTruncated, ...) match any error of the same
// Phase and Kind, so callers test categories with the standard library:
//
//	if errors.Is(err, errors.ErrTruncated) { ... }
package errors
