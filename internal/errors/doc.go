// Package errors provides domain-specific error types and utilities.
//
// This package implements a structured error handling system with error codes,
// wrapping, and context information. It follows Go 1.13+ error handling patterns
// with errors.Is and errors.As support.
//
// # Usage
//
//	// Creating errors
//	err := errors.New(errors.CodeKeyNotFound, "key is not present")
//	err := errors.Newf(errors.CodeKeyTooLong, "key is %d bytes", len(key))
//
//	// Wrapping errors
//	if err := doSomething(); err != nil {
//		return errors.Wrap(err, errors.CodeStreamRead, "failed to read command line")
//	}
//
//	// Checking error codes
//	if errors.IsCode(err, errors.CodeKeyTooLong) {
//		// Reject the command
//	}
//
// # Error Codes
//
// Error codes are organized by domain:
//   - Cache: CodeKeyTooLong, CodeValueTooLong, CodeKeyNotFound,
//     CodeCapacityExceeded, CodeEvictionFailed
//   - Transport: CodeInvalidCmd, CodeCommandParse, CodeLineRead,
//     CodeNumberParse, CodeUtf8, CodeStreamRead, CodeStreamWrite
//   - Operational: CodeBindFailed, CodeInvalidConfig, CodeConfigIOFailed,
//     CodeLoggingFailed, CodeInternal
//
// # Design Principles
//
//   - Structured: Errors have codes, messages, and optional context
//   - Wrappable: Errors can wrap underlying causes
//   - Matchable: Support for errors.Is and errors.As
//   - Informative: Context can be attached for debugging
package errors
