// Package errors provides structured error types for the vfd module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries a location path, the offending value and a cause chain.
//
// Registry operations never return errors; they report through sentinel values
// such as descriptor.InvalidVD. Structured errors are produced by the layers around
// the registry: option validation, the invariant check, the host module binding
// and the command line, which also uses them to explain refused commands.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseVerify, errors.KindInconsistent).
//		Path("socket", "0x2a").
//		Value(7).
//		Detail("reverse entry missing").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Duplicate(errors.PhaseRegister, "socket", 0x2a)
//	err := errors.NotFound(errors.PhaseLookup, "descriptor", 42)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
