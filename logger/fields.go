package logger

import (
	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across nstree.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Operations
	FieldOperation = "operation"
	FieldPath      = "path"
	FieldDestPath  = "dest_path"
	FieldNewName   = "new_name"

	// Store
	FieldStore         = "store"
	FieldStoreID       = "store_id"
	FieldFormatVersion = "format_version"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount = "count"
	FieldShape = "shape"
	FieldDType = "dtype"
)

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	m := namespace.New(backend, namespace.WithLogger(logger.ComponentLogger("namespace")))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context.
// Use for sub-operations that need extra context fields.
//
// Example:
//
//	storeLogger := logger.ChildLogger(baseLogger, logger.FieldStore, path)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
