// Package errors provides error handling for nstree.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing messages
//   - Error marks, so a wrapped store failure still matches its kind
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := store.Delete(ctx, path); err != nil {
//	    return errors.Wrapf(err, "failed to delete %s", path)
//	}
//
//	// Classify a foreign error as one of ours without losing it
//	return errors.Mark(err, ErrStoreIO)
//
//	// Add hints for users
//	return errors.WithHint(err, "run 'nstree store create' first")
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
	CombineErrors      = crdb.CombineErrors
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Classification
var (
	// Mark makes err match reference under Is without changing its message.
	Mark = crdb.Mark

	// AssertionFailedf reports a broken internal invariant.
	AssertionFailedf = crdb.AssertionFailedf
	// HasAssertionFailure reports whether err carries an assertion failure.
	HasAssertionFailure = crdb.HasAssertionFailure
)

// GetStack returns the reportable stack trace recorded in err, if any.
var GetStack = crdb.GetReportableStackTrace

// ErrNotFound indicates a requested resource does not exist.
var ErrNotFound = New("not found")

// UserMessage renders err the way the CLI shows it: the message followed by
// any hints, one per line.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if hint := FlattenHints(err); hint != "" {
		msg += "\nhint: " + hint
	}
	return msg
}
