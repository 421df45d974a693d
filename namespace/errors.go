package namespace

import (
	"github.com/teranos/nstree/errors"
)

// Error kinds returned by the namespace. Test with errors.Is; the returned
// errors carry context and hints on top of these.
var (
	// ErrMalformedPath: the path string breaks path syntax.
	ErrMalformedPath = errors.New("malformed path")

	// ErrNotFound: a well-formed path does not resolve.
	ErrNotFound = errors.ErrNotFound

	// ErrInvalidName: a name does not match the name grammar.
	ErrInvalidName = errors.New("invalid name")

	// ErrEmptyName: a non-root name is empty.
	ErrEmptyName = errors.New("empty name")

	// ErrDuplicateName: a sibling already bears the name.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrInvalidOperation: a structurally impossible request, such as
	// deleting the root or moving a group into its own subtree.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrOwnershipMismatch: a node is detached from a group it does not
	// belong to.
	ErrOwnershipMismatch = errors.New("ownership mismatch")

	// ErrStoreIO: the backing store rejected the operation.
	ErrStoreIO = errors.New("store I/O error")

	// ErrConsistencyViolation: tree and store were observed to disagree.
	// This is a defect and is never repaired automatically.
	ErrConsistencyViolation = errors.New("tree and store are out of sync")

	// ErrNoStore: the operation needs an open store.
	ErrNoStore = errors.New("no store is open")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrConsistencyViolation, "consistency_violation"},
	{ErrStoreIO, "store_io"},
	{ErrNoStore, "no_store"},
	{ErrMalformedPath, "malformed_path"},
	{ErrNotFound, "not_found"},
	{ErrEmptyName, "empty_name"},
	{ErrInvalidName, "invalid_name"},
	{ErrDuplicateName, "duplicate_name"},
	{ErrInvalidOperation, "invalid_operation"},
	{ErrOwnershipMismatch, "ownership_mismatch"},
}

// ErrorKind names the kind of err for logs and metric labels: "ok" for nil,
// "other" for errors outside the namespace taxonomy.
func ErrorKind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "other"
}

// IsValidationError reports whether err was raised before any store call:
// a bad path, name, or structurally impossible request.
func IsValidationError(err error) bool {
	return errors.IsAny(err,
		ErrMalformedPath, ErrNotFound, ErrInvalidName, ErrEmptyName,
		ErrDuplicateName, ErrInvalidOperation, ErrOwnershipMismatch)
}
