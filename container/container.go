// Package container defines the backing store contract for nstree and
// provides its SQLite implementation.
//
// A container is a single file holding a hierarchy of groups (directories)
// and leaves (datasets). Every entry is addressed by an absolute,
// '/'-separated path; '/' is the root group. Leaves carry a shape and a
// dtype as opaque metadata; their contents are not managed here.
//
// The contract is deliberately primitive: every call is one independent
// change, and no call interprets names beyond path structure. Name grammar
// and tree bookkeeping belong to the namespace package.
package container

import (
	"context"

	"github.com/teranos/nstree/errors"
)

// Format identification stamped into every container at creation.
const (
	FormatName    = "nstree-container"
	FormatVersion = "1.0.0"

	// DefaultFormatConstraint accepts any 1.x container.
	DefaultFormatConstraint = "^1"
)

// Root attribute keys.
const (
	AttrFormat        = "format"
	AttrFormatVersion = "format_version"
	AttrCreatedBy     = "created_by"
	AttrCreatedAt     = "created_at"
	AttrStoreID       = "store_id"
	AttrDataGroup     = "data_group"
	AttrScratchGroup  = "scratch_group"
)

// Default names of the reserved top-level groups.
const (
	DefaultDataGroup    = "data"
	DefaultScratchGroup = "scratch"
)

var (
	// ErrExists is returned when creating something that is already there:
	// a container file, or an entry at the target path.
	ErrExists = errors.New("already exists")

	// ErrNotExist is returned when the container file or an entry is missing.
	ErrNotExist = errors.New("does not exist")

	// ErrNotContainer is returned when a file is not an nstree container.
	ErrNotContainer = errors.New("not an nstree container")

	// ErrIncompatibleFormat is returned when a container's format version
	// does not satisfy the backend's constraint.
	ErrIncompatibleFormat = errors.New("incompatible container format version")

	// ErrNotGroup is returned when a group is required but a leaf was found.
	ErrNotGroup = errors.New("not a group")

	// ErrInvalidPath is returned for structurally impossible requests such as
	// deleting the root or moving a group below itself.
	ErrInvalidPath = errors.New("invalid path for operation")

	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("store is closed")
)

// Kind distinguishes groups from leaves.
type Kind string

const (
	KindGroup Kind = "group"
	KindLeaf  Kind = "leaf"
)

// Entry describes one direct child returned by Store.List.
type Entry struct {
	Name  string
	Path  string
	Kind  Kind
	Shape []int
	DType string
}

// IsGroup reports whether e is a group.
func (e Entry) IsGroup() bool { return e.Kind == KindGroup }

// Backend creates and opens container files.
type Backend interface {
	// Create makes a new container at path with the baseline schema.
	// It fails with ErrExists if anything is already at path.
	Create(ctx context.Context, path string) error

	// Open opens an existing container for read/write.
	// It fails with ErrNotExist if path is missing and ErrNotContainer if
	// the file is not a container.
	Open(ctx context.Context, path string) (Store, error)

	// Remove deletes the container file at path. The caller must have
	// closed any store opened from it.
	Remove(ctx context.Context, path string) error
}

// Store is an open container.
type Store interface {
	// Path returns the file path the store was opened from.
	Path() string
	// Close releases the file. Closing twice is a no-op.
	Close() error

	IsGroup(ctx context.Context, path string) (bool, error)
	IsLeaf(ctx context.Context, path string) (bool, error)

	CreateGroup(ctx context.Context, parentPath, name string) error
	CreateLeaf(ctx context.Context, parentPath, name string, shape []int, dtype string) error

	// Delete removes path and everything below it.
	Delete(ctx context.Context, path string) error
	// Move re-homes srcPath under destParentPath, keeping its name.
	Move(ctx context.Context, srcPath, destParentPath string) error
	// Rename changes the last segment of path.
	Rename(ctx context.Context, path, newName string) error

	// List returns the direct children of a group in insertion order.
	List(ctx context.Context, path string) ([]Entry, error)

	// Attr returns a root attribute, or ErrNotExist.
	Attr(ctx context.Context, key string) (string, error)
	// Attrs returns all root attributes.
	Attrs(ctx context.Context) (map[string]string, error)

	// DataVersion changes whenever another connection commits to the
	// container. Commits made through this store leave it unchanged.
	DataVersion(ctx context.Context) (int64, error)
}
