package namespace

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/nstree/container"
	"github.com/teranos/nstree/errors"
	"github.com/teranos/nstree/logger"
)

// Operation names used in logs and metric labels.
const (
	opCreateStore = "create_store"
	opOpenStore   = "open_store"
	opCloseStore  = "close_store"
	opDeleteStore = "delete_store"
	opBuildTree   = "build_tree"
	opCreateGroup = "create_group"
	opCreateData  = "create_data"
	opDelete      = "delete"
	opMove        = "move"
	opRename      = "rename"
	opVerify      = "verify"
)

// Manager binds one store at a time and keeps the tree mirror in lockstep
// with it. It is the only component that mutates either.
//
// Store lifecycle: unbound → bound (SetStorePath) → open (OpenStore) →
// bound again (CloseStore). Mutations validate against the tree, apply to
// the store, and only then apply to the tree; on any failure before the
// tree step the tree is unchanged.
//
// A Manager performs no locking. Callers serialize their calls.
type Manager struct {
	backend container.Backend
	logger  *zap.SugaredLogger
	metrics *Metrics

	path  string
	store container.Store
	tree  *Tree

	// store data version the tree was last built from
	builtVersion int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics records operations into metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// New returns an unbound manager over backend.
func New(backend container.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		logger:  logger.ComponentLogger("namespace"),
		tree:    NewTree(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Tree returns the current tree mirror for reading. It is replaced by
// BuildTree and CloseStore; callers must not keep it across those calls.
func (m *Manager) Tree() *Tree { return m.tree }

// StorePath returns the recorded store path.
func (m *Manager) StorePath() string { return m.path }

// IsStoreOpen reports whether a store is open.
func (m *Manager) IsStoreOpen() bool { return m.store != nil }

// SetStorePath records the path used by CreateStore, OpenStore and
// DeleteStoreFile. An open store at a different path is closed first.
func (m *Manager) SetStorePath(ctx context.Context, path string) {
	if m.store != nil && path != m.path {
		if err := m.CloseStore(ctx); err != nil {
			m.logger.Warnw("Closing previous store failed",
				logger.FieldStore, m.path,
				logger.FieldError, err)
		}
	}
	m.path = path
}

// CreateStore creates a new store at the recorded path. It does not open
// it. An existing file at the path is never overwritten.
func (m *Manager) CreateStore(ctx context.Context) (err error) {
	defer m.observe(opCreateStore, time.Now(), &err)

	if err := m.requirePath(opCreateStore); err != nil {
		return err
	}
	if err := m.backend.Create(ctx, m.path); err != nil {
		err = m.storeFailure(opCreateStore, m.path, err)
		if errors.Is(err, container.ErrExists) {
			err = errors.WithHint(err, "delete the existing store file or choose another path")
		}
		return err
	}

	m.logger.Infow("Store created", logger.FieldStore, m.path)
	return nil
}

// OpenStore opens the store at the recorded path and builds the tree from
// it. If a store is already open it is returned as is.
func (m *Manager) OpenStore(ctx context.Context) (store container.Store, err error) {
	if m.store != nil {
		return m.store, nil
	}
	defer m.observe(opOpenStore, time.Now(), &err)

	if err := m.requirePath(opOpenStore); err != nil {
		return nil, err
	}
	s, err := m.backend.Open(ctx, m.path)
	if err != nil {
		err = m.storeFailure(opOpenStore, m.path, err)
		if errors.Is(err, container.ErrNotExist) {
			err = errors.WithHint(err, "create the store first")
		}
		return nil, err
	}
	m.store = s
	m.metrics.RecordStoreOpen(true)

	if err := m.BuildTree(ctx); err != nil {
		m.release()
		if closeErr := s.Close(); closeErr != nil {
			m.logger.Warnw("Closing store after failed build",
				logger.FieldStore, m.path,
				logger.FieldError, closeErr)
		}
		return nil, err
	}

	attrs, err := s.Attrs(ctx)
	if err != nil {
		m.logger.Warnw("Reading store attributes failed",
			logger.FieldStore, m.path,
			logger.FieldError, err)
	}
	m.logger.Infow("Store opened",
		logger.FieldStore, m.path,
		logger.FieldStoreID, attrs[container.AttrStoreID],
		logger.FieldFormatVersion, attrs[container.AttrFormatVersion],
		logger.FieldCount, m.tree.Size()-1)
	return s, nil
}

// CloseStore discards the scratch group's contents, closes the store and
// resets the tree to an empty root. Closing with no open store is a no-op.
func (m *Manager) CloseStore(ctx context.Context) (err error) {
	if m.store == nil {
		return nil
	}
	defer m.observe(opCloseStore, time.Now(), &err)

	m.discardScratch(ctx)
	store := m.store
	m.release()

	if err := store.Close(); err != nil {
		return m.storeFailure(opCloseStore, m.path, err)
	}
	m.logger.Infow("Store closed", logger.FieldStore, m.path)
	return nil
}

func (m *Manager) release() {
	m.store = nil
	m.tree = NewTree()
	m.metrics.RecordStoreOpen(false)
	m.metrics.RecordTree(0, 0)
}

// DeleteStoreFile closes any open store and removes the store file.
func (m *Manager) DeleteStoreFile(ctx context.Context) (err error) {
	defer m.observe(opDeleteStore, time.Now(), &err)

	if err := m.CloseStore(ctx); err != nil {
		m.logger.Warnw("Close before delete failed",
			logger.FieldStore, m.path,
			logger.FieldError, err)
	}
	if err := m.requirePath(opDeleteStore); err != nil {
		return err
	}
	if err := m.backend.Remove(ctx, m.path); err != nil {
		return m.storeFailure(opDeleteStore, m.path, err)
	}

	m.logger.Infow("Store file deleted", logger.FieldStore, m.path)
	return nil
}

// BuildTree replaces the tree with a full traversal of the open store.
// On failure the previous tree is kept.
func (m *Manager) BuildTree(ctx context.Context) (err error) {
	defer m.observe(opBuildTree, time.Now(), &err)

	if err := m.requireStore(opBuildTree); err != nil {
		return err
	}

	type pending struct {
		id   NodeID
		path string
	}
	version, err := m.store.DataVersion(ctx)
	if err != nil {
		return m.storeFailure(opBuildTree, RootPath, err)
	}

	tree := NewTree()
	queue := []pending{{tree.Root(), RootPath}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		entries, err := m.store.List(ctx, cur.path)
		if err != nil {
			return m.storeFailure(opBuildTree, cur.path, err)
		}
		for _, e := range entries {
			if ValidateName(e.Name) != nil {
				m.logger.Warnw("Store entry name does not match the name grammar",
					logger.FieldPath, e.Path)
			}
			id := tree.alloc(nodeFromEntry(e))
			if err := tree.addChild(cur.id, id); err != nil {
				return m.violation(opBuildTree, e.Path, err)
			}
			if e.IsGroup() {
				queue = append(queue, pending{id, e.Path})
			}
		}
	}

	m.tree = tree
	m.builtVersion = version
	m.metrics.RecordRebuild()
	m.recordTree()
	m.logger.Debugw("Tree built",
		logger.FieldStore, m.path,
		logger.FieldCount, tree.Size()-1)
	return nil
}

// Refresh rebuilds the tree if another writer has committed to the store
// since the tree was last built. It reports whether it rebuilt.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	if err := m.requireStore("refresh"); err != nil {
		return false, err
	}
	version, err := m.store.DataVersion(ctx)
	if err != nil {
		return false, m.storeFailure("refresh", RootPath, err)
	}
	if version == m.builtVersion {
		return false, nil
	}
	if err := m.BuildTree(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func nodeFromEntry(e container.Entry) *node {
	if e.IsGroup() {
		return &node{name: e.Name, kind: KindGroup, children: newChildMap()}
	}
	return &node{name: e.Name, kind: KindData, shape: slices.Clone(e.Shape), dtype: e.DType}
}

// Resolve walks path from the root. The root path returns the root without
// walking.
func (m *Manager) Resolve(path string) (NodeID, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return NoNode, err
	}
	cur := m.tree.Root()
	for _, s := range segments {
		next, err := m.tree.Get(cur, s)
		if err != nil {
			return NoNode, errors.Wrapf(ErrNotFound, "%s", path)
		}
		cur = next
	}
	return cur, nil
}

// RankOf returns the position of the node at path among its siblings in
// the current iteration order; 0 for the root. Ranks shift as siblings
// come and go and must not be stored.
func (m *Manager) RankOf(path string) (int, error) {
	id, err := m.Resolve(path)
	if err != nil {
		return 0, err
	}
	return m.tree.Rank(id), nil
}

// CreateGroup creates an empty group name under the group at parentPath.
func (m *Manager) CreateGroup(ctx context.Context, parentPath, name string) (id NodeID, err error) {
	defer m.observe(opCreateGroup, time.Now(), &err)

	parent, err := m.prepareCreate(opCreateGroup, parentPath, name)
	if err != nil {
		return NoNode, err
	}
	parentPath = m.tree.Path(parent)
	path := JoinPath(parentPath, name)

	if err := m.store.CreateGroup(ctx, parentPath, name); err != nil {
		return NoNode, m.mutationFailure(opCreateGroup, path, err)
	}
	id, err = m.tree.newGroup(name)
	if err != nil {
		return NoNode, m.violation(opCreateGroup, path, err)
	}
	if err := m.tree.addChild(parent, id); err != nil {
		_ = m.tree.free(id)
		return NoNode, m.violation(opCreateGroup, path, err)
	}

	m.recordTree()
	m.logger.Debugw("Group created", logger.FieldPath, path)
	return id, nil
}

// CreateData creates a data item name under the group at parentPath.
// shape and dtype are recorded, never interpreted.
func (m *Manager) CreateData(ctx context.Context, parentPath, name string, shape []int, dtype string) (id NodeID, err error) {
	defer m.observe(opCreateData, time.Now(), &err)

	parent, err := m.prepareCreate(opCreateData, parentPath, name)
	if err != nil {
		return NoNode, err
	}
	for _, dim := range shape {
		if dim < 0 {
			return NoNode, errors.Wrapf(ErrInvalidOperation, "negative dimension in shape %v", shape)
		}
	}
	parentPath = m.tree.Path(parent)
	path := JoinPath(parentPath, name)

	if err := m.store.CreateLeaf(ctx, parentPath, name, shape, dtype); err != nil {
		return NoNode, m.mutationFailure(opCreateData, path, err)
	}
	id, err = m.tree.newData(name, shape, dtype)
	if err != nil {
		return NoNode, m.violation(opCreateData, path, err)
	}
	if err := m.tree.addChild(parent, id); err != nil {
		_ = m.tree.free(id)
		return NoNode, m.violation(opCreateData, path, err)
	}

	m.recordTree()
	m.logger.Debugw("Data item created",
		logger.FieldPath, path,
		logger.FieldShape, shape,
		logger.FieldDType, dtype)
	return id, nil
}

func (m *Manager) prepareCreate(op, parentPath, name string) (NodeID, error) {
	if err := m.requireStore(op); err != nil {
		return NoNode, err
	}
	if err := ValidateName(name); err != nil {
		return NoNode, err
	}
	parent, err := m.Resolve(parentPath)
	if err != nil {
		return NoNode, err
	}
	if !m.tree.IsGroup(parent) {
		return NoNode, errors.Wrapf(ErrInvalidOperation, "%s is not a group", parentPath)
	}
	if m.tree.Contains(parent, name) {
		return NoNode, errors.Wrapf(ErrDuplicateName, "%s", JoinPath(m.tree.Path(parent), name))
	}
	return parent, nil
}

// DeleteItem deletes the item at path. Groups are deleted recursively,
// deepest items first; each item leaves the tree only after the store has
// deleted it. If the store fails partway, the items already deleted are
// gone from both, the rest remain in both, and the error names them.
func (m *Manager) DeleteItem(ctx context.Context, path string) (err error) {
	defer m.observe(opDelete, time.Now(), &err)

	if err := m.requireStore(opDelete); err != nil {
		return err
	}
	id, err := m.Resolve(path)
	if err != nil {
		return err
	}
	if id == m.tree.Root() {
		return errors.Wrap(ErrInvalidOperation, "cannot delete the root group")
	}

	order := m.tree.PostOrder(id)
	var deleted []string
	for i, cur := range order {
		curPath := m.tree.Path(cur)
		if err := m.store.Delete(ctx, curPath); err != nil {
			err = m.mutationFailure(opDelete, curPath, err)
			if len(deleted) > 0 {
				remaining := make([]string, 0, len(order)-i)
				for _, r := range order[i:] {
					remaining = append(remaining, m.tree.Path(r))
				}
				err = errors.WithDetailf(err, "deleted: %s", strings.Join(deleted, ", "))
				err = errors.WithDetailf(err, "remaining: %s", strings.Join(remaining, ", "))
				err = errors.Wrapf(err, "partial delete of %s (%d of %d items)", path, len(deleted), len(order))
			}
			m.recordTree()
			return err
		}

		parent, _ := m.tree.Parent(cur)
		if _, err := m.tree.deleteChild(parent, cur); err != nil {
			m.recordTree()
			return m.violation(opDelete, curPath, err)
		}
		if err := m.tree.free(cur); err != nil {
			m.recordTree()
			return m.violation(opDelete, curPath, err)
		}
		deleted = append(deleted, curPath)
	}

	m.recordTree()
	m.logger.Debugw("Item deleted",
		logger.FieldPath, path,
		logger.FieldCount, len(deleted))
	return nil
}

// MoveItem re-homes the item at itemPath under the group at destParentPath,
// keeping its name, its handle and its descendants.
func (m *Manager) MoveItem(ctx context.Context, itemPath, destParentPath string) (err error) {
	defer m.observe(opMove, time.Now(), &err)

	if err := m.requireStore(opMove); err != nil {
		return err
	}
	item, err := m.Resolve(itemPath)
	if err != nil {
		return err
	}
	dest, err := m.Resolve(destParentPath)
	if err != nil {
		return err
	}
	switch {
	case item == m.tree.Root():
		return errors.Wrap(ErrInvalidOperation, "cannot move the root group")
	case !m.tree.IsGroup(dest):
		return errors.Wrapf(ErrInvalidOperation, "%s is not a group", destParentPath)
	case m.tree.IsAncestor(item, dest):
		return errors.WithHint(
			errors.Wrapf(ErrInvalidOperation, "cannot move %s into its own subtree %s", itemPath, destParentPath),
			"a group cannot be moved into itself or one of its descendants")
	}
	name := m.tree.Name(item)
	if m.tree.Contains(dest, name) {
		return errors.Wrapf(ErrDuplicateName, "%s", JoinPath(m.tree.Path(dest), name))
	}

	src, destPath := m.tree.Path(item), m.tree.Path(dest)
	if err := m.store.Move(ctx, src, destPath); err != nil {
		return m.mutationFailure(opMove, src, err)
	}
	if err := m.tree.move(item, dest); err != nil {
		return m.violation(opMove, src, err)
	}

	m.logger.Debugw("Item moved",
		logger.FieldPath, src,
		logger.FieldDestPath, destPath)
	return nil
}

// RenameItem changes the last segment of path to newName. Renaming to the
// current name does nothing.
func (m *Manager) RenameItem(ctx context.Context, path, newName string) (err error) {
	defer m.observe(opRename, time.Now(), &err)

	if err := m.requireStore(opRename); err != nil {
		return err
	}
	if err := ValidateName(newName); err != nil {
		return err
	}
	id, err := m.Resolve(path)
	if err != nil {
		return err
	}
	if id == m.tree.Root() {
		return errors.Wrap(ErrInvalidOperation, "cannot rename the root group")
	}
	if m.tree.Name(id) == newName {
		return nil
	}
	parent, _ := m.tree.Parent(id)
	if m.tree.Contains(parent, newName) {
		return errors.Wrapf(ErrDuplicateName, "%s", JoinPath(m.tree.Path(parent), newName))
	}

	src := m.tree.Path(id)
	if err := m.store.Rename(ctx, src, newName); err != nil {
		return m.mutationFailure(opRename, src, err)
	}
	if err := m.tree.rename(id, newName); err != nil {
		return m.violation(opRename, src, err)
	}

	m.logger.Debugw("Item renamed",
		logger.FieldPath, src,
		logger.FieldNewName, newName)
	return nil
}

// Verify compares the tree with the open store, level by level. Any
// disagreement is reported as ErrConsistencyViolation with one detail line
// per mismatch; nothing is repaired.
func (m *Manager) Verify(ctx context.Context) (err error) {
	defer m.observe(opVerify, time.Now(), &err)

	if err := m.requireStore(opVerify); err != nil {
		return err
	}

	var problems []string
	queue := []NodeID{m.tree.Root()}
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		groupPath := m.tree.Path(g)

		entries, err := m.store.List(ctx, groupPath)
		if err != nil {
			return m.storeFailure(opVerify, groupPath, err)
		}
		inStore := make(map[string]bool, len(entries))
		for _, e := range entries {
			inStore[e.Name] = true
			child, err := m.tree.Get(g, e.Name)
			if err != nil {
				problems = append(problems, fmt.Sprintf("%s: in store, missing from tree", e.Path))
				continue
			}
			want := KindData
			if e.IsGroup() {
				want = KindGroup
			}
			if got := m.tree.Kind(child); got != want {
				problems = append(problems, fmt.Sprintf("%s: %s in store, %s in tree", e.Path, want, got))
				continue
			}
			if want == KindGroup {
				queue = append(queue, child)
			}
		}
		for name := range m.tree.Children(g) {
			if !inStore[name] {
				problems = append(problems, fmt.Sprintf("%s: in tree, missing from store", JoinPath(groupPath, name)))
			}
		}
	}

	if len(problems) > 0 {
		err := errors.WithDetail(
			errors.Newf("%d mismatches", len(problems)),
			strings.Join(problems, "\n"))
		return m.violation(opVerify, m.path, err)
	}
	m.logger.Debugw("Tree verified against store",
		logger.FieldStore, m.path,
		logger.FieldCount, m.tree.Size()-1)
	return nil
}

// StoreInfo describes the open store.
type StoreInfo struct {
	Path          string
	Format        string
	FormatVersion string
	CreatedBy     string
	CreatedAt     string
	StoreID       string
	DataGroup     string
	ScratchGroup  string
	Groups        int
	Data          int
}

// StoreInfo reads the open store's root attributes and counts the tree.
func (m *Manager) StoreInfo(ctx context.Context) (StoreInfo, error) {
	if err := m.requireStore("store_info"); err != nil {
		return StoreInfo{}, err
	}
	attrs, err := m.store.Attrs(ctx)
	if err != nil {
		return StoreInfo{}, m.storeFailure("store_info", m.path, err)
	}
	groups, data := m.tree.Count()
	return StoreInfo{
		Path:          m.path,
		Format:        attrs[container.AttrFormat],
		FormatVersion: attrs[container.AttrFormatVersion],
		CreatedBy:     attrs[container.AttrCreatedBy],
		CreatedAt:     attrs[container.AttrCreatedAt],
		StoreID:       attrs[container.AttrStoreID],
		DataGroup:     attrs[container.AttrDataGroup],
		ScratchGroup:  attrs[container.AttrScratchGroup],
		Groups:        groups,
		Data:          data,
	}, nil
}

// discardScratch empties the store's scratch group. Failures are logged;
// closing proceeds regardless.
func (m *Manager) discardScratch(ctx context.Context) {
	name, err := m.store.Attr(ctx, container.AttrScratchGroup)
	if err != nil {
		if !errors.Is(err, container.ErrNotExist) {
			m.logger.Warnw("Reading scratch group attribute failed",
				logger.FieldStore, m.path,
				logger.FieldError, err)
		}
		return
	}
	scratch := JoinPath(RootPath, name)
	entries, err := m.store.List(ctx, scratch)
	if err != nil {
		m.logger.Warnw("Listing scratch group failed",
			logger.FieldPath, scratch,
			logger.FieldError, err)
		return
	}

	discarded := 0
	for _, e := range entries {
		if err := m.store.Delete(ctx, e.Path); err != nil {
			m.logger.Warnw("Discarding scratch item failed",
				logger.FieldPath, e.Path,
				logger.FieldError, err)
			continue
		}
		discarded++
	}
	if discarded > 0 {
		m.logger.Debugw("Scratch group discarded",
			logger.FieldPath, scratch,
			logger.FieldCount, discarded)
	}
}

func (m *Manager) requirePath(op string) error {
	if m.path == "" {
		return errors.WithHint(
			errors.Wrapf(ErrInvalidOperation, "%s: no store path set", op),
			"set a store path first")
	}
	return nil
}

func (m *Manager) requireStore(op string) error {
	if m.store == nil {
		return errors.WithHint(errors.Wrap(ErrNoStore, op), "open a store first")
	}
	return nil
}

// storeFailure logs a rejected store call and marks it ErrStoreIO. The
// store's own error stays in the chain.
func (m *Manager) storeFailure(op, path string, err error) error {
	m.logger.Errorw("Store operation failed",
		logger.FieldOperation, op,
		logger.FieldPath, path,
		logger.FieldStore, m.path,
		logger.FieldError, err)
	return errors.Mark(errors.Wrapf(err, "%s %s", op, path), ErrStoreIO)
}

// mutationFailure classifies a store rejection of a mutation the tree had
// already validated. If the store disagrees on existence or kind, the two
// are out of sync.
func (m *Manager) mutationFailure(op, path string, err error) error {
	if errors.IsAny(err, container.ErrExists, container.ErrNotExist, container.ErrNotGroup, container.ErrInvalidPath) {
		return m.violation(op, path, err)
	}
	return m.storeFailure(op, path, err)
}

// violation logs at the highest severity and marks err
// ErrConsistencyViolation.
func (m *Manager) violation(op, path string, err error) error {
	m.metrics.RecordViolation()
	m.logger.DPanicw("Tree and store disagree",
		logger.FieldOperation, op,
		logger.FieldPath, path,
		logger.FieldStore, m.path,
		logger.FieldError, err)
	return errors.WithHint(
		errors.Mark(errors.Wrapf(err, "%s %s", op, path), ErrConsistencyViolation),
		"rebuild the tree from the store")
}

func (m *Manager) observe(op string, start time.Time, err *error) {
	elapsed := time.Since(start)
	m.metrics.RecordOperation(op, elapsed, *err)
	if *err != nil {
		m.logger.Debugw("Operation failed",
			logger.FieldOperation, op,
			logger.FieldErrorKind, ErrorKind(*err),
			logger.FieldDurationMS, elapsed.Milliseconds(),
			logger.FieldError, *err)
	}
}

func (m *Manager) recordTree() {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordTree(m.tree.Count())
}
