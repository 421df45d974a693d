package namespace

import (
	"iter"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/teranos/nstree/errors"
)

// NodeID is an opaque handle to a node in a Tree. Handles are never reused
// within one Tree.
type NodeID uint64

// NoNode is the zero handle: the parent of the root and of detached nodes.
const NoNode NodeID = 0

// Kind distinguishes groups from data items.
type Kind uint8

const (
	KindGroup Kind = iota + 1
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

type node struct {
	name   string
	parent NodeID
	kind   Kind

	// groups only
	children *orderedmap.OrderedMap[string, NodeID]

	// data only
	shape []int
	dtype string
}

// Tree is an arena of group and data nodes. Each node records its parent's
// handle; each group maps child names to child handles in insertion order.
//
// Outside this package a Tree is read-only; the Manager makes every change.
// A Tree performs no locking.
type Tree struct {
	nodes map[NodeID]*node
	root  NodeID
	next  NodeID
}

// NewTree returns a tree holding only an empty root group.
func NewTree() *Tree {
	t := &Tree{nodes: make(map[NodeID]*node)}
	t.root = t.alloc(&node{kind: KindGroup, children: newChildMap()})
	return t
}

func newChildMap() *orderedmap.OrderedMap[string, NodeID] {
	return orderedmap.New[string, NodeID]()
}

func (t *Tree) alloc(n *node) NodeID {
	t.next++
	t.nodes[t.next] = n
	return t.next
}

// Root returns the root group.
func (t *Tree) Root() NodeID { return t.root }

// Size returns the number of live nodes, the root included.
func (t *Tree) Size() int { return len(t.nodes) }

// newGroup creates a detached, empty group.
func (t *Tree) newGroup(name string) (NodeID, error) {
	if err := ValidateName(name); err != nil {
		return NoNode, err
	}
	return t.alloc(&node{
		name:     name,
		kind:     KindGroup,
		children: newChildMap(),
	}), nil
}

// newData creates a detached data item. shape and dtype are kept as given.
func (t *Tree) newData(name string, shape []int, dtype string) (NodeID, error) {
	if err := ValidateName(name); err != nil {
		return NoNode, err
	}
	return t.alloc(&node{
		name:  name,
		kind:  KindData,
		shape: slices.Clone(shape),
		dtype: dtype,
	}), nil
}

func (t *Tree) get(id NodeID) (*node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "no node with handle %d", id)
	}
	return n, nil
}

func (t *Tree) group(id NodeID) (*node, error) {
	n, err := t.get(id)
	if err != nil {
		return nil, err
	}
	if n.kind != KindGroup {
		return nil, errors.Wrapf(ErrInvalidOperation, "%s is not a group", t.Path(id))
	}
	return n, nil
}

// Exists reports whether id is a live node of t.
func (t *Tree) Exists(id NodeID) bool {
	_, ok := t.nodes[id]
	return ok
}

// Kind returns the kind of id, or 0 if id is not live.
func (t *Tree) Kind(id NodeID) Kind {
	if n, ok := t.nodes[id]; ok {
		return n.kind
	}
	return 0
}

// IsGroup reports whether id is a live group.
func (t *Tree) IsGroup(id NodeID) bool { return t.Kind(id) == KindGroup }

// Name returns the node's name; the root's name is empty.
func (t *Tree) Name(id NodeID) string {
	if n, ok := t.nodes[id]; ok {
		return n.name
	}
	return ""
}

// Shape returns a copy of a data item's shape.
func (t *Tree) Shape(id NodeID) []int {
	if n, ok := t.nodes[id]; ok {
		return slices.Clone(n.shape)
	}
	return nil
}

// DType returns a data item's dtype.
func (t *Tree) DType(id NodeID) string {
	if n, ok := t.nodes[id]; ok {
		return n.dtype
	}
	return ""
}

// Parent returns the node's parent. ok is false for the root and for
// detached nodes.
func (t *Tree) Parent(id NodeID) (parent NodeID, ok bool) {
	n, found := t.nodes[id]
	if !found || n.parent == NoNode {
		return NoNode, false
	}
	return n.parent, true
}

// setName validates and sets a name without touching any child map.
// Callers re-key the parent map in the same step.
func (t *Tree) setName(id NodeID, name string) error {
	n, err := t.get(id)
	if err != nil {
		return err
	}
	if id == t.root {
		return errors.Wrap(ErrInvalidOperation, "the root cannot be renamed")
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	n.name = name
	return nil
}

// setParent records p as the parent of id without touching any child map.
// NoNode marks id detached; any other p must be a group.
func (t *Tree) setParent(id, p NodeID) error {
	n, err := t.get(id)
	if err != nil {
		return err
	}
	if p != NoNode {
		if _, err := t.group(p); err != nil {
			return err
		}
	}
	n.parent = p
	return nil
}

// Path derives the absolute path of id from parent handles. The root is
// "/"; a detached node reports its path as if it were a top-level item.
func (t *Tree) Path(id NodeID) string {
	var names []string
	for cur := id; cur != NoNode && cur != t.root; {
		n, ok := t.nodes[cur]
		if !ok {
			break
		}
		names = append(names, n.name)
		cur = n.parent
	}
	if len(names) == 0 {
		return RootPath
	}
	slices.Reverse(names)
	return Separator + strings.Join(names, Separator)
}

// Contains reports whether group g has a child named key.
func (t *Tree) Contains(g NodeID, key string) bool {
	n, ok := t.nodes[g]
	if !ok || n.kind != KindGroup {
		return false
	}
	_, present := n.children.Get(key)
	return present
}

// Get returns the child of g named key.
func (t *Tree) Get(g NodeID, key string) (NodeID, error) {
	n, err := t.group(g)
	if err != nil {
		return NoNode, err
	}
	child, ok := n.children.Get(key)
	if !ok {
		return NoNode, errors.Wrapf(ErrNotFound, "%s", JoinPath(t.Path(g), key))
	}
	return child, nil
}

// Len returns the number of children of g; 0 for data items.
func (t *Tree) Len(g NodeID) int {
	n, ok := t.nodes[g]
	if !ok || n.kind != KindGroup {
		return 0
	}
	return n.children.Len()
}

// Children yields the (name, handle) pairs of g in insertion order. Each
// range over the result starts afresh; mutating g during a range
// invalidates it.
func (t *Tree) Children(g NodeID) iter.Seq2[string, NodeID] {
	return func(yield func(string, NodeID) bool) {
		n, ok := t.nodes[g]
		if !ok || n.kind != KindGroup {
			return
		}
		for pair := n.children.Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// Rank returns the position of id among its siblings in iteration order,
// or 0 for the root and detached nodes.
func (t *Tree) Rank(id NodeID) int {
	parent, ok := t.Parent(id)
	if !ok {
		return 0
	}
	rank := 0
	for _, child := range t.Children(parent) {
		if child == id {
			return rank
		}
		rank++
	}
	return 0
}

// addChild attaches the detached node child to group g under its own name.
// It never replaces an existing child.
func (t *Tree) addChild(g, child NodeID) error {
	gn, err := t.group(g)
	if err != nil {
		return err
	}
	cn, err := t.get(child)
	if err != nil {
		return err
	}
	if err := t.checkAttachable(g, child, cn); err != nil {
		return err
	}
	if _, exists := gn.children.Get(cn.name); exists {
		return errors.Wrapf(ErrDuplicateName, "%s", JoinPath(t.Path(g), cn.name))
	}

	if err := t.setParent(child, g); err != nil {
		return err
	}
	gn.children.Set(cn.name, child)
	return nil
}

func (t *Tree) checkAttachable(g, child NodeID, cn *node) error {
	switch {
	case child == t.root:
		return errors.Wrap(ErrInvalidOperation, "the root cannot be attached")
	case cn.name == "":
		return errors.Wrap(ErrEmptyName, "cannot attach a node without a name")
	case cn.parent != NoNode:
		return errors.Wrapf(ErrInvalidOperation, "%s is still attached", t.Path(child))
	case t.IsAncestor(child, g):
		return errors.Wrapf(ErrInvalidOperation, "%s cannot contain itself", cn.name)
	}
	return nil
}

// deleteChild detaches child from group g and returns it. The detached
// subtree stays in the arena until free.
func (t *Tree) deleteChild(g, child NodeID) (NodeID, error) {
	gn, err := t.group(g)
	if err != nil {
		return NoNode, err
	}
	cn, err := t.get(child)
	if err != nil {
		return NoNode, err
	}
	held, ok := gn.children.Get(cn.name)
	if !ok {
		return NoNode, errors.Wrapf(ErrNotFound, "%s", JoinPath(t.Path(g), cn.name))
	}
	if held != child || cn.parent != g {
		return NoNode, errors.Wrapf(ErrOwnershipMismatch,
			"%q under %s is a different node", cn.name, t.Path(g))
	}

	gn.children.Delete(cn.name)
	if err := t.setParent(child, NoNode); err != nil {
		return NoNode, err
	}
	return child, nil
}

// replace installs child under key in g. Any node already under key is
// detached and returned; child is detached from its current parent and
// renamed to key. Every check runs before the first change.
func (t *Tree) replace(g NodeID, key string, child NodeID) (NodeID, error) {
	if _, err := t.group(g); err != nil {
		return NoNode, err
	}
	cn, err := t.get(child)
	if err != nil {
		return NoNode, err
	}
	if err := ValidateName(key); err != nil {
		return NoNode, err
	}
	if child == t.root || t.IsAncestor(child, g) {
		return NoNode, errors.Wrapf(ErrInvalidOperation, "%s cannot contain itself", t.Path(child))
	}

	old, hasOld := NoNode, false
	if existing, err := t.Get(g, key); err == nil {
		if existing == child {
			return NoNode, nil
		}
		old, hasOld = existing, true
	}

	if hasOld {
		if _, err := t.deleteChild(g, old); err != nil {
			return NoNode, err
		}
	}
	if cn.parent != NoNode {
		if _, err := t.deleteChild(cn.parent, child); err != nil {
			return NoNode, err
		}
	}
	cn.name = key
	if err := t.addChild(g, child); err != nil {
		return NoNode, errors.AssertionFailedf("replace %s: %v", JoinPath(t.Path(g), key), err)
	}
	return old, nil
}

// rename re-keys an attached node under its parent. Renaming to the current
// name is a no-op.
func (t *Tree) rename(id NodeID, name string) error {
	n, err := t.get(id)
	if err != nil {
		return err
	}
	if id == t.root {
		return errors.Wrap(ErrInvalidOperation, "the root cannot be renamed")
	}
	if err := ValidateName(name); err != nil {
		return err
	}
	if name == n.name {
		return nil
	}
	if n.parent == NoNode {
		return t.setName(id, name)
	}
	if t.Contains(n.parent, name) {
		return errors.Wrapf(ErrDuplicateName, "%s", JoinPath(t.Path(n.parent), name))
	}

	parent := n.parent
	if _, err := t.deleteChild(parent, id); err != nil {
		return err
	}
	n.name = name
	return t.addChild(parent, id)
}

// move detaches id from its parent and attaches it to group dest, keeping
// its handle and its descendants.
func (t *Tree) move(id, dest NodeID) error {
	n, err := t.get(id)
	if err != nil {
		return err
	}
	if _, err := t.group(dest); err != nil {
		return err
	}
	if id == t.root || t.IsAncestor(id, dest) {
		return errors.Wrapf(ErrInvalidOperation, "cannot move %s into %s", t.Path(id), t.Path(dest))
	}
	if t.Contains(dest, n.name) {
		return errors.Wrapf(ErrDuplicateName, "%s", JoinPath(t.Path(dest), n.name))
	}

	if n.parent != NoNode {
		if _, err := t.deleteChild(n.parent, id); err != nil {
			return err
		}
	}
	return t.addChild(dest, id)
}

// IsAncestor reports whether a is b or lies on b's parent chain.
func (t *Tree) IsAncestor(a, b NodeID) bool {
	for cur := b; cur != NoNode; {
		if cur == a {
			return true
		}
		n, ok := t.nodes[cur]
		if !ok {
			return false
		}
		cur = n.parent
	}
	return false
}

// Walk yields id and every node below it in pre-order, with its depth
// relative to id.
func (t *Tree) Walk(id NodeID) iter.Seq2[NodeID, int] {
	return func(yield func(NodeID, int) bool) {
		t.walk(id, 0, yield)
	}
}

func (t *Tree) walk(id NodeID, depth int, yield func(NodeID, int) bool) bool {
	if !t.Exists(id) {
		return true
	}
	if !yield(id, depth) {
		return false
	}
	for _, child := range t.Children(id) {
		if !t.walk(child, depth+1, yield) {
			return false
		}
	}
	return true
}

// PostOrder returns id and its descendants, deepest first, id last.
func (t *Tree) PostOrder(id NodeID) []NodeID {
	var out []NodeID
	var visit func(NodeID)
	visit = func(cur NodeID) {
		for _, child := range t.Children(cur) {
			visit(child)
		}
		out = append(out, cur)
	}
	if t.Exists(id) {
		visit(id)
	}
	return out
}

// free releases a detached node and its subtree. Handles of freed nodes
// no longer resolve.
func (t *Tree) free(id NodeID) error {
	n, err := t.get(id)
	if err != nil {
		return err
	}
	if id == t.root || n.parent != NoNode {
		return errors.Wrapf(ErrInvalidOperation, "%s is attached", t.Path(id))
	}
	for _, cur := range t.PostOrder(id) {
		delete(t.nodes, cur)
	}
	return nil
}

// Count returns the number of groups and data items below the root.
func (t *Tree) Count() (groups, data int) {
	for id := range t.Walk(t.root) {
		if id == t.root {
			continue
		}
		switch t.Kind(id) {
		case KindGroup:
			groups++
		case KindData:
			data++
		}
	}
	return groups, data
}
