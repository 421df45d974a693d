package namespace

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nstree/errors"
)

// buildSample creates /a{x, y{z}} and /b.
func buildSample(t *testing.T) (tree *Tree, ids map[string]NodeID) {
	t.Helper()
	tree = NewTree()
	ids = map[string]NodeID{"/": tree.Root()}

	add := func(parent, name string, group bool) {
		var id NodeID
		var err error
		if group {
			id, err = tree.newGroup(name)
		} else {
			id, err = tree.newData(name, []int{2}, "int8")
		}
		require.NoError(t, err)
		require.NoError(t, tree.addChild(ids[parent], id))
		ids[JoinPath(parent, name)] = id
	}
	add("/", "a", true)
	add("/a", "x", false)
	add("/a", "y", true)
	add("/a/y", "z", false)
	add("/", "b", true)
	return tree, ids
}

func childNames(tree *Tree, g NodeID) []string {
	var names []string
	for name := range tree.Children(g) {
		names = append(names, name)
	}
	return names
}

func TestNewTree(t *testing.T) {
	tree := NewTree()
	root := tree.Root()

	assert.Equal(t, KindGroup, tree.Kind(root))
	assert.Equal(t, "", tree.Name(root))
	assert.Equal(t, "/", tree.Path(root))
	assert.Equal(t, 0, tree.Len(root))
	assert.Equal(t, 1, tree.Size())

	_, ok := tree.Parent(root)
	assert.False(t, ok, "root has no parent")
}

func TestNewNodes_ValidateNames(t *testing.T) {
	tree := NewTree()

	_, err := tree.newData("", nil, "f4")
	assert.True(t, errors.Is(err, ErrEmptyName))

	_, err = tree.newGroup("bad/name")
	assert.True(t, errors.Is(err, ErrInvalidName))

	id, err := tree.newData("d", []int{3, 4}, "float64")
	require.NoError(t, err)
	assert.Equal(t, KindData, tree.Kind(id))
	assert.Equal(t, []int{3, 4}, tree.Shape(id))
	assert.Equal(t, "float64", tree.DType(id))
}

func TestPath(t *testing.T) {
	tree, ids := buildSample(t)
	for path, id := range ids {
		assert.Equal(t, path, tree.Path(id))
	}
}

func TestMappingAccess(t *testing.T) {
	tree, ids := buildSample(t)

	assert.True(t, tree.Contains(ids["/a"], "x"))
	assert.False(t, tree.Contains(ids["/a"], "nope"))
	assert.False(t, tree.Contains(ids["/a/x"], "anything"), "data items have no children")

	got, err := tree.Get(ids["/a"], "y")
	require.NoError(t, err)
	assert.Equal(t, ids["/a/y"], got)

	_, err = tree.Get(ids["/a"], "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = tree.Get(ids["/a/x"], "z")
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	assert.Equal(t, 2, tree.Len(ids["/a"]))
	assert.Equal(t, 0, tree.Len(ids["/a/x"]))
}

func TestChildren_RestartableAndOrdered(t *testing.T) {
	tree, ids := buildSample(t)
	seq := tree.Children(ids["/a"])

	var first, second []string
	for name := range seq {
		first = append(first, name)
	}
	for name := range seq {
		second = append(second, name)
	}
	assert.Equal(t, []string{"x", "y"}, first)
	assert.Equal(t, first, second)

	// Early break.
	for name := range seq {
		assert.Equal(t, "x", name)
		break
	}

	assert.Empty(t, childNames(tree, ids["/a/x"]))
}

func TestAddChild(t *testing.T) {
	tree, ids := buildSample(t)

	dup, err := tree.newGroup("x")
	require.NoError(t, err)
	err = tree.addChild(ids["/a"], dup)
	assert.True(t, errors.Is(err, ErrDuplicateName))
	_, attached := tree.Parent(dup)
	assert.False(t, attached, "failed add leaves the child detached")

	err = tree.addChild(ids["/a/x"], dup)
	assert.True(t, errors.Is(err, ErrInvalidOperation), "data items cannot hold children")

	// Attached nodes must be detached first.
	err = tree.addChild(ids["/b"], ids["/a/x"])
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	err = tree.addChild(ids["/b"], tree.Root())
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	require.NoError(t, tree.addChild(ids["/b"], dup))
	parent, ok := tree.Parent(dup)
	require.True(t, ok)
	assert.Equal(t, ids["/b"], parent)
	assert.Equal(t, "/b/x", tree.Path(dup))
}

func TestAddChild_EmptyName(t *testing.T) {
	tree := NewTree()
	id := tree.alloc(&node{kind: KindGroup, children: newChildMap()})
	err := tree.addChild(tree.Root(), id)
	assert.True(t, errors.Is(err, ErrEmptyName))
}

func TestDeleteChild(t *testing.T) {
	tree, ids := buildSample(t)

	_, err := tree.deleteChild(ids["/b"], ids["/a/x"])
	assert.True(t, errors.Is(err, ErrNotFound), "x is not a key of /b")

	// Same key, different node.
	impostor, err := tree.newData("x", nil, "")
	require.NoError(t, err)
	_, err = tree.deleteChild(ids["/a"], impostor)
	assert.True(t, errors.Is(err, ErrOwnershipMismatch))
	assert.True(t, tree.Contains(ids["/a"], "x"))

	removed, err := tree.deleteChild(ids["/a"], ids["/a/y"])
	require.NoError(t, err)
	assert.Equal(t, ids["/a/y"], removed)
	assert.False(t, tree.Contains(ids["/a"], "y"))
	_, attached := tree.Parent(removed)
	assert.False(t, attached)

	// The detached subtree keeps its own children.
	assert.True(t, tree.Contains(removed, "z"))
}

func TestRename(t *testing.T) {
	tree, ids := buildSample(t)

	err := tree.rename(ids["/a/x"], "y")
	assert.True(t, errors.Is(err, ErrDuplicateName))
	assert.Equal(t, "x", tree.Name(ids["/a/x"]))

	err = tree.rename(ids["/a/x"], " bad")
	assert.True(t, errors.Is(err, ErrInvalidName))

	err = tree.rename(tree.Root(), "root")
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	require.NoError(t, tree.rename(ids["/a/x"], "x"), "same name is a no-op")

	require.NoError(t, tree.rename(ids["/a/y"], "w"))
	assert.Equal(t, "/a/w", tree.Path(ids["/a/y"]))
	assert.Equal(t, "/a/w/z", tree.Path(ids["/a/y/z"]))
	assert.False(t, tree.Contains(ids["/a"], "y"))
	got, err := tree.Get(ids["/a"], "w")
	require.NoError(t, err)
	assert.Equal(t, ids["/a/y"], got)

	// Re-keyed items move to the end of iteration order.
	assert.Equal(t, []string{"x", "w"}, childNames(tree, ids["/a"]))
}

func TestMove(t *testing.T) {
	tree, ids := buildSample(t)

	err := tree.move(ids["/a"], ids["/a/y"])
	assert.True(t, errors.Is(err, ErrInvalidOperation), "into own subtree")
	err = tree.move(ids["/a"], ids["/a"])
	assert.True(t, errors.Is(err, ErrInvalidOperation), "into itself")
	err = tree.move(ids["/a/x"], ids["/a/y/z"])
	assert.True(t, errors.Is(err, ErrInvalidOperation), "into a data item")
	assert.Equal(t, "/a/y", tree.Path(ids["/a/y"]))

	require.NoError(t, tree.move(ids["/a/y"], ids["/b"]))
	assert.Equal(t, "/b/y/z", tree.Path(ids["/a/y/z"]))
	assert.False(t, tree.Contains(ids["/a"], "y"))

	again, err := tree.newGroup("y")
	require.NoError(t, err)
	require.NoError(t, tree.addChild(ids["/a"], again))
	err = tree.move(again, ids["/b"])
	assert.True(t, errors.Is(err, ErrDuplicateName))
}

func TestReplace(t *testing.T) {
	tree, ids := buildSample(t)

	incoming, err := tree.newData("tmp", []int{1}, "u1")
	require.NoError(t, err)

	old, err := tree.replace(ids["/a"], "x", incoming)
	require.NoError(t, err)
	assert.Equal(t, ids["/a/x"], old)
	_, attached := tree.Parent(old)
	assert.False(t, attached, "replaced child is detached")
	assert.Equal(t, "x", tree.Name(incoming))
	assert.Equal(t, "/a/x", tree.Path(incoming))

	// Replacing with an attached node detaches it from its old parent.
	old, err = tree.replace(ids["/b"], "moved", ids["/a/y"])
	require.NoError(t, err)
	assert.Equal(t, NoNode, old)
	assert.False(t, tree.Contains(ids["/a"], "y"))
	assert.Equal(t, "/b/moved/z", tree.Path(ids["/a/y/z"]))

	_, err = tree.replace(ids["/a/y"], "self", ids["/b"])
	assert.True(t, errors.Is(err, ErrInvalidOperation))
	_, err = tree.replace(ids["/b"], "", incoming)
	assert.True(t, errors.Is(err, ErrEmptyName))
	assert.Equal(t, "/a/x", tree.Path(incoming), "failed replace changes nothing")
}

func TestRank(t *testing.T) {
	tree, ids := buildSample(t)

	assert.Equal(t, 0, tree.Rank(tree.Root()))
	assert.Equal(t, 0, tree.Rank(ids["/a"]))
	assert.Equal(t, 1, tree.Rank(ids["/b"]))
	assert.Equal(t, 1, tree.Rank(ids["/a/y"]))

	_, err := tree.deleteChild(ids["/a"], ids["/a/x"])
	require.NoError(t, err)
	assert.Equal(t, 0, tree.Rank(ids["/a/y"]), "ranks shift when siblings leave")
}

func TestWalkAndPostOrder(t *testing.T) {
	tree, ids := buildSample(t)

	var pre []string
	var depths []int
	for id, depth := range tree.Walk(tree.Root()) {
		pre = append(pre, tree.Path(id))
		depths = append(depths, depth)
	}
	assert.Equal(t, []string{"/", "/a", "/a/x", "/a/y", "/a/y/z", "/b"}, pre)
	assert.Equal(t, []int{0, 1, 2, 2, 3, 1}, depths)

	var post []string
	for _, id := range tree.PostOrder(ids["/a"]) {
		post = append(post, tree.Path(id))
	}
	assert.Equal(t, []string{"/a/x", "/a/y/z", "/a/y", "/a"}, post)

	groups, data := tree.Count()
	assert.Equal(t, 3, groups)
	assert.Equal(t, 2, data)
}

func TestFree(t *testing.T) {
	tree, ids := buildSample(t)

	err := tree.free(ids["/a/y"])
	assert.True(t, errors.Is(err, ErrInvalidOperation), "attached nodes cannot be freed")

	_, err = tree.deleteChild(ids["/a"], ids["/a/y"])
	require.NoError(t, err)
	require.NoError(t, tree.free(ids["/a/y"]))

	assert.False(t, tree.Exists(ids["/a/y"]))
	assert.False(t, tree.Exists(ids["/a/y/z"]))
	assert.Equal(t, 4, tree.Size())
}

func TestSiblingUniquenessAfterMutations(t *testing.T) {
	tree, ids := buildSample(t)

	require.NoError(t, tree.rename(ids["/a/x"], "q"))
	require.NoError(t, tree.move(ids["/a/y/z"], ids["/a"]))
	n, err := tree.newGroup("x")
	require.NoError(t, err)
	require.NoError(t, tree.addChild(ids["/a"], n))
	assert.Error(t, tree.rename(n, "q"))
	assert.Error(t, tree.move(ids["/b"], ids["/"]))

	for id := range tree.Walk(tree.Root()) {
		seen := map[string]bool{}
		for name, child := range tree.Children(id) {
			assert.False(t, seen[name], "duplicate %q under %s", name, tree.Path(id))
			seen[name] = true
			assert.Equal(t, name, tree.Name(child))
			parent, ok := tree.Parent(child)
			require.True(t, ok)
			assert.Equal(t, id, parent)
		}
	}
}

func TestTree_ExportsOnlyReaders(t *testing.T) {
	readers := []string{
		"Children", "Contains", "Count", "DType", "Exists", "Get", "IsAncestor", "IsGroup",
		"Kind", "Len", "Name", "Parent", "Path", "PostOrder", "Rank", "Root", "Shape", "Size", "Walk",
	}
	typ := reflect.TypeOf(NewTree())
	var exported []string
	for i := range typ.NumMethod() {
		exported = append(exported, typ.Method(i).Name)
	}
	assert.Equal(t, readers, exported)
}
