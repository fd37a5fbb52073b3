package nvtree

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) *Tree {
	t.Helper()

	child := New()
	require.NoError(t, child.SetUint64("guid", 100))
	require.NoError(t, child.SetString("type", "disk"))

	tree := New()
	require.NoError(t, tree.SetUint64("pool_txg", 7))
	require.NoError(t, tree.SetString("name", "tank"))
	require.NoError(t, tree.SetTree("vdev_tree", child))
	require.NoError(t, tree.SetTreeArray("children", []*Tree{child, child}))

	return tree
}

func TestPackUnpackRoundTrip(t *testing.T) {
	tree := buildSample(t)

	buf := make([]byte, 4096)
	n, err := Pack(tree, buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	got, err := Unpack(buf[:n])
	require.NoError(t, err)

	txg, ok := got.Uint64("pool_txg")
	assert.True(t, ok)
	assert.EqualValues(t, 7, txg)

	name, ok := got.String("name")
	assert.True(t, ok)
	assert.Equal(t, "tank", name)

	sub, ok := got.SubTree("vdev_tree")
	assert.True(t, ok)
	guid, ok := sub.Uint64("guid")
	assert.True(t, ok)
	assert.EqualValues(t, 100, guid)

	arr, ok := got.SubTreeArray("children")
	assert.True(t, ok)
	assert.Len(t, arr, 2)

	if t.Failed() {
		t.Log(spew.Sdump(got))
	}
}

func TestPackNoSpace(t *testing.T) {
	tree := buildSample(t)

	buf := make([]byte, 4)
	_, err := Pack(tree, buf)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestDuplicateKeyRejected(t *testing.T) {
	tree := New()
	require.NoError(t, tree.SetUint64("guid", 1))
	err := tree.SetUint64("guid", 2)
	assert.ErrorIs(t, err, ErrInvalidTree)
}

func TestUnknownKeyIgnoredByLookup(t *testing.T) {
	tree := New()
	require.NoError(t, tree.SetUint64("known", 42))
	require.NoError(t, tree.SetString("future_feature_flag", "enabled"))

	buf := make([]byte, 256)
	n, err := Pack(tree, buf)
	require.NoError(t, err)

	got, err := Unpack(buf[:n])
	require.NoError(t, err)

	// A reader that only knows about "known" is unaffected by the presence
	// of a key it has no opinion about.
	v, ok := got.Uint64("known")
	require.True(t, ok)
	assert.EqualValues(t, 42, v)

	_, ok = got.Lookup("nonexistent")
	assert.False(t, ok)
}
