package vdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildMirror() (root, mirror, a, b *Vdev) {
	a = NewLeaf(100, 4<<30, 9)
	b = NewLeaf(200, 4<<30, 9)
	mirror = &Vdev{GUID: 300, Kind: KindMirror}
	root = NewPoolTree(mirror)
	Attach(mirror, a)
	Attach(mirror, b)
	return
}

func TestGUIDSum(t *testing.T) {
	_, mirror, _, _ := buildMirror()
	assert.EqualValues(t, 300, mirror.GUID)
	assert.EqualValues(t, 100+200, mirror.GUIDSum())
}

func TestGUIDSumReflectsRename(t *testing.T) {
	_, mirror, a, _ := buildMirror()
	a.GUID = 999
	assert.EqualValues(t, 999+200, mirror.GUIDSum())
}

func TestTopAndParentWiring(t *testing.T) {
	root, mirror, a, b := buildMirror()
	require.True(t, mirror.IsTop())
	assert.False(t, root.IsTop())
	assert.Equal(t, mirror, a.Top)
	assert.Equal(t, mirror, b.Top)
	assert.Equal(t, mirror, a.Parent)
	assert.Equal(t, root, mirror.Parent)
}

func TestLeavesAndLiveLeaves(t *testing.T) {
	_, mirror, a, b := buildMirror()
	leaves := mirror.Leaves()
	assert.Len(t, leaves, 2)

	b.SetDead(true)
	live := mirror.LiveLeaves()
	require.Len(t, live, 1)
	assert.Equal(t, a, live[0])
}

func TestKindIsLeaf(t *testing.T) {
	assert.True(t, KindDisk.IsLeaf())
	assert.False(t, KindMirror.IsLeaf())
	assert.False(t, KindRoot.IsLeaf())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "mirror", KindMirror.String())
	assert.Equal(t, "disk", KindDisk.String())
}
