package vdevtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomGUIDIsNonZeroAndVaries(t *testing.T) {
	a := RandomGUID()
	b := RandomGUID()
	assert.NotZero(t, a)
	assert.NotZero(t, b)
	assert.NotEqual(t, a, b)
}

func TestNewRandomMirrorTopology(t *testing.T) {
	root, devs := NewRandomMirror(4<<30, 9)
	mirror := root.Children[0]
	require.Len(t, mirror.Children, 2)

	leaves := mirror.Leaves()
	require.Len(t, leaves, 2)
	assert.NotEqual(t, leaves[0].GUID, leaves[1].GUID)
	assert.NotZero(t, mirror.GUID)

	for _, l := range leaves {
		require.NotNil(t, devs.Get(l.GUID))
	}
}
