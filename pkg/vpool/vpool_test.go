package vpool

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMemRegistry(t *testing.T) {
	reg := NewMemRegistry(42)
	assert.True(t, reg.GUIDExists(42))
	assert.False(t, reg.GUIDExists(43))
}

func TestSpareRegistry(t *testing.T) {
	reg := NewMemRegistry()
	assert.False(t, reg.SpareExists(7))

	reg.SpareAdd(1, 7)
	assert.True(t, reg.SpareExists(7))
	assert.True(t, reg.HasSpare(1, 7))
	assert.False(t, reg.HasSpare(2, 7))
}

func TestPoolGenerateConfigContext(t *testing.T) {
	p := New(1, "tank", 5000)
	p.Current.Txg = 9

	var ctx GenerateConfigContext = p
	assert.EqualValues(t, 1, ctx.PoolGUID())
	assert.Equal(t, "tank", ctx.PoolName())
	assert.EqualValues(t, 5000, ctx.PoolVersion())
	assert.EqualValues(t, 9, ctx.PoolTxg())
}

func TestFixtureToPool(t *testing.T) {
	f := &Fixture{
		GUID:        1,
		Name:        "tank",
		Version:     5000,
		KnownPools:  []uint64{1, 2},
		SpareGUIDs:  []uint64{9},
		CurrentTxg:  3,
		CurrentTime: 12345,
	}
	p := f.ToPool()

	require.True(t, p.Registry.GUIDExists(1))
	require.True(t, p.Registry.GUIDExists(2))
	assert.True(t, p.Registry.SpareExists(9))
	assert.EqualValues(t, 3, p.Current.Txg)
	assert.EqualValues(t, UberblockMagic, p.Current.Magic)
}

func TestLoadFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.yaml")
	doc := "guid: 7\nname: tank\nversion: 5000\nknown_pools: [7]\nspare_guids: [9]\ncurrent_txg: 4\ncurrent_timestamp: 555\n"
	require.NoError(t, ioutil.WriteFile(path, []byte(doc), 0644))

	f, err := LoadFixture(path)
	require.NoError(t, err)
	assert.EqualValues(t, 7, f.GUID)
	assert.Equal(t, "tank", f.Name)

	p := f.ToPool()
	assert.True(t, p.Registry.GUIDExists(7))
	assert.True(t, p.Registry.SpareExists(9))

	_, err = LoadFixture(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
