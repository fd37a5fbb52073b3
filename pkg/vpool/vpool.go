// Package vpool models the pool-global state the label subsystem reads:
// the configuration lock, the spare and pool registries, and the pool's
// current uberblock. Per spec §9, this is passed explicitly to every
// pkg/vlabel entry point as a context parameter rather than kept as
// process-wide state; pkg/vlabel only reads it (except for the spare
// registry, which Init updates under the writer lock).
package vpool

import (
	"fmt"
	"io/ioutil"
	"sync"

	"gopkg.in/yaml.v2"
)

// Uberblock is the pool root record (spec §3). It is defined here, rather
// than in pkg/vlabel, because it is pool-global state the Pool struct holds
// a copy of, independent of any one label.
type Uberblock struct {
	Magic     uint64
	Version   uint64
	Txg       uint64
	Timestamp uint64
	RootBP    [128]byte // opaque block pointer to the meta-object-set.
}

// Registry is the subset of the pool-open import driver's bookkeeping the
// label subsystem consults: whether a pool GUID is known to this host, and
// whether a device GUID is a registered spare.
type Registry interface {
	// GUIDExists reports whether a pool with this GUID is known to this
	// host (used by Inuse to decide whether a foreign label is stale).
	GUIDExists(poolGUID uint64) bool

	// SpareExists reports whether deviceGUID is registered as a spare
	// anywhere (not necessarily in this pool).
	SpareExists(deviceGUID uint64) bool

	// HasSpare reports whether deviceGUID is registered as a spare of
	// this specific pool.
	HasSpare(poolGUID, deviceGUID uint64) bool

	// SpareAdd registers deviceGUID as a spare of poolGUID.
	SpareAdd(poolGUID, deviceGUID uint64)
}

// memRegistry is the reference Registry implementation: an in-process map,
// guarded by the Pool's own configuration lock (the spec requires spare
// registry updates to happen "only under the writer configuration lock",
// so this type does not take its own lock).
type memRegistry struct {
	pools  map[uint64]bool
	spares map[uint64]uint64 // device GUID -> owning pool GUID
}

// NewMemRegistry returns a Registry backed by in-process maps, seeded with
// the given known pool GUIDs.
func NewMemRegistry(knownPools ...uint64) Registry {
	r := &memRegistry{
		pools:  make(map[uint64]bool),
		spares: make(map[uint64]uint64),
	}
	for _, g := range knownPools {
		r.pools[g] = true
	}
	return r
}

func (r *memRegistry) GUIDExists(poolGUID uint64) bool { return r.pools[poolGUID] }

func (r *memRegistry) SpareExists(deviceGUID uint64) bool {
	_, ok := r.spares[deviceGUID]
	return ok
}

func (r *memRegistry) HasSpare(poolGUID, deviceGUID uint64) bool {
	owner, ok := r.spares[deviceGUID]
	return ok && owner == poolGUID
}

func (r *memRegistry) SpareAdd(poolGUID, deviceGUID uint64) {
	r.spares[deviceGUID] = poolGUID
}

// Pool bundles the pool-global state pkg/vlabel needs. Modelled on the
// teacher's pkg/vimg.Builder "explicit args struct, no package-level
// globals" convention rather than the teacher's pkg/elog.CLI "package
// singleton with its own lock" style, because the spec explicitly calls out
// (§9) that this state should be passed, not kept.
type Pool struct {
	// ConfigLock must be held in writer mode for Init, and in reader mode
	// for ReadConfig/LoadBest (spec §5); callers take it for those.
	// ConfigSync takes it in writer mode itself, so a caller must not
	// already hold it.
	ConfigLock sync.RWMutex

	GUID    uint64
	Name    string
	Version uint64

	// Current is the pool's currently-accepted uberblock. ConfigSync reads
	// it but never writes a new one except into the on-disk ring.
	Current Uberblock

	Registry Registry
}

// New returns a Pool with a fresh in-memory registry and a baseline,
// verifiable zero-txg Current uberblock: a freshly created pool has no
// real root yet, but Init still needs a valid template to stamp (spec
// §4.5), so the pool is never left with an unverifiable Magic/Version==0
// uberblock as its "current" root.
func New(guid uint64, name string, version uint64) *Pool {
	return &Pool{
		GUID:     guid,
		Name:     name,
		Version:  version,
		Registry: NewMemRegistry(guid),
		Current:  Uberblock{Magic: UberblockMagic, Version: version},
	}
}

// Fixture is the decoded shape of a simulated pool-registry YAML file,
// used by tests to seed a Pool without constructing one by hand in Go
// (cmd/vdevtool does not load one).
type Fixture struct {
	GUID        uint64   `yaml:"guid"`
	Name        string   `yaml:"name"`
	Version     uint64   `yaml:"version"`
	KnownPools  []uint64 `yaml:"known_pools"`
	SpareGUIDs  []uint64 `yaml:"spare_guids"`
	CurrentTxg  uint64   `yaml:"current_txg"`
	CurrentTime uint64   `yaml:"current_timestamp"`
}

// LoadFixture reads a Fixture from a YAML file at path, the way the teacher
// loads a VCFG file with yaml.v2 in pkg/vcfg.
func LoadFixture(path string) (*Fixture, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vpool: reading fixture %q: %w", path, err)
	}
	f := new(Fixture)
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("vpool: parsing fixture %q: %w", path, err)
	}
	return f, nil
}

// ToPool materializes a Fixture into a usable Pool.
func (f *Fixture) ToPool() *Pool {
	p := New(f.GUID, f.Name, f.Version)
	for _, g := range f.KnownPools {
		p.Registry.(*memRegistry).pools[g] = true
	}
	for _, g := range f.SpareGUIDs {
		p.Registry.SpareAdd(0, g)
	}
	p.Current = Uberblock{
		Magic:     UberblockMagic,
		Version:   f.Version,
		Txg:       f.CurrentTxg,
		Timestamp: f.CurrentTime,
	}
	return p
}

// UberblockMagic is the fixed magic number stamped into every uberblock,
// mirroring the teacher's GPTSignature/vmdk.Magic constants.
const UberblockMagic = 0x00bab10c

// GenerateConfigContext is the subset of Pool state the label subsystem's
// Config Generator needs, kept as a small interface so pkg/vlabel doesn't
// import nvtree.Tree-shaped pool details it has no business constructing.
type GenerateConfigContext interface {
	PoolGUID() uint64
	PoolName() string
	PoolVersion() uint64
	PoolTxg() uint64
}

func (p *Pool) PoolGUID() uint64    { return p.GUID }
func (p *Pool) PoolName() string    { return p.Name }
func (p *Pool) PoolVersion() uint64 { return p.Version }
func (p *Pool) PoolTxg() uint64     { return p.Current.Txg }

var _ GenerateConfigContext = (*Pool)(nil)
