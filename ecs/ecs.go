// Package ecs implements the object-component store of spec.md §4.6:
// a registry-then-pool design where object types are preconfigured
// with a maximum instance count and a table of component kinds, each
// with its own bounded storage.
//
// It is grounded on spec.md §3.4/§4.6 directly (no single original
// source file maps onto this cleanly; the original's ECS variants are
// spread across several tightly macro-coupled headers) and reuses this
// module's bitmap.Duomap/Binmap for occupancy tracking exactly as
// spec.md's external bit-vector collaborator prescribes, the same way
// the teacher's TLSF core relies on segregated bitmaps rather than
// linear scans.
package ecs

import (
	"github.com/google/uuid"

	"galloc"
	"galloc/bitmap"
)

// ComponentConfig describes one component kind registered against an
// object type.
type ComponentConfig struct {
	LocalSlot    uint32
	MaxInstances uint32
	Size         uint32
	Align        uint32
}

// componentContainer is the backing store for one component kind: a
// flat byte array sized maxInstances*size, with a Binmap tracking
// which local slots are occupied and redirection arrays mapping
// object-instance index to local slot and back.
type componentContainer struct {
	size       uint32
	align      uint32
	occupancy  *bitmap.Binmap
	storage    []byte
	instanceOf []uint32 // localSlot -> owning instance index, unset entries undefined
	localOf    []uint32 // instance index -> local slot, NoSlot if absent
}

const NoSlot = ^uint32(0)

func newComponentContainer(maxInstances, maxObjectInstances, size, align uint32) *componentContainer {
	return &componentContainer{
		size:       size,
		align:      align,
		occupancy:  bitmap.NewBinmap(uint(maxInstances)),
		storage:    make([]byte, uint64(maxInstances)*uint64(size)),
		instanceOf: make([]uint32, maxInstances),
		localOf:    makeFilled(maxObjectInstances, NoSlot),
	}
}

func makeFilled(n uint32, v uint32) []uint32 {
	s := make([]uint32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func (cc *componentContainer) slotBytes(local uint32) []byte {
	off := uint64(local) * uint64(cc.size)
	return cc.storage[off : off+uint64(cc.size)]
}

// ObjectType is one registered kind of object instance.
type ObjectType struct {
	maxInstances uint32
	maxComponents uint32
	maxTags       uint32

	instances *bitmap.Duomap
	localComponentIndex map[uint32]uint32 // registered local slot -> itself (slots are the only component ids)

	componentOccupancy [][]uint32 // [instance][ceil(maxComponents/32)] bits: component present
	tagBits            [][]uint32 // [instance][ceil(maxTags/32)]

	components map[uint32]*componentContainer // keyed by local slot
}

// Store is the top-level registry of object types.
type Store struct {
	types map[uint32]*ObjectType
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{types: make(map[uint32]*ObjectType)}
}

// RegisterObject creates a new object type with the given bounds.
func (s *Store) RegisterObject(typeID, maxInstances, maxComponents, maxTags uint32) {
	words := func(n uint32) uint32 { return (n + 31) / 32 }
	ot := &ObjectType{
		maxInstances:         maxInstances,
		maxComponents:        maxComponents,
		maxTags:              maxTags,
		instances:            bitmap.NewDuomap(uint(maxInstances)),
		localComponentIndex:  make(map[uint32]uint32),
		componentOccupancy:   make([][]uint32, maxInstances),
		tagBits:              make([][]uint32, maxInstances),
		components:           make(map[uint32]*componentContainer),
	}
	for i := range ot.componentOccupancy {
		ot.componentOccupancy[i] = make([]uint32, words(maxComponents))
		ot.tagBits[i] = make([]uint32, words(maxTags))
	}
	s.types[typeID] = ot
}

// RegisterComponentForObject preallocates storage for one component
// kind on an object type, identified thereafter by localSlot.
func (s *Store) RegisterComponentForObject(typeID uint32, cfg ComponentConfig) {
	ot := s.types[typeID]
	ot.localComponentIndex[cfg.LocalSlot] = cfg.LocalSlot
	ot.components[cfg.LocalSlot] = newComponentContainer(cfg.MaxInstances, ot.maxInstances, cfg.Size, cfg.Align)
}

// CreateObject allocates a new instance of typeID, returning its
// instance index.
func (s *Store) CreateObject(typeID uint32) (uint32, bool) {
	ot := s.types[typeID]
	idx, ok := ot.instances.FindFreeAndSetUsed()
	if !ok {
		return 0, false
	}
	for i := range ot.componentOccupancy[idx] {
		ot.componentOccupancy[idx][i] = 0
	}
	for i := range ot.tagBits[idx] {
		ot.tagBits[idx][i] = 0
	}
	return uint32(idx), true
}

// DestroyObject frees instance back to typeID's pool, releasing any
// components it still held.
func (s *Store) DestroyObject(typeID, instance uint32) {
	ot := s.types[typeID]
	for local := range ot.components {
		if ot.hasComponentBit(instance, local) {
			s.RemComponent(typeID, instance, local)
		}
	}
	ot.instances.SetFree(uint(instance))
}

func (ot *ObjectType) hasComponentBit(instance, localSlot uint32) bool {
	word, bit := localSlot/32, localSlot%32
	return ot.componentOccupancy[instance][word]&(1<<bit) != 0
}
func (ot *ObjectType) setComponentBit(instance, localSlot uint32, v bool) {
	word, bit := localSlot/32, localSlot%32
	if v {
		ot.componentOccupancy[instance][word] |= 1 << bit
	} else {
		ot.componentOccupancy[instance][word] &^= 1 << bit
	}
}

// AddComponent allocates a local slot for component localSlot on
// instance, returning its backing bytes.
func (s *Store) AddComponent(typeID, instance, localSlot uint32) ([]byte, error) {
	ot := s.types[typeID]
	cc := ot.components[localSlot]
	local, ok := cc.occupancy.FindFreeAndSetUsed()
	if !ok {
		return nil, galloc.ErrOutOfMemory
	}
	cc.instanceOf[local] = instance
	cc.localOf[instance] = uint32(local)
	ot.setComponentBit(instance, localSlot, true)
	return cc.slotBytes(uint32(local)), nil
}

// RemComponent releases instance's slot for component localSlot.
func (s *Store) RemComponent(typeID, instance, localSlot uint32) {
	ot := s.types[typeID]
	cc := ot.components[localSlot]
	local := cc.localOf[instance]
	if local == NoSlot {
		return
	}
	cc.occupancy.SetFree(uint(local))
	cc.localOf[instance] = NoSlot
	ot.setComponentBit(instance, localSlot, false)
}

// GetComponent returns instance's backing bytes for component
// localSlot, or nil if it has none.
func (s *Store) GetComponent(typeID, instance, localSlot uint32) []byte {
	ot := s.types[typeID]
	cc := ot.components[localSlot]
	local := cc.localOf[instance]
	if local == NoSlot {
		return nil
	}
	return cc.slotBytes(local)
}

// HasComponent reports whether instance currently carries component
// localSlot.
func (s *Store) HasComponent(typeID, instance, localSlot uint32) bool {
	return s.types[typeID].hasComponentBit(instance, localSlot)
}

// AddTag sets instance's bit for tag.
func (s *Store) AddTag(typeID, instance, tag uint32) {
	ot := s.types[typeID]
	word, bit := tag/32, tag%32
	ot.tagBits[instance][word] |= 1 << bit
}

// RemTag clears instance's bit for tag.
func (s *Store) RemTag(typeID, instance, tag uint32) {
	ot := s.types[typeID]
	word, bit := tag/32, tag%32
	ot.tagBits[instance][word] &^= 1 << bit
}

// HasTag reports whether instance's bit for tag is set. spec.md §9
// resolves an apparent sign-bug Open Question in one source variant:
// this always returns true iff the bit is set, never its negation.
func (s *Store) HasTag(typeID, instance, tag uint32) bool {
	ot := s.types[typeID]
	word, bit := tag/32, tag%32
	return ot.tagBits[instance][word]&(1<<bit) != 0
}

// IterateBegin returns the lowest live instance index of typeID, if
// any.
func (s *Store) IterateBegin(typeID uint32) (uint32, bool) {
	idx, ok := s.types[typeID].instances.NextUsedUp(0)
	return uint32(idx), ok
}

// IterateNext returns the next live instance index after prev, if any.
func (s *Store) IterateNext(typeID, prev uint32) (uint32, bool) {
	idx, ok := s.types[typeID].instances.NextUsedUp(uint(prev) + 1)
	return uint32(idx), ok
}

// GetNumberOfInstances returns the total number of live object
// instances of typeID. spec.md §9 resolves an Open Question here: the
// source's get_number_of_instances(cp_index) returns the global
// instance count rather than a per-component count; this keeps that
// reading rather than scoping the result to one component kind.
func (s *Store) GetNumberOfInstances(typeID uint32) uint32 {
	return uint32(s.types[typeID].instances.Count())
}

// NewHandle mints an identifier a caller can attach to an object
// instance (e.g. alongside its index in a side table) when it needs a
// reference that stays distinguishable across process restarts.
// spec.md §9 notes component pointers and instance indices are not
// stable across free/allocate of the same slot; a Store itself never
// generates or stores one of these, so callers that don't need
// cross-restart identity pay nothing for this.
func NewHandle() uuid.UUID { return uuid.New() }

// Teardown releases an object type's component containers, then its
// own per-instance arrays, per spec.md §4.6's lifecycle.
func (s *Store) Teardown(typeID uint32) {
	ot := s.types[typeID]
	ot.components = nil
	ot.componentOccupancy = nil
	ot.tagBits = nil
	delete(s.types, typeID)
}
