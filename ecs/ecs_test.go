package ecs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const typeA = 1
const posComponent = 0

func newTestStore() *Store {
	s := NewStore()
	s.RegisterObject(typeA, 8, 4, 8)
	s.RegisterComponentForObject(typeA, ComponentConfig{LocalSlot: posComponent, MaxInstances: 8, Size: 12, Align: 4})
	return s
}

func TestCreateDestroyObject(t *testing.T) {
	s := newTestStore()
	inst, ok := s.CreateObject(typeA)
	require.True(t, ok)
	require.EqualValues(t, 1, s.GetNumberOfInstances(typeA))

	s.DestroyObject(typeA, inst)
	require.EqualValues(t, 0, s.GetNumberOfInstances(typeA))
}

func TestComponentOccupancyAgreesWithHasComponent(t *testing.T) {
	s := newTestStore()
	inst, _ := s.CreateObject(typeA)
	require.False(t, s.HasComponent(typeA, inst, posComponent))

	buf, err := s.AddComponent(typeA, inst, posComponent)
	require.NoError(t, err)
	require.Len(t, buf, 12)
	require.True(t, s.HasComponent(typeA, inst, posComponent))

	s.RemComponent(typeA, inst, posComponent)
	require.False(t, s.HasComponent(typeA, inst, posComponent))
}

func TestHasTagTrueIffBitSet(t *testing.T) {
	s := newTestStore()
	inst, _ := s.CreateObject(typeA)
	require.False(t, s.HasTag(typeA, inst, 3))
	s.AddTag(typeA, inst, 3)
	require.True(t, s.HasTag(typeA, inst, 3))
	s.RemTag(typeA, inst, 3)
	require.False(t, s.HasTag(typeA, inst, 3))
}

func TestIterateVisitsAllLiveInstances(t *testing.T) {
	s := newTestStore()
	a, _ := s.CreateObject(typeA)
	b, _ := s.CreateObject(typeA)

	seen := map[uint32]bool{}
	idx, ok := s.IterateBegin(typeA)
	for ok {
		seen[idx] = true
		idx, ok = s.IterateNext(typeA, idx)
	}
	require.True(t, seen[a])
	require.True(t, seen[b])
	require.Len(t, seen, 2)
}

func TestNewHandleIsUnique(t *testing.T) {
	a := NewHandle()
	b := NewHandle()
	require.NotEqual(t, a, b)
}

func TestComponentExhaustionReturnsError(t *testing.T) {
	s := NewStore()
	s.RegisterObject(typeA, 4, 1, 1)
	s.RegisterComponentForObject(typeA, ComponentConfig{LocalSlot: posComponent, MaxInstances: 1, Size: 4, Align: 4})

	a, _ := s.CreateObject(typeA)
	b, _ := s.CreateObject(typeA)

	_, err := s.AddComponent(typeA, a, posComponent)
	require.NoError(t, err)
	_, err = s.AddComponent(typeA, b, posComponent)
	require.Error(t, err)
}
