package memarena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitGrowsAndAligns(t *testing.T) {
	a := Reserve(1024)
	off, ok := a.Commit(10, 1)
	require.True(t, ok)
	require.EqualValues(t, 0, off)

	off, ok = a.Commit(10, 16)
	require.True(t, ok)
	require.EqualValues(t, 16, off, "second commit must be 16-byte aligned")
	require.EqualValues(t, 26, a.Committed())
}

func TestCommitFailsPastReserved(t *testing.T) {
	a := Reserve(16)
	_, ok := a.Commit(8, 1)
	require.True(t, ok)
	_, ok = a.Commit(9, 1)
	require.False(t, ok)
}

func TestResetAndRestore(t *testing.T) {
	a := Reserve(64)
	a.Commit(32, 1)
	pos := a.Committed()
	a.Commit(16, 1)
	a.Restore(pos)
	require.EqualValues(t, pos, a.Committed())

	a.Reset()
	require.EqualValues(t, 0, a.Committed())
}

func TestRelease(t *testing.T) {
	a := Reserve(16)
	a.Commit(4, 1)
	a.Release()
	require.EqualValues(t, 0, a.Committed())
	require.EqualValues(t, 0, a.Reserved())
}
