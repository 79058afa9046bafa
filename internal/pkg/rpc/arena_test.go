package rpc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArenaCapacityIsFixed(t *testing.T) {
	const capacity = 4
	a, err := NewArena(capacity)
	require.NoError(t, err)
	require.Equal(t, capacity, a.Cap())
	require.Equal(t, 0, a.Len())

	records := make([]*Record, 0, capacity)
	for i := 0; i < capacity; i++ {
		rec, err := a.Acquire()
		require.NoError(t, err)
		rec.UUID = fmt.Sprintf("r%d", i)
		records = append(records, rec)
	}
	require.Equal(t, capacity, a.Len())

	_, err = a.Acquire()
	require.ErrorIs(t, err, ErrArenaExhausted)

	// releasing one slot makes exactly one acquisition possible again
	require.True(t, a.Release(records[2]))
	require.Equal(t, capacity-1, a.Len())
	rec, err := a.Acquire()
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, capacity, a.Len())
	_, err = a.Acquire()
	require.ErrorIs(t, err, ErrArenaExhausted)
}

func TestArenaReleaseClearsRecord(t *testing.T) {
	a, err := NewArena(2)
	require.NoError(t, err)
	rec, err := a.Acquire()
	require.NoError(t, err)
	rec.UUID = "r1"
	rec.Status = StatusAcknowledged
	rec.UserContext = "ctx"

	require.True(t, a.Release(rec))
	require.Nil(t, a.FindByUUID("r1"))

	recycled, err := a.Acquire()
	require.NoError(t, err)
	require.Empty(t, recycled.UUID)
	require.Nil(t, recycled.UserContext)
}

func TestArenaReleaseMidList(t *testing.T) {
	a, err := NewArena(3)
	require.NoError(t, err)
	var recs []*Record
	for i := 0; i < 3; i++ {
		rec, err := a.Acquire()
		require.NoError(t, err)
		rec.UUID = fmt.Sprintf("r%d", i)
		recs = append(recs, rec)
	}

	// r1 sits in the middle of the active list
	require.True(t, a.Release(a.FindByUUID("r1")))
	require.Equal(t, 2, a.Len())
	require.NotNil(t, a.FindByUUID("r0"))
	require.NotNil(t, a.FindByUUID("r2"))

	// double release is a no-op
	require.False(t, a.Release(recs[1]))
	require.Equal(t, 2, a.Len())
}

func TestArenaForEachActive(t *testing.T) {
	a, err := NewArena(3)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		rec, err := a.Acquire()
		require.NoError(t, err)
		rec.UUID = fmt.Sprintf("r%d", i)
	}

	seen := map[string]bool{}
	a.ForEachActive(func(rec *Record) bool {
		seen[rec.UUID] = true
		return true
	})
	require.Len(t, seen, 3)

	// releasing the current record mid-iteration is safe
	count := 0
	a.ForEachActive(func(rec *Record) bool {
		count++
		a.Release(rec)
		return true
	})
	require.Equal(t, 3, count)
	require.Equal(t, 0, a.Len())
}

func TestArenaRejectsNonPositiveCapacity(t *testing.T) {
	_, err := NewArena(0)
	require.Error(t, err)
	_, err = NewArena(-1)
	require.Error(t, err)
}
