package hashindex

import (
	"testing"

	"burrow/common"
	"burrow/disk/pages"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBucket(capacity int) BucketPage[uint64] {
	return NewBucketPage[uint64](pages.NewRawPage(1), capacity, Uint64Serde{})
}

func rid(slot uint16) common.Rid {
	return common.NewRid(1, slot)
}

func TestBucketPage_Insert_And_Get(t *testing.T) {
	b := newTestBucket(8)

	require.True(t, b.Insert(10, rid(0), Uint64Comparator))
	require.True(t, b.Insert(20, rid(1), Uint64Comparator))

	values, found := b.Get(10, Uint64Comparator)
	assert.True(t, found)
	assert.Equal(t, []common.Rid{rid(0)}, values)

	_, found = b.Get(30, Uint64Comparator)
	assert.False(t, found)
}

func TestBucketPage_Same_Key_Keeps_All_Values(t *testing.T) {
	b := newTestBucket(8)

	require.True(t, b.Insert(10, rid(0), Uint64Comparator))
	require.True(t, b.Insert(10, rid(1), Uint64Comparator))

	values, found := b.Get(10, Uint64Comparator)
	assert.True(t, found)
	assert.Equal(t, []common.Rid{rid(0), rid(1)}, values)
}

func TestBucketPage_Duplicate_Pair_Is_Rejected(t *testing.T) {
	b := newTestBucket(8)

	require.True(t, b.Insert(10, rid(0), Uint64Comparator))
	assert.False(t, b.Insert(10, rid(0), Uint64Comparator))
	assert.Equal(t, 1, b.NumReadable())
}

func TestBucketPage_Insert_Fails_When_Full(t *testing.T) {
	b := newTestBucket(2)

	require.True(t, b.Insert(1, rid(0), Uint64Comparator))
	require.True(t, b.Insert(2, rid(1), Uint64Comparator))
	require.True(t, b.IsFull())

	assert.False(t, b.Insert(3, rid(2), Uint64Comparator))
}

func TestBucketPage_Remove_Leaves_Tombstone(t *testing.T) {
	b := newTestBucket(4)

	require.True(t, b.Insert(1, rid(0), Uint64Comparator))
	require.True(t, b.Insert(2, rid(1), Uint64Comparator))

	require.True(t, b.Remove(1, rid(0), Uint64Comparator))
	assert.False(t, b.Remove(1, rid(0), Uint64Comparator))

	// slot 0 has been emptied but stays marked as once-occupied
	assert.False(t, b.IsReadable(0))
	assert.True(t, b.IsOccupied(0))

	_, found := b.Get(1, Uint64Comparator)
	assert.False(t, found)
}

func TestBucketPage_Insert_Reuses_Tombstoned_Slot(t *testing.T) {
	b := newTestBucket(4)

	require.True(t, b.Insert(1, rid(0), Uint64Comparator))
	require.True(t, b.Insert(2, rid(1), Uint64Comparator))
	require.True(t, b.Remove(1, rid(0), Uint64Comparator))

	require.True(t, b.Insert(3, rid(2), Uint64Comparator))
	assert.True(t, b.IsReadable(0))
	assert.Equal(t, uint64(3), b.KeyAt(0))
}

func TestBucketPage_IsEmpty(t *testing.T) {
	b := newTestBucket(4)
	assert.True(t, b.IsEmpty())

	require.True(t, b.Insert(1, rid(0), Uint64Comparator))
	assert.False(t, b.IsEmpty())

	require.True(t, b.Remove(1, rid(0), Uint64Comparator))
	assert.True(t, b.IsEmpty())
}

func TestMaxBucketCapacity_Fits_The_Page(t *testing.T) {
	capacity := MaxBucketCapacity[uint64](Uint64Serde{})
	bitmapBytes := (capacity + 7) / 8
	entrySize := 8 + ridSize

	assert.LessOrEqual(t, 2*bitmapBytes+capacity*entrySize, 4096)
	assert.Greater(t, capacity, 0)
}
