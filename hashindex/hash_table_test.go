package hashindex

import (
	"sync"
	"testing"

	"burrow/buffer"
	"burrow/common"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityHasher(key uint64) uint32 {
	return uint32(key)
}

func newTestTable(t *testing.T, poolSize, capacity int, maxDepth uint32, hasher Hasher[uint64]) *HashTable[uint64] {
	t.Helper()

	id, _ := uuid.NewUUID()
	dbName := id.String()
	pool := buffer.NewBufferPool(dbName, poolSize, nil)
	t.Cleanup(func() {
		common.Remove(dbName)
	})

	ht, err := NewHashTable[uint64](pool, capacity, maxDepth, Uint64Serde{}, Uint64Comparator, hasher, nil)
	require.NoError(t, err)
	return ht
}

func TestHashTable_Starts_At_Global_Depth_One(t *testing.T) {
	ht := newTestTable(t, 8, 4, 4, identityHasher)

	assert.EqualValues(t, 1, ht.GetGlobalDepth())
	ht.VerifyIntegrity()

	_, found := ht.GetValue(nil, 42)
	assert.False(t, found)
}

func TestHashTable_Insert_And_Get_Round_Trip(t *testing.T) {
	ht := newTestTable(t, 8, 4, 4, identityHasher)

	require.True(t, ht.Insert(nil, 1, rid(1)))
	require.True(t, ht.Insert(nil, 2, rid(2)))

	values, found := ht.GetValue(nil, 1)
	assert.True(t, found)
	assert.Equal(t, []common.Rid{rid(1)}, values)

	require.True(t, ht.Remove(nil, 1, rid(1)))
	_, found = ht.GetValue(nil, 1)
	assert.False(t, found)

	values, found = ht.GetValue(nil, 2)
	assert.True(t, found)
	assert.Equal(t, []common.Rid{rid(2)}, values)
}

func TestHashTable_Duplicate_Insert_Is_Rejected(t *testing.T) {
	ht := newTestTable(t, 8, 4, 4, identityHasher)

	assert.True(t, ht.Insert(nil, 1, rid(1)))
	assert.False(t, ht.Insert(nil, 1, rid(1)))

	values, _ := ht.GetValue(nil, 1)
	assert.Len(t, values, 1)
}

func TestHashTable_Remove_Of_Missing_Pair_Returns_False(t *testing.T) {
	ht := newTestTable(t, 8, 4, 4, identityHasher)

	require.True(t, ht.Insert(nil, 1, rid(1)))
	assert.False(t, ht.Remove(nil, 1, rid(2)))
	assert.False(t, ht.Remove(nil, 9, rid(1)))
}

func TestHashTable_Full_Bucket_Grows_Directory_And_Splits(t *testing.T) {
	ht := newTestTable(t, 8, 2, 4, identityHasher)

	// keys 0, 2 and 4 all route to slot 0 while global depth is 1
	require.True(t, ht.Insert(nil, 0, rid(0)))
	require.True(t, ht.Insert(nil, 2, rid(2)))
	require.EqualValues(t, 1, ht.GetGlobalDepth())

	// the third one does not fit, the directory doubles and the bucket splits
	require.True(t, ht.Insert(nil, 4, rid(4)))
	assert.EqualValues(t, 2, ht.GetGlobalDepth())
	ht.VerifyIntegrity()

	for _, key := range []uint64{0, 2, 4} {
		values, found := ht.GetValue(nil, key)
		assert.True(t, found, "key %v", key)
		assert.Equal(t, []common.Rid{rid(uint16(key))}, values)
	}
}

func TestHashTable_Empty_Bucket_Merges_And_Directory_Shrinks(t *testing.T) {
	ht := newTestTable(t, 8, 2, 4, identityHasher)

	require.True(t, ht.Insert(nil, 0, rid(0)))
	require.True(t, ht.Insert(nil, 2, rid(2)))
	require.True(t, ht.Insert(nil, 4, rid(4)))
	require.EqualValues(t, 2, ht.GetGlobalDepth())

	// key 2 sits alone in its bucket, removing it empties the bucket and undoes the split
	require.True(t, ht.Remove(nil, 2, rid(2)))
	assert.EqualValues(t, 1, ht.GetGlobalDepth())
	ht.VerifyIntegrity()

	_, found := ht.GetValue(nil, 2)
	assert.False(t, found)

	for _, key := range []uint64{0, 4} {
		_, found := ht.GetValue(nil, key)
		assert.True(t, found, "key %v", key)
	}
}

func TestHashTable_Insert_Fails_When_Directory_Cannot_Grow(t *testing.T) {
	ht := newTestTable(t, 8, 2, 1, identityHasher)

	require.True(t, ht.Insert(nil, 0, rid(0)))
	require.True(t, ht.Insert(nil, 2, rid(2)))

	// slot 0 is full and growing past max depth is not allowed
	assert.False(t, ht.Insert(nil, 4, rid(4)))

	// the failed grow must not have touched the directory
	assert.EqualValues(t, 1, ht.GetGlobalDepth())
	ht.VerifyIntegrity()
}

func TestHashTable_Churn_Keeps_Integrity(t *testing.T) {
	// at most 7 of the 500 keys share their low 8 hash bits, so capacity 8 at depth 8 holds them all
	ht := newTestTable(t, 32, 8, 8, XXHasher[uint64](Uint64Serde{}))

	const keys = 500
	for i := uint64(0); i < keys; i++ {
		require.True(t, ht.Insert(nil, i, rid(uint16(i))))
	}
	ht.VerifyIntegrity()

	for i := uint64(0); i < keys; i++ {
		values, found := ht.GetValue(nil, i)
		require.True(t, found, "key %v", i)
		require.Equal(t, []common.Rid{rid(uint16(i))}, values)
	}

	for i := uint64(0); i < keys; i += 2 {
		require.True(t, ht.Remove(nil, i, rid(uint16(i))))
	}
	ht.VerifyIntegrity()

	for i := uint64(0); i < keys; i++ {
		_, found := ht.GetValue(nil, i)
		require.Equal(t, i%2 == 1, found, "key %v", i)
	}

	for i := uint64(1); i < keys; i += 2 {
		require.True(t, ht.Remove(nil, i, rid(uint16(i))))
	}
	ht.VerifyIntegrity()

	for i := uint64(0); i < keys; i++ {
		_, found := ht.GetValue(nil, i)
		require.False(t, found, "key %v", i)
	}
}

func TestHashTable_Concurrent_Inserts_All_Succeed(t *testing.T) {
	ht := newTestTable(t, 64, 8, 8, XXHasher[uint64](Uint64Serde{}))

	const workers = 8
	const keysPerWorker = 50

	wg := sync.WaitGroup{}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < keysPerWorker; i++ {
				key := uint64(w*keysPerWorker + i)
				assert.True(t, ht.Insert(nil, key, rid(uint16(key))))
			}
		}(w)
	}
	wg.Wait()

	ht.VerifyIntegrity()
	for key := uint64(0); key < workers*keysPerWorker; key++ {
		values, found := ht.GetValue(nil, key)
		require.True(t, found, "key %v", key)
		require.Equal(t, []common.Rid{rid(uint16(key))}, values)
	}
}

func TestNewHashTable_Rejects_Bad_Geometry(t *testing.T) {
	id, _ := uuid.NewUUID()
	dbName := id.String()
	pool := buffer.NewBufferPool(dbName, 8, nil)
	t.Cleanup(func() {
		common.Remove(dbName)
	})

	_, err := NewHashTable[uint64](pool, 4, MaxSupportedDepth+1, Uint64Serde{}, Uint64Comparator, identityHasher, nil)
	assert.ErrorIs(t, err, ErrDepthTooLarge)

	_, err = NewHashTable[uint64](pool, MaxBucketCapacity[uint64](Uint64Serde{})+1, 4, Uint64Serde{}, Uint64Comparator, identityHasher, nil)
	assert.ErrorIs(t, err, ErrCapacityTooLarge)
}
