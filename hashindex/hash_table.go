package hashindex

import (
	"errors"
	"sync"

	"burrow/buffer"
	"burrow/common"
	"burrow/transaction"

	"go.uber.org/zap"
)

var (
	ErrDepthTooLarge    = errors.New("max depth is larger than a directory page can hold")
	ErrCapacityTooLarge = errors.New("bucket capacity is larger than a bucket page can hold")
)

// HashTable is a persistent extendible hash table over buffer pool pages: one directory
// page routing the low bits of the key hash to bucket pages, which split as they fill and
// merge as they drain. Readers and plain inserts crab through the table latch in shared
// mode; splits and merges take it exclusively and re-check their preconditions under the
// stronger latch.
type HashTable[K any] struct {
	pool           buffer.Pool
	directoryPID   uint64
	bucketCapacity int
	maxDepth       uint32

	serde  KeySerde[K]
	cmp    Comparator[K]
	hasher Hasher[K]

	tableLatch sync.RWMutex
	logger     *zap.Logger
}

// NewHashTable bootstraps a fresh table: a directory at global depth 1 pointing to two
// empty buckets of local depth 1.
func NewHashTable[K any](pool buffer.Pool, bucketCapacity int, maxDepth uint32, serde KeySerde[K], cmp Comparator[K], hasher Hasher[K], logger *zap.Logger) (*HashTable[K], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxDepth < 1 || maxDepth > MaxSupportedDepth {
		return nil, ErrDepthTooLarge
	}
	if bucketCapacity < 1 || bucketCapacity > MaxBucketCapacity(serde) {
		return nil, ErrCapacityTooLarge
	}

	dirPage, err := pool.NewPage()
	if err != nil {
		return nil, err
	}

	h := &HashTable[K]{
		pool:           pool,
		directoryPID:   dirPage.GetPageId(),
		bucketCapacity: bucketCapacity,
		maxDepth:       maxDepth,
		serde:          serde,
		cmp:            cmp,
		hasher:         hasher,
		logger:         logger,
	}

	dir := NewDirectoryPage(dirPage, maxDepth)
	dir.IncrGlobalDepth()

	bucket0, err := pool.NewPage()
	if err != nil {
		return nil, err
	}
	bucket1, err := pool.NewPage()
	if err != nil {
		return nil, err
	}

	dir.SetBucketPageId(0, bucket0.GetPageId())
	dir.SetLocalDepth(0, 1)
	dir.SetBucketPageId(1, bucket1.GetPageId())
	dir.SetLocalDepth(1, 1)

	pool.Unpin(bucket0.GetPageId(), true)
	pool.Unpin(bucket1.GetPageId(), true)
	pool.Unpin(h.directoryPID, true)

	return h, nil
}

func (h *HashTable[K]) slotOf(key K, dir DirectoryPage) uint32 {
	return h.hasher(key) & dir.GlobalDepthMask()
}

func (h *HashTable[K]) bucketPageIdFor(key K, dir DirectoryPage) uint64 {
	return dir.BucketPageIdOf(h.slotOf(key, dir))
}

// fetchDirectory pins the directory page. The table latch, not a page latch, protects its
// content.
func (h *HashTable[K]) fetchDirectory() DirectoryPage {
	page, err := h.pool.GetPage(h.directoryPID)
	common.PanicIfErr(err)
	return NewDirectoryPage(page, h.maxDepth)
}

// GetValue returns every value stored under key, in slot order.
func (h *HashTable[K]) GetValue(txn *transaction.Transaction, key K) ([]common.Rid, bool) {
	h.tableLatch.RLock()

	dir := h.fetchDirectory()
	bucketPID := h.bucketPageIdFor(key, dir)
	h.pool.Unpin(h.directoryPID, false)

	bucketPage, err := h.pool.GetPage(bucketPID)
	common.PanicIfErr(err)

	bucketPage.RLatch()
	bucket := NewBucketPage(bucketPage, h.bucketCapacity, h.serde)
	result, found := bucket.Get(key, h.cmp)
	bucketPage.RUnLatch()

	h.pool.Unpin(bucketPID, false)
	h.tableLatch.RUnlock()
	return result, found
}

// Insert places the pair into the bucket the key routes to, splitting the bucket and
// growing the directory as needed. It fails on an exact duplicate pair and when the
// required directory growth would exceed the table's max depth.
func (h *HashTable[K]) Insert(txn *transaction.Transaction, key K, value common.Rid) bool {
	h.tableLatch.RLock()

	dir := h.fetchDirectory()
	bucketPID := h.bucketPageIdFor(key, dir)

	bucketPage, err := h.pool.GetPage(bucketPID)
	common.PanicIfErr(err)
	bucket := NewBucketPage(bucketPage, h.bucketCapacity, h.serde)

	bucketPage.WLatch()
	if !bucket.IsFull() {
		inserted := bucket.Insert(key, value, h.cmp)
		bucketPage.WUnlatch()
		h.pool.Unpin(h.directoryPID, false)
		h.pool.Unpin(bucketPID, inserted)
		h.tableLatch.RUnlock()
		return inserted
	}
	bucketPage.WUnlatch()
	h.pool.Unpin(h.directoryPID, false)
	h.pool.Unpin(bucketPID, false)
	h.tableLatch.RUnlock()

	return h.splitInsert(txn, key, value)
}

// splitInsert re-checks fullness under the exclusive table latch, then splits the target
// bucket, growing the directory first when the bucket is already at global depth. It
// recurses into Insert afterwards: either the owning bucket has a free slot now, or the
// grown directory routes the key elsewhere.
func (h *HashTable[K]) splitInsert(txn *transaction.Transaction, key K, value common.Rid) bool {
	h.tableLatch.Lock()

	dir := h.fetchDirectory()
	slot := h.slotOf(key, dir)
	bucketPID := dir.BucketPageIdOf(slot)

	bucketPage, err := h.pool.GetPage(bucketPID)
	common.PanicIfErr(err)
	bucket := NewBucketPage(bucketPage, h.bucketCapacity, h.serde)

	// another writer may have split or deleted in the window between latches
	bucketPage.RLatch()
	if !bucket.IsFull() {
		bucketPage.RUnLatch()
		h.pool.Unpin(h.directoryPID, false)
		h.pool.Unpin(bucketPID, false)
		h.tableLatch.Unlock()
		return h.Insert(txn, key, value)
	}
	bucketPage.RUnLatch()

	if dir.LocalDepthOf(slot) == dir.GlobalDepth() {
		oldSize := dir.Size()
		// no directory mutation before the depth check
		if oldSize*2 > 1<<h.maxDepth {
			h.pool.Unpin(h.directoryPID, false)
			h.pool.Unpin(bucketPID, false)
			h.tableLatch.Unlock()
			return false
		}

		dir.IncrGlobalDepth()
		for i := oldSize; i < oldSize*2; i++ {
			dir.SetBucketPageId(i, dir.BucketPageIdOf(i-oldSize))
			dir.SetLocalDepth(i, dir.LocalDepthOf(i-oldSize))
		}

		directoryGrows.Inc()
		h.logger.Debug("directory grown", zap.Uint32("globalDepth", dir.GlobalDepth()))
	}

	newPage, err := h.pool.NewPage()
	common.PanicIfErr(err)
	newPID := newPage.GetPageId()
	newBucket := NewBucketPage(newPage, h.bucketCapacity, h.serde)

	dir.IncrLocalDepth(slot)
	localDepth := dir.LocalDepthOf(slot)
	localMask := dir.LocalDepthMask(slot)

	// repoint every slot of the old bucket: slots whose prefix now matches the split
	// image move to the new page, all of them get the new local depth
	for i := uint32(0); i < dir.Size(); i++ {
		if dir.BucketPageIdOf(i) == bucketPID {
			if i&localMask != slot&localMask {
				dir.SetBucketPageId(i, newPID)
			}
			dir.SetLocalDepth(i, localDepth)
		}
	}

	// the new page is exclusively owned until unpin, only the old bucket needs a latch
	bucketPage.WLatch()
	for i := 0; i < h.bucketCapacity; i++ {
		if bucket.IsReadable(i) {
			k := bucket.KeyAt(i)
			v := bucket.ValueAt(i)
			if h.bucketPageIdFor(k, dir) != bucketPID {
				newBucket.Insert(k, v, h.cmp)
				bucket.Remove(k, v, h.cmp)
			}
		}
	}
	bucketPage.WUnlatch()

	bucketSplits.Inc()
	h.logger.Debug("bucket split",
		zap.Uint64("bucketPage", bucketPID),
		zap.Uint64("splitImagePage", newPID),
		zap.Uint32("localDepth", localDepth))

	h.pool.Unpin(newPID, true)
	h.pool.Unpin(h.directoryPID, true)
	h.pool.Unpin(bucketPID, true)
	h.tableLatch.Unlock()

	return h.Insert(txn, key, value)
}

// Remove deletes the exact pair from its bucket. A bucket left empty is handed to merge;
// the result of the removal itself is returned either way.
func (h *HashTable[K]) Remove(txn *transaction.Transaction, key K, value common.Rid) bool {
	h.tableLatch.RLock()

	dir := h.fetchDirectory()
	bucketPID := h.bucketPageIdFor(key, dir)
	h.pool.Unpin(h.directoryPID, false)

	bucketPage, err := h.pool.GetPage(bucketPID)
	common.PanicIfErr(err)
	bucket := NewBucketPage(bucketPage, h.bucketCapacity, h.serde)

	bucketPage.WLatch()
	removed := bucket.Remove(key, value, h.cmp)

	if bucket.IsEmpty() {
		bucketPage.WUnlatch()
		h.pool.Unpin(bucketPID, removed)
		h.tableLatch.RUnlock()
		h.merge(txn, key)
		return removed
	}

	bucketPage.WUnlatch()
	h.pool.Unpin(bucketPID, removed)
	h.tableLatch.RUnlock()
	return removed
}

// merge folds an empty bucket into its split image and shrinks the directory while it
// can. It re-checks emptiness under the exclusive table latch and gives up silently when
// any precondition fails; a surviving empty twin is left for the next Remove to notice.
func (h *HashTable[K]) merge(txn *transaction.Transaction, key K) {
	h.tableLatch.Lock()

	dir := h.fetchDirectory()
	slot := h.slotOf(key, dir)
	imageSlot := dir.SplitImageIndex(slot)
	bucketPID := dir.BucketPageIdOf(slot)

	bucketPage, err := h.pool.GetPage(bucketPID)
	common.PanicIfErr(err)
	bucket := NewBucketPage(bucketPage, h.bucketCapacity, h.serde)

	localDepth := dir.LocalDepthOf(slot)
	imageDepth := dir.LocalDepthOf(imageSlot)

	bucketPage.RLatch()
	if !bucket.IsEmpty() || localDepth <= 1 || localDepth != imageDepth {
		bucketPage.RUnLatch()
		h.pool.Unpin(bucketPID, false)
		h.pool.Unpin(h.directoryPID, false)
		h.tableLatch.Unlock()
		return
	}
	bucketPage.RUnLatch()
	h.pool.Unpin(bucketPID, false)

	imagePID := dir.BucketPageIdOf(imageSlot)
	dir.DecrLocalDepth(imageSlot)
	dir.DecrLocalDepth(slot)
	dir.SetBucketPageId(slot, imagePID)
	h.pool.FreePage(bucketPID)

	// rewrite every slot still naming either page so the pair collapses onto the survivor
	for i := uint32(0); i < dir.Size(); i++ {
		if dir.BucketPageIdOf(i) == bucketPID || dir.BucketPageIdOf(i) == imagePID {
			dir.SetBucketPageId(i, imagePID)
			dir.SetLocalDepth(i, dir.LocalDepthOf(slot))
		}
	}

	for dir.CanShrink() {
		dir.DecrGlobalDepth()
		directoryShrinks.Inc()
	}

	bucketMerges.Inc()
	h.logger.Debug("buckets merged",
		zap.Uint64("freedPage", bucketPID),
		zap.Uint64("survivorPage", imagePID),
		zap.Uint32("globalDepth", dir.GlobalDepth()))

	h.pool.Unpin(h.directoryPID, true)
	h.tableLatch.Unlock()
}

func (h *HashTable[K]) GetGlobalDepth() uint32 {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dir := h.fetchDirectory()
	depth := dir.GlobalDepth()
	h.pool.Unpin(h.directoryPID, false)
	return depth
}

// LogDirectory writes the directory layout to the debug log.
func (h *HashTable[K]) LogDirectory() {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dir := h.fetchDirectory()
	h.logger.Debug("directory", zap.Uint32("globalDepth", dir.GlobalDepth()), zap.Uint32("size", dir.Size()))
	for slot := uint32(0); slot < dir.Size(); slot++ {
		h.logger.Debug("directory slot",
			zap.Uint32("slot", slot),
			zap.Uint64("bucketPage", dir.BucketPageIdOf(slot)),
			zap.Uint32("localDepth", dir.LocalDepthOf(slot)))
	}
	h.pool.Unpin(h.directoryPID, false)
}

// VerifyIntegrity asserts the directory invariants. Violations are programming errors and
// panic.
func (h *HashTable[K]) VerifyIntegrity() {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dir := h.fetchDirectory()
	dir.VerifyIntegrity()
	h.pool.Unpin(h.directoryPID, false)
}
