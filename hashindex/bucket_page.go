package hashindex

import (
	"encoding/binary"

	"burrow/common"
	"burrow/disk"
	"burrow/disk/pages"
)

// ridSize is the on-page width of a value: page id plus slot index.
const ridSize = 10

/*
 * Bucket page format:
 *  ------------------------------------------------------------------
 *  | OCCUPIED BITMAP | READABLE BITMAP | (key_0, rid_0) ... (key_n, rid_n) |
 *  ------------------------------------------------------------------
 *
 * occupied marks slots that have ever held an entry and acts as a stop marker for
 * diagnostic scans; readable is the authoritative membership. A slot with occupied set
 * and readable cleared is a tombstone that Insert reuses.
 */

// BucketPage interprets a raw page as a fixed-capacity open-addressed slot array of
// (key, rid) pairs. All operations are unsynchronized; the table holds the page latch.
type BucketPage[K any] struct {
	page     *pages.RawPage
	capacity int
	serde    KeySerde[K]
}

// MaxBucketCapacity returns the largest slot count whose bitmaps and entries fit a page.
func MaxBucketCapacity[K any](serde KeySerde[K]) int {
	entrySize := serde.Size() + ridSize
	// each slot costs two bitmap bits on top of its entry
	return 8 * (disk.PageSize - 2) / (8*entrySize + 2)
}

func NewBucketPage[K any](page *pages.RawPage, capacity int, serde KeySerde[K]) BucketPage[K] {
	return BucketPage[K]{page: page, capacity: capacity, serde: serde}
}

func (b BucketPage[K]) bitmapBytes() int {
	return (b.capacity + 7) / 8
}

func (b BucketPage[K]) entriesOffset() int {
	return 2 * b.bitmapBytes()
}

func (b BucketPage[K]) entrySize() int {
	return b.serde.Size() + ridSize
}

func (b BucketPage[K]) entryAt(slot int) []byte {
	off := b.entriesOffset() + slot*b.entrySize()
	return b.page.GetData()[off : off+b.entrySize()]
}

func (b BucketPage[K]) IsOccupied(slot int) bool {
	return b.page.GetData()[slot/8]>>(slot%8)&1 == 1
}

func (b BucketPage[K]) setOccupied(slot int) {
	b.page.GetData()[slot/8] |= 1 << (slot % 8)
}

func (b BucketPage[K]) IsReadable(slot int) bool {
	return b.page.GetData()[b.bitmapBytes()+slot/8]>>(slot%8)&1 == 1
}

func (b BucketPage[K]) setReadable(slot int) {
	b.page.GetData()[b.bitmapBytes()+slot/8] |= 1 << (slot % 8)
}

func (b BucketPage[K]) clearReadable(slot int) {
	b.page.GetData()[b.bitmapBytes()+slot/8] &^= 1 << (slot % 8)
}

func (b BucketPage[K]) KeyAt(slot int) K {
	return b.serde.Deserialize(b.entryAt(slot))
}

func (b BucketPage[K]) ValueAt(slot int) common.Rid {
	entry := b.entryAt(slot)[b.serde.Size():]
	return common.Rid{
		PageID:  binary.LittleEndian.Uint64(entry),
		SlotIdx: binary.LittleEndian.Uint16(entry[8:]),
	}
}

func (b BucketPage[K]) putAt(slot int, key K, value common.Rid) {
	entry := b.entryAt(slot)
	b.serde.Serialize(entry, key)
	binary.LittleEndian.PutUint64(entry[b.serde.Size():], value.PageID)
	binary.LittleEndian.PutUint16(entry[b.serde.Size()+8:], value.SlotIdx)
}

// Get appends the value of every readable slot whose key equals key. Results follow slot
// order. Returns true iff at least one slot matched.
func (b BucketPage[K]) Get(key K, cmp Comparator[K]) ([]common.Rid, bool) {
	var result []common.Rid
	for slot := 0; slot < b.capacity; slot++ {
		if b.IsReadable(slot) && cmp(key, b.KeyAt(slot)) == 0 {
			result = append(result, b.ValueAt(slot))
		}
	}
	return result, len(result) > 0
}

// Insert places the pair in the lowest-indexed slot that is not readable, reusing
// tombstones. It fails when the exact pair is already present or the bucket is full.
func (b BucketPage[K]) Insert(key K, value common.Rid, cmp Comparator[K]) bool {
	insertSlot := -1
	for slot := 0; slot < b.capacity; slot++ {
		if b.IsReadable(slot) {
			if cmp(key, b.KeyAt(slot)) == 0 && value == b.ValueAt(slot) {
				return false
			}
		} else if insertSlot < 0 {
			insertSlot = slot
		}
	}

	if insertSlot < 0 {
		return false
	}

	b.putAt(insertSlot, key, value)
	b.setOccupied(insertSlot)
	b.setReadable(insertSlot)
	return true
}

// Remove clears the readable bit of the slot holding the exact pair, leaving occupied set.
func (b BucketPage[K]) Remove(key K, value common.Rid, cmp Comparator[K]) bool {
	for slot := 0; slot < b.capacity; slot++ {
		if b.IsReadable(slot) && cmp(key, b.KeyAt(slot)) == 0 && value == b.ValueAt(slot) {
			b.clearReadable(slot)
			return true
		}
	}
	return false
}

func (b BucketPage[K]) NumReadable() int {
	count := 0
	for slot := 0; slot < b.capacity; slot++ {
		if b.IsReadable(slot) {
			count++
		}
	}
	return count
}

func (b BucketPage[K]) IsFull() bool {
	return b.NumReadable() == b.capacity
}

func (b BucketPage[K]) IsEmpty() bool {
	return b.NumReadable() == 0
}
