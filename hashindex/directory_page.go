package hashindex

import (
	"encoding/binary"
	"fmt"

	"burrow/disk/pages"
)

// MaxSupportedDepth bounds the directory depth so that the global depth, 2^depth local
// depths and 2^depth page ids all fit a single page.
const MaxSupportedDepth uint32 = 8

/*
 * Directory page format:
 *  ---------------------------------------------------------------
 *  | GLOBAL DEPTH (4) | LOCAL DEPTHS (2^max_depth) | BUCKET PAGE IDS (8 * 2^max_depth) |
 *  ---------------------------------------------------------------
 */

// DirectoryPage interprets a raw page as the directory of an extendible hash table: an
// array of bucket page ids indexed by the low global-depth bits of the key hash, plus the
// local depth of each slot. Operations are pure arithmetic and array access; the table
// latch provides synchronization.
type DirectoryPage struct {
	page     *pages.RawPage
	maxDepth uint32
}

func NewDirectoryPage(page *pages.RawPage, maxDepth uint32) DirectoryPage {
	return DirectoryPage{page: page, maxDepth: maxDepth}
}

func (d DirectoryPage) pageIdsOffset() int {
	return 4 + (1 << d.maxDepth)
}

func (d DirectoryPage) GlobalDepth() uint32 {
	return binary.LittleEndian.Uint32(d.page.GetData())
}

func (d DirectoryPage) setGlobalDepth(depth uint32) {
	binary.LittleEndian.PutUint32(d.page.GetData(), depth)
}

func (d DirectoryPage) IncrGlobalDepth() {
	d.setGlobalDepth(d.GlobalDepth() + 1)
}

func (d DirectoryPage) DecrGlobalDepth() {
	d.setGlobalDepth(d.GlobalDepth() - 1)
}

func (d DirectoryPage) Size() uint32 {
	return 1 << d.GlobalDepth()
}

func (d DirectoryPage) GlobalDepthMask() uint32 {
	return d.Size() - 1
}

func (d DirectoryPage) BucketPageIdOf(slot uint32) uint64 {
	return binary.LittleEndian.Uint64(d.page.GetData()[d.pageIdsOffset()+int(slot)*8:])
}

func (d DirectoryPage) SetBucketPageId(slot uint32, pageId uint64) {
	binary.LittleEndian.PutUint64(d.page.GetData()[d.pageIdsOffset()+int(slot)*8:], pageId)
}

func (d DirectoryPage) LocalDepthOf(slot uint32) uint32 {
	return uint32(d.page.GetData()[4+slot])
}

func (d DirectoryPage) SetLocalDepth(slot uint32, depth uint32) {
	d.page.GetData()[4+slot] = byte(depth)
}

func (d DirectoryPage) IncrLocalDepth(slot uint32) {
	d.SetLocalDepth(slot, d.LocalDepthOf(slot)+1)
}

func (d DirectoryPage) DecrLocalDepth(slot uint32) {
	d.SetLocalDepth(slot, d.LocalDepthOf(slot)-1)
}

func (d DirectoryPage) LocalDepthMask(slot uint32) uint32 {
	return (1 << d.LocalDepthOf(slot)) - 1
}

// SplitImageIndex flips the high bit of the slot's local-depth prefix, producing its twin
// across the most recent split.
func (d DirectoryPage) SplitImageIndex(slot uint32) uint32 {
	return slot ^ (1 << (d.LocalDepthOf(slot) - 1))
}

// CanShrink reports whether the directory may halve: true iff no in-use slot is at the
// global depth.
func (d DirectoryPage) CanShrink() bool {
	if d.GlobalDepth() == 0 {
		return false
	}
	for slot := uint32(0); slot < d.Size(); slot++ {
		if d.LocalDepthOf(slot) == d.GlobalDepth() {
			return false
		}
	}
	return true
}

// VerifyIntegrity panics if the directory violates its structural invariants: every local
// depth is bounded by the global depth, every bucket page is referenced by exactly
// 2^(global-local) slots, and all slots sharing a local-depth prefix agree on page id and
// local depth.
func (d DirectoryPage) VerifyIntegrity() {
	pageIdCounts := map[uint64]uint32{}
	pageIdDepths := map[uint64]uint32{}

	for slot := uint32(0); slot < d.Size(); slot++ {
		pageId := d.BucketPageIdOf(slot)
		depth := d.LocalDepthOf(slot)

		if depth > d.GlobalDepth() {
			panic(fmt.Sprintf("local depth of slot %v is greater than global depth: %v > %v", slot, depth, d.GlobalDepth()))
		}

		for other := slot & d.LocalDepthMask(slot); other < d.Size(); other += 1 << depth {
			if d.BucketPageIdOf(other) != pageId {
				panic(fmt.Sprintf("slots %v and %v share a local-depth prefix but name different pages: %v != %v", slot, other, pageId, d.BucketPageIdOf(other)))
			}
		}

		pageIdCounts[pageId]++
		if seen, ok := pageIdDepths[pageId]; ok && seen != depth {
			panic(fmt.Sprintf("local depth mismatch for bucket page %v: %v != %v", pageId, seen, depth))
		}
		pageIdDepths[pageId] = depth
	}

	for pageId, depth := range pageIdDepths {
		expected := uint32(1) << (d.GlobalDepth() - depth)
		if pageIdCounts[pageId] != expected {
			panic(fmt.Sprintf("bucket page %v is referenced by %v slots, expected %v", pageId, pageIdCounts[pageId], expected))
		}
	}
}
