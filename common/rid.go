package common

import "fmt"

// Rid is the address of a record on disk. It is a value type, unique per record,
// and is used as the locking granule by the lock manager and as the value type
// of hash index entries.
type Rid struct {
	PageID  uint64
	SlotIdx uint16
}

func NewRid(pageID uint64, slotIdx uint16) Rid {
	return Rid{
		PageID:  pageID,
		SlotIdx: slotIdx,
	}
}

func (r Rid) String() string {
	return fmt.Sprintf("%v:%v", r.PageID, r.SlotIdx)
}
