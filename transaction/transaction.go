package transaction

import (
	"math"
	"sync"
	"sync/atomic"

	"burrow/common"
)

// TxnID identifies a transaction. Ids are issued monotonically, so a numerically smaller
// id always belongs to an older transaction.
type TxnID uint64

// InvalidTxnID compares greater than any real transaction id and marks "no holder".
const InvalidTxnID TxnID = math.MaxUint64

type TxnState int32

const (
	Growing TxnState = iota
	Shrinking
	Committed
	Aborted
)

type IsolationLevel int

const (
	ReadUncommitted IsolationLevel = iota
	ReadCommitted
	RepeatableRead
)

type WType int

const (
	WTypeInsert WType = iota
	WTypeDelete
)

// IndexWriteRecord tracks a single index mutation made on behalf of a transaction.
// Executors replay these in reverse on abort; the lock manager never looks inside.
type IndexWriteRecord struct {
	WType WType
	Key   uint64
	Value common.Rid
}

// Transaction owns a transaction's id, isolation level, two-phase state and the sets of
// records it holds in shared and exclusive mode. The state is atomic because wound-wait
// flips it from another goroutine while the owner polls it on wake.
type Transaction struct {
	id        TxnID
	isolation IsolationLevel
	state     atomic.Int32

	mut            sync.Mutex
	sharedLocks    map[common.Rid]struct{}
	exclusiveLocks map[common.Rid]struct{}
	indexWrites    []IndexWriteRecord
}

func NewTransaction(id TxnID, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             id,
		isolation:      isolation,
		sharedLocks:    map[common.Rid]struct{}{},
		exclusiveLocks: map[common.Rid]struct{}{},
	}
}

func (t *Transaction) GetID() TxnID {
	return t.id
}

func (t *Transaction) GetIsolationLevel() IsolationLevel {
	return t.isolation
}

func (t *Transaction) GetState() TxnState {
	return TxnState(t.state.Load())
}

func (t *Transaction) SetState(state TxnState) {
	t.state.Store(int32(state))
}

func (t *Transaction) IsSharedLocked(rid common.Rid) bool {
	t.mut.Lock()
	defer t.mut.Unlock()

	_, ok := t.sharedLocks[rid]
	return ok
}

func (t *Transaction) IsExclusiveLocked(rid common.Rid) bool {
	t.mut.Lock()
	defer t.mut.Unlock()

	_, ok := t.exclusiveLocks[rid]
	return ok
}

func (t *Transaction) AddSharedLock(rid common.Rid) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.sharedLocks[rid] = struct{}{}
}

func (t *Transaction) AddExclusiveLock(rid common.Rid) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.exclusiveLocks[rid] = struct{}{}
}

func (t *Transaction) RemoveSharedLock(rid common.Rid) {
	t.mut.Lock()
	defer t.mut.Unlock()

	delete(t.sharedLocks, rid)
}

func (t *Transaction) RemoveExclusiveLock(rid common.Rid) {
	t.mut.Lock()
	defer t.mut.Unlock()

	delete(t.exclusiveLocks, rid)
}

// LockedRids returns a snapshot of every rid the transaction currently holds in either mode.
func (t *Transaction) LockedRids() []common.Rid {
	t.mut.Lock()
	defer t.mut.Unlock()

	rids := make([]common.Rid, 0, len(t.sharedLocks)+len(t.exclusiveLocks))
	for rid := range t.sharedLocks {
		rids = append(rids, rid)
	}
	for rid := range t.exclusiveLocks {
		rids = append(rids, rid)
	}
	return rids
}

func (t *Transaction) AppendIndexWrite(record IndexWriteRecord) {
	t.mut.Lock()
	defer t.mut.Unlock()

	t.indexWrites = append(t.indexWrites, record)
}

func (t *Transaction) IndexWrites() []IndexWriteRecord {
	t.mut.Lock()
	defer t.mut.Unlock()

	writes := make([]IndexWriteRecord, len(t.indexWrites))
	copy(writes, t.indexWrites)
	return writes
}
