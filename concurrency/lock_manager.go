package concurrency

import (
	"container/list"
	"sync"

	"burrow/common"
	"burrow/transaction"

	"go.uber.org/zap"
)

type LockMode int

const (
	SharedMode LockMode = iota
	ExclusiveMode
)

// TxnFinder resolves transaction ids to transaction objects. Wound-wait preemption needs it
// to flip another transaction's state; keying the lock table on ids and resolving through
// this interface is what keeps the lock manager from owning transactions.
type TxnFinder interface {
	GetTransaction(id transaction.TxnID) *transaction.Transaction
}

type lockRequest struct {
	txnID transaction.TxnID
	mode  LockMode
}

// lockRequestQueue keeps the per-rid lock state. Only exclusive requests ever wait in
// pending; shared requests are always admitted after preemption.
type lockRequestQueue struct {
	pending         *list.List // of lockRequest, FIFO
	sharedHolders   map[transaction.TxnID]struct{}
	exclusiveHolder transaction.TxnID
	upgrading       transaction.TxnID
	cv              *sync.Cond
}

func (q *lockRequestQueue) isLockGranted(id transaction.TxnID) bool {
	if _, ok := q.sharedHolders[id]; ok {
		return true
	}
	return q.exclusiveHolder == id
}

// LockManager hands out record locks to transactions under two-phase locking with
// wound-wait deadlock prevention. A single mutex serializes every operation; the per-queue
// condition variables are paired with that mutex so waiting is the only suspension point.
type LockManager struct {
	mut       sync.Mutex
	lockTable map[common.Rid]*lockRequestQueue

	// waiters maps a waiting transaction to the queue its thread sleeps on, so that
	// wounding it can wake the right condition variable.
	waiters map[transaction.TxnID]*lockRequestQueue

	txns   TxnFinder
	logger *zap.Logger
}

func NewLockManager(txns TxnFinder, logger *zap.Logger) *LockManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LockManager{
		lockTable: map[common.Rid]*lockRequestQueue{},
		waiters:   map[transaction.TxnID]*lockRequestQueue{},
		txns:      txns,
		logger:    logger,
	}
}

// queue returns the request queue for rid, creating it on first reference. Caller must
// hold l.mut.
func (l *LockManager) queue(rid common.Rid) *lockRequestQueue {
	q, ok := l.lockTable[rid]
	if !ok {
		q = &lockRequestQueue{
			pending:         list.New(),
			sharedHolders:   map[transaction.TxnID]struct{}{},
			exclusiveHolder: transaction.InvalidTxnID,
			upgrading:       transaction.InvalidTxnID,
			cv:              sync.NewCond(&l.mut),
		}
		l.lockTable[rid] = q
	}
	return q
}

// LockShared acquires a shared lock on rid. Shared requests never wait: incompatible
// younger parties are wounded and the requester is admitted immediately.
func (l *LockManager) LockShared(txn *transaction.Transaction, rid common.Rid) bool {
	state := txn.GetState()
	if state == transaction.Aborted {
		return false
	}
	if txn.GetIsolationLevel() == transaction.RepeatableRead && state == transaction.Shrinking {
		txn.SetState(transaction.Aborted)
		locksRejected.Inc()
		return false
	}
	// READ_UNCOMMITTED reads without shared locks
	if txn.GetIsolationLevel() == transaction.ReadUncommitted {
		txn.SetState(transaction.Aborted)
		locksRejected.Inc()
		return false
	}
	if txn.IsSharedLocked(rid) || txn.IsExclusiveLocked(rid) {
		return true
	}

	l.mut.Lock()
	defer l.mut.Unlock()

	q := l.queue(rid)
	l.preemptYoungerRequests(q, txn.GetID(), SharedMode)
	l.preemptYoungerExclusiveHolder(q, txn.GetID())

	q.sharedHolders[txn.GetID()] = struct{}{}
	txn.AddSharedLock(rid)

	return true
}

// LockExclusive acquires an exclusive lock on rid, waiting behind the pending queue if the
// rid is held. A transaction that already holds the shared lock is routed to LockUpgrade.
func (l *LockManager) LockExclusive(txn *transaction.Transaction, rid common.Rid) bool {
	state := txn.GetState()
	if state == transaction.Aborted {
		return false
	}
	// no exclusive locks in the shrinking phase, that would permit dirty writes
	if state == transaction.Shrinking {
		txn.SetState(transaction.Aborted)
		locksRejected.Inc()
		return false
	}
	if txn.IsExclusiveLocked(rid) {
		return true
	}
	if txn.IsSharedLocked(rid) {
		return l.LockUpgrade(txn, rid)
	}

	l.mut.Lock()
	defer l.mut.Unlock()

	id := txn.GetID()
	q := l.queue(rid)

	l.preemptYoungerRequests(q, id, ExclusiveMode)
	l.preemptYoungerSharedHolders(q, id)
	l.preemptYoungerExclusiveHolder(q, id)

	if q.pending.Len() != 0 || len(q.sharedHolders) != 0 || q.exclusiveHolder != transaction.InvalidTxnID {
		q.pending.PushBack(lockRequest{txnID: id, mode: ExclusiveMode})
		l.wait(q, txn)
	} else {
		q.exclusiveHolder = id
	}

	// wounded by another transaction while waiting
	if txn.GetState() == transaction.Aborted {
		return false
	}

	txn.AddExclusiveLock(rid)
	return true
}

// LockUpgrade upgrades a held shared lock to an exclusive one. Only one upgrader per queue
// is admitted; a second one is aborted.
func (l *LockManager) LockUpgrade(txn *transaction.Transaction, rid common.Rid) bool {
	state := txn.GetState()
	if state == transaction.Aborted {
		return false
	}
	if state == transaction.Shrinking {
		txn.SetState(transaction.Aborted)
		locksRejected.Inc()
		return false
	}
	if !txn.IsSharedLocked(rid) {
		return false
	}

	l.mut.Lock()
	defer l.mut.Unlock()

	q := l.queue(rid)
	if q.upgrading != transaction.InvalidTxnID {
		txn.SetState(transaction.Aborted)
		locksRejected.Inc()
		return false
	}

	id := txn.GetID()
	delete(q.sharedHolders, id)

	l.preemptYoungerRequests(q, id, ExclusiveMode)
	l.preemptYoungerSharedHolders(q, id)
	l.preemptYoungerExclusiveHolder(q, id)

	if q.exclusiveHolder == transaction.InvalidTxnID && len(q.sharedHolders) == 0 {
		q.exclusiveHolder = id
	} else {
		q.pending.PushBack(lockRequest{txnID: id, mode: ExclusiveMode})
		q.upgrading = id
		l.wait(q, txn)
	}

	if txn.GetState() == transaction.Aborted {
		return false
	}

	txn.RemoveSharedLock(rid)
	txn.AddExclusiveLock(rid)
	return true
}

// Unlock releases whatever lock txn holds on rid. Unlocking a lock that is not held still
// returns true, and the two-phase transition for REPEATABLE_READ still applies.
func (l *LockManager) Unlock(txn *transaction.Transaction, rid common.Rid) bool {
	l.mut.Lock()
	defer l.mut.Unlock()

	if txn.GetIsolationLevel() == transaction.RepeatableRead && txn.GetState() == transaction.Growing {
		txn.SetState(transaction.Shrinking)
	}

	id := txn.GetID()
	q := l.queue(rid)

	if q.exclusiveHolder == id {
		q.exclusiveHolder = transaction.InvalidTxnID
	}
	delete(q.sharedHolders, id)

	txn.RemoveSharedLock(rid)
	txn.RemoveExclusiveLock(rid)

	// promote a single pending exclusive request; the next release promotes the next
	if len(q.sharedHolders) == 0 && q.exclusiveHolder == transaction.InvalidTxnID && q.pending.Len() > 0 {
		l.processQueue(q)
	}
	q.cv.Broadcast()

	return true
}

// wait blocks on the queue's condition variable until the request is granted or the
// transaction is wounded. Caller must hold l.mut; it is released for the duration of the
// wait and reacquired before returning.
func (l *LockManager) wait(q *lockRequestQueue, txn *transaction.Transaction) {
	lockWaits.Inc()
	id := txn.GetID()
	l.waiters[id] = q
	for !q.isLockGranted(id) && txn.GetState() != transaction.Aborted {
		q.cv.Wait()
	}
	delete(l.waiters, id)
}

// processQueue pops the head of the pending queue and makes it the exclusive holder.
// Caller must hold l.mut.
func (l *LockManager) processQueue(q *lockRequestQueue) {
	front := q.pending.Front()
	req := front.Value.(lockRequest)
	q.exclusiveHolder = req.txnID
	if q.upgrading == req.txnID {
		q.upgrading = transaction.InvalidTxnID
	}
	q.pending.Remove(front)
}

// preemptYoungerRequests wounds every younger pending request whose mode is incompatible
// with the requester's. Shared does not conflict with shared; everything else conflicts.
func (l *LockManager) preemptYoungerRequests(q *lockRequestQueue, id transaction.TxnID, mode LockMode) {
	for e := q.pending.Front(); e != nil; {
		next := e.Next()
		req := e.Value.(lockRequest)
		conflicts := mode == ExclusiveMode || req.mode == ExclusiveMode
		if conflicts && id < req.txnID {
			l.wound(req.txnID)
			if q.upgrading == req.txnID {
				q.upgrading = transaction.InvalidTxnID
			}
			q.pending.Remove(e)
		}
		e = next
	}
}

// preemptYoungerSharedHolders wounds every shared holder younger than the requester.
// Used for exclusive acquisition only.
func (l *LockManager) preemptYoungerSharedHolders(q *lockRequestQueue, id transaction.TxnID) {
	for holder := range q.sharedHolders {
		if id < holder {
			l.wound(holder)
			delete(q.sharedHolders, holder)
		}
	}
}

func (l *LockManager) preemptYoungerExclusiveHolder(q *lockRequestQueue, id transaction.TxnID) {
	if q.exclusiveHolder != transaction.InvalidTxnID && id < q.exclusiveHolder {
		l.wound(q.exclusiveHolder)
		q.exclusiveHolder = transaction.InvalidTxnID
	}
}

// wound aborts the transaction with the given id. If its thread is asleep on some queue,
// that queue is woken so the victim observes its own state. Caller must hold l.mut.
func (l *LockManager) wound(id transaction.TxnID) {
	victim := l.txns.GetTransaction(id)
	if victim == nil {
		return
	}

	victim.SetState(transaction.Aborted)
	txnsWounded.Inc()
	l.logger.Debug("wounded transaction", zap.Uint64("txnID", uint64(id)))

	if wq, ok := l.waiters[id]; ok {
		wq.cv.Broadcast()
	}
}
