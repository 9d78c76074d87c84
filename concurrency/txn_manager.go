package concurrency

import (
	"sync"
	"sync/atomic"

	"burrow/transaction"

	"go.uber.org/zap"
)

// TxnManager keeps track of running transactions and owns their lifecycle. The lock
// manager resolves ids back to transactions through it.
type TxnManager struct {
	mut        sync.Mutex
	actives    map[transaction.TxnID]*transaction.Transaction
	txnCounter atomic.Uint64

	lockManager *LockManager
	logger      *zap.Logger
}

var _ TxnFinder = &TxnManager{}

func NewTxnManager(logger *zap.Logger) *TxnManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &TxnManager{
		actives: map[transaction.TxnID]*transaction.Transaction{},
		logger:  logger,
	}
	t.lockManager = NewLockManager(t, logger)
	return t
}

func (t *TxnManager) LockManager() *LockManager {
	return t.lockManager
}

func (t *TxnManager) Begin(isolation transaction.IsolationLevel) *transaction.Transaction {
	id := transaction.TxnID(t.txnCounter.Add(1))
	txn := transaction.NewTransaction(id, isolation)

	t.mut.Lock()
	t.actives[id] = txn
	t.mut.Unlock()

	return txn
}

func (t *TxnManager) Commit(txn *transaction.Transaction) {
	txn.SetState(transaction.Committed)
	t.releaseAllLocks(txn)

	t.mut.Lock()
	delete(t.actives, txn.GetID())
	t.mut.Unlock()

	t.logger.Debug("committed transaction", zap.Uint64("txnID", uint64(txn.GetID())))
}

// Abort releases every lock the transaction holds and retires it. Undoing the
// transaction's index writes is the executors' job; they replay txn.IndexWrites in
// reverse before calling Abort.
func (t *TxnManager) Abort(txn *transaction.Transaction) {
	txn.SetState(transaction.Aborted)
	t.releaseAllLocks(txn)

	t.mut.Lock()
	delete(t.actives, txn.GetID())
	t.mut.Unlock()

	t.logger.Debug("aborted transaction", zap.Uint64("txnID", uint64(txn.GetID())))
}

// GetTransaction returns the active transaction with the given id, nil if it already
// committed or aborted.
func (t *TxnManager) GetTransaction(id transaction.TxnID) *transaction.Transaction {
	t.mut.Lock()
	defer t.mut.Unlock()

	return t.actives[id]
}

func (t *TxnManager) releaseAllLocks(txn *transaction.Transaction) {
	for _, rid := range txn.LockedRids() {
		t.lockManager.Unlock(txn, rid)
	}
}
