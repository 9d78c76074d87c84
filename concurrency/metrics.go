package concurrency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	txnsWounded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burrow_txns_wounded_total",
		Help: "Transactions aborted by wound-wait preemption.",
	})
	lockWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burrow_lock_waits_total",
		Help: "Lock requests that had to wait on a request queue.",
	})
	locksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burrow_locks_rejected_total",
		Help: "Lock requests rejected by isolation level or two-phase policy.",
	})
)
