package hashindex

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bucketSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burrow_hash_bucket_splits_total",
		Help: "Bucket splits performed by the extendible hash table.",
	})
	bucketMerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burrow_hash_bucket_merges_total",
		Help: "Bucket merges performed by the extendible hash table.",
	})
	directoryGrows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burrow_hash_directory_grows_total",
		Help: "Directory doublings triggered by bucket splits.",
	})
	directoryShrinks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "burrow_hash_directory_shrinks_total",
		Help: "Directory halvings triggered by bucket merges.",
	})
)
