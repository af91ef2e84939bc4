package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	failuresProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportloop_failures_processed_total",
		Help: "Failure records turned into ledger entries.",
	})
	failuresSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportloop_failures_duplicate_total",
		Help: "Failure records skipped because the ledger already held their reply.",
	})
	generationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportloop_generation_failures_total",
		Help: "Failure records left unprocessed because no correction could be generated.",
	})
	batchesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportloop_batches_total",
		Help: "Batch invocations by outcome.",
	}, []string{"outcome"})
)
