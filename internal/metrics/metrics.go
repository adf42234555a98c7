// Package metrics holds the Prometheus collectors and OpenTelemetry tracer
// shared by the query executor and the token processor.
//
// Collectors register with the default Prometheus registry on package load.
// Recording is a no-op while metrics are disabled.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "docgrove"

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

// SetEnabled turns recording on or off.
func SetEnabled(on bool) { enabled.Store(on) }

// Enabled reports whether recording is on.
func Enabled() bool { return enabled.Load() }

var (
	// queryCompiled counts compiled path queries.
	// Labels: regime (primary_key, index)
	queryCompiled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_compiled_total",
		Help:      "Document queries compiled to path queries",
	}, []string{"regime"})

	// queryExecuted counts executed queries.
	// Labels: proved (true, false)
	queryExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_executed_total",
		Help:      "Document queries executed against the store",
	}, []string{"proved"})

	queryResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "query_results",
		Help:      "Documents returned per query",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
	})

	proofBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "proof_bytes",
		Help:      "Size of generated query proofs",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	})

	// tokenTransitions counts token transitions by outcome.
	// Labels: action (mint, burn, ...), result (applied, pending, denied)
	tokenTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_transitions_total",
		Help:      "Token transitions processed",
	}, []string{"action", "result"})

	// groupSignatures counts group action signatures.
	// Labels: outcome (proposed, signed, completed, rejected)
	groupSignatures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "group_signatures_total",
		Help:      "Group action signatures by outcome",
	}, []string{"outcome"})
)

// RecordQueryCompiled counts one compiled query.
func RecordQueryCompiled(regime string) {
	if !Enabled() {
		return
	}
	queryCompiled.WithLabelValues(regime).Inc()
}

// RecordQueryExecuted counts one executed query and observes its result size.
func RecordQueryExecuted(proved bool, results int) {
	if !Enabled() {
		return
	}
	label := "false"
	if proved {
		label = "true"
	}
	queryExecuted.WithLabelValues(label).Inc()
	queryResults.Observe(float64(results))
}

// RecordProofSize observes the size of a generated proof.
func RecordProofSize(n int) {
	if !Enabled() {
		return
	}
	proofBytes.Observe(float64(n))
}

// RecordTokenTransition counts one processed token transition.
func RecordTokenTransition(action, result string) {
	if !Enabled() {
		return
	}
	tokenTransitions.WithLabelValues(action, result).Inc()
}

// RecordGroupSignature counts one group action signature.
func RecordGroupSignature(outcome string) {
	if !Enabled() {
		return
	}
	groupSignatures.WithLabelValues(outcome).Inc()
}
