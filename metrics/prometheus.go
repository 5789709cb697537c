package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every exported metric.
const Namespace = "scriptcover"

// Exporter mirrors Collector counters as Prometheus counters.
// A nil Exporter ignores updates.
type Exporter struct {
	counters [numCounters]prometheus.Counter
}

// NewExporter registers one counter per Collector counter on reg, labelled
// with the storage backend.
func NewExporter(reg prometheus.Registerer, storageBackend string) *Exporter {
	factory := promauto.With(reg)
	e := &Exporter{}
	for k := counter(0); k < numCounters; k++ {
		vec := factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      counterNames[k] + "_total",
			Help:      "Total " + counterNames[k] + " observed by the coverage pipeline.",
		}, []string{"storage_backend"})
		e.counters[k] = vec.WithLabelValues(storageBackend)
	}
	return e
}

func (e *Exporter) add(k counter, n int) {
	if e == nil {
		return
	}
	e.counters[k].Add(float64(n))
}
