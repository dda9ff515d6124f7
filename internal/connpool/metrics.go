package connpool

import (
	"strconv"
	"sync"

	"github.com/evgeniums/hatn-go/internal/wire"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks per-priority open-connection gauges, grounded on
// infrastructure/metrics.Metrics's GaugeVec-per-concern shape.
type Metrics struct {
	mu    sync.Mutex
	open  map[wire.Priority]float64
	gauge *prometheus.GaugeVec
}

// NewMetrics registers the pool's gauges with registerer (pass
// prometheus.DefaultRegisterer for the global registry, or nil to skip
// registration in tests).
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		open: map[wire.Priority]float64{},
		gauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "connpool_open_connections",
			Help: "Current number of open connections per priority bucket.",
		}, []string{"priority"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.gauge)
	}
	return m
}

// AdjustOpenConnections changes the tracked open-connection count for
// priority by delta (may be negative).
func (m *Metrics) AdjustOpenConnections(priority wire.Priority, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open[priority] += float64(delta)
	m.gauge.WithLabelValues(strconv.Itoa(int(priority))).Set(m.open[priority])
}
