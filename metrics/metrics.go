// Package metrics exposes Prometheus metrics for the local ledger runtime.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "staking"

// Collector records processed transactions and instructions. A nil
// *Collector is valid and records nothing.
type Collector struct {
	transactions *prometheus.CounterVec
	instructions *prometheus.CounterVec
	latency      prometheus.Histogram
	slot         prometheus.Gauge
}

// New creates the collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "localnet",
			Name:      "transactions_total",
			Help:      "Number of processed transactions by outcome",
		}, []string{"outcome"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "localnet",
			Name:      "instructions_total",
			Help:      "Number of executed instructions by program, instruction and outcome",
		}, []string{"program", "instruction", "outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "localnet",
			Name:      "transaction_duration_seconds",
			Help:      "Transaction processing time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		slot: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "localnet",
			Name:      "slot",
			Help:      "Current ledger slot",
		}),
	}

	for _, collector := range []prometheus.Collector{c.transactions, c.instructions, c.latency, c.slot} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveTransaction(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.transactions.WithLabelValues(outcome).Inc()
	c.latency.Observe(elapsed.Seconds())
}

func (c *Collector) ObserveInstruction(program, instruction, outcome string) {
	if c == nil {
		return
	}
	c.instructions.WithLabelValues(program, instruction, outcome).Inc()
}

func (c *Collector) SetSlot(slot uint64) {
	if c == nil {
		return
	}
	c.slot.Set(float64(slot))
}
