package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"nftescrow/core/events"
	"nftescrow/native/escrow"
	"nftescrow/native/fees"
)

type escrowMetrics struct {
	transitions *prometheus.CounterVec
	settled     prometheus.Gauge
	fees        prometheus.Gauge
	volume      prometheus.Gauge
	feeBps      prometheus.Gauge

	mu     sync.Mutex
	totals fees.Totals
}

var (
	escrowMetricsOnce sync.Once
	escrowRegistry    *escrowMetrics
)

// Escrow returns the metrics registry tracking escrow lifecycle events. It is
// an events.Emitter and is wired next to the bus and the indexer.
func Escrow() *escrowMetrics {
	escrowMetricsOnce.Do(func() {
		escrowRegistry = &escrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftescrow",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Count of committed escrow lifecycle events segmented by type.",
			}, []string{"type"}),
			settled: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nftescrow",
				Subsystem: "escrow",
				Name:      "settlements",
				Help:      "Number of completed escrows observed since start.",
			}),
			fees: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nftescrow",
				Subsystem: "escrow",
				Name:      "fees_collected",
				Help:      "Platform fees routed to the administrator, in payment base units.",
			}),
			volume: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nftescrow",
				Subsystem: "escrow",
				Name:      "settled_volume",
				Help:      "Gross payment amount of completed escrows, in payment base units.",
			}),
			feeBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nftescrow",
				Subsystem: "escrow",
				Name:      "platform_fee_bps",
				Help:      "Current platform fee rate in basis points.",
			}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.settled,
			escrowRegistry.fees,
			escrowRegistry.volume,
			escrowRegistry.feeBps,
		)
	})
	return escrowRegistry
}

// SetFeeBps records the platform fee rate loaded at start.
func (m *escrowMetrics) SetFeeBps(bps uint32) {
	if m == nil {
		return
	}
	m.feeBps.Set(float64(bps))
}

// Emit implements events.Emitter.
func (m *escrowMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	switch e := evt.(type) {
	case escrow.Created, escrow.Cancelled:
		m.transitions.WithLabelValues(evt.EventType()).Inc()
	case escrow.Completed:
		m.transitions.WithLabelValues(evt.EventType()).Inc()
		m.recordSettlement(e)
	case escrow.FeeUpdated:
		m.transitions.WithLabelValues(evt.EventType()).Inc()
		m.feeBps.Set(float64(e.NewFee))
	case escrow.AdminTransferred:
		m.transitions.WithLabelValues(evt.EventType()).Inc()
	}
}

// recordSettlement folds a completion into the running totals and republishes
// them.
func (m *escrowMetrics) recordSettlement(e escrow.Completed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Add(fees.SplitResult{
		Gross: nonNil(e.Amount),
		Fee:   nonNil(e.Fee),
		Net:   nonNil(e.Net),
	})
	m.settled.Set(float64(m.totals.Count))
	m.fees.Set(toFloat(m.totals.Fee))
	m.volume.Set(toFloat(m.totals.Gross))
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func toFloat(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
