// Package metrics records engine activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eddiefleurent/spread_engine/internal/models"
)

const namespace = "spread_engine"

// Recorder owns a private registry so tests and multiple engines do not collide.
type Recorder struct {
	registry        *prometheus.Registry
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	ordersSubmitted *prometheus.CounterVec
	ordersRejected  *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	positions       *prometheus.GaugeVec
	regime          *prometheus.GaugeVec
	realizedPnL     prometheus.Gauge
	entriesBlocked  prometheus.Gauge
}

// New creates a recorder with Go runtime and process collectors registered.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Trading cycles run, by outcome",
			},
			[]string{"result"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of a trading cycle in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		ordersSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_submitted_total",
				Help:      "Orders accepted by the broker, by kind",
			},
			[]string{"kind", "underlying"},
		),
		ordersRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_rejected_total",
				Help:      "Orders refused by the broker, by kind",
			},
			[]string{"kind", "underlying"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors encountered during cycles, by class",
			},
			[]string{"type"},
		),
		positions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "positions",
				Help:      "Positions in the ledger, by state",
			},
			[]string{"state"},
		),
		regime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "regime",
				Help:      "Last detected regime per underlying (1 for the active regime label)",
			},
			[]string{"underlying", "regime"},
		),
		realizedPnL: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realized_pnl_dollars",
				Help:      "Realized P&L of all closed positions",
			},
		),
		entriesBlocked: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entries_blocked",
				Help:      "1 while a reconciliation mismatch blocks new entries",
			},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordCycle records one cycle run.
func (r *Recorder) RecordCycle(seconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.cycles.WithLabelValues(result).Inc()
	r.cycleDuration.Observe(seconds)
}

// RecordOrderSubmitted records an accepted entry or close order.
func (r *Recorder) RecordOrderSubmitted(kind, underlying string) {
	r.ordersSubmitted.WithLabelValues(kind, underlying).Inc()
}

// RecordOrderRejected records a refused entry or close order.
func (r *Recorder) RecordOrderRejected(kind, underlying string) {
	r.ordersRejected.WithLabelValues(kind, underlying).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordRegime marks regime as the active classification for underlying.
func (r *Recorder) RecordRegime(underlying string, regime models.Regime) {
	r.regime.DeletePartialMatch(prometheus.Labels{"underlying": underlying})
	r.regime.WithLabelValues(underlying, regime.String()).Set(1)
}

// RecordLedger refreshes the ledger gauges from a snapshot of all positions.
func (r *Recorder) RecordLedger(positions []models.Position) {
	counts := map[models.PositionState]int{
		models.StatePending:  0,
		models.StateOpen:     0,
		models.StateClosing:  0,
		models.StateClosed:   0,
		models.StateRejected: 0,
	}
	var pnl float64
	for _, p := range positions {
		counts[p.State]++
		if p.State == models.StateClosed {
			pnl += p.RealizedPnL
		}
	}
	for state, n := range counts {
		r.positions.WithLabelValues(string(state)).Set(float64(n))
	}
	r.realizedPnL.Set(pnl)
}

// SetEntriesBlocked records whether reconciliation currently blocks entries.
func (r *Recorder) SetEntriesBlocked(blocked bool) {
	if blocked {
		r.entriesBlocked.Set(1)
		return
	}
	r.entriesBlocked.Set(0)
}
