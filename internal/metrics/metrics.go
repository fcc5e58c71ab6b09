// Package metrics exposes the simulator's run-time counters as prometheus
// collectors, scrapeable during long runs. Collectors are only ever
// updated from commit handlers (and from the engine's final statistics),
// never from forward handlers, so a rollback can't leave a phantom
// increment behind.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every collector the simulator registers. A nil *Set is a
// valid no-op sink, so components can carry one unconditionally.
type Set struct {
	PaymentsSucceeded prometheus.Counter
	PaymentsFailed    prometheus.Counter
	PaymentsExpired   prometheus.Counter
	BlocksConfirmed   prometheus.Counter
	TxsConfirmed      prometheus.Counter
	EventsRolledBack  prometheus.Counter
}

// New builds and registers the collector set on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		PaymentsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plasma_sim", Name: "payments_succeeded_total",
			Help: "Payments whose success cascade committed back to the sender.",
		}),
		PaymentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plasma_sim", Name: "payments_failed_total",
			Help: "Payment attempts whose failure cascade committed back to the sender.",
		}),
		PaymentsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plasma_sim", Name: "payments_expired_total",
			Help: "Payments abandoned after outliving their TTL.",
		}),
		BlocksConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plasma_sim", Name: "blocks_confirmed_total",
			Help: "Blocks appended to the simulated chain.",
		}),
		TxsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plasma_sim", Name: "chain_txs_confirmed_total",
			Help: "On-chain transactions confirmed in blocks.",
		}),
		EventsRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "plasma_sim", Name: "events_rolled_back_total",
			Help: "Events undone by the optimistic executor's rollback.",
		}),
	}
	reg.MustRegister(
		s.PaymentsSucceeded, s.PaymentsFailed, s.PaymentsExpired,
		s.BlocksConfirmed, s.TxsConfirmed, s.EventsRolledBack,
	)
	return s
}

// OnPaymentSucceeded records a committed success.
func (s *Set) OnPaymentSucceeded() {
	if s != nil {
		s.PaymentsSucceeded.Inc()
	}
}

// OnPaymentFailed records a committed failed attempt.
func (s *Set) OnPaymentFailed() {
	if s != nil {
		s.PaymentsFailed.Inc()
	}
}

// OnPaymentExpired records a payment giving up on expiry.
func (s *Set) OnPaymentExpired() {
	if s != nil {
		s.PaymentsExpired.Inc()
	}
}

// OnBlockConfirmed records a committed block holding txs transactions.
func (s *Set) OnBlockConfirmed(txs int) {
	if s != nil {
		s.BlocksConfirmed.Inc()
		s.TxsConfirmed.Add(float64(txs))
	}
}

// OnRollback records n events undone by a partition rollback.
func (s *Set) OnRollback(n int) {
	if s != nil {
		s.EventsRolledBack.Add(float64(n))
	}
}

// Serve exposes reg on addr under /metrics. It returns immediately; the
// listener runs for the remainder of the process.
func Serve(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		_ = http.ListenAndServe(addr, mux)
	}()
}
