package metrics

import (
	"net/http"
	"strconv"

	"smc-trading-bot/internal/events"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exports bot activity as Prometheus metrics. Each recorder owns
// its registry.
type Recorder struct {
	registry *prometheus.Registry

	signalsTotal    *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	tradesOpened    *prometheus.CounterVec
	tradesClosed    *prometheus.CounterVec
	realizedPnL     *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	ambiguousTotal  *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	cycleDuration   *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		signalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_signals_total",
				Help: "Signals persisted, by asset and validity",
			},
			[]string{"asset", "valid", "llm"},
		),
		rejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_admission_rejections_total",
				Help: "Signals rejected by the admission gate",
			},
			[]string{"asset", "reason"},
		),
		tradesOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_trades_opened_total",
				Help: "Trades opened",
			},
			[]string{"asset", "direction"},
		),
		tradesClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_trades_closed_total",
				Help: "Trades closed, by close reason",
			},
			[]string{"asset", "reason"},
		),
		realizedPnL: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_realized_pnl_abs_total",
				Help: "Absolute realized PnL, split by sign",
			},
			[]string{"asset", "sign"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_errors_total",
				Help: "Errors encountered, by kind",
			},
			[]string{"kind"},
		),
		ambiguousTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smcbot_reconcile_ambiguous_total",
				Help: "Trades the reconciler could not match to a closing deal",
			},
			[]string{"asset"},
		),
		lastPrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "smcbot_last_price",
				Help: "Last mid price seen per asset",
			},
			[]string{"asset"},
		),
		cycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smcbot_cycle_duration_seconds",
				Help:    "Duration of loop iterations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"loop"},
		),
	}
}

// Registry exposes the recorder's registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RecordSignal(asset string, valid bool, llm string) {
	r.signalsTotal.WithLabelValues(asset, strconv.FormatBool(valid), llm).Inc()
}

func (r *Recorder) RecordRejection(asset, reason string) {
	r.rejectionsTotal.WithLabelValues(asset, reason).Inc()
}

func (r *Recorder) RecordTradeOpened(asset, direction string) {
	r.tradesOpened.WithLabelValues(asset, direction).Inc()
}

func (r *Recorder) RecordTradeClosed(asset, reason string, pnl float64) {
	r.tradesClosed.WithLabelValues(asset, reason).Inc()
	switch {
	case pnl > 0:
		r.realizedPnL.WithLabelValues(asset, "profit").Add(pnl)
	case pnl < 0:
		r.realizedPnL.WithLabelValues(asset, "loss").Add(-pnl)
	}
}

// RecordError records an error occurrence
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordAmbiguous(asset string) {
	r.ambiguousTotal.WithLabelValues(asset).Inc()
}

// RecordLastPrice records the last price for an asset
func (r *Recorder) RecordLastPrice(asset string, price float64) {
	r.lastPrice.WithLabelValues(asset).Set(price)
}

// RecordCycle records one loop iteration's duration in seconds
func (r *Recorder) RecordCycle(loop string, seconds float64) {
	r.cycleDuration.WithLabelValues(loop).Observe(seconds)
}

// Subscribe feeds the recorder from bus events
func (r *Recorder) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventSignalSaved, func(e events.Event) {
		valid, _ := e.Data["valid"].(bool)
		r.RecordSignal(e.String("asset"), valid, e.String("llm_used"))
	})
	bus.Subscribe(events.EventAdmissionRejected, func(e events.Event) {
		r.RecordRejection(e.String("asset"), e.String("reason"))
	})
	bus.Subscribe(events.EventTradeOpened, func(e events.Event) {
		r.RecordTradeOpened(e.String("asset"), e.String("direction"))
	})
	bus.Subscribe(events.EventTradeClosed, func(e events.Event) {
		r.RecordTradeClosed(e.String("asset"), e.String("reason"), e.Float("pnl"))
	})
	bus.Subscribe(events.EventReconcileAmbiguous, func(e events.Event) {
		r.RecordAmbiguous(e.String("asset"))
	})
	bus.Subscribe(events.EventPriceUpdate, func(e events.Event) {
		r.RecordLastPrice(e.String("asset"), e.Float("price"))
	})
	bus.Subscribe(events.EventCycleCompleted, func(e events.Event) {
		r.RecordCycle(e.String("loop"), e.Float("duration"))
	})
	bus.Subscribe(events.EventError, func(e events.Event) {
		r.RecordError(e.String("kind"))
	})
}
