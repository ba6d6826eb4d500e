package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics содержит метрики конечного автомата заказа и fan-out рассылки.
type LifecycleMetrics struct {
	// Счётчики переходов по целевому статусу
	transitionsApplied  *prometheus.CounterVec
	transitionsRejected *prometheus.CounterVec

	// Гистограммы времени выполнения
	transitionDuration prometheus.Histogram
	stageDuration      *prometheus.HistogramVec

	// Счётчики побочных эффектов
	outboxEvents       prometheus.Counter
	broadcastDelivered prometheus.Counter
	broadcastPruned    prometheus.Counter

	// Gauge для открытых stage-записей
	openStageEntries prometheus.Gauge
}

// NewLifecycleMetrics создаёт новый экземпляр метрик lifecycle.
func NewLifecycleMetrics() *LifecycleMetrics {
	return newLifecycleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newLifecycleMetricsWithRegisterer(registerer prometheus.Registerer) *LifecycleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &LifecycleMetrics{
		transitionsApplied: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ofs_transitions_applied_total",
			Help: "Total number of applied order transitions grouped by target status",
		}, []string{"status"}),
		transitionsRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ofs_transitions_rejected_total",
			Help: "Total number of rejected order transitions grouped by target status",
		}, []string{"status"}),
		transitionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ofs_transition_duration_seconds",
			Help:    "Duration of order transitions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ofs_stage_duration_seconds",
			Help:    "Time an order spent inside a fulfillment stage in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"stage"}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ofs_outbox_events_total",
			Help: "Total number of outbox events enqueued by the state machine",
		}),
		broadcastDelivered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ofs_broadcast_delivered_total",
			Help: "Total number of payloads delivered to kitchen subscribers",
		}),
		broadcastPruned: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ofs_broadcast_pruned_total",
			Help: "Total number of subscribers pruned after a gone connection",
		}),
		openStageEntries: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ofs_open_stage_entries",
			Help: "Number of currently open stage ledger entries",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordTransitionApplied увеличивает счётчик применённых переходов.
func (m *LifecycleMetrics) RecordTransitionApplied(status string) {
	m.transitionsApplied.WithLabelValues(status).Inc()
}

// RecordTransitionRejected увеличивает счётчик отклонённых переходов.
func (m *LifecycleMetrics) RecordTransitionRejected(status string) {
	m.transitionsRejected.WithLabelValues(status).Inc()
}

// RecordTransitionDuration записывает время применения перехода.
func (m *LifecycleMetrics) RecordTransitionDuration(duration time.Duration) {
	m.transitionDuration.Observe(duration.Seconds())
}

// RecordStageDuration записывает время, проведённое заказом на стадии.
func (m *LifecycleMetrics) RecordStageDuration(stage string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *LifecycleMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordBroadcastDelivered увеличивает счётчик доставленных push-сообщений.
func (m *LifecycleMetrics) RecordBroadcastDelivered() {
	m.broadcastDelivered.Inc()
}

// RecordBroadcastPruned увеличивает счётчик удалённых подписчиков.
func (m *LifecycleMetrics) RecordBroadcastPruned() {
	m.broadcastPruned.Inc()
}

// RecordStageOpened увеличивает количество открытых stage-записей.
func (m *LifecycleMetrics) RecordStageOpened() {
	m.openStageEntries.Inc()
}

// RecordStageClosed уменьшает количество открытых stage-записей.
func (m *LifecycleMetrics) RecordStageClosed() {
	m.openStageEntries.Dec()
}
