package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — метрики выполнения action.
type Metrics struct {
	// StepsTotal — выполненные шаги по исходу (succeeded, failed, duplicate, deferred).
	StepsTotal *prometheus.CounterVec

	// HTTPDuration — длительность вызовов сторонних API.
	HTTPDuration *prometheus.HistogramVec

	// NotificationsTotal — созданные уведомления (success, error).
	NotificationsTotal *prometheus.CounterVec

	// RunsStarted — запущенные action runs.
	RunsStarted *prometheus.CounterVec

	// QueueDepth — задания, ожидающие времени запуска в локальной очереди.
	QueueDepth prometheus.Gauge
}

var (
	metricsOnce   sync.Once
	globalMetrics *Metrics
)

// DefaultMetrics возвращает метрики, зарегистрированные в prometheus.DefaultRegisterer.
// Повторные вызовы возвращают тот же экземпляр.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// NewMetrics создаёт метрики и регистрирует их в reg.
// Уже зарегистрированные коллекторы переиспользуются.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnipost_steps_total",
			Help: "Total number of executed action steps",
		}, []string{"platform", "outcome"}),

		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "omnipost_http_request_duration_seconds",
			Help:    "Outbound platform API call duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"platform", "method"}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnipost_notifications_total",
			Help: "Total number of created notifications",
		}, []string{"kind"}),

		RunsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omnipost_runs_started_total",
			Help: "Total number of started action runs",
		}, []string{"platform", "action"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "omnipost_local_queue_depth",
			Help: "Jobs waiting for their due time in the in-process queue",
		}),
	}

	m.StepsTotal = registerOrGet(reg, m.StepsTotal)
	m.HTTPDuration = registerOrGet(reg, m.HTTPDuration)
	m.NotificationsTotal = registerOrGet(reg, m.NotificationsTotal)
	m.RunsStarted = registerOrGet(reg, m.RunsStarted)
	m.QueueDepth = registerOrGet(reg, m.QueueDepth)
	return m
}

// ObserveHTTP записывает длительность вызова.
func (m *Metrics) ObserveHTTP(platform, method string, started time.Time) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(platform, method).Observe(time.Since(started).Seconds())
}

// IncStep учитывает исход шага.
func (m *Metrics) IncStep(platform, outcome string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(platform, outcome).Inc()
}

// IncNotification учитывает уведомление.
func (m *Metrics) IncNotification(isError bool) {
	if m == nil {
		return
	}
	kind := "success"
	if isError {
		kind = "error"
	}
	m.NotificationsTotal.WithLabelValues(kind).Inc()
}

// IncRun учитывает запуск action.
func (m *Metrics) IncRun(platform, action string) {
	if m == nil {
		return
	}
	m.RunsStarted.WithLabelValues(platform, action).Inc()
}

// registerOrGet регистрирует коллектор или возвращает уже зарегистрированный.
func registerOrGet[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
