// Package metrics содержит Prometheus-метрики маркетплейса.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector собирает метрики торгового цикла. Нулевой указатель допустим: все методы становятся no-op.
type Collector struct {
	registry *prometheus.Registry

	ordersCreated      prometheus.Counter
	orderTransitions   *prometheus.CounterVec
	settledPoints      prometheus.Counter
	refundedPoints     prometheus.Counter
	penaltyPoints      prometheus.Counter
	autoConfirmed      prometheus.Counter
	autoConfirmFailed  prometheus.Counter
	autoConfirmLatency prometheus.Histogram
	httpRequests       *prometheus.CounterVec
}

// NewCollector создаёт коллектор с собственным реестром.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		ordersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_orders_created_total",
			Help: "Total number of created orders",
		}),
		orderTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_order_transitions_total",
			Help: "Order status transitions by target status",
		}, []string{"status"}),
		settledPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_settled_points_total",
			Help: "Escrow points paid out to sellers",
		}),
		refundedPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_refunded_points_total",
			Help: "Points refunded to buyers",
		}),
		penaltyPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_penalty_points_total",
			Help: "Points deducted from seller deposits",
		}),
		autoConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_auto_confirmed_orders_total",
			Help: "Orders completed by the auto-confirm sweep",
		}),
		autoConfirmFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketplace_auto_confirm_failures_total",
			Help: "Orders the auto-confirm sweep failed to complete",
		}),
		autoConfirmLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketplace_auto_confirm_sweep_duration_seconds",
			Help:    "Duration of one auto-confirm sweep",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
	}
}

// OrderCreated учитывает новый заказ.
func (c *Collector) OrderCreated() {
	if c == nil {
		return
	}
	c.ordersCreated.Inc()
}

// OrderTransition учитывает переход заказа в статус status.
func (c *Collector) OrderTransition(status string) {
	if c == nil {
		return
	}
	c.orderTransitions.WithLabelValues(status).Inc()
}

// Settled добавляет баллы, выплаченные продавцу из эскроу.
func (c *Collector) Settled(points int64) {
	if c == nil {
		return
	}
	c.settledPoints.Add(float64(points))
}

// Refunded добавляет баллы, возвращённые покупателю.
func (c *Collector) Refunded(points int64) {
	if c == nil {
		return
	}
	c.refundedPoints.Add(float64(points))
}

// Penalized добавляет баллы, фактически списанные из залога. Нулевые списания не учитываются.
func (c *Collector) Penalized(points int64) {
	if c == nil || points <= 0 {
		return
	}
	c.penaltyPoints.Add(float64(points))
}

// AutoConfirmSweep фиксирует длительность прохода автоподтверждения и число завершённых заказов.
func (c *Collector) AutoConfirmSweep(d time.Duration, confirmed int) {
	if c == nil {
		return
	}
	c.autoConfirmLatency.Observe(d.Seconds())
	c.autoConfirmed.Add(float64(confirmed))
}

// AutoConfirmFailure учитывает заказ, который автоподтверждение не смогло завершить.
func (c *Collector) AutoConfirmFailure() {
	if c == nil {
		return
	}
	c.autoConfirmFailed.Inc()
}

// HTTPRequest учитывает обработанный HTTP-запрос.
func (c *Collector) HTTPRequest(method, code string) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, code).Inc()
}

// Handler отдаёт метрики в формате Prometheus.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
