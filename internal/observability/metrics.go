package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kassa/backend/internal/events"
)

// Metrics holds the Prometheus registry for the HTTP surface and the engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	salesTotal         *prometheus.CounterVec
	salesAmount        *prometheus.CounterVec
	refundsTotal       *prometheus.CounterVec
	shiftClosesTotal   prometheus.Counter
	shiftCloseBlocked  prometheus.Counter
	ordersCalledTotal  prometheus.Counter
	notificationsTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kassa_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kassa_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		salesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kassa_sales_total",
			Help: "Committed sales by sale currency.",
		}, []string{"currency"}),
		salesAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kassa_sales_amount",
			Help: "Committed sale totals by sale currency.",
		}, []string{"currency"}),
		refundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kassa_refunds_total",
			Help: "Committed refunds by money source.",
		}, []string{"source"}),
		shiftClosesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kassa_shift_closes_total",
			Help: "Shifts closed with a Z-report.",
		}),
		shiftCloseBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kassa_shift_close_blocked_total",
			Help: "Shift closes blocked by a cash count discrepancy.",
		}),
		ordersCalledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kassa_orders_called_total",
			Help: "Orders called on the pickup board.",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kassa_notifications_total",
			Help: "User notifications by level.",
		}, []string{"level"}),
	}
	registry.MustRegister(
		m.requestsTotal, m.requestDuration,
		m.salesTotal, m.salesAmount, m.refundsTotal,
		m.shiftClosesTotal, m.shiftCloseBlocked, m.ordersCalledTotal, m.notificationsTotal,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// Observe feeds the domain counters from bus. It returns a function that
// detaches every subscription.
func (m *Metrics) Observe(bus *events.Bus) func() {
	if m == nil || bus == nil {
		return func() {}
	}
	stops := []func(){
		bus.Subscribe(events.TopicSaleCommitted, func(_ context.Context, evt events.Event) {
			p, ok := evt.Payload.(events.SaleCommitted)
			if !ok {
				return
			}
			m.salesTotal.WithLabelValues(p.Sale.Currency).Inc()
			m.salesAmount.WithLabelValues(p.Sale.Currency).Add(p.Sale.Total.InexactFloat64())
		}),
		bus.Subscribe(events.TopicRefundCommitted, func(_ context.Context, evt events.Event) {
			if p, ok := evt.Payload.(events.RefundCommitted); ok {
				m.refundsTotal.WithLabelValues(string(p.Refund.Source)).Inc()
			}
		}),
		bus.Subscribe(events.TopicShiftClosed, func(context.Context, events.Event) {
			m.shiftClosesTotal.Inc()
		}),
		bus.Subscribe(events.TopicOrderCalled, func(context.Context, events.Event) {
			m.ordersCalledTotal.Inc()
		}),
		bus.Subscribe(events.TopicNotification, func(_ context.Context, evt events.Event) {
			switch p := evt.Payload.(type) {
			case events.ShiftCloseBlocked:
				m.shiftCloseBlocked.Inc()
				m.notificationsTotal.WithLabelValues("warn").Inc()
			case events.Notification:
				m.notificationsTotal.WithLabelValues(p.Level).Inc()
			}
		}),
	}
	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
