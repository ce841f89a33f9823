package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics colectores Prometheus del servicio, registrados en un registro propio.
type Metrics struct {
	reg                 *prometheus.Registry
	requestTotal        *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	reservationTotal    *prometheus.CounterVec
	reservationDuration *prometheus.HistogramVec
	reservationAttempts prometheus.Histogram
}

// New crea el registro y los colectores bajo namespace (p.ej. "catalog").
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		requestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total de peticiones HTTP",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duración de las peticiones HTTP en segundos",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		reservationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservas de stock por resultado",
		}, []string{"outcome"}),
		reservationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_duration_seconds",
			Help:      "Duración de las reservas de stock en segundos",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
		reservationAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_attempts",
			Help:      "Transacciones usadas por reserva (reintentos por conflicto incluidos)",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}),
	}
}

// ObserveReservation registra el resultado de una reserva.
func (m *Metrics) ObserveReservation(outcome string, attempts int, elapsed time.Duration) {
	m.reservationTotal.WithLabelValues(outcome).Inc()
	m.reservationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if attempts > 0 {
		m.reservationAttempts.Observe(float64(attempts))
	}
}

// Registry devuelve el registro para exponer o inspeccionar.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler expone /metrics.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}

// Middleware cuenta peticiones por ruta registrada (no por path real, para acotar cardinalidad).
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		if route == "" || (route == "/" && c.Path() != "/") {
			route = "unmatched"
		}
		m.requestTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
