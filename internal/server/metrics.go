package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/stat"

	"github.com/roman-kulish/radio-waterfall/internal/spectrum"
	"github.com/roman-kulish/radio-waterfall/internal/waterfall"
)

const metricsNamespace = "waterfall"

// Metrics holds the Prometheus collectors of one viewer. Every Metrics
// instance has its own registry.
type Metrics struct {
	registry *prometheus.Registry

	rowsTotal   prometheus.Counter
	tickErrors  *prometheus.CounterVec // by reason
	rowMeanDB   prometheus.Gauge
	rowBins     prometheus.Gauge
	wsClients   prometheus.Gauge
	wsDelivered prometheus.Counter
}

// NewMetrics registers the collectors. Range, history length and status are
// read from session on every scrape.
func NewMetrics(session *waterfall.Session) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := Metrics{
		registry: registry,
		rowsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rows_applied_total",
			Help:      "Spectrum rows applied to the waterfall",
		}),
		tickErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tick_errors_total",
			Help:      "Acquisition ticks that did not apply a row",
		}, []string{"reason"}),
		rowMeanDB: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "row_mean_db",
			Help:      "Mean power of the last applied row",
		}),
		rowBins: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "row_bins",
			Help:      "Number of bins in the last applied row",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ws_clients",
			Help:      "Connected WebSocket clients",
		}),
		wsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ws_updates_sent_total",
			Help:      "Updates written to WebSocket clients",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "range_min_db",
		Help:      "Lower bound of the color range",
	}, func() float64 { return session.Range().Min })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "range_max_db",
		Help:      "Upper bound of the color range",
	}, func() float64 { return session.Range().Max })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "history_rows",
		Help:      "Rows held in the waterfall history",
	}, func() float64 { return float64(session.HistoryLen()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "live",
		Help:      "1 when the last tick applied a row",
	}, func() float64 {
		if session.Status() == waterfall.StatusLive {
			return 1
		}
		return 0
	})

	return &m
}

// ObserveTick records the outcome of one acquisition tick. Its signature
// matches waterfall.WithTickHook.
func (m *Metrics) ObserveTick(row *spectrum.Row, err error) {
	if err != nil {
		m.tickErrors.WithLabelValues(tickErrorReason(err)).Inc()
		return
	}
	if row == nil {
		return
	}

	m.rowsTotal.Inc()
	m.rowBins.Set(float64(row.Bins()))
	m.rowMeanDB.Set(stat.Mean(row.Values, nil))
}

func tickErrorReason(err error) string {
	switch {
	case errors.Is(err, spectrum.ErrMalformedRow):
		return "malformed"
	case errors.Is(err, waterfall.ErrModeNotActive):
		return "mode"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "provider"
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
