package app

import (
	"strconv"

	"bytetrade.io/web3os/upload-gateway/pkg/constants"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	filesSaved *prometheus.CounterVec
	bytesSaved prometheus.Counter
	formFields prometheus.Counter
	downloads  *prometheus.CounterVec
	errors     *prometheus.CounterVec
}

// newMetrics uses a registry per server so several servers can live in one process.
func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		filesSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "files_saved_total",
			Help:      "Files written to the upload directory.",
		}, []string{"generated_name"}),
		bytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "bytes_saved_total",
			Help:      "Bytes written to the upload directory.",
		}),
		formFields: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "form_fields_total",
			Help:      "Text fields received with uploads.",
		}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "downloads_total",
			Help:      "Download requests by response status.",
		}, []string{"code"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: constants.MetricsNamespace,
			Name:      "errors_total",
			Help:      "Failed requests by error kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.filesSaved,
		m.bytesSaved,
		m.formFields,
		m.downloads,
		m.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *metrics) handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *metrics) download(code int) {
	m.downloads.WithLabelValues(strconv.Itoa(code)).Inc()
}
