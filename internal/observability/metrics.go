package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. Each Metrics value
// carries its own registry so processes and tests never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsCreated prometheus.Counter
	SessionsDeleted prometheus.Counter
	JoinAttempts    *prometheus.CounterVec

	// Catalog metrics
	FilesAdvertised prometheus.Counter

	// Transfer metrics
	TransfersStarted   prometheus.Counter
	TransfersCompleted prometheus.Counter
	ChunksRelayed      prometheus.Counter
	ChunkBytesRelayed  prometheus.Counter

	// Channel metrics
	ChannelsActive prometheus.Gauge
	FramesTotal    *prometheus.CounterVec
	FramesDropped  prometheus.Counter
	DriversActive  prometheus.Gauge
	CommandErrors  *prometheus.CounterVec

	// Driver metrics
	DriverTicks      prometheus.Counter
	DriverPassErrors *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPDuration      prometheus.Histogram

	// Store metrics
	StoreErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_sessions_created_total",
				Help: "Sessions created",
			},
		),

		SessionsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_sessions_deleted_total",
				Help: "Sessions explicitly deleted by their host",
			},
		),

		JoinAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyrmhole_join_attempts_total",
				Help: "Access-code join attempts",
			},
			[]string{"result"},
		),

		FilesAdvertised: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_files_advertised_total",
				Help: "Files added to session catalogs",
			},
		),

		TransfersStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_transfers_started_total",
				Help: "Transfer request ids minted",
			},
		),

		TransfersCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_transfers_completed_total",
				Help: "Transfers whose final chunk was acknowledged",
			},
		),

		ChunksRelayed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_chunks_relayed_total",
				Help: "Chunks handed to receivers",
			},
		),

		ChunkBytesRelayed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_chunk_bytes_relayed_total",
				Help: "Ciphertext bytes handed to receivers",
			},
		),

		ChannelsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wyrmhole_channels_active",
				Help: "Open channel connections",
			},
		),

		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyrmhole_frames_total",
				Help: "Channel frames by direction",
			},
			[]string{"direction"},
		),

		FramesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_frames_dropped_total",
				Help: "Outbound frames dropped on a full queue",
			},
		),

		DriversActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wyrmhole_drivers_active",
				Help: "Running driver tasks",
			},
		),

		CommandErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyrmhole_command_errors_total",
				Help: "Rejected channel commands",
			},
			[]string{"command"},
		),

		DriverTicks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_driver_ticks_total",
				Help: "Driver scan ticks",
			},
		),

		DriverPassErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyrmhole_driver_pass_errors_total",
				Help: "Driver pass failures, retried next tick",
			},
			[]string{"pass"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wyrmhole_http_requests_total",
				Help: "HTTP API requests",
			},
			[]string{"route", "code"},
		),

		HTTPDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wyrmhole_http_request_duration_seconds",
				Help:    "HTTP API request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		StoreErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wyrmhole_store_errors_total",
				Help: "Key-value store transport failures",
			},
		),
	}
}

// RecordHTTPRequest records one handled API request.
func (m *Metrics) RecordHTTPRequest(route string, code int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.Observe(duration.Seconds())
}

// RecordFrame records one channel frame.
func (m *Metrics) RecordFrame(direction string) {
	m.FramesTotal.WithLabelValues(direction).Inc()
}

// RecordChunk records one relayed chunk and its ciphertext size.
func (m *Metrics) RecordChunk(size int) {
	m.ChunksRelayed.Inc()
	m.ChunkBytesRelayed.Add(float64(size))
}

// RecordPassError records a failed driver pass.
func (m *Metrics) RecordPassError(pass string) {
	m.DriverPassErrors.WithLabelValues(pass).Inc()
}

// RecordCommandError records a rejected channel command.
func (m *Metrics) RecordCommandError(command string) {
	m.CommandErrors.WithLabelValues(command).Inc()
}

// Handler returns the scrape endpoint for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
