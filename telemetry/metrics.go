// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsReceived  *prometheus.CounterVec // by command
	RecordsWritten  *prometheus.CounterVec // by command
	RecordsDropped  prometheus.Counter
	Errors          *prometheus.CounterVec // by kind
	Reloads         *prometheus.CounterVec // by result
	ArchiveInserted prometheus.Counter

	// Histograms (seconds)
	ReloadDuration prometheus.Observer

	// Gauges
	ChannelsGauge  prometheus.Gauge
	ConnectedGauge prometheus.Gauge // 1=connected,0=disconnected
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ghost_events_received_total", Help: "Transport events received, by IRC command"}, []string{"command"})
		RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ghost_records_written_total", Help: "Records appended to channel log files, by command"}, []string{"command"})
		RecordsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "ghost_records_dropped_total", Help: "Records dropped because the channel had no open log file"})
		Errors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ghost_errors_total", Help: "Recoverable errors seen by the recorder loop, by kind"}, []string{"kind"})
		Reloads = promauto.NewCounterVec(prometheus.CounterOpts{Name: "ghost_reloads_total", Help: "Configuration reloads, by result"}, []string{"result"})
		ArchiveInserted = promauto.NewCounter(prometheus.CounterOpts{Name: "ghost_archive_inserted_total", Help: "Records mirrored into the Postgres archive"})
		ReloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "ghost_reload_duration_seconds", Help: "Reload duration seconds", Buckets: prometheus.DefBuckets})
		ChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ghost_channels", Help: "Channels currently monitored"})
		ConnectedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "ghost_transport_connected", Help: "Transport connected=1 disconnected=0"})
	})
}

// CountEvent records one received transport event.
func CountEvent(command string) {
	if EventsReceived != nil {
		EventsReceived.WithLabelValues(command).Inc()
	}
}

// CountWritten records one record appended to a log file.
func CountWritten(command string) {
	if RecordsWritten != nil {
		RecordsWritten.WithLabelValues(command).Inc()
	}
}

// CountDropped records one record dropped for lack of a log file.
func CountDropped() {
	if RecordsDropped != nil {
		RecordsDropped.Inc()
	}
}

// CountError records one recoverable error of the given kind.
func CountError(kind string) {
	if Errors != nil {
		Errors.WithLabelValues(kind).Inc()
	}
}

// CountReload records a reload outcome ("ok" or "failed").
func CountReload(result string) {
	if Reloads != nil {
		Reloads.WithLabelValues(result).Inc()
	}
}

// CountArchived records one record mirrored into the archive.
func CountArchived() {
	if ArchiveInserted != nil {
		ArchiveInserted.Inc()
	}
}

// SetChannels records the size of the monitored channel set.
func SetChannels(n int) {
	if ChannelsGauge != nil {
		ChannelsGauge.Set(float64(n))
	}
}

// SetConnected sets gauge to 1 if connected else 0.
func SetConnected(connected bool) {
	if ConnectedGauge != nil {
		if connected {
			ConnectedGauge.Set(1)
		} else {
			ConnectedGauge.Set(0)
		}
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns base (or the default logger) with a corr attribute if present.
func LoggerWithCorr(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := GetCorrelation(ctx); id != "" {
		return base.With(slog.String("corr", id))
	}
	return base
}
