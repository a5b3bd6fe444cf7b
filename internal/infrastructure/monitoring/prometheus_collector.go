package monitoring

import (
	"context"
	"sync"
	"time"

	"rtcclient/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// StatsSource is the slice of a transport the collector polls.
type StatsSource interface {
	ID() string
	Direction() domain.Direction
	ConnectionState() domain.ConnectionState
	GetStats(ctx context.Context) (*domain.TransportStats, error)
}

type PrometheusCollector struct {
	// Counters
	streamsProducedTotal prometheus.Counter
	streamsConsumedTotal prometheus.Counter
	reconnectsTotal      prometheus.Counter

	// Histograms
	connectionSetupDuration prometheus.Histogram
	signalRequestDuration   prometheus.Histogram

	// Transport metrics
	transportBytesSent     *prometheus.GaugeVec
	transportBytesReceived *prometheus.GaugeVec
	transportSendBitrate   *prometheus.GaugeVec
	transportRecvBitrate   *prometheus.GaugeVec
	transportConnected     *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		streamsProducedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcclient_streams_produced_total",
			Help: "Total number of media streams sent",
		}),

		streamsConsumedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcclient_streams_consumed_total",
			Help: "Total number of media streams received",
		}),

		reconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcclient_signal_reconnects_total",
			Help: "Total number of signaling reconnect attempts",
		}),

		connectionSetupDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtcclient_connection_setup_duration_seconds",
			Help:    "Time from transport creation until the connected state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		signalRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtcclient_signal_request_duration_seconds",
			Help:    "Round trip time of signaling requests",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		transportBytesSent: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtcclient_transport_bytes_sent",
			Help: "Cumulative bytes sent per transport",
		}, []string{"transport_id", "direction"}),

		transportBytesReceived: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtcclient_transport_bytes_received",
			Help: "Cumulative bytes received per transport",
		}, []string{"transport_id", "direction"}),

		transportSendBitrate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtcclient_transport_send_bitrate_bps",
			Help: "Current send bitrate per transport in bits per second",
		}, []string{"transport_id", "direction"}),

		transportRecvBitrate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtcclient_transport_recv_bitrate_bps",
			Help: "Current receive bitrate per transport in bits per second",
		}, []string{"transport_id", "direction"}),

		transportConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtcclient_transport_connected",
			Help: "1 while the transport is in the connected state",
		}, []string{"transport_id", "direction"}),
	}
}

func (p *PrometheusCollector) RecordStreamProduced() {
	p.streamsProducedTotal.Inc()
}

func (p *PrometheusCollector) RecordStreamConsumed() {
	p.streamsConsumedTotal.Inc()
}

func (p *PrometheusCollector) RecordReconnect() {
	p.reconnectsTotal.Inc()
}

func (p *PrometheusCollector) RecordConnectionSetup(duration time.Duration) {
	p.connectionSetupDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordSignalRequest(duration time.Duration) {
	p.signalRequestDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) UpdateTransportStats(transport StatsSource, stats *domain.TransportStats) {
	id := transport.ID()
	direction := string(transport.Direction())

	p.transportBytesSent.WithLabelValues(id, direction).Set(float64(stats.BytesSent))
	p.transportBytesReceived.WithLabelValues(id, direction).Set(float64(stats.BytesReceived))
	p.transportSendBitrate.WithLabelValues(id, direction).Set(float64(stats.SendBitrate))
	p.transportRecvBitrate.WithLabelValues(id, direction).Set(float64(stats.RecvBitrate))

	connected := 0.0
	if transport.ConnectionState() == domain.ConnectionStateConnected {
		connected = 1.0
	}
	p.transportConnected.WithLabelValues(id, direction).Set(connected)
}

// RemoveTransport drops the per-transport series once a transport closes.
func (p *PrometheusCollector) RemoveTransport(transport StatsSource) {
	id := transport.ID()
	direction := string(transport.Direction())

	p.transportBytesSent.DeleteLabelValues(id, direction)
	p.transportBytesReceived.DeleteLabelValues(id, direction)
	p.transportSendBitrate.DeleteLabelValues(id, direction)
	p.transportRecvBitrate.DeleteLabelValues(id, direction)
	p.transportConnected.DeleteLabelValues(id, direction)
}

// StatsPoller periodically samples registered transports into the collector.
type StatsPoller struct {
	collector *PrometheusCollector
	interval  time.Duration
	logger    *zap.SugaredLogger

	mu      sync.Mutex
	sources map[string]StatsSource
}

func NewStatsPoller(collector *PrometheusCollector, interval time.Duration, logger *zap.SugaredLogger) *StatsPoller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &StatsPoller{
		collector: collector,
		interval:  interval,
		logger:    logger,
		sources:   make(map[string]StatsSource),
	}
}

func (s *StatsPoller) Register(source StatsSource) {
	s.mu.Lock()
	s.sources[source.ID()] = source
	s.mu.Unlock()
}

func (s *StatsPoller) Unregister(source StatsSource) {
	s.mu.Lock()
	delete(s.sources, source.ID())
	s.mu.Unlock()
	s.collector.RemoveTransport(source)
}

// Run samples until the context ends.
func (s *StatsPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *StatsPoller) sample(ctx context.Context) {
	s.mu.Lock()
	sources := make([]StatsSource, 0, len(s.sources))
	for _, source := range s.sources {
		sources = append(sources, source)
	}
	s.mu.Unlock()

	for _, source := range sources {
		stats, err := source.GetStats(ctx)
		if err != nil {
			s.logger.Debugw("stats sample failed", "transport_id", source.ID(), "error", err)
			continue
		}
		s.collector.UpdateTransportStats(source, stats)
	}
}
