package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a node.
type Metrics struct {
	// P2P overlay metrics
	P2PConnectionType     *prometheus.CounterVec
	P2PConnectionDuration *prometheus.HistogramVec
	P2PActiveConnections  *prometheus.GaugeVec
	P2PPeersDiscovered    *prometheus.CounterVec
	P2PRelayUsage         *prometheus.CounterVec

	// File transfer metrics
	FilesUploaded        *prometheus.CounterVec
	FilesDownloaded       *prometheus.CounterVec
	FileTransferBytes     *prometheus.CounterVec
	FileTransferDuration  *prometheus.HistogramVec
	FileSearchQueries     *prometheus.CounterVec

	// Messaging metrics
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessageLatency   *prometheus.HistogramVec
	MessagesQueued   *prometheus.GaugeVec

	// Recommender metrics
	RecommendTrainSteps     *prometheus.CounterVec
	RecommendTrainFailures  *prometheus.CounterVec
	RecommendAggregations   *prometheus.CounterVec
	RecommendScoreLatency   *prometheus.HistogramVec

	// Identity/session metrics
	AuthAttempts   *prometheus.CounterVec
	AuthSuccessful *prometheus.CounterVec
	AuthFailed     *prometheus.CounterVec
	ActiveSessions *prometheus.GaugeVec

	// Storage metrics
	KVOperationDuration *prometheus.HistogramVec
	KVErrors            *prometheus.CounterVec

	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheEvictions *prometheus.CounterVec
	CacheSize      *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics.
// All metrics follow naming conventions: dafs_<subsystem>_<metric>_<unit>
func NewMetrics() *Metrics {
	m := &Metrics{
		P2PConnectionType: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_p2p_connection_type_total",
				Help: "Total P2P connections by type",
			},
			[]string{"type"}, // type: direct, hole_punch, relay
		),

		P2PConnectionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dafs_p2p_connection_duration_seconds",
				Help:    "Duration of P2P connections in seconds",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200},
			},
			[]string{"type"},
		),

		P2PActiveConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dafs_p2p_active_connections",
				Help: "Number of active P2P connections",
			},
			[]string{"type"},
		),

		P2PPeersDiscovered: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_p2p_peers_discovered_total",
				Help: "Total number of peers discovered",
			},
			[]string{"discovery_method"}, // mdns, dht, bootstrap
		),

		P2PRelayUsage: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_p2p_relay_usage_total",
				Help: "Total number of times relay was used",
			},
			[]string{"reason"}, // nat_traversal_failed, timeout
		),

		FilesUploaded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_files_uploaded_total",
				Help: "Total number of files published to the local store",
			},
			[]string{"status"},
		),

		FilesDownloaded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_files_downloaded_total",
				Help: "Total number of files fetched from peers",
			},
			[]string{"status"},
		),

		FileTransferBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_file_transfer_bytes_total",
				Help: "Total bytes transferred for files",
			},
			[]string{"direction"}, // upload, download
		),

		FileTransferDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dafs_file_transfer_duration_seconds",
				Help:    "File transfer duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"direction"},
		),

		FileSearchQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_file_search_queries_total",
				Help: "Total number of local full-text search queries",
			},
			[]string{"status"},
		),

		MessagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_messages_sent_total",
				Help: "Total number of direct messages sent",
			},
			[]string{"status"}, // delivered, queued, failed
		),

		MessagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_messages_received_total",
				Help: "Total number of direct messages received",
			},
			[]string{},
		),

		MessageLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dafs_message_latency_milliseconds",
				Help:    "Message delivery latency in milliseconds",
				Buckets: []float64{10, 50, 100, 250, 500, 1000},
			},
			[]string{},
		),

		MessagesQueued: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dafs_messages_queued",
				Help: "Number of messages held in the offline-retry queue",
			},
			[]string{},
		),

		RecommendTrainSteps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_recommend_train_steps_total",
				Help: "Total number of NCF training pairs applied",
			},
			[]string{},
		),

		RecommendTrainFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_recommend_train_failures_total",
				Help: "Total number of training batches rolled back",
			},
			[]string{"reason"}, // numerical_instability
		),

		RecommendAggregations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_recommend_aggregations_total",
				Help: "Total number of federated model aggregations applied",
			},
			[]string{"status"}, // applied, rejected
		),

		RecommendScoreLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dafs_recommend_score_latency_milliseconds",
				Help:    "Recommendation scoring latency in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100},
			},
			[]string{},
		),

		AuthAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_auth_attempts_total",
				Help: "Total number of session authentication attempts",
			},
			[]string{"method"},
		),

		AuthSuccessful: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_auth_successful_total",
				Help: "Total number of successful authentications",
			},
			[]string{"method"},
		),

		AuthFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_auth_failed_total",
				Help: "Total number of failed authentications",
			},
			[]string{"method", "reason"},
		),

		ActiveSessions: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dafs_active_sessions",
				Help: "Number of active local sessions",
			},
			[]string{},
		),

		KVOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dafs_kv_operation_duration_milliseconds",
				Help:    "Badger metadata store operation duration in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
			[]string{"operation", "namespace"},
		),

		KVErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_kv_errors_total",
				Help: "Total number of metadata store errors",
			},
			[]string{"operation", "error_type"},
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"}, // lru
		),

		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		CacheEvictions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dafs_cache_evictions_total",
				Help: "Total number of cache evictions",
			},
			[]string{"cache_type", "reason"}, // reason: size, ttl
		),

		CacheSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dafs_cache_size_entries",
				Help: "Current number of entries in cache",
			},
			[]string{"cache_type"},
		),
	}

	return m
}
