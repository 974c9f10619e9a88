// Package metrics 提供入库、分组、发帖与门禁流程的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth 入库队列当前长度
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "filestore_ingest_queue_depth",
		Help: "Number of items waiting in the ingestion queue",
	})

	// ItemsEnqueued 进入入库队列的文件数
	ItemsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filestore_items_enqueued_total",
		Help: "Total number of items added to the ingestion queue",
	})

	// ItemsProcessed 入库处理结果：stored/failed/dead_letter
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestore_items_processed_total",
			Help: "Total number of items processed by the ingestion worker",
		},
		[]string{"result"},
	)

	// WorkerCooldowns 因存储频道不可用进入冷却的次数
	WorkerCooldowns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filestore_worker_cooldowns_total",
		Help: "Total number of worker cooldowns caused by an unavailable storage channel",
	})

	// OpenBatches 当前打开的分组数
	OpenBatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "filestore_open_batches",
		Help: "Number of batch groups waiting for their flush",
	})

	// BatchSize 每次刷新的文件数
	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "filestore_batch_size",
		Help:    "Number of items carried by each batch flush",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
	})

	// Publishes 目标频道发帖结果：success/failure
	Publishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestore_publishes_total",
			Help: "Total number of destination publishes by result",
		},
		[]string{"result"},
	)

	// GateOutcomes 门禁流程结果，按状态统计
	GateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestore_gate_outcomes_total",
			Help: "Total number of access gate outcomes by state",
		},
		[]string{"state"},
	)

	// ShortenerRequests 短链请求结果：success/failure/rejected/fallback
	ShortenerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filestore_shortener_requests_total",
			Help: "Total number of shortener requests by result",
		},
		[]string{"result"},
	)

	// ShortenerBreakerState 短链熔断器状态：0=closed, 1=half-open, 2=open
	ShortenerBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filestore_shortener_breaker_state",
			Help: "Circuit breaker state per shortener domain",
		},
		[]string{"domain"},
	)
)
