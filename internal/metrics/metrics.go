// ============================================================================
// fbs-kiosk Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集並暴露離線佇列與 FBS 呼叫的運行指標
//
// 指標分類:
//
//   1. 佇列計數器 (Counter, label: queue=checkout|checkin)：
//      - fbs_kiosk_queue_jobs_enqueued_total
//      - fbs_kiosk_queue_jobs_dispatched_total
//      - fbs_kiosk_queue_jobs_completed_total
//      - fbs_kiosk_queue_jobs_failed_total     終端失敗（業務拒絕或重試耗盡）
//      - fbs_kiosk_queue_jobs_retried_total    進入退避重試
//      - fbs_kiosk_queue_jobs_requeued_total   因 FBS 離線而重新入隊
//
//   2. 佇列狀態 (Gauge)：
//      - fbs_kiosk_queue_jobs{queue,state}
//      - fbs_kiosk_queue_paused{queue}
//      - fbs_kiosk_queue_recovery_time_seconds{queue}
//
//   3. FBS 呼叫：
//      - fbs_kiosk_fbs_requests_total{op,outcome}
//      - fbs_kiosk_fbs_request_duration_seconds{op}
//      - fbs_kiosk_fbs_online
//
// Prometheus 查詢示例:
//
//   # 離線期間積壓的借還
//   sum(fbs_kiosk_queue_jobs{state="waiting"})
//
//   # FBS 錯誤率
//   sum(rate(fbs_kiosk_fbs_requests_total{outcome!="ok"}[5m])) / sum(rate(fbs_kiosk_fbs_requests_total[5m]))
//
// 所有 Record 方法在 nil *Collector 上皆為 no-op，未啟用指標時可直接傳 nil。
//
// ============================================================================

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

const namespace = "fbs_kiosk"

// Collector Prometheus 指標收集器
type Collector struct {
	// 佇列計數器
	jobsEnqueued   *prometheus.CounterVec
	jobsDispatched *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobsFailed     *prometheus.CounterVec
	jobsRetried    *prometheus.CounterVec
	jobsRequeued   *prometheus.CounterVec

	// 效能指標
	jobLatency   *prometheus.HistogramVec
	recoveryTime *prometheus.GaugeVec

	// 狀態指標
	queueJobs   *prometheus.GaugeVec
	queuePaused *prometheus.GaugeVec

	// FBS
	fbsRequests *prometheus.CounterVec
	fbsLatency  *prometheus.HistogramVec
	fbsOnline   prometheus.Gauge
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewCollector 創建指標收集器並註冊到 reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsEnqueued:   counter("queue_jobs_enqueued_total", "Total number of offline jobs enqueued", "queue"),
		jobsDispatched: counter("queue_jobs_dispatched_total", "Total number of offline jobs sent to FBS", "queue"),
		jobsCompleted:  counter("queue_jobs_completed_total", "Total number of offline jobs completed successfully", "queue"),
		jobsFailed:     counter("queue_jobs_failed_total", "Total number of offline jobs terminally failed", "queue"),
		jobsRetried:    counter("queue_jobs_retried_total", "Total number of offline jobs delayed for retry", "queue"),
		jobsRequeued:   counter("queue_jobs_requeued_total", "Total number of offline jobs re-enqueued because FBS was off-line", "queue"),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_job_latency_seconds",
			Help:      "Time from enqueue to successful completion in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600, 4 * 3600, 24 * 3600},
		}, []string{"queue"}),
		recoveryTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_recovery_time_seconds",
			Help:      "Time taken to restore the queue from snapshot and WAL in seconds",
		}, []string{"queue"}),
		queueJobs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_jobs",
			Help:      "Current number of offline jobs by state",
		}, []string{"queue", "state"}),
		queuePaused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_paused",
			Help:      "1 while the queue is paused",
		}, []string{"queue"}),
		fbsRequests: counter("fbs_requests_total", "FBS calls by operation and outcome", "op", "outcome"),
		fbsLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fbs_request_duration_seconds",
			Help:      "FBS call duration in seconds, probe included",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		fbsOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fbs_online",
			Help:      "1 while the FBS endpoint is reachable",
		}),
	}

	reg.MustRegister(
		c.jobsEnqueued, c.jobsDispatched, c.jobsCompleted, c.jobsFailed,
		c.jobsRetried, c.jobsRequeued, c.jobLatency, c.recoveryTime,
		c.queueJobs, c.queuePaused, c.fbsRequests, c.fbsLatency, c.fbsOnline,
	)

	return c
}

// RecordEnqueue 記錄任務加入佇列
func (c *Collector) RecordEnqueue(queue string) {
	if c == nil {
		return
	}
	c.jobsEnqueued.WithLabelValues(queue).Inc()
}

// RecordDispatch 記錄任務分派
func (c *Collector) RecordDispatch(queue string) {
	if c == nil {
		return
	}
	c.jobsDispatched.WithLabelValues(queue).Inc()
}

// RecordCompleted 記錄任務完成
func (c *Collector) RecordCompleted(queue string, latency time.Duration) {
	if c == nil {
		return
	}
	c.jobsCompleted.WithLabelValues(queue).Inc()
	c.jobLatency.WithLabelValues(queue).Observe(latency.Seconds())
}

// RecordFailed 記錄任務終端失敗
func (c *Collector) RecordFailed(queue string) {
	if c == nil {
		return
	}
	c.jobsFailed.WithLabelValues(queue).Inc()
}

// RecordRetry 記錄任務進入退避重試
func (c *Collector) RecordRetry(queue string) {
	if c == nil {
		return
	}
	c.jobsRetried.WithLabelValues(queue).Inc()
}

// RecordRequeue 記錄任務因離線重新入隊
func (c *Collector) RecordRequeue(queue string) {
	if c == nil {
		return
	}
	c.jobsRequeued.WithLabelValues(queue).Inc()
}

// SetRecoveryTime 設置恢復時間
func (c *Collector) SetRecoveryTime(queue string, d time.Duration) {
	if c == nil {
		return
	}
	c.recoveryTime.WithLabelValues(queue).Set(d.Seconds())
}

// UpdateQueueStats 更新佇列狀態統計
func (c *Collector) UpdateQueueStats(queue string, counts types.Counts) {
	if c == nil {
		return
	}
	c.queueJobs.WithLabelValues(queue, "waiting").Set(float64(counts.Waiting))
	c.queueJobs.WithLabelValues(queue, "active").Set(float64(counts.Active))
	c.queueJobs.WithLabelValues(queue, "delayed").Set(float64(counts.Delayed))
	c.queueJobs.WithLabelValues(queue, "failed").Set(float64(counts.Failed))
}

// SetPaused 記錄佇列暫停狀態
func (c *Collector) SetPaused(queue string, paused bool) {
	if c == nil {
		return
	}
	c.queuePaused.WithLabelValues(queue).Set(boolFloat(paused))
}

// RecordFBSRequest 記錄一次 FBS 呼叫；outcome 為 ok、rejected、offline、transport 或 protocol
func (c *Collector) RecordFBSRequest(op, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.fbsRequests.WithLabelValues(op, outcome).Inc()
	c.fbsLatency.WithLabelValues(op).Observe(d.Seconds())
}

// SetFBSOnline 記錄 FBS 連線狀態
func (c *Collector) SetFBSOnline(online bool) {
	if c == nil {
		return
	}
	c.fbsOnline.Set(boolFloat(online))
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler 回傳 /metrics 的 HTTP handler
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
