// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ストア、ランキング同期、ワーカー、HTTP層から利用する。
type MetricsCollector interface {
	RecordActivityAdded(backend string)
	RecordActivityRemoved(backend string)
	RecordStoreEvent(backend string)
	RecordRecompute(duration time.Duration, activities int)
	RecordHTTPStatus(statusCode int)
	RecordSnapshotPublished(success bool)
	RecordResync(success bool)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	activitiesAdded   *prometheus.CounterVec
	activitiesRemoved *prometheus.CounterVec
	storeEvents       *prometheus.CounterVec
	recomputes        prometheus.Counter
	recomputeLatency  prometheus.Histogram
	activitiesTotal   prometheus.Gauge
	httpStatus        *prometheus.CounterVec
	snapshotsPub      *prometheus.CounterVec
	resyncs           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		activitiesAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitbattle_activities_added_total",
			Help: "追加された運動記録の合計数",
		}, []string{"backend"}),
		activitiesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitbattle_activities_removed_total",
			Help: "削除された運動記録の合計数",
		}, []string{"backend"}),
		storeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitbattle_store_events_total",
			Help: "ストアが配信した変更イベントの合計数",
		}, []string{"backend"}),
		recomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fitbattle_recompute_total",
			Help: "ランキング再計算の合計数",
		}),
		recomputeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fitbattle_recompute_latency_seconds",
			Help:    "ランキング再計算のレイテンシ（秒）",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		activitiesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fitbattle_activities",
			Help: "最新スナップショット時点の運動記録数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitbattle_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		snapshotsPub: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitbattle_snapshots_published_total",
			Help: "外部へ送信したスナップショットの合計数",
		}, []string{"result"}),
		resyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fitbattle_resync_total",
			Help: "共有ツリーの定期再読み込みの合計数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.activitiesAdded,
		c.activitiesRemoved,
		c.storeEvents,
		c.recomputes,
		c.recomputeLatency,
		c.activitiesTotal,
		c.httpStatus,
		c.snapshotsPub,
		c.resyncs,
	)

	return c
}

// RecordActivityAdded は運動記録の追加を記録する。
func (c *Collector) RecordActivityAdded(backend string) {
	c.activitiesAdded.WithLabelValues(backend).Inc()
}

// RecordActivityRemoved は運動記録の削除を記録する。
func (c *Collector) RecordActivityRemoved(backend string) {
	c.activitiesRemoved.WithLabelValues(backend).Inc()
}

// RecordStoreEvent はストアの変更イベントを記録する。
func (c *Collector) RecordStoreEvent(backend string) {
	c.storeEvents.WithLabelValues(backend).Inc()
}

// RecordRecompute はランキング再計算の所要時間と記録数を記録する。
func (c *Collector) RecordRecompute(duration time.Duration, activities int) {
	c.recomputes.Inc()
	c.recomputeLatency.Observe(duration.Seconds())
	c.activitiesTotal.Set(float64(activities))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSnapshotPublished はスナップショット送信の結果を記録する。
func (c *Collector) RecordSnapshotPublished(success bool) {
	c.snapshotsPub.WithLabelValues(result(success)).Inc()
}

// RecordResync は再読み込みの結果を記録する。
func (c *Collector) RecordResync(success bool) {
	c.resyncs.WithLabelValues(result(success)).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
