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
// ワーカー、アップサート、マッチング、通知の各層から利用する。
type MetricsCollector interface {
	RecordJobCompleted(source string, found, saved int)
	RecordJobRetried(source string)
	RecordJobDeadLettered(source string)
	RecordScrapeLatency(source string, duration time.Duration)
	RecordUpsert(action string)
	RecordMatchCreated()
	RecordNotification(channel string, success bool)
	RecordRateLimited()
	RecordStaleDeactivated(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	jobsCompleted    *prometheus.CounterVec
	jobsRetried      *prometheus.CounterVec
	jobsDeadLettered *prometheus.CounterVec
	listingsFound    *prometheus.CounterVec
	listingsSaved    *prometheus.CounterVec
	scrapeLatency    *prometheus.HistogramVec
	upserts          *prometheus.CounterVec
	matchesCreated   prometheus.Counter
	notifications    *prometheus.CounterVec
	rateLimited      prometheus.Counter
	staleDeactivated prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwatch_jobs_completed_total",
			Help: "完了したスクレイプジョブの合計数",
		}, []string{"source"}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwatch_jobs_retried_total",
			Help: "リトライされたスクレイプジョブの合計数",
		}, []string{"source"}),
		jobsDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwatch_jobs_dead_lettered_total",
			Help: "リトライ上限に達したスクレイプジョブの合計数",
		}, []string{"source"}),
		listingsFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwatch_listings_found_total",
			Help: "スクレイプで取得した物件の合計数",
		}, []string{"source"}),
		listingsSaved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwatch_listings_saved_total",
			Help: "保存に成功した物件の合計数",
		}, []string{"source"}),
		scrapeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rentwatch_scrape_duration_seconds",
			Help:    "スクレイプジョブ1回の所要時間（秒）",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"source"}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwatch_upserts_total",
			Help: "アップサート結果別の件数",
		}, []string{"action"}),
		matchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentwatch_matches_created_total",
			Help: "作成されたマッチの合計数",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rentwatch_notifications_total",
			Help: "チャネル・結果別の通知送信数",
		}, []string{"channel", "success"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentwatch_notifications_rate_limited_total",
			Help: "レート制限でスキップされた通知バッチの合計数",
		}),
		staleDeactivated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rentwatch_properties_deactivated_total",
			Help: "未確認期間の超過で無効化された物件の合計数",
		}),
	}

	reg.MustRegister(
		c.jobsCompleted,
		c.jobsRetried,
		c.jobsDeadLettered,
		c.listingsFound,
		c.listingsSaved,
		c.scrapeLatency,
		c.upserts,
		c.matchesCreated,
		c.notifications,
		c.rateLimited,
		c.staleDeactivated,
	)

	return c
}

// RecordJobCompleted はジョブ完了と取得・保存件数を記録する。
func (c *Collector) RecordJobCompleted(source string, found, saved int) {
	c.jobsCompleted.WithLabelValues(source).Inc()
	c.listingsFound.WithLabelValues(source).Add(float64(found))
	c.listingsSaved.WithLabelValues(source).Add(float64(saved))
}

// RecordJobRetried はジョブのリトライを記録する。
func (c *Collector) RecordJobRetried(source string) {
	c.jobsRetried.WithLabelValues(source).Inc()
}

// RecordJobDeadLettered はデッドレター化を記録する。
func (c *Collector) RecordJobDeadLettered(source string) {
	c.jobsDeadLettered.WithLabelValues(source).Inc()
}

// RecordScrapeLatency はスクレイプの所要時間を記録する。
func (c *Collector) RecordScrapeLatency(source string, duration time.Duration) {
	c.scrapeLatency.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordUpsert はアップサート結果を記録する。
func (c *Collector) RecordUpsert(action string) {
	c.upserts.WithLabelValues(action).Inc()
}

// RecordMatchCreated はマッチ作成を記録する。
func (c *Collector) RecordMatchCreated() {
	c.matchesCreated.Inc()
}

// RecordNotification はチャネルごとの送信結果を記録する。
func (c *Collector) RecordNotification(channel string, success bool) {
	c.notifications.WithLabelValues(channel, strconv.FormatBool(success)).Inc()
}

// RecordRateLimited はレート制限によるスキップを記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordStaleDeactivated は無効化した物件数を記録する。
func (c *Collector) RecordStaleDeactivated(count int) {
	c.staleDeactivated.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordJobCompleted(string, int, int) {}
func (Nop) RecordJobRetried(string) {}
func (Nop) RecordJobDeadLettered(string) {}
func (Nop) RecordScrapeLatency(string, time.Duration) {}
func (Nop) RecordUpsert(string) {}
func (Nop) RecordMatchCreated() {}
func (Nop) RecordNotification(string, bool) {}
func (Nop) RecordRateLimited() {}
func (Nop) RecordStaleDeactivated(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
