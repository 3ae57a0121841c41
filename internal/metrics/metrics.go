// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する。
// authsync.Metrics、donation.Metrics、blog.ImportMetrics を満たす。
type Collector struct {
	webhookEvents     *prometheus.CounterVec
	donationsRecorded prometheus.Counter
	authTransitions   *prometheus.CounterVec
	staleProfile      prometheus.Counter
	authStreams       prometheus.Gauge
	httpStatus        *prometheus.CounterVec
	httpLatency       prometheus.Histogram
	postsImported     prometheus.Counter
	sessionsExpired   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqher_webhook_events_total",
			Help: "決済Webhookイベントの種類・処理結果別の件数",
		}, []string{"type", "outcome"}),
		donationsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqher_donations_recorded_total",
			Help: "記録（UPSERT）された寄付の件数",
		}),
		authTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqher_auth_transitions_total",
			Help: "認証状態の遷移先別の件数",
		}, []string{"to"}),
		staleProfile: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqher_stale_profile_events_total",
			Help: "破棄された古いプロフィール通知の件数",
		}),
		authStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "seqher_auth_streams_active",
			Help: "接続中の認証状態ストリーム数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "seqher_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "seqher_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		postsImported: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqher_posts_imported_total",
			Help: "外部フィードから取り込んだ記事の件数",
		}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "seqher_sessions_expired_total",
			Help: "期限切れで削除したセッションの件数",
		}),
	}

	reg.MustRegister(
		c.webhookEvents,
		c.donationsRecorded,
		c.authTransitions,
		c.staleProfile,
		c.authStreams,
		c.httpStatus,
		c.httpLatency,
		c.postsImported,
		c.sessionsExpired,
	)

	return c
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (c *Collector) RecordDonationRecorded() {
	c.donationsRecorded.Inc()
}

// RecordAuthTransition は認証状態の遷移を記録する。
func (c *Collector) RecordAuthTransition(to string) {
	c.authTransitions.WithLabelValues(to).Inc()
}

func (c *Collector) RecordStaleProfileEvent() {
	c.staleProfile.Inc()
}

// AuthStreamOpened と AuthStreamClosed は接続中ストリーム数を増減する。
func (c *Collector) AuthStreamOpened() {
	c.authStreams.Inc()
}

func (c *Collector) AuthStreamClosed() {
	c.authStreams.Dec()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.httpLatency.Observe(duration.Seconds())
}

// RecordPostsImported は取り込んだ記事数を記録する。
func (c *Collector) RecordPostsImported(n int) {
	c.postsImported.Add(float64(n))
}

// RecordSessionsExpired は期限切れで削除したセッション数を記録する。
func (c *Collector) RecordSessionsExpired(n int64) {
	c.sessionsExpired.Add(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// workerプロセスなどルーターを持たないプロセスで使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
