// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はアクセス制御まわりのメトリクスを収集する。
type Collector struct {
	httpStatus        *prometheus.CounterVec
	rateLimitDenied   *prometheus.CounterVec
	quotaConsumed     prometheus.Counter
	quotaDenied       prometheus.Counter
	signatureFailures *prometheus.CounterVec
	signInTotal       *prometheus.CounterVec
	signInLatency     prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omikuji_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omikuji_rate_limit_denied_total",
			Help: "レート制限で拒否されたリクエスト数（クラス・ティア別）",
		}, []string{"class", "tier"}),
		quotaConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omikuji_quota_consumed_total",
			Help: "消費された日次クォータの合計数",
		}),
		quotaDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "omikuji_quota_denied_total",
			Help: "日次クォータ超過で拒否されたリクエスト数",
		}),
		signatureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omikuji_signature_failures_total",
			Help: "署名検証失敗数（理由別）",
		}, []string{"reason"}),
		signInTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "omikuji_mobile_signin_total",
			Help: "モバイルサインイン数（プロバイダー・結果別）",
		}, []string{"provider", "outcome"}),
		signInLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "omikuji_mobile_signin_latency_seconds",
			Help:    "モバイルサインインのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.rateLimitDenied,
		c.quotaConsumed,
		c.quotaDenied,
		c.signatureFailures,
		c.signInTotal,
		c.signInLatency,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRateLimitDenied はレート制限拒否を記録する。
func (c *Collector) RecordRateLimitDenied(class, tier string) {
	c.rateLimitDenied.WithLabelValues(class, tier).Inc()
}

// RecordQuotaConsumed はクォータ消費を記録する。
func (c *Collector) RecordQuotaConsumed() {
	c.quotaConsumed.Inc()
}

// RecordQuotaDenied はクォータ超過拒否を記録する。
func (c *Collector) RecordQuotaDenied() {
	c.quotaDenied.Inc()
}

// RecordSignatureFailure は署名検証失敗を理由つきで記録する。
func (c *Collector) RecordSignatureFailure(reason string) {
	c.signatureFailures.WithLabelValues(reason).Inc()
}

// RecordSignIn はサインインの結果とレイテンシを記録する。
func (c *Collector) RecordSignIn(provider, outcome string, duration time.Duration) {
	c.signInTotal.WithLabelValues(provider, outcome).Inc()
	c.signInLatency.Observe(duration.Seconds())
}

// Handler はメトリクス公開用のHTTPハンドラーを返す。
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
