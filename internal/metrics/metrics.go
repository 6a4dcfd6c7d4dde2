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
// ハンドラー、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(outcome string)
	RecordLoginLatency(duration time.Duration)
	RecordAccessDecision(reason string)
	RecordTokenRejection(reason string)
	RecordSessionsInvalidated(count int64)
	RecordSessionsSwept(count int64)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins              *prometheus.CounterVec
	loginLatency        prometheus.Histogram
	accessDecisions     *prometheus.CounterVec
	tokenRejections     *prometheus.CounterVec
	sessionsInvalidated prometheus.Counter
	sessionsSwept       prometheus.Counter
	httpStatus          *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_login_total",
			Help: "結果別のログイン試行数",
		}, []string{"outcome"}),
		loginLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatgate_login_latency_seconds",
			Help:    "ログイン処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_access_decision_total",
			Help: "理由別のアクセス判定数",
		}, []string{"reason"}),
		tokenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_token_rejection_total",
			Help: "理由別のトークン・セッション拒否数",
		}, []string{"reason"}),
		sessionsInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_sessions_invalidated_total",
			Help: "新しいログインやログアウトで無効化されたセッションの合計数",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatgate_sessions_swept_total",
			Help: "期限切れ掃除で削除されたセッションの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.logins,
		c.loginLatency,
		c.accessDecisions,
		c.tokenRejections,
		c.sessionsInvalidated,
		c.sessionsSwept,
		c.httpStatus,
	)

	return c
}

// RecordLogin はログイン結果を記録する。outcomeは "ok" または失敗理由。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordLoginLatency はログイン処理のレイテンシを記録する。
func (c *Collector) RecordLoginLatency(duration time.Duration) {
	c.loginLatency.Observe(duration.Seconds())
}

// RecordAccessDecision はエンタイトルメント判定の理由を記録する。
func (c *Collector) RecordAccessDecision(reason string) {
	c.accessDecisions.WithLabelValues(reason).Inc()
}

// RecordTokenRejection はトークン・セッションの拒否理由を記録する。
func (c *Collector) RecordTokenRejection(reason string) {
	c.tokenRejections.WithLabelValues(reason).Inc()
}

// RecordSessionsInvalidated は無効化したセッション数を記録する。
func (c *Collector) RecordSessionsInvalidated(count int64) {
	if count > 0 {
		c.sessionsInvalidated.Add(float64(count))
	}
}

// RecordSessionsSwept は掃除で削除したセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	if count > 0 {
		c.sessionsSwept.Add(float64(count))
	}
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordLogin(string)               {}
func (NopCollector) RecordLoginLatency(time.Duration) {}
func (NopCollector) RecordAccessDecision(string)      {}
func (NopCollector) RecordTokenRejection(string)      {}
func (NopCollector) RecordSessionsInvalidated(int64)  {}
func (NopCollector) RecordSessionsSwept(int64)        {}
func (NopCollector) RecordHTTPStatus(int)             {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
