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
// 認証サービス、アクティビティログ、IdPクライアント、ミドルウェアから利用する。
type MetricsCollector interface {
	IncLogin(result string)
	IncSessionVerify(result string)
	IncActivityWrite(result string)
	RecordHTTPStatus(statusCode int)
	ObserveIdPRequest(operation string, d time.Duration)
	SetInitState(state int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	login         *prometheus.CounterVec
	sessionVerify *prometheus.CounterVec
	activityWrite *prometheus.CounterVec
	httpStatus    *prometheus.CounterVec
	idpLatency    *prometheus.HistogramVec
	initState     prometheus.Gauge
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagegate_login_total",
			Help: "ログイン試行の結果別の合計数",
		}, []string{"result"}),
		sessionVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagegate_session_verify_total",
			Help: "セッションCookie検証の結果別の合計数",
		}, []string{"result"}),
		activityWrite: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagegate_activity_writes_total",
			Help: "アクティビティログ書き込みの結果別の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagegate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		idpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagegate_idp_request_seconds",
			Help:    "IdPへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		initState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pagegate_init_state",
			Help: "初期化状態（0: uninitialized, 1: initializing, 2: ready, 3: failed）",
		}),
	}

	reg.MustRegister(
		c.login,
		c.sessionVerify,
		c.activityWrite,
		c.httpStatus,
		c.idpLatency,
		c.initState,
	)

	return c
}

// IncLogin はログイン試行の結果を記録する。
func (c *Collector) IncLogin(result string) {
	c.login.WithLabelValues(result).Inc()
}

// IncSessionVerify はセッション検証の結果を記録する。
func (c *Collector) IncSessionVerify(result string) {
	c.sessionVerify.WithLabelValues(result).Inc()
}

// IncActivityWrite はアクティビティ書き込みの結果を記録する。
func (c *Collector) IncActivityWrite(result string) {
	c.activityWrite.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveIdPRequest はIdPへのリクエストのレイテンシを記録する。
func (c *Collector) ObserveIdPRequest(operation string, d time.Duration) {
	c.idpLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// SetInitState は初期化状態を記録する。
func (c *Collector) SetInitState(state int) {
	c.initState.Set(float64(state))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
