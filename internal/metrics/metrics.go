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
// ミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordGatekeeperDecision(decision string)
	RecordCallbackOutcome(flow, outcome string)
	RecordSignIn(success bool)
	RecordHTTPStatus(statusCode int)
	RecordIdentityLatency(duration time.Duration)
	RecordColumnRenumbered()
	RecordAuthEventsPurged(count int64)
	SetRealtimeSubscribers(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	gatekeeper        *prometheus.CounterVec
	callback          *prometheus.CounterVec
	signIn            *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	identityLatency   prometheus.Histogram
	columnRenumbered  prometheus.Counter
	authEventsPurged  prometheus.Counter
	realtimeListeners prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		gatekeeper: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_gatekeeper_decisions_total",
			Help: "ゲートキーパーの判定結果別のリクエスト数",
		}, []string{"decision"}),
		callback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_auth_callback_total",
			Help: "認証コールバックのフロー・終端状態別の処理数",
		}, []string{"flow", "outcome"}),
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_sign_in_total",
			Help: "パスワードログインの結果別の試行数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		identityLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_identity_request_seconds",
			Help:    "IdP呼び出しを含む認証処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		columnRenumbered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_board_column_renumbered_total",
			Help: "並び順キーの枯渇によるボード列の振り直し回数",
		}),
		authEventsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_auth_events_purged_total",
			Help: "保持期間切れで削除された認証イベントの合計数",
		}),
		realtimeListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portal_realtime_subscribers",
			Help: "接続中のリアルタイム購読者数",
		}),
	}

	reg.MustRegister(
		c.gatekeeper,
		c.callback,
		c.signIn,
		c.httpStatus,
		c.identityLatency,
		c.columnRenumbered,
		c.authEventsPurged,
		c.realtimeListeners,
	)

	return c
}

// RecordGatekeeperDecision はゲートキーパーの判定結果を記録する。
func (c *Collector) RecordGatekeeperDecision(decision string) {
	c.gatekeeper.WithLabelValues(decision).Inc()
}

// RecordCallbackOutcome は認証コールバックの終端状態を記録する。
func (c *Collector) RecordCallbackOutcome(flow, outcome string) {
	c.callback.WithLabelValues(flow, outcome).Inc()
}

// RecordSignIn はパスワードログインの結果を記録する。
func (c *Collector) RecordSignIn(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.signIn.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordIdentityLatency は認証処理のレイテンシを記録する。
func (c *Collector) RecordIdentityLatency(duration time.Duration) {
	c.identityLatency.Observe(duration.Seconds())
}

// RecordColumnRenumbered はボード列の振り直しを記録する。
func (c *Collector) RecordColumnRenumbered() {
	c.columnRenumbered.Inc()
}

// RecordAuthEventsPurged は削除された認証イベント数を記録する。
func (c *Collector) RecordAuthEventsPurged(count int64) {
	c.authEventsPurged.Add(float64(count))
}

// SetRealtimeSubscribers はリアルタイム購読者数を設定する。
func (c *Collector) SetRealtimeSubscribers(count int) {
	c.realtimeListeners.Set(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordGatekeeperDecision(string)     {}
func (Nop) RecordCallbackOutcome(string, string) {}
func (Nop) RecordSignIn(bool)                    {}
func (Nop) RecordHTTPStatus(int)                 {}
func (Nop) RecordIdentityLatency(time.Duration)  {}
func (Nop) RecordColumnRenumbered()              {}
func (Nop) RecordAuthEventsPurged(int64)         {}
func (Nop) SetRealtimeSubscribers(int)           {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
