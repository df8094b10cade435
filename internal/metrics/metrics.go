// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeMissing  = "missing"
	OutcomeError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認可ゲートやフェデレーションサービスから利用する。
type MetricsCollector interface {
	// RecordAuthAttempt は認可ゲートでの認証結果を記録する。channelは"bearer"/"api_key"/"none"。
	RecordAuthAttempt(channel, outcome string)
	// RecordFederation はフェデレーションの結果を記録する。flowは"code"/"id_token"。
	RecordFederation(flow, outcome string)
	// RecordOAuthState はstateの発行・照合結果を記録する。opは"begin"/"redeem"。
	RecordOAuthState(op, outcome string)
	// RecordUpstreamLatency はIdP呼び出しのレイテンシを記録する。
	RecordUpstreamLatency(call string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authRequests    *prometheus.CounterVec
	federation      *prometheus.CounterVec
	oauthState      *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savezy_auth_requests_total",
			Help: "認可ゲートでの認証試行数（チャネル・結果別）",
		}, []string{"channel", "outcome"}),
		federation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savezy_federation_total",
			Help: "IdPフェデレーションの完了数（フロー・結果別）",
		}, []string{"flow", "outcome"}),
		oauthState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "savezy_oauth_state_total",
			Help: "OAuth stateの発行・照合数（操作・結果別）",
		}, []string{"op", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "savezy_upstream_latency_seconds",
			Help:    "IdP呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"call"}),
	}

	reg.MustRegister(
		c.authRequests,
		c.federation,
		c.oauthState,
		c.upstreamLatency,
	)

	return c
}

// RecordAuthAttempt は認証結果を記録する。
func (c *Collector) RecordAuthAttempt(channel, outcome string) {
	c.authRequests.WithLabelValues(channel, outcome).Inc()
}

// RecordFederation はフェデレーション結果を記録する。
func (c *Collector) RecordFederation(flow, outcome string) {
	c.federation.WithLabelValues(flow, outcome).Inc()
}

// RecordOAuthState はstate操作の結果を記録する。
func (c *Collector) RecordOAuthState(op, outcome string) {
	c.oauthState.WithLabelValues(op, outcome).Inc()
}

// RecordUpstreamLatency はIdP呼び出しのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(call string, duration time.Duration) {
	c.upstreamLatency.WithLabelValues(call).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordAuthAttempt(string, string)            {}
func (NopCollector) RecordFederation(string, string)             {}
func (NopCollector) RecordOAuthState(string, string)             {}
func (NopCollector) RecordUpstreamLatency(string, time.Duration) {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
