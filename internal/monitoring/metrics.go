package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 同步指标
	SyncRunsTotal    *prometheus.CounterVec
	SyncDuration     *prometheus.HistogramVec
	SyncBatchMerged  prometheus.Counter
	ProviderFetches  *prometheus.CounterVec
	ProviderBackoffs *prometheus.CounterVec

	// 时间线指标
	MessagesMerged   prometheus.Counter
	MessagesDropped  prometheus.Counter
	TimelinesActive  prometheus.Gauge
	ContactsDerived  prometheus.Gauge
	SnapshotFailures prometheus.Counter

	// Webhook 指标
	WebhooksReceived *prometheus.CounterVec
	WebhooksRejected *prometheus.CounterVec

	// 用户指标
	UsersRegistered prometheus.Counter
	UsersOnline     prometheus.Gauge

	// 系统指标
	SystemUptime        prometheus.Gauge
	DatabaseConnections prometheus.Gauge
	RedisConnections    prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitHits   *prometheus.CounterVec
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		// HTTP 请求指标
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unibox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unibox_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unibox_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		// 同步指标
		SyncRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_sync_runs_total",
				Help: "Total number of sync runs",
			},
			[]string{"trigger", "outcome"},
		),

		SyncDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "unibox_sync_duration_seconds",
				Help:    "Sync run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"platform"},
		),

		SyncBatchMerged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "unibox_sync_batches_merged_total",
				Help: "Total number of fetch batches merged into timelines",
			},
		),

		ProviderFetches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_provider_fetches_total",
				Help: "Total number of provider fetch calls",
			},
			[]string{"platform", "outcome"},
		),

		ProviderBackoffs: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_provider_backoffs_total",
				Help: "Total number of rate limit backoffs per provider",
			},
			[]string{"platform"},
		),

		// 时间线指标
		MessagesMerged: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "unibox_messages_merged_total",
				Help: "Total number of messages merged into timelines",
			},
		),

		MessagesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "unibox_messages_dropped_total",
				Help: "Total number of invalid messages dropped during merge",
			},
		),

		TimelinesActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "unibox_timelines_active",
				Help: "Number of in-memory user timelines",
			},
		),

		ContactsDerived: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "unibox_contacts_derived",
				Help: "Number of derived contacts across active timelines",
			},
		),

		SnapshotFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "unibox_snapshot_failures_total",
				Help: "Total number of timeline snapshot persistence failures",
			},
		),

		// Webhook 指标
		WebhooksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_webhooks_received_total",
				Help: "Total number of webhooks received",
			},
			[]string{"provider"},
		),

		WebhooksRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_webhooks_rejected_total",
				Help: "Total number of webhooks rejected",
			},
			[]string{"provider", "reason"},
		),

		// 用户指标
		UsersRegistered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "unibox_users_registered_total",
				Help: "Total number of users registered",
			},
		),

		UsersOnline: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "unibox_users_online",
				Help: "Number of online users",
			},
		),

		// 系统指标
		SystemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "unibox_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		DatabaseConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "unibox_database_connections",
				Help: "Number of database connections",
			},
		),

		RedisConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "unibox_redis_connections",
				Help: "Number of Redis connections",
			},
		),

		// 错误指标
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "unibox_panics_total",
				Help: "Total number of panics",
			},
		),

		// 限流指标
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"type", "key"},
		),

		RateLimitBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unibox_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type", "key"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordSyncRun 记录一次同步运行
func (m *Metrics) RecordSyncRun(trigger, outcome string, platform string, duration time.Duration) {
	m.SyncRunsTotal.WithLabelValues(trigger, outcome).Inc()
	m.SyncDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

// RecordProviderBackoff 记录一次限流退避
func (m *Metrics) RecordProviderBackoff(platform string) {
	m.ProviderBackoffs.WithLabelValues(platform).Inc()
}

// RecordMessagesMerged 记录合并入时间线的消息数
func (m *Metrics) RecordMessagesMerged(count int) {
	m.MessagesMerged.Add(float64(count))
}

// RecordMessagesDropped 记录合并时被丢弃的无效消息数
func (m *Metrics) RecordMessagesDropped(count int) {
	m.MessagesDropped.Add(float64(count))
}

// RecordWebhookReceived 记录收到的 webhook
func (m *Metrics) RecordWebhookReceived(provider string) {
	m.WebhooksReceived.WithLabelValues(provider).Inc()
}

// RecordWebhookRejected 记录被拒绝的 webhook
func (m *Metrics) RecordWebhookRejected(provider, reason string) {
	m.WebhooksRejected.WithLabelValues(provider, reason).Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	m.UsersRegistered.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitHit 记录限流命中
func (m *Metrics) RecordRateLimitHit(limitType, key string) {
	m.RateLimitHits.WithLabelValues(limitType, key).Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType, key string) {
	m.RateLimitBlocks.WithLabelValues(limitType, key).Inc()
}

// UpdateTimelinesActive 更新内存时间线数量
func (m *Metrics) UpdateTimelinesActive(count int) {
	m.TimelinesActive.Set(float64(count))
}

// UpdateContactsDerived 更新派生联系人数量
func (m *Metrics) UpdateContactsDerived(count int) {
	m.ContactsDerived.Set(float64(count))
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateDatabaseConnections 更新数据库连接数
func (m *Metrics) UpdateDatabaseConnections(count int) {
	m.DatabaseConnections.Set(float64(count))
}

// UpdateRedisConnections 更新 Redis 连接数
func (m *Metrics) UpdateRedisConnections(count int) {
	m.RedisConnections.Set(float64(count))
}

// UpdateUsersOnline 更新在线用户数
func (m *Metrics) UpdateUsersOnline(count int) {
	m.UsersOnline.Set(float64(count))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
