package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 轮询结果标签
const (
	PollApplied   = "applied"
	PollDiscarded = "discarded"
	PollSkipped   = "skipped"
	PollFailed    = "failed"
)

// Metrics 监控指标
//
// 所有 Record/Update 方法在接收者为 nil 时直接返回，组件可以不注入指标。
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PanicsTotal         prometheus.Counter

	// 服务商指标
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec

	// 邮箱与同步指标
	MailboxesCreated    prometheus.Counter
	MailboxesDeleted    prometheus.Counter
	MailboxesActive     prometheus.Gauge
	PollsTotal          *prometheus.CounterVec
	PollingActive       prometheus.Gauge
	MessagesVisible     prometheus.Gauge
	PersistenceFailures *prometheus.CounterVec
}

// NewMetrics 在默认注册表上创建监控指标
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewMetricsWith 在指定注册表上创建监控指标，测试时使用独立的 prometheus.NewRegistry()
func NewMetricsWith(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropwin_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dropwin_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		PanicsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropwin_panics_total",
			Help: "Total number of recovered panics",
		}),

		ProviderRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropwin_provider_requests_total",
				Help: "Total number of requests sent to the inbox provider",
			},
			[]string{"action", "result"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dropwin_provider_request_duration_seconds",
				Help:    "Inbox provider request duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"action"},
		),

		MailboxesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropwin_mailboxes_created_total",
			Help: "Total number of mailboxes created",
		}),
		MailboxesDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dropwin_mailboxes_deleted_total",
			Help: "Total number of mailboxes deleted",
		}),
		MailboxesActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dropwin_mailboxes",
			Help: "Number of mailboxes in the store",
		}),
		PollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropwin_polls_total",
				Help: "Total number of inbox polls by result",
			},
			[]string{"result"},
		),
		PollingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dropwin_polling_active",
			Help: "1 when a mailbox is selected and being polled",
		}),
		MessagesVisible: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dropwin_messages_visible",
			Help: "Number of messages in the selected mailbox after the last poll",
		}),
		PersistenceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dropwin_persistence_failures_total",
				Help: "Total number of mailbox collection load/save failures",
			},
			[]string{"operation"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordPanic 记录恢复的 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordProviderRequest 记录一次服务商请求
func (m *Metrics) RecordProviderRequest(action string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderRequestsTotal.WithLabelValues(action, result).Inc()
	m.ProviderRequestDuration.WithLabelValues(action).Observe(duration.Seconds())
}

func (m *Metrics) RecordMailboxCreated() {
	if m == nil {
		return
	}
	m.MailboxesCreated.Inc()
}

func (m *Metrics) RecordMailboxDeleted() {
	if m == nil {
		return
	}
	m.MailboxesDeleted.Inc()
}

// UpdateMailboxesActive 更新邮箱数量
func (m *Metrics) UpdateMailboxesActive(count int) {
	if m == nil {
		return
	}
	m.MailboxesActive.Set(float64(count))
}

// RecordPoll 记录一次轮询的结果
func (m *Metrics) RecordPoll(result string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(result).Inc()
}

// UpdatePolling 更新同步状态与可见邮件数
func (m *Metrics) UpdatePolling(active bool, messages int) {
	if m == nil {
		return
	}
	if active {
		m.PollingActive.Set(1)
	} else {
		m.PollingActive.Set(0)
	}
	m.MessagesVisible.Set(float64(messages))
}

// RecordPersistenceFailure 记录持久化失败，operation 为 load 或 save
func (m *Metrics) RecordPersistenceFailure(operation string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(operation).Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
