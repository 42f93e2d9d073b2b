package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// Alert 告警
type Alert struct {
	RuleID     string     `json:"ruleId"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Level      AlertLevel `json:"level"`
	Component  string     `json:"component"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// AlertRule 告警规则，Condition 返回非空字符串表示触发，内容作为告警消息
type AlertRule struct {
	ID        string
	Name      string
	Level     AlertLevel
	Component string
	Cooldown  time.Duration
	Condition func(ctx context.Context) string
}

// AlertReceiver 告警接收器
type AlertReceiver interface {
	SendAlert(alert Alert) error
}

// AlertManager 周期性检查规则，同一规则在恢复之前只告警一次
type AlertManager struct {
	mu        sync.Mutex
	rules     []AlertRule
	receivers []AlertReceiver
	active    map[string]*Alert
	lastFired map[string]time.Time
	logger    *zap.Logger
	now       func() time.Time
}

// NewAlertManager 创建告警管理器
func NewAlertManager(logger *zap.Logger) *AlertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertManager{
		active:    make(map[string]*Alert),
		lastFired: make(map[string]time.Time),
		logger:    logger,
		now:       time.Now,
	}
}

// AddReceiver 添加告警接收器
func (am *AlertManager) AddReceiver(receiver AlertReceiver) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.receivers = append(am.receivers, receiver)
}

// AddRule 添加告警规则
func (am *AlertManager) AddRule(rule AlertRule) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.rules = append(am.rules, rule)
}

// ActiveAlerts 返回尚未恢复的告警
func (am *AlertManager) ActiveAlerts() []Alert {
	am.mu.Lock()
	defer am.mu.Unlock()

	out := make([]Alert, 0, len(am.active))
	for _, a := range am.active {
		out = append(out, *a)
	}
	return out
}

// CheckRules 执行一轮规则检查
func (am *AlertManager) CheckRules(ctx context.Context) {
	am.mu.Lock()
	rules := append([]AlertRule(nil), am.rules...)
	am.mu.Unlock()

	for _, rule := range rules {
		// 条件检查可能涉及 I/O，不持有锁
		msg := rule.Condition(ctx)
		if msg == "" {
			am.resolve(rule.ID)
			continue
		}
		am.fire(rule, msg)
	}
}

func (am *AlertManager) fire(rule AlertRule, msg string) {
	am.mu.Lock()
	now := am.now()
	if _, exists := am.active[rule.ID]; exists {
		am.mu.Unlock()
		return
	}
	if last, ok := am.lastFired[rule.ID]; ok && now.Sub(last) < rule.Cooldown {
		am.mu.Unlock()
		return
	}

	alert := &Alert{
		RuleID:    rule.ID,
		Title:     rule.Name,
		Message:   msg,
		Level:     rule.Level,
		Component: rule.Component,
		Timestamp: now,
	}
	am.active[rule.ID] = alert
	am.lastFired[rule.ID] = now
	receivers := append([]AlertReceiver(nil), am.receivers...)
	am.mu.Unlock()

	for _, receiver := range receivers {
		if err := receiver.SendAlert(*alert); err != nil {
			am.logger.Error("failed to send alert",
				zap.String("rule", rule.ID),
				zap.Error(err),
			)
		}
	}
}

func (am *AlertManager) resolve(ruleID string) {
	am.mu.Lock()
	defer am.mu.Unlock()

	alert, exists := am.active[ruleID]
	if !exists {
		return
	}
	at := am.now()
	alert.Resolved = true
	alert.ResolvedAt = &at
	delete(am.active, ruleID)

	am.logger.Info("alert resolved",
		zap.String("rule", ruleID),
		zap.Duration("duration", at.Sub(alert.Timestamp)),
	)
}

// StartMonitoring 按固定间隔检查规则，直到 ctx 取消
func (am *AlertManager) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			am.CheckRules(ctx)
		}
	}
}

// ========== 内置告警规则 ==========

// HighMemoryUsageRule 堆内存超过阈值（MB）
func HighMemoryUsageRule(thresholdMB float64) AlertRule {
	return AlertRule{
		ID:        "high_memory_usage",
		Name:      "High Memory Usage",
		Level:     AlertLevelWarning,
		Component: "memory",
		Cooldown:  5 * time.Minute,
		Condition: func(context.Context) string {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			usage := float64(m.Alloc) / 1024 / 1024
			if usage <= thresholdMB {
				return ""
			}
			return fmt.Sprintf("heap usage %.1f MB exceeds %.1f MB", usage, thresholdMB)
		},
	}
}

// StorageRule 持久化后端健康检查失败
func StorageRule(health func(ctx context.Context) error) AlertRule {
	return AlertRule{
		ID:        "storage_unavailable",
		Name:      "Storage Unavailable",
		Level:     AlertLevelCritical,
		Component: "storage",
		Cooldown:  time.Minute,
		Condition: func(ctx context.Context) string {
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := health(checkCtx); err != nil {
				return err.Error()
			}
			return ""
		},
	}
}

// PollingDegradedRule 当前轮询会话最近一次拉取失败
//
// lastError 返回当前会话的失败描述，空字符串表示正常或未在轮询。
func PollingDegradedRule(lastError func() string) AlertRule {
	return AlertRule{
		ID:        "polling_degraded",
		Name:      "Polling Degraded",
		Level:     AlertLevelWarning,
		Component: "provider",
		Cooldown:  time.Minute,
		Condition: func(context.Context) string {
			return lastError()
		},
	}
}

// ========== 告警接收器 ==========

// LogAlertReceiver 将告警写入日志
type LogAlertReceiver struct {
	logger *zap.Logger
}

// NewLogAlertReceiver 创建日志告警接收器
func NewLogAlertReceiver(logger *zap.Logger) *LogAlertReceiver {
	return &LogAlertReceiver{logger: logger}
}

// SendAlert 按级别写日志
func (r *LogAlertReceiver) SendAlert(alert Alert) error {
	fields := []zap.Field{
		zap.String("rule", alert.RuleID),
		zap.String("title", alert.Title),
		zap.String("message", alert.Message),
		zap.String("component", alert.Component),
		zap.Time("timestamp", alert.Timestamp),
	}
	if alert.Level == AlertLevelCritical {
		r.logger.Error("CRITICAL ALERT", fields...)
		return nil
	}
	r.logger.Warn("WARNING ALERT", fields...)
	return nil
}
