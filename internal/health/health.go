package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// 单项检查超时
const checkTimeout = 3 * time.Second

// Pinger 可以被探测的依赖
type Pinger interface {
	Health(ctx context.Context) error
}

// ProviderPinger 远端邮件服务商
type ProviderPinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
//
// 存活检查只看本地持久化存储；就绪检查额外要求远端服务商可达。
type HealthChecker struct {
	health   healthcheck.Handler
	store    Pinger
	provider ProviderPinger
	logger   *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store Pinger, provider ProviderPinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:   healthcheck.NewHandler(),
		store:    store,
		provider: provider,
		logger:   logger,
	}

	hc.addChecks()
	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("storage", hc.checkStore)
	if hc.provider != nil {
		hc.health.AddReadinessCheck("provider", healthcheck.Async(hc.checkProvider, 30*time.Second))
	}
}

func (hc *HealthChecker) checkStore() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	if err := hc.store.Health(ctx); err != nil {
		hc.logger.Warn("storage health check failed", zap.Error(err))
		return err
	}
	return nil
}

func (hc *HealthChecker) checkProvider() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	if err := hc.provider.Ping(ctx); err != nil {
		hc.logger.Warn("provider health check failed", zap.Error(err))
		return err
	}
	return nil
}

// Handler 返回健康检查处理器，提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}

// CheckHealth 执行一次存活检查，返回各项结果
func (hc *HealthChecker) CheckHealth() map[string]string {
	results := map[string]string{
		"storage":   "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := hc.checkStore(); err != nil {
		results["storage"] = "ERROR: " + err.Error()
	}
	return results
}
