package service

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"dropwin/backend/internal/domain"
)

// DefaultDomain 在域名列表为空时使用
const DefaultDomain = "1secmail.com"

var (
	usernamePrefixes = []string{"drop", "temp", "quick", "fast", "safe", "anon", "win", "mail", "box", "secure"}
	usernameSuffixes = []string{"mail", "post", "box", "drop", "win", "safe", "fast", "temp", "user", "test"}
)

// 用户名数字后缀范围 [minUsernameNumber, maxUsernameNumber]
const (
	minUsernameNumber = 1000
	maxUsernameNumber = 9999
)

// Generator 生成候选邮箱地址
type Generator interface {
	Generate() domain.Address
}

// AddressGenerator 按 前缀+后缀+四位数字 的规则生成地址，例如 quickmail4582@1secmail.com
type AddressGenerator struct {
	mu      sync.Mutex
	random  *rand.Rand
	domains []string
	logger  *zap.Logger
}

// GeneratorOption 生成器可选配置
type GeneratorOption func(*AddressGenerator)

// WithRandSource 指定随机源，测试时使用固定种子
func WithRandSource(src rand.Source) GeneratorOption {
	return func(g *AddressGenerator) { g.random = rand.New(src) }
}

// WithGeneratorLogger 注入日志
func WithGeneratorLogger(logger *zap.Logger) GeneratorOption {
	return func(g *AddressGenerator) { g.logger = logger }
}

// NewAddressGenerator 创建地址生成器
func NewAddressGenerator(domains []string, opts ...GeneratorOption) *AddressGenerator {
	g := &AddressGenerator{
		random:  rand.New(rand.NewSource(time.Now().UnixNano())),
		domains: slices.Clone(domains),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate 生成一个新地址，不检查是否与已有邮箱冲突
func (g *AddressGenerator) Generate() domain.Address {
	g.mu.Lock()
	defer g.mu.Unlock()

	prefix := usernamePrefixes[g.random.Intn(len(usernamePrefixes))]
	suffix := usernameSuffixes[g.random.Intn(len(usernameSuffixes))]
	number := g.random.Intn(maxUsernameNumber-minUsernameNumber+1) + minUsernameNumber

	return domain.NewAddress(fmt.Sprintf("%s%s%d", prefix, suffix, number), g.pickDomainLocked())
}

// Fallback 使用默认域名生成地址
func (g *AddressGenerator) Fallback() domain.Address {
	addr := g.Generate()
	return domain.NewAddress(addr.Username, g.primaryDomain())
}

// Domains 返回可用域名列表的副本
func (g *AddressGenerator) Domains() []string {
	if len(g.domains) == 0 {
		return []string{DefaultDomain}
	}
	return slices.Clone(g.domains)
}

func (g *AddressGenerator) pickDomainLocked() string {
	if len(g.domains) == 0 {
		g.logger.Warn("no provider domains configured, using default", zap.String("domain", DefaultDomain))
		return DefaultDomain
	}
	return g.domains[g.random.Intn(len(g.domains))]
}

func (g *AddressGenerator) primaryDomain() string {
	if len(g.domains) == 0 {
		return DefaultDomain
	}
	return g.domains[0]
}
