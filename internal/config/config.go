package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultProviderDomains 是 1secmail 支持的域名
var DefaultProviderDomains = []string{
	"1secmail.com",
	"1secmail.org",
	"1secmail.net",
	"kzccv.com",
	"qiott.com",
	"wuuvo.com",
	"icznn.com",
}

// 支持的持久化后端
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StorageSQL      = "sql"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host      string // 监听地址，默认 "0.0.0.0"
	Port      int    // 监听端口，默认 3000
	StaticDir string // 前端静态文件目录，留空表示不提供
}

// ProviderConfig 定义远端邮件服务商的访问配置
type ProviderConfig struct {
	BaseURL       string        // 服务商 API 地址
	Timeout       time.Duration // 单次请求超时，默认 10s
	Domains       []string      // 可生成邮箱的域名列表
	RateLimit     float64       // 每秒最多请求数
	Burst         int           // 令牌桶容量
	ReadCacheTTL  time.Duration // 单封邮件缓存时间
	ReadCacheSize int           // 单封邮件缓存条目上限
}

// SyncConfig 定义同步引擎的轮询配置
type SyncConfig struct {
	PollInterval        time.Duration // 轮询间隔，默认 3s
	AutoSelect          bool          // 启动时自动选中最新邮箱
	MaxGenerateAttempts int           // 生成地址冲突时的最大重试次数
}

// StorageConfig 定义邮箱集合的持久化配置
type StorageConfig struct {
	Backend string // memory / file / redis / sql / postgres / sqlite
	Path    string // file 后端目录或 sqlite 数据库文件
	Key     string // 邮箱集合的存储键
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
	MaxSize     int    // 单个日志文件大小（MB）
	MaxBackups  int
	MaxAge      int // 天
	Compress    bool
}

// DatabaseConfig 定义数据库连接配置（sql 与 postgres 后端使用）
type DatabaseConfig struct {
	Type            string // "mysql" 或 "postgres"
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig 定义 Redis 配置（redis 后端使用）
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// Config 是系统配置的根结构体
type Config struct {
	Server   ServerConfig
	Provider ProviderConfig
	Sync     SyncConfig
	Storage  StorageConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: DROPWIN_
// 例如: DROPWIN_SERVER_PORT, DROPWIN_SYNC_POLL_INTERVAL
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("dropwin")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.static_dir", "")
	v.SetDefault("provider.base_url", "https://www.1secmail.com/api/v1/")
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("provider.domains", strings.Join(DefaultProviderDomains, ","))
	v.SetDefault("provider.rate_limit", 5.0)
	v.SetDefault("provider.burst", 10)
	v.SetDefault("provider.read_cache_ttl", "5m")
	v.SetDefault("provider.read_cache_size", 256)
	v.SetDefault("sync.poll_interval", "3s")
	v.SetDefault("sync.auto_select", true)
	v.SetDefault("sync.max_generate_attempts", 5)
	v.SetDefault("storage.backend", StorageFile)
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.key", "dropwin:mailboxes")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	timeout, err := time.ParseDuration(v.GetString("provider.timeout"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid provider.timeout: %q", v.GetString("provider.timeout"))
	}

	pollInterval, err := time.ParseDuration(v.GetString("sync.poll_interval"))
	if err != nil || pollInterval <= 0 {
		return nil, fmt.Errorf("invalid sync.poll_interval: %q", v.GetString("sync.poll_interval"))
	}

	readCacheTTL, err := time.ParseDuration(v.GetString("provider.read_cache_ttl"))
	if err != nil {
		readCacheTTL = 5 * time.Minute
	}

	domainList := parseDomains(v.GetString("provider.domains"))
	if len(domainList) == 0 {
		return nil, fmt.Errorf("provider.domains must not be empty")
	}

	baseURL := strings.TrimSpace(v.GetString("provider.base_url"))
	if baseURL == "" {
		return nil, fmt.Errorf("provider.base_url must not be empty")
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("storage.backend")))
	switch backend {
	case StorageMemory, StorageFile, StorageRedis, StorageSQL, StoragePostgres, StorageSQLite:
	default:
		return nil, fmt.Errorf("unsupported storage.backend: %q", backend)
	}

	dbType := strings.ToLower(v.GetString("database.type"))
	if backend == StorageSQL && dbType != "mysql" && dbType != "postgres" {
		return nil, fmt.Errorf("unsupported database.type: %q (supported: mysql, postgres)", dbType)
	}
	if (backend == StorageSQL || backend == StoragePostgres) && v.GetString("database.dsn") == "" {
		return nil, fmt.Errorf("database.dsn is required for storage backend %q", backend)
	}

	rateLimit := v.GetFloat64("provider.rate_limit")
	if rateLimit <= 0 {
		rateLimit = 5
	}
	burst := v.GetInt("provider.burst")
	if burst <= 0 {
		burst = 1
	}

	maxAttempts := v.GetInt("sync.max_generate_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	connMaxLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:      v.GetString("server.host"),
			Port:      v.GetInt("server.port"),
			StaticDir: v.GetString("server.static_dir"),
		},
		Provider: ProviderConfig{
			BaseURL:       baseURL,
			Timeout:       timeout,
			Domains:       domainList,
			RateLimit:     rateLimit,
			Burst:         burst,
			ReadCacheTTL:  readCacheTTL,
			ReadCacheSize: v.GetInt("provider.read_cache_size"),
		},
		Sync: SyncConfig{
			PollInterval:        pollInterval,
			AutoSelect:          v.GetBool("sync.auto_select"),
			MaxGenerateAttempts: maxAttempts,
		},
		Storage: StorageConfig{
			Backend: backend,
			Path:    v.GetString("storage.path"),
			Key:     v.GetString("storage.key"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
			MaxSize:     v.GetInt("log.max_size"),
			MaxBackups:  v.GetInt("log.max_backups"),
			MaxAge:      v.GetInt("log.max_age"),
			Compress:    v.GetBool("log.compress"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// parseList 将逗号分隔的字符串解析为字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载当前目录或父目录的 .env 文件
//
// 文件不存在时静默跳过；已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
