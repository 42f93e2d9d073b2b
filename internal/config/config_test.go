package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var envKeys = []string{
	"DROPWIN_SERVER_HOST",
	"DROPWIN_SERVER_PORT",
	"DROPWIN_PROVIDER_BASE_URL",
	"DROPWIN_PROVIDER_TIMEOUT",
	"DROPWIN_PROVIDER_DOMAINS",
	"DROPWIN_PROVIDER_RATE_LIMIT",
	"DROPWIN_SYNC_POLL_INTERVAL",
	"DROPWIN_SYNC_AUTO_SELECT",
	"DROPWIN_STORAGE_BACKEND",
	"DROPWIN_STORAGE_PATH",
	"DROPWIN_STORAGE_KEY",
	"DROPWIN_CORS_ALLOWED_ORIGINS",
	"DROPWIN_LOG_LEVEL",
	"DROPWIN_LOG_DEVELOPMENT",
	"DROPWIN_DATABASE_TYPE",
	"DROPWIN_DATABASE_DSN",
	"DROPWIN_REDIS_ADDRESS",
	"DROPWIN_REDIS_DB",
}

// clearEnv 清除相关环境变量，测试结束后自动恢复
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		clearEnv(t)

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "https://www.1secmail.com/api/v1/", cfg.Provider.BaseURL)
		assert.Equal(t, 10*time.Second, cfg.Provider.Timeout)
		assert.Equal(t, DefaultProviderDomains, cfg.Provider.Domains)
		assert.Equal(t, 3*time.Second, cfg.Sync.PollInterval)
		assert.True(t, cfg.Sync.AutoSelect)
		assert.Equal(t, 5, cfg.Sync.MaxGenerateAttempts)
		assert.Equal(t, StorageFile, cfg.Storage.Backend)
		assert.Equal(t, "dropwin:mailboxes", cfg.Storage.Key)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPWIN_SERVER_HOST", "127.0.0.1")
		t.Setenv("DROPWIN_SERVER_PORT", "9090")
		t.Setenv("DROPWIN_PROVIDER_DOMAINS", "1SECMAIL.com, kzccv.com")
		t.Setenv("DROPWIN_PROVIDER_TIMEOUT", "2s")
		t.Setenv("DROPWIN_SYNC_POLL_INTERVAL", "500ms")
		t.Setenv("DROPWIN_SYNC_AUTO_SELECT", "false")
		t.Setenv("DROPWIN_STORAGE_BACKEND", "Redis")
		t.Setenv("DROPWIN_REDIS_ADDRESS", "redis:6379")
		t.Setenv("DROPWIN_REDIS_DB", "2")
		t.Setenv("DROPWIN_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
		t.Setenv("DROPWIN_LOG_LEVEL", "debug")
		t.Setenv("DROPWIN_LOG_DEVELOPMENT", "true")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, []string{"1secmail.com", "kzccv.com"}, cfg.Provider.Domains)
		assert.Equal(t, 2*time.Second, cfg.Provider.Timeout)
		assert.Equal(t, 500*time.Millisecond, cfg.Sync.PollInterval)
		assert.False(t, cfg.Sync.AutoSelect)
		assert.Equal(t, StorageRedis, cfg.Storage.Backend)
		assert.Equal(t, "redis:6379", cfg.Redis.Address)
		assert.Equal(t, 2, cfg.Redis.DB)
		assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.Development)
	})

	t.Run("无效的轮询间隔失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPWIN_SYNC_POLL_INTERVAL", "soon")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid sync.poll_interval")
	})

	t.Run("非正数超时失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPWIN_PROVIDER_TIMEOUT", "0s")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid provider.timeout")
	})

	t.Run("空的域名列表失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPWIN_PROVIDER_DOMAINS", " , , ")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "provider.domains must not be empty")
	})

	t.Run("未知存储后端失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPWIN_STORAGE_BACKEND", "etcd")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "unsupported storage.backend")
	})

	t.Run("SQL后端缺少DSN失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPWIN_STORAGE_BACKEND", "sql")
		t.Setenv("DROPWIN_DATABASE_TYPE", "mysql")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "database.dsn is required")
	})

	t.Run("SQL后端不支持的数据库类型失败", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DROPWIN_STORAGE_BACKEND", "sql")
		t.Setenv("DROPWIN_DATABASE_TYPE", "oracle")
		t.Setenv("DROPWIN_DATABASE_DSN", "whatever")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "unsupported database.type")
	})
}

func TestParseDomains(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "单个域名",
			input:    "1secmail.com",
			expected: []string{"1secmail.com"},
		},
		{
			name:     "带空格的域名",
			input:    " 1secmail.com , kzccv.com ",
			expected: []string{"1secmail.com", "kzccv.com"},
		},
		{
			name:     "大写域名转小写",
			input:    "1SECMAIL.COM,Qiott.Com",
			expected: []string{"1secmail.com", "qiott.com"},
		},
		{
			name:     "空字符串",
			input:    "",
			expected: []string{},
		},
		{
			name:     "混合空值",
			input:    "1secmail.com,,wuuvo.com,",
			expected: []string{"1secmail.com", "wuuvo.com"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, parseDomains(tc.input))
		})
	}
}
