package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 统一配置结构
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Security SecurityConfig `yaml:"security"`
	Cache    CacheConfig    `yaml:"cache"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env  string `yaml:"env"` // dev, staging, production
	Port string `yaml:"port"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // 为空时只输出到 stdout
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWTSecret          string   `yaml:"jwt_secret"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// CacheConfig 变更日志缓存写回策略配置
type CacheConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	MaxBatches    int           `yaml:"max_batches"`
}

// GlobalConfig 全局配置实例
var GlobalConfig *Config

// LoadConfig 从环境变量加载配置，CONFIG_FILE 指定的 YAML 文件优先生效
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Env:  getEnv("ENV", "dev"),
			Port: getEnv("PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/doscenario"),
			MaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 10)),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
		Security: SecurityConfig{
			JWTSecret:          getEnv("PRIVATE_KEY", ""),
			CORSAllowedOrigins: parseStringList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		},
		Cache: CacheConfig{
			SweepInterval: time.Duration(getEnvInt("CACHE_SWEEP_INTERVAL_MS", 2000)) * time.Millisecond,
			StaleAfter:    time.Duration(getEnvInt("CACHE_STALE_AFTER_MS", 30000)) * time.Millisecond,
			MaxBatches:    getEnvInt("CACHE_MAX_BATCHES", 100),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFile(cfg, path); err != nil {
			return nil, err
		}
	}

	GlobalConfig = cfg
	return cfg, nil
}

// overlayFile 用 YAML 文件中的非零值覆盖已加载的配置
func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ValidateConfig 验证配置的有效性
func ValidateConfig(cfg *Config) error {
	var errors []string

	// 1. JWT Secret 验证
	if cfg.Security.JWTSecret == "" {
		errors = append(errors, "PRIVATE_KEY is required")
	} else if len(cfg.Security.JWTSecret) < 32 && cfg.Server.Env == "production" {
		errors = append(errors, "PRIVATE_KEY must be at least 32 characters long in production")
	}

	// 2. 数据库验证
	if cfg.Database.URL == "" {
		errors = append(errors, "DATABASE_URL is required")
	}

	// 3. 端口验证
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 4. 日志级别验证
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	// 5. 环境验证
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	// 6. 缓存参数验证
	if cfg.Cache.SweepInterval <= 0 {
		errors = append(errors, "CACHE_SWEEP_INTERVAL_MS must be positive")
	}
	if cfg.Cache.StaleAfter <= 0 {
		errors = append(errors, "CACHE_STALE_AFTER_MS must be positive")
	}
	if cfg.Cache.MaxBatches <= 0 {
		errors = append(errors, "CACHE_MAX_BATCHES must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsDevelopment 判断是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "dev" || c.Server.Env == "development"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  Database:
    - URL: %s
    - Max Conns: %d
  Logging:
    - Level: %s
    - File: %s
  Security:
    - JWT Secret: %s
    - CORS Origins: %v
  Cache:
    - Sweep Interval: %s
    - Stale After: %s
    - Max Batches: %d`,
		c.Server.Env,
		c.Server.Port,
		maskDatabaseURL(c.Database.URL),
		c.Database.MaxConns,
		c.Log.Level,
		c.Log.File,
		maskSecret(c.Security.JWTSecret),
		c.Security.CORSAllowedOrigins,
		c.Cache.SweepInterval,
		c.Cache.StaleAfter,
		c.Cache.MaxBatches,
	)
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取整数环境变量，解析失败时返回默认值
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// parseStringList 解析逗号分隔的字符串列表
func parseStringList(value string) []string {
	if value == "" {
		return []string{}
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

// maskDatabaseURL 隐藏连接串中的口令部分
func maskDatabaseURL(url string) string {
	if at := strings.Index(url, "@"); at > 0 {
		if scheme := strings.Index(url, "://"); scheme > 0 && scheme+3 < at {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
