// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// 各提供者的默认模型
var defaultModels = map[string]string{
	"openai": "gpt-4o-mini",
	"google": "gemini-2.5-flash",
	"ollama": "llama3.2",
}

// 各提供者的凭据回退环境变量
var credentialEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"google": "GEMINI_API_KEY",
}

// Config 存储应用配置
type Config struct {
	// 基础配置
	Port      string `envconfig:"PORT" default:"8080"`
	DebugMode bool   `envconfig:"DEBUG_MODE" default:"false"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// LLM相关配置
	LLMProvider    string        `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMAPIKey      string        `envconfig:"LLM_API_KEY"`
	LLMModel       string        `envconfig:"LLM_MODEL"`
	LLMBaseURL     string        `envconfig:"LLM_BASE_URL"`
	LLMTemperature float32       `envconfig:"LLM_TEMPERATURE" default:"0"`
	LLMMaxTokens   int           `envconfig:"LLM_MAX_TOKENS" default:"0"`
	MaxDuration    time.Duration `envconfig:"MAX_DURATION" default:"30s"`

	// HTTP 与可观测性
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	MetricsEnabled     bool     `envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled     bool     `envconfig:"TRACING_ENABLED" default:"false"`
	TracingEndpoint    string   `envconfig:"TRACING_ENDPOINT" default:"localhost:4317"`
	TracingSampleRate  float64  `envconfig:"TRACING_SAMPLE_RATE" default:"1"`
}

// Load 从 .env 文件（可选）和环境变量加载配置
func Load() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMAPIKey == "" {
		if key, ok := credentialEnv[cfg.LLMProvider]; ok {
			cfg.LLMAPIKey = getEnv(key, "")
		}
	}
	if cfg.LLMModel == "" {
		cfg.LLMModel = defaultModels[cfg.LLMProvider]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置的基本约束
func (c *Config) Validate() error {
	if c.LLMProvider == "" {
		return fmt.Errorf("LLM_PROVIDER 不能为空")
	}
	if c.LLMModel == "" {
		return fmt.Errorf("提供者 %s 没有默认模型，请设置 LLM_MODEL", c.LLMProvider)
	}
	if c.MaxDuration <= 0 {
		return fmt.Errorf("MAX_DURATION 必须为正数，当前为 %s", c.MaxDuration)
	}
	if c.TracingSampleRate < 0 || c.TracingSampleRate > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATE 必须在 0 到 1 之间")
	}
	return nil
}

// MissingCredential 需要凭据的提供者未配置 API 密钥
func (c *Config) MissingCredential() bool {
	_, needsKey := credentialEnv[c.LLMProvider]
	return needsKey && c.LLMAPIKey == ""
}

// LLMConfig 传给 llm.Provider.Initialize 的配置
func (c *Config) LLMConfig() map[string]string {
	cfg := map[string]string{
		"api_key":  c.LLMAPIKey,
		"model":    c.LLMModel,
		"base_url": c.LLMBaseURL,
	}
	if c.LLMTemperature > 0 {
		cfg["temperature"] = strconv.FormatFloat(float64(c.LLMTemperature), 'f', -1, 32)
	}
	if c.LLMMaxTokens > 0 {
		cfg["max_tokens"] = strconv.Itoa(c.LLMMaxTokens)
	}
	return cfg
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
