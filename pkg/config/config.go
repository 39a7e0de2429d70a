// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	Timeout string `mapstructure:"timeout"`
}

// BrokerConfig 下游服务代理配置（time / memory）
type BrokerConfig struct {
	Enabled         bool                     `mapstructure:"enabled"`
	FallbackEnabled bool                     `mapstructure:"fallback_enabled"`
	ClientID        string                   `mapstructure:"client_id"`
	DefaultTimezone string                   `mapstructure:"default_timezone"`
	Cache           BrokerCacheConfig        `mapstructure:"cache"`
	Services        map[string]ServiceConfig `mapstructure:"services"`
}

// BrokerCacheConfig 响应缓存 TTL，如 "30s"
type BrokerCacheConfig struct {
	TimeTTL   string `mapstructure:"time_ttl"`
	MemoryTTL string `mapstructure:"memory_ttl"`
}

// ServiceConfig 单个下游服务配置
type ServiceConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	Timeout      string  `mapstructure:"timeout"`     // 单次请求超时，如 "5s"
	MaxRetries   *int    `mapstructure:"max_retries"` // 不含首次；未配置时默认 2
	RetryDelay   string  `mapstructure:"retry_delay"` // 退避基数，如 "500ms"
	Fallback     *bool   `mapstructure:"fallback"`    // 未配置时默认 true
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	Burst        int     `mapstructure:"burst"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Metadata MetadataConfig `mapstructure:"metadata"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// MetadataConfig 关系存储配置（memory | sqlite | postgres）
type MetadataConfig struct {
	Type     string `mapstructure:"type"`
	DSN      string `mapstructure:"dsn"`
	PoolSize int    `mapstructure:"pool_size"`
}

// CacheConfig 代理响应缓存配置（memory | redis）
type CacheConfig struct {
	Type      string `mapstructure:"type"`
	Addr      string `mapstructure:"addr"`
	DB        int    `mapstructure:"db"`
	Password  string `mapstructure:"password"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SecretsConfig 凭证解析配置
type SecretsConfig struct {
	Provider  string      `mapstructure:"provider"` // memory | env | vault
	KeyPrefix string      `mapstructure:"key_prefix"`
	Vault     VaultConfig `mapstructure:"vault"`
}

// VaultConfig Vault 连接配置
type VaultConfig struct {
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	PathPrefix string `mapstructure:"path_prefix"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Protocol       string `mapstructure:"protocol"` // http（默认）| grpc
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetDefault("broker.enabled", true)
	v.SetDefault("broker.fallback_enabled", true)
	v.SetDefault("broker.client_id", "medqa-broker-client")
	v.SetDefault("broker.default_timezone", "Asia/Shanghai")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)

	if err := config.Broker.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadAPIConfig 加载 API 配置；MEDQA_CONFIG 可覆盖默认路径 configs/api.yaml
func LoadAPIConfig() (*Config, error) {
	path := os.Getenv("MEDQA_CONFIG")
	if path == "" {
		path = "configs/api.yaml"
	}
	return LoadConfig(path)
}

// replaceEnvVars 替换配置中的 ${ENV} 占位
func replaceEnvVars(config *Config) {
	config.Storage.Metadata.DSN = expandEnv(config.Storage.Metadata.DSN)
	config.Storage.Cache.Password = expandEnv(config.Storage.Cache.Password)
	config.Secrets.Vault.Token = expandEnv(config.Secrets.Vault.Token)
	for name, svc := range config.Broker.Services {
		svc.Endpoint = expandEnv(svc.Endpoint)
		config.Broker.Services[name] = svc
	}
}

func expandEnv(value string) string {
	if !strings.HasPrefix(value, "$") {
		return value
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(value, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return value
}

// ParseDuration 解析时长字符串，空或非法时返回 def
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
