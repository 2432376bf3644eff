// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
//
// 配置路径确定策略：
//  1. --config 命令行参数（显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/labflow-admin/
//     - dev/test → ./configs/
package config

import (
	"time"

	"labflow-admin/pkg/logging"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	MinIO      MinIOConfig      `yaml:"minio"`
	RunManager RunManagerConfig `yaml:"run_manager"`
	Timeline   TimelineConfig   `yaml:"timeline"`
	Log        logging.Config   `yaml:"log"`
}

// ServerConfig API Server 配置
type ServerConfig struct {
	Port        string   `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	// ValidateRequests 按 OpenAPI 契约校验请求
	ValidateRequests bool `yaml:"validate_requests"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite", "postgres", "mongodb" 或 "memory"（默认 sqlite）
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从环境变量读取（DB_PASSWORD / MONGO_ROOT_PASSWORD）
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
	// RunStateTTL run 状态缓存过期时间
	RunStateTTL time.Duration `yaml:"run_state_ttl"`
}

// MinIOConfig MinIO 对象存储配置（工作流导出/导入）
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000，为空表示禁用
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// Enabled 是否配置了对象存储
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

// RunManagerConfig 外部 run manager 配置
type RunManagerConfig struct {
	URL     string        `yaml:"url"`     // 例如 http://localhost:8090/api/v1
	Timeout time.Duration `yaml:"timeout"` // 单个控制命令超时
	// PollInterval 未收到事件时轮询 run 状态的间隔
	PollInterval time.Duration `yaml:"poll_interval"`
}

// TimelineConfig 实时时间线配置
type TimelineConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	TickSize     float64       `yaml:"tick_size"` // 每个 tick 推进的秒数
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "sqlite", "postgres" 或 "mongodb"
	DatabaseURL    string
	DatabaseDBName string // MongoDB 数据库名称
	RedisURL       string
	RunStateTTL    time.Duration
	APIPort        string
	Server         ServerConfig
	MinIO          MinIOConfig
	RunManager     RunManagerConfig
	Timeline       TimelineConfig
	Log            logging.Config
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
