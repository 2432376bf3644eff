package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"labflow-admin/pkg/logging"
)

// Load 加载配置
//  1. 加载 .env.{env}（敏感信息）
//  2. 根据 APP_ENV 加载 {env}.yaml
//  3. 环境变量覆盖，构建最终配置
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)
	return build(env, yamlCfg)
}

// LoadFile 从指定文件加载配置（测试与工具使用，不读取 .env）
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaultYAMLConfig()
	if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
		return nil, err
	}
	cfg.loadedFrom = path
	return build(parseEnv(getEnv("APP_ENV", "dev")), cfg), nil
}

func build(env Environment, yamlCfg *yamlConfigInternal) *Config {
	db := yamlCfg.Database
	db.Password = firstEnv("DB_PASSWORD", "MONGO_ROOT_PASSWORD")

	redisCfg := yamlCfg.Redis
	redisCfg.Password = os.Getenv("REDIS_PASSWORD")

	minioCfg := yamlCfg.MinIO
	minioCfg.AccessKey = firstEnv("MINIO_ROOT_USER", "MINIO_ACCESS_KEY")
	minioCfg.SecretKey = firstEnv("MINIO_ROOT_PASSWORD", "MINIO_SECRET_KEY")
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		minioCfg.Endpoint = v
	}

	databaseURL := getEnv("DATABASE_URL", buildDatabaseURL(db, db.Password))

	cfg := &Config{
		Env:            env,
		DatabaseDriver: detectDatabaseDriver(db.Driver, databaseURL),
		DatabaseURL:    databaseURL,
		DatabaseDBName: getEnv("MONGO_DB_NAME", db.Name),
		RedisURL:       getEnv("REDIS_URL", buildRedisURL(redisCfg)),
		RunStateTTL:    redisCfg.RunStateTTL,
		APIPort:        getEnv("API_PORT", yamlCfg.Server.Port),
		Server:         yamlCfg.Server,
		MinIO:          minioCfg,
		RunManager:     yamlCfg.RunManager,
		Timeline:       yamlCfg.Timeline,
		Log:            yamlCfg.Log,
		ConfigFilePath: yamlCfg.loadedFrom,
	}

	if v := os.Getenv("RUN_MANAGER_URL"); v != "" {
		cfg.RunManager.URL = v
	}
	if v := os.Getenv("TIMELINE_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeline.TickInterval = d
		} else {
			log.Printf("[config] invalid TIMELINE_TICK_INTERVAL %q: %v", v, err)
		}
	}
	if v := os.Getenv("TIMELINE_TICK_SIZE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Timeline.TickSize = f
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	cfg.validate()
	return cfg
}

func defaultYAMLConfig() *yamlConfigInternal {
	return &yamlConfigInternal{YAMLConfig: YAMLConfig{
		Server:   ServerConfig{Port: "8080", CORSOrigins: []string{"*"}},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, User: "labflow", Name: "labflow_admin", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0, RunStateTTL: 24 * time.Hour},
		MinIO:    MinIOConfig{Bucket: "labflow-workflows"},
		RunManager: RunManagerConfig{
			URL:          "http://localhost:8090/api/v1",
			Timeout:      10 * time.Second,
			PollInterval: 5 * time.Second,
		},
		Timeline: TimelineConfig{TickInterval: time.Second, TickSize: 1},
		Log:      logging.Config{Level: "info", Format: "text", Output: "stdout"},
	}}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := defaultYAMLConfig()

	for _, name := range []string{"common.yaml", string(env) + ".yaml"} {
		path := findFile(name)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
			log.Printf("[config] failed to parse %s: %v", path, err)
			continue
		}
		cfg.loadedFrom = path
	}
	return cfg
}

// validate 填充缺省值
func (c *Config) validate() {
	if c.APIPort == "" {
		c.APIPort = "8080"
	}
	c.APIPort = strings.TrimPrefix(c.APIPort, ":")
	if c.RunStateTTL <= 0 {
		c.RunStateTTL = 24 * time.Hour
	}
	if c.RunManager.Timeout <= 0 {
		c.RunManager.Timeout = 10 * time.Second
	}
	if c.RunManager.PollInterval <= 0 {
		c.RunManager.PollInterval = 5 * time.Second
	}
	if c.Timeline.TickInterval <= 0 {
		c.Timeline.TickInterval = time.Second
	}
	if c.Timeline.TickSize <= 0 {
		c.Timeline.TickSize = 1
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = "labflow-workflows"
	}
	if c.DatabaseDBName == "" {
		c.DatabaseDBName = "labflow_admin"
	}
}
