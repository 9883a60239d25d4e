// config/config.go - 配置管理文件
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog/log"
)

var (
	Conf *AppConfig
	once sync.Once
	k    *koanf.Koanf
)

// 上传块大小必须是该粒度的整数倍
const uploadGranularity = 256 * 1024

const defaultMaxRetries = 2

// AppConfig 应用配置结构
type AppConfig struct {
	Server   ServerConfig   `koanf:"server"`
	GRPC     GRPCConfig     `koanf:"grpc"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Minio    MinioConfig    `koanf:"minio"`
	AMQP     AMQPConfig     `koanf:"amqp"`
	Log      LogConfig      `koanf:"log"`
	JWT      JWTConfig      `koanf:"jwt"`
	Gemini   GeminiConfig   `koanf:"gemini"`
	Pipeline PipelineConfig `koanf:"pipeline"`
}

type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Mode         string        `koanf:"mode"` // debug, release
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	FrontendURL  string        `koanf:"frontend_url"` // CORS 允许的来源
}

type GRPCConfig struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port"`
}

type DatabaseConfig struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	Username     string `koanf:"username"`
	Password     string `koanf:"password"`
	Database     string `koanf:"database"`
	SSLMode      bool   `koanf:"sslmode"`
	LogLevel     string `koanf:"log_level"` // 数据库日志级别
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	MaxLifetime  int    `koanf:"max_lifetime"` // 秒
}

type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	PoolSize int    `koanf:"pool_size"`
}

type MinioConfig struct {
	Endpoint     string `koanf:"endpoint"`
	AccessKey    string `koanf:"access_key"`
	SecretKey    string `koanf:"secret_key"`
	Bucket       string `koanf:"bucket"`
	UseSSL       bool   `koanf:"use_ssl"`
	CreateBucket bool   `koanf:"create_bucket"`
	Prefix       string `koanf:"prefix"` // 分块对象 key 前缀
}

type AMQPConfig struct {
	Enabled    bool   `koanf:"enabled"`
	URL        string `koanf:"url"`
	Exchange   string `koanf:"exchange"`
	RoutingKey string `koanf:"routing_key"`
	Queue      string `koanf:"queue"`
	Prefetch   int    `koanf:"prefetch"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type JWTConfig struct {
	Secret string `koanf:"secret"` // 为空时不启用 API 认证
}

// GeminiConfig 推理后端配置
type GeminiConfig struct {
	BaseURL         string          `koanf:"base_url"`
	APIKey          string          `koanf:"api_key"`
	UploadBlockSize int             `koanf:"upload_block_size"` // 字节
	PollInterval    time.Duration   `koanf:"poll_interval"`
	PollMaxAttempts int             `koanf:"poll_max_attempts"`
	MaxRetries      int             `koanf:"max_retries"`
	RetryBaseDelay  time.Duration   `koanf:"retry_base_delay"`
	RequestTimeout  time.Duration   `koanf:"request_timeout"`
	FallbackChains  []FallbackChain `koanf:"fallback_chains"`
}

// FallbackChain 模型降级链。模型名包含 "."，不能作为 koanf 的 key，因此使用列表
type FallbackChain struct {
	Model string   `koanf:"model"`
	Chain []string `koanf:"chain"`
}

// PipelineConfig 任务流水线配置
type PipelineConfig struct {
	ChunkStore        string        `koanf:"chunk_store"`  // redis, minio, memory
	ResultStore       string        `koanf:"result_store"` // redis, postgres, memory
	Ledger            string        `koanf:"ledger"`       // postgres, memory
	MaxConcurrentJobs int           `koanf:"max_concurrent_jobs"`
	ResultTTL         time.Duration `koanf:"result_ttl"`
	ChunkTTL          time.Duration `koanf:"chunk_ttl"`
}

// Load 加载配置文件
func Load(configPath string) error {
	var err error
	once.Do(func() {
		// 1. 加载 .env 文件到环境变量
		if envErr := godotenv.Load(); envErr != nil {
			log.Debug().Err(envErr).Msg("未找到 .env 文件，使用系统环境变量")
		}

		k = koanf.New(".")

		// 2. 加载配置文件
		if err = k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			err = fmt.Errorf("加载配置文件失败: %w", err)
			return
		}

		// 3. 加载标准环境变量（APP_ 前缀）
		// 嵌套 key 使用双下划线，例如：APP_GEMINI__API_KEY -> gemini.api_key
		if err = k.Load(env.Provider("APP_", ".", envKey), nil); err != nil {
			log.Warn().Err(err).Msg("加载环境变量失败")
			err = nil
		}

		// 4. 加载简化的环境变量名
		loadCustomEnvVars(k)

		// 5. 解析到结构体
		var conf *AppConfig
		if conf, err = unmarshal(k); err != nil {
			return
		}

		// 6. 验证配置
		if err = validateConfig(conf); err != nil {
			return
		}
		Conf = conf
	})

	return err
}

// envKey APP_GEMINI__API_KEY -> gemini.api_key
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "APP_"))
	return strings.ReplaceAll(s, "__", ".")
}

func unmarshal(k *koanf.Koanf) (*AppConfig, error) {
	conf := &AppConfig{}
	if err := k.Unmarshal("", conf); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	applyDefaults(conf)
	// max_retries 显式配置为 0 表示不重试，只有未配置时才使用默认值
	if !k.Exists("gemini.max_retries") {
		conf.Gemini.MaxRetries = defaultMaxRetries
	}
	return conf, nil
}

// loadCustomEnvVars 加载自定义环境变量名（简化命名）
func loadCustomEnvVars(k *koanf.Koanf) {
	mapping := map[string]string{
		"GEMINI_API_KEY":   "gemini.api_key",
		"GEMINI_BASE_URL":  "gemini.base_url",
		"DB_HOST":          "database.host",
		"DB_PORT":          "database.port",
		"DB_USERNAME":      "database.username",
		"DB_PASSWORD":      "database.password",
		"DB_NAME":          "database.database",
		"REDIS_HOST":       "redis.host",
		"REDIS_PORT":       "redis.port",
		"REDIS_PASSWORD":   "redis.password",
		"MINIO_ENDPOINT":   "minio.endpoint",
		"MINIO_ACCESS_KEY": "minio.access_key",
		"MINIO_SECRET_KEY": "minio.secret_key",
		"MINIO_BUCKET":     "minio.bucket",
		"AMQP_URL":         "amqp.url",
		"JWT_SECRET":       "jwt.secret",
		"LOG_LEVEL":        "log.level",
		"FRONTEND_URL":     "server.frontend_url",
	}
	for name, key := range mapping {
		if v := os.Getenv(name); v != "" {
			_ = k.Set(key, v)
		}
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		_ = k.Set("database.sslmode", v == "true")
	}
	if v := os.Getenv("AMQP_ENABLED"); v != "" {
		_ = k.Set("amqp.enabled", v == "true")
	}
}

// applyDefaults 填充未配置项
func applyDefaults(conf *AppConfig) {
	if conf.Server.Port == 0 {
		conf.Server.Port = 8080
	}
	if conf.Server.FrontendURL == "" {
		conf.Server.FrontendURL = "http://localhost:5173"
	}
	if conf.GRPC.Port == 0 {
		conf.GRPC.Port = 9090
	}
	if conf.Log.Level == "" {
		conf.Log.Level = "info"
	}
	if conf.Log.Format == "" {
		conf.Log.Format = "json"
	}

	g := &conf.Gemini
	if g.BaseURL == "" {
		g.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if g.UploadBlockSize == 0 {
		g.UploadBlockSize = 8 * 1024 * 1024
	}
	if g.PollInterval == 0 {
		g.PollInterval = 2 * time.Second
	}
	if g.PollMaxAttempts == 0 {
		g.PollMaxAttempts = 60
	}
	if g.RetryBaseDelay == 0 {
		g.RetryBaseDelay = time.Second
	}
	if g.RequestTimeout == 0 {
		g.RequestTimeout = 5 * time.Minute
	}

	p := &conf.Pipeline
	if p.ChunkStore == "" {
		p.ChunkStore = "redis"
	}
	if p.ResultStore == "" {
		p.ResultStore = "redis"
	}
	if p.Ledger == "" {
		p.Ledger = "postgres"
	}
	if p.MaxConcurrentJobs == 0 {
		p.MaxConcurrentJobs = 4
	}
	if p.ResultTTL == 0 {
		p.ResultTTL = 24 * time.Hour
	}
	if p.ChunkTTL == 0 {
		p.ChunkTTL = 6 * time.Hour
	}

	a := &conf.AMQP
	if a.Queue == "" {
		a.Queue = "ingest.jobs"
	}
	if a.RoutingKey == "" {
		a.RoutingKey = a.Queue
	}
	if a.Prefetch == 0 {
		a.Prefetch = 1
	}
}

// validateConfig 验证配置的有效性
func validateConfig(conf *AppConfig) error {
	g := conf.Gemini
	if g.UploadBlockSize <= 0 || g.UploadBlockSize%uploadGranularity != 0 {
		return fmt.Errorf("gemini.upload_block_size 必须是 %d 的正整数倍，当前为 %d", uploadGranularity, g.UploadBlockSize)
	}
	if g.MaxRetries < 0 {
		return fmt.Errorf("gemini.max_retries 不能为负数")
	}

	switch conf.Pipeline.ChunkStore {
	case "redis", "minio", "memory":
	default:
		return fmt.Errorf("未知的 pipeline.chunk_store: %q", conf.Pipeline.ChunkStore)
	}
	switch conf.Pipeline.ResultStore {
	case "redis", "postgres", "memory":
	default:
		return fmt.Errorf("未知的 pipeline.result_store: %q", conf.Pipeline.ResultStore)
	}
	switch conf.Pipeline.Ledger {
	case "postgres", "memory":
	default:
		return fmt.Errorf("未知的 pipeline.ledger: %q", conf.Pipeline.Ledger)
	}
	if conf.Pipeline.ChunkStore == "minio" && conf.Minio.Endpoint == "" {
		return fmt.Errorf("pipeline.chunk_store=minio 需要配置 minio.endpoint")
	}
	if conf.AMQP.Enabled && conf.AMQP.URL == "" {
		return fmt.Errorf("amqp.enabled 需要配置 amqp.url")
	}

	if g.APIKey == "" {
		log.Warn().Msg("gemini.api_key 为空，请设置 GEMINI_API_KEY 环境变量，否则任务会在凭证预检阶段失败")
	}
	if conf.JWT.Secret == "" {
		log.Warn().Msg("jwt.secret 为空，API 不启用认证")
	}
	return nil
}

// MustLoad 加载配置，失败则退出
func MustLoad(configPath string) {
	if err := Load(configPath); err != nil {
		log.Fatal().Err(err).Msg("配置加载失败")
	}
}
