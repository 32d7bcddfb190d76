// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量覆盖前缀，例如 RAGCHAT_LLM_API_KEY 覆盖 llm.api_key。
const EnvPrefix = "RAGCHAT"

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Storage       StorageConfig       `mapstructure:"storage"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
	// AdminEmails 中的邮箱注册时获得管理员角色。
	AdminEmails []string `mapstructure:"admin_emails"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储训练任务队列的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	GroupID     string `mapstructure:"group_id"`
	MaxAttempts int    `mapstructure:"max_attempts"`
}

type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储向量索引所在的 Elasticsearch 配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
// Provider 取值 openai（任何 OpenAI 兼容接口）或 gemini。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider   string              `mapstructure:"provider"`
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数，零值表示使用模型默认值。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// CrawlerConfig 对应 crawler.Config。
type CrawlerConfig struct {
	Cache         string        `mapstructure:"cache"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	ExcludedTags  []string      `mapstructure:"excluded_tags"`
	MaxDepth      int           `mapstructure:"max_depth"`
	MaxPages      int           `mapstructure:"max_pages"`
	MaxChildLinks int           `mapstructure:"max_child_links"`
	Stream        bool          `mapstructure:"stream"`
	ExcerptLength int           `mapstructure:"excerpt_length"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// ChatConfig 控制对话编排。
type ChatConfig struct {
	TopK              int           `mapstructure:"top_k"`
	CrawlTimeout      time.Duration `mapstructure:"crawl_timeout"`
	StreamTimeout     time.Duration `mapstructure:"stream_timeout"`
	RetrievalFallback bool          `mapstructure:"retrieval_fallback"`
	TitleThreshold    int           `mapstructure:"title_threshold"`
	TitleMaxTokens    int           `mapstructure:"title_max_tokens"`
	PlaceholderTitle  string        `mapstructure:"placeholder_title"`
}

// VectorConfig 选择向量索引后端并配置分块参数。
type VectorConfig struct {
	Backend      string `mapstructure:"backend"`
	ChunkSize    int    `mapstructure:"chunk_size"`
	ChunkOverlap int    `mapstructure:"chunk_overlap"`
}

// IngestConfig 选择训练任务的分发方式：kafka 或 inline。
type IngestConfig struct {
	Mode string `mapstructure:"mode"`
}

// StorageConfig 配置原始上传文件与处理后文本镜像的存放位置。
type StorageConfig struct {
	Mirror          string `mapstructure:"mirror"`
	LocalDir        string `mapstructure:"local_dir"`
	UploadPrefix    string `mapstructure:"upload_prefix"`
	ProcessedPrefix string `mapstructure:"processed_prefix"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
	// SeedDir 中的文件在启动时自动上传并训练，已训练过的同名文件跳过。
	SeedDir string `mapstructure:"seed_dir"`
}

// RateLimitConfig 配置按客户端的限流参数。
type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	IdleTTL           time.Duration `mapstructure:"idle_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "training-tasks")
	v.SetDefault("kafka.group_id", "ragchat-ingest")
	v.SetDefault("kafka.max_attempts", 3)
	v.SetDefault("elasticsearch.index_name", "chatbot_trainings")
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("crawler.cache", "bypass")
	v.SetDefault("crawler.cache_ttl", time.Hour)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 5)
	v.SetDefault("crawler.max_child_links", 4)
	v.SetDefault("crawler.excerpt_length", 300)
	v.SetDefault("crawler.timeout", 15*time.Second)
	v.SetDefault("crawler.max_body_bytes", 2<<20)
	v.SetDefault("crawler.user_agent", "ragchat-crawler/1.0")
	v.SetDefault("chat.top_k", 3)
	v.SetDefault("chat.crawl_timeout", 20*time.Second)
	v.SetDefault("chat.stream_timeout", 2*time.Minute)
	v.SetDefault("chat.title_threshold", 4)
	v.SetDefault("chat.title_max_tokens", 16)
	v.SetDefault("chat.placeholder_title", "New Chat")
	v.SetDefault("vector.backend", "elasticsearch")
	v.SetDefault("vector.chunk_size", 256)
	v.SetDefault("vector.chunk_overlap", 50)
	v.SetDefault("ingest.mode", "kafka")
	v.SetDefault("storage.mirror", "minio")
	v.SetDefault("storage.local_dir", "uploads/processed_files")
	v.SetDefault("storage.upload_prefix", "uploads/")
	v.SetDefault("storage.processed_prefix", "processed/")
	v.SetDefault("storage.max_upload_bytes", 50<<20)
	v.SetDefault("storage.seed_dir", "")
	v.SetDefault("rate_limit.requests_per_second", 5)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("rate_limit.idle_ttl", 10*time.Minute)
}

// Load 从指定路径读取 YAML 文件，叠加环境变量后解析并校验配置。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate 检查枚举取值与数值范围。
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret 不能为空"))
	}
	if c.Crawler.Cache != "bypass" && c.Crawler.Cache != "use" {
		errs = append(errs, fmt.Errorf("crawler.cache 取值非法: %q", c.Crawler.Cache))
	}
	if c.Crawler.MaxDepth < 1 || c.Crawler.MaxPages < 1 {
		errs = append(errs, errors.New("crawler.max_depth 与 crawler.max_pages 必须大于 0"))
	}
	if c.Vector.Backend != "elasticsearch" && c.Vector.Backend != "memory" {
		errs = append(errs, fmt.Errorf("vector.backend 取值非法: %q", c.Vector.Backend))
	}
	if c.Vector.ChunkSize <= 0 || c.Vector.ChunkOverlap < 0 || c.Vector.ChunkOverlap >= c.Vector.ChunkSize {
		errs = append(errs, errors.New("vector.chunk_overlap 必须小于 vector.chunk_size"))
	}
	if c.Ingest.Mode != "kafka" && c.Ingest.Mode != "inline" {
		errs = append(errs, fmt.Errorf("ingest.mode 取值非法: %q", c.Ingest.Mode))
	}
	if c.Storage.Mirror != "minio" && c.Storage.Mirror != "local" {
		errs = append(errs, fmt.Errorf("storage.mirror 取值非法: %q", c.Storage.Mirror))
	}
	if c.Chat.TopK <= 0 {
		errs = append(errs, errors.New("chat.top_k 必须大于 0"))
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit.requests_per_second 必须大于 0"))
	}
	return errors.Join(errs...)
}
