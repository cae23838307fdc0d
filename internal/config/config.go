// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Tika     TikaConfig     `mapstructure:"tika"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Chat     ChatConfig     `mapstructure:"chat"`
	TabCache TabCacheConfig `mapstructure:"tab_cache"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxUploadMB    int64    `mapstructure:"max_upload_mb"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
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
}

// AuthConfig 存储账号相关的配置。
type AuthConfig struct {
	// AdminEmails 中的邮箱注册后自动获得 ADMIN 角色，可修改人设提示词。
	AdminEmails []string `mapstructure:"admin_emails"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。关闭时 OCR 日志直接写库。
type KafkaConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Language 透传给 Tesseract，默认 "eng+ind"。
	Language string `mapstructure:"language"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// LLMConfig 存储大语言模型相关的配置（Groq 的 OpenAI 兼容接口）。
type LLMConfig struct {
	APIKey             string              `mapstructure:"api_key"`
	BaseURL            string              `mapstructure:"base_url"`
	Model              string              `mapstructure:"model"`
	FallbackModel      string              `mapstructure:"fallback_model"`
	TranscriptionModel string              `mapstructure:"transcription_model"`
	TranscriptionLang  string              `mapstructure:"transcription_language"`
	Generation         LLMGenerationConfig `mapstructure:"generation"`
	Models             []ModelOption       `mapstructure:"models"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ModelOption 是前端模型下拉框中的一项。
type ModelOption struct {
	Value string `mapstructure:"value" json:"value"`
	Label string `mapstructure:"label" json:"label"`
}

// ChatConfig 存储对话生命周期相关的配置。
type ChatConfig struct {
	AutoClearAfter   time.Duration  `mapstructure:"auto_clear_after"`
	ApologyText      string         `mapstructure:"apology_text"`
	AudioApologyText string         `mapstructure:"audio_apology_text"`
	DefaultPersona   string         `mapstructure:"default_persona"`
	Personas         []Persona      `mapstructure:"personas"`
	CannedAnswers    []CannedAnswer `mapstructure:"canned_answers"`
}

// Persona 定义了一个系统提示词人设。
type Persona struct {
	ID     string `mapstructure:"id" json:"id"`
	Name   string `mapstructure:"name" json:"name"`
	Prompt string `mapstructure:"prompt" json:"prompt"`
}

// CannedAnswer 命中关键词时直接回复，不调用模型。
type CannedAnswer struct {
	Contains string `mapstructure:"contains"`
	Answer   string `mapstructure:"answer"`
}

// TabCacheConfig 配置标签页级缓存。
type TabCacheConfig struct {
	Driver          string        `mapstructure:"driver"` // redis | memory
	TTL             time.Duration `mapstructure:"ttl"`
	MaxPayloadBytes int           `mapstructure:"max_payload_bytes"`
}

// ArchiveConfig 配置账号归档存储。
type ArchiveConfig struct {
	Driver          string `mapstructure:"driver"` // mysql | bolt | memory
	BoltPath        string `mapstructure:"bolt_path"`
	MaxPayloadBytes int    `mapstructure:"max_payload_bytes"`
}

const defaultSystemPrompt = `Gunakan bahasa Indonesia yang sopan, jelas, dan elegan.
Jawab dengan format Markdown yang rapih: judul, subjudul, list, tabel, dan blok kode bila perlu.`

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "4000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.max_upload_mb", 10)

	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("auth.admin_emails", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "gupta-ocr-log")
	v.SetDefault("kafka.group_id", "guptaai-ocr-log-consumer")

	v.SetDefault("tika.server_url", "http://localhost:9998")
	v.SetDefault("tika.timeout", "60s")
	v.SetDefault("tika.language", "eng+ind")

	v.SetDefault("minio.enabled", false)
	v.SetDefault("minio.bucket_name", "gupta-uploads")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.fallback_model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.transcription_model", "whisper-large-v3")
	v.SetDefault("llm.transcription_language", "id")

	v.SetDefault("chat.auto_clear_after", "120s")
	v.SetDefault("chat.apology_text", "Maaf, terjadi kesalahan saat menghubungi GuptaAI.")
	v.SetDefault("chat.audio_apology_text", "Maaf, terjadi kesalahan saat memproses audio.")
	v.SetDefault("chat.default_persona", "default")
	v.SetDefault("chat.personas", []map[string]interface{}{
		{"id": "default", "name": "GuptaAI", "prompt": defaultSystemPrompt},
	})

	v.SetDefault("tab_cache.driver", "redis")
	v.SetDefault("tab_cache.ttl", "24h")
	v.SetDefault("tab_cache.max_payload_bytes", 5<<20)

	v.SetDefault("archive.driver", "mysql")
	v.SetDefault("archive.bolt_path", "data/archive.bolt")
	v.SetDefault("archive.max_payload_bytes", 5<<20)
}

// Load 读取配置文件（可选的 .env 先行加载），环境变量 GUPTA_* 覆盖文件中的值。
func Load(configPath string) (Config, error) {
	// .env 不存在时忽略，生产环境直接使用真实环境变量
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GUPTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.ReadInConfig(); err != nil {
		return c, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if c.JWT.Secret == "" {
		return c, fmt.Errorf("jwt.secret 不能为空")
	}
	return c, nil
}

// Init 初始化配置加载，失败时直接 panic。
func Init(configPath string) {
	c, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = c
}

// PersonaByID 按 ID 查找人设。
func (c ChatConfig) PersonaByID(id string) (Persona, bool) {
	for _, p := range c.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}
